package image

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// excludedDirs never contribute to the content hash
var excludedDirs = map[string]bool{
	".git":          true,
	"__pycache__":   true,
	".pytest_cache": true,
	"tests":         true,
	"docs":          true,
	"infra":         true,
	"data":          true,
	".venv":         true,
	"venv":          true,
	"node_modules":  true,
}

// excludeMatcher decides which paths are left out of the content hash
type excludeMatcher struct {
	basePath string
	ignore   *ignore.GitIgnore
}

// newExcludeMatcher loads ignoreFile (a .dockerignore) when present.
// Files docker would not send to the build context cannot change the image.
func newExcludeMatcher(basePath, ignoreFile string) *excludeMatcher {
	m := &excludeMatcher{basePath: basePath}

	if ignoreFile == "" {
		return m
	}
	if _, err := os.Stat(ignoreFile); err != nil {
		return m
	}

	matcher, err := ignore.CompileIgnoreFile(ignoreFile)
	if err != nil {
		// Malformed ignore file - hash everything rather than fail the build
		return m
	}
	m.ignore = matcher

	return m
}

// skipDir reports whether a directory should not be descended into
func (m *excludeMatcher) skipDir(absPath string) bool {
	if excludedDirs[filepath.Base(absPath)] {
		return true
	}
	return m.ignored(absPath)
}

// ignored reports whether the ignore file matches absPath
func (m *excludeMatcher) ignored(absPath string) bool {
	if m.ignore == nil {
		return false
	}

	relPath, err := filepath.Rel(m.basePath, absPath)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return false
	}

	return m.ignore.MatchesPath(filepath.ToSlash(relPath))
}
