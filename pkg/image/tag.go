package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/git"
	"github.com/illumination-k/forgectl/pkg/logging"
)

// Tag is an image tag shared by the app image and every infra image deployed with it
type Tag string

func (t Tag) String() string {
	return string(t)
}

const (
	gitTagPrefix  = "git-"
	hashTagPrefix = "hash-"
	tsTagPrefix   = "ts-"
	hashTagLength = 12

	// packageMarker identifies a first-level source package directory
	packageMarker = "__init__.py"
	sourceExt     = ".py"
)

// infraExtensions are the infra file types that end up inside images
var infraExtensions = map[string]bool{
	".sh":   true,
	".sql":  true,
	".conf": true,
	".yaml": true,
	".yml":  true,
	".json": true,
	".toml": true,
	".py":   true,
}

// infraFileNames are extensionless infra files that end up inside images
var infraFileNames = map[string]bool{
	"Dockerfile":      true,
	"Dockerfile.dev":  true,
	"Dockerfile.prod": true,
}

// Tagger derives content-addressable image tags for a project
type Tagger struct {
	paths *config.DeploymentPaths
	git   git.StatusReader
	now   func() time.Time
}

// NewTagger creates a Tagger for the project described by paths
func NewTagger(paths *config.DeploymentPaths, statusReader git.StatusReader) *Tagger {
	return &Tagger{
		paths: paths,
		git:   statusReader,
		now:   time.Now,
	}
}

// ContentTag returns, in priority order:
// git-<sha7> for a clean repository, hash-<12 hex> of the image inputs,
// or ts-<unix seconds> when nothing could be hashed.
func (t *Tagger) ContentTag(ctx context.Context) (Tag, error) {
	st, err := t.git.Status(ctx, t.paths.ProjectRoot)
	if err != nil {
		logging.Warn("image", "could not read git status, falling back to content hash: %v", err)
	} else if st.IsRepo && st.IsClean && st.ShortSHA != "" {
		return Tag(gitTagPrefix + st.ShortSHA), nil
	}

	sum, files, err := t.SourceHash()
	if err != nil {
		logging.Warn("image", "could not compute content hash: %v", err)
	}
	if err == nil && files > 0 {
		return Tag(hashTagPrefix + sum[:hashTagLength]), nil
	}

	return Tag(fmt.Sprintf("%s%d", tsTagPrefix, t.now().Unix())), nil
}

// SourceHash hashes every file that affects the built images.
// Returns the hex digest and the number of files hashed.
func (t *Tagger) SourceHash() (string, int, error) {
	files, err := t.hashInputs()
	if err != nil {
		return "", 0, err
	}

	hasher := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(t.paths.ProjectRoot, path)
		if err != nil {
			rel = path
		}
		// Path is hashed too so a rename changes the tag
		_, _ = io.WriteString(hasher, filepath.ToSlash(rel))
		_, _ = hasher.Write([]byte{0})

		if err := hashFile(hasher, path); err != nil {
			return "", 0, err
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), len(files), nil
}

func hashFile(w io.Writer, path string) error {
	// #nosec G304 -- path comes from walking the project tree
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// hashInputs lists the files to hash in a stable order
func (t *Tagger) hashInputs() ([]string, error) {
	exclude := newExcludeMatcher(t.paths.ProjectRoot, t.paths.IgnoreFile)
	var files []string

	packages, err := findPackageDirs(t.paths.ProjectRoot, exclude)
	if err != nil {
		return nil, err
	}

	for _, pkg := range packages {
		pkgFiles, err := walkFiles(pkg, exclude.skipDir, func(path string) bool {
			return filepath.Ext(path) == sourceExt && !exclude.ignored(path)
		})
		if err != nil {
			return nil, err
		}
		files = append(files, pkgFiles...)
	}

	if info, err := os.Stat(t.paths.DockerProd); err == nil && info.IsDir() {
		infraFiles, err := walkFiles(t.paths.DockerProd, func(path string) bool {
			base := filepath.Base(path)
			return base == "__pycache__" || base == ".git" || exclude.ignored(path)
		}, func(path string) bool {
			return isInfraSourceFile(path) && !exclude.ignored(path)
		})
		if err != nil {
			return nil, err
		}
		files = append(files, infraFiles...)
	}

	for _, rootFile := range []string{t.paths.Dockerfile, t.paths.ComposeFile} {
		if info, err := os.Stat(rootFile); err == nil && info.Mode().IsRegular() {
			files = append(files, rootFile)
		}
	}

	return files, nil
}

// findPackageDirs returns first-level directories that are source packages
func findPackageDirs(root string, exclude *excludeMatcher) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read project root: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if exclude.skipDir(dir) {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, packageMarker)); err == nil {
			dirs = append(dirs, dir)
		}
	}

	sort.Strings(dirs)
	return dirs, nil
}

// walkFiles returns regular files under root accepted by keep, in lexical order
func walkFiles(root string, skipDir func(string) bool, keep func(string) bool) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && keep(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return files, nil
}

func isInfraSourceFile(path string) bool {
	base := filepath.Base(path)
	if infraFileNames[base] {
		return true
	}
	return infraExtensions[strings.ToLower(filepath.Ext(base))]
}
