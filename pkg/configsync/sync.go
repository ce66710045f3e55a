package configsync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/logging"
	"gopkg.in/yaml.v3"
)

// syncedSections are the top-level values.yaml blocks whose `enabled:` follows config.yaml
var syncedSections = []string{"redis", "temporal"}

// enabledLine matches an indented `enabled: true|false` line, keeping any trailing comment
var enabledLine = regexp.MustCompile(`^(\s+enabled:\s*)(true|false)(.*)$`)

// Change describes one values.yaml setting rewritten by SyncValues
type Change struct {
	Key string
	Old bool
	New bool
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %t → %t", c.Key, c.Old, c.New)
}

// Synchronizer keeps the Helm chart's values and staged files in line with the project config
type Synchronizer struct {
	paths *config.DeploymentPaths
	out   io.Writer
}

// New creates a Synchronizer
func New(paths *config.DeploymentPaths, out io.Writer) *Synchronizer {
	if out == nil {
		out = os.Stdout
	}
	return &Synchronizer{paths: paths, out: out}
}

// SyncValues copies the redis and temporal `enabled` flags from config.yaml into values.yaml.
// values.yaml is edited line by line so comments and layout survive.
func (s *Synchronizer) SyncValues() ([]Change, error) {
	fmt.Fprintln(s.out, "🔄 Synchronizing config.yaml → values.yaml...")

	if _, err := os.Stat(s.paths.ConfigFile); os.IsNotExist(err) {
		fmt.Fprintln(s.out, "⚠️  Warning: config.yaml not found, skipping sync")
		return nil, nil
	}

	changes, err := s.computeChanges()
	if err != nil {
		return nil, err
	}

	if len(changes) == 0 {
		fmt.Fprintln(s.out, "  ✓ No changes needed (values already in sync)")
		return nil, nil
	}

	if err := rewriteEnabled(s.paths.HelmValues, changes); err != nil {
		return nil, err
	}

	fmt.Fprintln(s.out, "✓ Synced changes:")
	for _, c := range changes {
		fmt.Fprintf(s.out, "  • %s\n", c)
	}
	return changes, nil
}

func (s *Synchronizer) computeChanges() ([]Change, error) {
	var cfg struct {
		Config map[string]any `yaml:"config"`
	}
	if err := readYAML(s.paths.ConfigFile, &cfg); err != nil {
		return nil, err
	}

	var values map[string]any
	if err := readYAML(s.paths.HelmValues, &values); err != nil {
		return nil, err
	}

	var changes []Change
	for _, section := range syncedSections {
		want, ok := enabledFlag(cfg.Config[section])
		if !ok {
			continue
		}
		current, ok := enabledFlag(values[section])
		if !ok {
			continue
		}
		if current != want {
			changes = append(changes, Change{Key: section + ".enabled", Old: current, New: want})
		}
	}
	return changes, nil
}

// enabledFlag reads `enabled` from a mapping, defaulting to true; ok is false when v is not a mapping
func enabledFlag(v any) (bool, bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return false, false
	}
	enabled, isBool := m["enabled"].(bool)
	if !isBool {
		return true, true
	}
	return enabled, true
}

func readYAML(path string, out any) error {
	// #nosec G304 -- project config and chart values paths
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// rewriteEnabled flips the `enabled:` lines inside the changed top-level sections
func rewriteEnabled(path string, changes []Change) error {
	// #nosec G304 -- chart values path
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	updates := make(map[string]bool, len(changes))
	for _, c := range changes {
		updates[strings.TrimSuffix(c.Key, ".enabled")] = c.New
	}

	lines := strings.SplitAfter(string(data), "\n")
	section := ""
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r\n")
		if trimmed != "" && !isIndented(line) && strings.HasSuffix(trimmed, ":") {
			section = strings.TrimSpace(strings.SplitN(strings.TrimSuffix(trimmed, ":"), "#", 2)[0])
		}

		newVal, ok := updates[section]
		if !ok {
			continue
		}
		body := strings.TrimRight(line, "\r\n")
		m := enabledLine.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		lines[i] = fmt.Sprintf("%s%t%s%s", m[1], newVal, m[3], line[len(body):])
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "")), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logging.Debug("configsync", "rewrote %d setting(s) in %s", len(changes), path)
	return nil
}

func isIndented(line string) bool {
	return line[0] == ' ' || line[0] == '\t'
}

// stagedFile is one entry of the chart files manifest
type stagedFile struct {
	source      string
	dest        string
	description string
}

func (s *Synchronizer) manifest() []stagedFile {
	pg := filepath.Join(s.paths.DockerProd, "postgres")
	temporal := filepath.Join(s.paths.DockerProd, "temporal", "scripts")

	return []stagedFile{
		{s.paths.EnvFile, ".env", "Environment variables"},
		{s.paths.ConfigFile, "config.yaml", "Application config"},
		{filepath.Join(pg, "postgresql.conf"), "postgresql.conf", "PostgreSQL config"},
		{filepath.Join(pg, "pg_hba.conf"), "pg_hba.conf", "PostgreSQL HBA config"},
		{filepath.Join(pg, "verify-init.sh"), "verify-init.sh", "PostgreSQL verifier script"},
		{filepath.Join(pg, "init-scripts", "01-init-app.sh"), "01-init-app.sh", "PostgreSQL init script"},
		{filepath.Join(s.paths.DockerProd, "scripts", "universal-entrypoint.sh"), "universal-entrypoint.sh", "Universal entrypoint"},
		{filepath.Join(temporal, "schema-setup.sh"), "temporal/schema-setup.sh", "Temporal schema setup"},
		{filepath.Join(temporal, "entrypoint.sh"), "temporal/entrypoint.sh", "Temporal entrypoint"},
		{filepath.Join(temporal, "namespace-init.sh"), "temporal/namespace-init.sh", "Temporal namespace init"},
	}
}

// CopyFiles stages config files and scripts into the chart's files/ directory.
// Missing sources are skipped with a warning. Returns the staged destinations.
func (s *Synchronizer) CopyFiles() ([]string, error) {
	fmt.Fprintln(s.out, "📋 Copying config files to Helm staging area...")

	if err := os.MkdirAll(s.paths.HelmFiles, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", s.paths.HelmFiles, err)
	}

	var copied []string
	for _, f := range s.manifest() {
		if _, err := os.Stat(f.source); err != nil {
			fmt.Fprintf(s.out, "  ⚠ Skipped %s (not found)\n", f.description)
			continue
		}

		dest := filepath.Join(s.paths.HelmFiles, filepath.FromSlash(f.dest))
		if err := copyFile(f.source, dest); err != nil {
			return copied, err
		}
		copied = append(copied, f.dest)
		fmt.Fprintf(s.out, "  ✓ %s\n", f.description)
	}

	rel, err := filepath.Rel(s.paths.ProjectRoot, s.paths.HelmFiles)
	if err != nil {
		rel = s.paths.HelmFiles
	}
	fmt.Fprintf(s.out, "✓ Config files copied to %s\n", rel)
	return copied, nil
}

// copyFile copies src to dst, keeping the source permissions
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}

	// #nosec G304 -- sources come from the fixed staging manifest
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	// #nosec G304 -- destination is inside the chart files directory
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}

	// OpenFile keeps the mode of an existing dst
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", dst, err)
	}
	return nil
}
