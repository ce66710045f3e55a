package secrets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/logging"
	"github.com/illumination-k/forgectl/pkg/shell"
)

// requiredKeys must exist under the secrets keys directory before deploying
var requiredKeys = []string{
	"postgres_password.txt",
	"session_signing_secret.txt",
	"csrf_signing_secret.txt",
}

// Manager generates local secrets on first use and applies them to the cluster
type Manager struct {
	runner shell.Runner
	paths  *config.DeploymentPaths
	out    io.Writer
}

// NewManager creates a secrets Manager
func NewManager(runner shell.Runner, paths *config.DeploymentPaths, out io.Writer) *Manager {
	if out == nil {
		out = os.Stdout
	}
	return &Manager{runner: runner, paths: paths, out: out}
}

// MissingKeys returns the required key files that are absent or empty
func (m *Manager) MissingKeys() []string {
	var missing []string
	for _, name := range requiredKeys {
		path := filepath.Join(m.paths.SecretsKeys, name)
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	return missing
}

// EnsureSecrets runs the generation script when any required key is missing
func (m *Manager) EnsureSecrets(ctx context.Context) error {
	missing := m.MissingKeys()
	if len(missing) == 0 {
		fmt.Fprintln(m.out, "✓ Secrets already exist")
		return nil
	}
	logging.Debug("secrets", "missing keys: %v", missing)

	fmt.Fprintln(m.out, "🔑 Generating secrets (first time setup)...")

	script := m.paths.GenerateSecretsScript
	if !fileExists(script) {
		return deployerr.New("Cannot generate secrets - script missing", fmt.Sprintf(
			"Expected script at: %s\n\n"+
				"This script generates the PostgreSQL passwords, session and CSRF signing secrets and TLS certificates.\n\n"+
				"Recovery steps:\n"+
				"  1. Check if the file was accidentally deleted\n"+
				"  2. Restore from git: git checkout -- infra/secrets/generate_secrets.sh",
			script))
	}

	if err := m.runScript(ctx, script); err != nil {
		return deployerr.Wrap(err, "Secret generation failed", "Run the script manually to see the full output:\n  bash "+script)
	}
	if err := m.runScript(ctx, script, "--generate-pki"); err != nil {
		return deployerr.Wrap(err, "Certificate generation failed", "Run the script manually to see the full output:\n  bash "+script+" --generate-pki")
	}

	fmt.Fprintln(m.out, "✓ Secrets and certificates generated successfully")
	return nil
}

// ApplySecrets creates or updates the Kubernetes secrets in namespace
func (m *Manager) ApplySecrets(ctx context.Context, namespace string) error {
	fmt.Fprintln(m.out, "🔐 Deploying Kubernetes secrets...")

	script := m.paths.ApplySecretsScript
	if !fileExists(script) {
		rel, err := filepath.Rel(m.paths.ProjectRoot, script)
		if err != nil {
			rel = script
		}
		return deployerr.New("Cannot deploy secrets - script missing", fmt.Sprintf(
			"Expected script at: %s\n\n"+
				"This script is required to deploy secrets to Kubernetes.\n\n"+
				"Recovery steps:\n"+
				"  1. Check if the file was accidentally deleted\n"+
				"  2. Restore from git: git checkout -- %s",
			script, filepath.ToSlash(rel)))
	}

	if err := m.runScript(ctx, script, namespace); err != nil {
		return deployerr.Wrap(err, "Failed to deploy secrets", fmt.Sprintf(
			"Check that the namespace is reachable:\n  kubectl get namespace %s", namespace))
	}

	fmt.Fprintf(m.out, "✓ Secrets deployed to namespace %s\n", namespace)
	return nil
}

func (m *Manager) runScript(ctx context.Context, script string, args ...string) error {
	_, err := m.runner.Run(ctx, shell.Command{
		Name: "bash",
		Args: append([]string{script}, args...),
		Dir:  m.paths.ProjectRoot,
	})
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
