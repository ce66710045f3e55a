package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DeploymentPaths holds the filesystem locations used during a deployment
type DeploymentPaths struct {
	ProjectRoot string

	InfraDir    string
	HelmChart   string
	HelmValues  string
	HelmFiles   string
	HelmScripts string
	SecretsDir  string
	SecretsKeys string
	DockerProd  string

	ConfigFile  string
	EnvFile     string
	Dockerfile  string
	ComposeFile string
	IgnoreFile  string

	GenerateSecretsScript string
	ApplySecretsScript    string
}

// NewPaths derives all deployment paths from the project root
func NewPaths(projectRoot, chartName string) *DeploymentPaths {
	infra := filepath.Join(projectRoot, "infra")
	chart := filepath.Join(infra, "helm", chartName)
	secrets := filepath.Join(infra, "secrets")

	return &DeploymentPaths{
		ProjectRoot: projectRoot,

		InfraDir:    infra,
		HelmChart:   chart,
		HelmValues:  filepath.Join(chart, "values.yaml"),
		HelmFiles:   filepath.Join(chart, "files"),
		HelmScripts: filepath.Join(chart, "scripts"),
		SecretsDir:  secrets,
		SecretsKeys: filepath.Join(secrets, "keys"),
		DockerProd:  filepath.Join(infra, "docker", "prod"),

		ConfigFile:  filepath.Join(projectRoot, "config.yaml"),
		EnvFile:     filepath.Join(projectRoot, ".env"),
		Dockerfile:  filepath.Join(projectRoot, "Dockerfile"),
		ComposeFile: filepath.Join(projectRoot, "docker-compose.prod.yml"),
		IgnoreFile:  filepath.Join(projectRoot, ".dockerignore"),

		GenerateSecretsScript: filepath.Join(secrets, "generate_secrets.sh"),
		ApplySecretsScript:    filepath.Join(chart, "scripts", "apply-secrets.sh"),
	}
}

// FindProjectRoot walks up from start until it finds a directory containing infra/helm
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, "infra", "helm")); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no project root (directory containing infra/helm) found above %s", start)
		}
		dir = parent
	}
}
