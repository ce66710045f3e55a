package env

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/logging"
	"github.com/joho/godotenv"
)

// MaxSecretSize is the Kubernetes object size limit the staged .env must fit in
const MaxSecretSize = 1 * 1024 * 1024

// varNamePattern matches conventional environment variable names
var varNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateVarName checks that name is usable as an environment variable
func ValidateVarName(name string) error {
	if !varNamePattern.MatchString(name) {
		return fmt.Errorf("variable name %q must match pattern ^[A-Za-z_][A-Za-z0-9_]*$", name)
	}
	return nil
}

// ValidateSecretSize checks that vars fit in a single Kubernetes secret
func ValidateSecretSize(vars map[string]string) error {
	data, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("failed to estimate secret size: %w", err)
	}
	if len(data) > MaxSecretSize {
		return fmt.Errorf("environment variables exceed Kubernetes secret size limit (1MB): current size is %d bytes", len(data))
	}
	return nil
}

// CheckEnvFile makes sure the project's .env exists and parses.
// Returns the parsed variables; a missing or malformed file is a DeploymentError.
func CheckEnvFile(projectRoot string) (map[string]string, error) {
	path := filepath.Join(projectRoot, ".env")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		step := "  1. Create a .env file in the project root:\n     touch .env"
		if _, err := os.Stat(filepath.Join(projectRoot, ".env.example")); err == nil {
			step = "  1. Copy the example environment file:\n     cp .env.example .env"
		}
		return nil, deployerr.New(".env file not found", "Setup Required:\n"+step+"\n  2. Fill in the values for your environment")
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, deployerr.Wrap(err, "Failed to parse .env", "Every non-comment line must be KEY=value.\nFile: "+path)
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ValidateVarName(name); err != nil {
			logging.Warn("env", "%s: %v", path, err)
		}
	}

	if err := ValidateSecretSize(vars); err != nil {
		return nil, deployerr.Wrap(err, ".env is too large", "The .env file is staged into the chart and stored in the cluster.\nMove large values (certificates, keys) into files under infra/secrets.")
	}

	return vars, nil
}
