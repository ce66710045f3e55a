package config

import (
	"fmt"
	"regexp"
	"strings"
)

var registryPattern = regexp.MustCompile(`^[a-zA-Z0-9][-a-zA-Z0-9.]*[a-zA-Z0-9](:[0-9]+)?(/[a-zA-Z0-9._-]+)*$`)

// ValidateRegistry checks that registry looks like host[:port][/path...].
// An empty registry is valid (local clusters need none).
func ValidateRegistry(registry string) error {
	if registry == "" {
		return nil
	}
	if strings.Contains(registry, "://") {
		return fmt.Errorf("invalid registry %q: omit the scheme (use ghcr.io/myuser, not https://ghcr.io/myuser)", registry)
	}
	if !registryPattern.MatchString(registry) {
		return fmt.Errorf("invalid registry %q: expected host[:port][/path], e.g. ghcr.io/myuser or localhost:5000", registry)
	}
	return nil
}
