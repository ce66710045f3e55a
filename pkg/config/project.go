package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Services lists the optional services enabled in the project's config.yaml
type Services struct {
	Redis           bool
	Temporal        bool
	BundledPostgres bool
}

// AllServices enables everything; used when config.yaml cannot be read
func AllServices() Services {
	return Services{Redis: true, Temporal: true, BundledPostgres: true}
}

type projectFile struct {
	Config struct {
		Redis    toggle `yaml:"redis"`
		Temporal toggle `yaml:"temporal"`
		Database struct {
			BundledPostgres toggle `yaml:"bundled_postgres"`
		} `yaml:"database"`
	} `yaml:"config"`
}

// toggle is an `enabled:` block whose absence means enabled
type toggle struct {
	Enabled *bool `yaml:"enabled"`
}

func (t toggle) value() bool {
	return t.Enabled == nil || *t.Enabled
}

// LoadServices reads config.yaml and reports which optional services are enabled.
// Missing sections default to enabled.
func LoadServices(path string) (Services, error) {
	// #nosec G304 -- path is the project's config.yaml
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AllServices(), ErrConfigNotFound
		}
		return AllServices(), fmt.Errorf("failed to read %s: %w", path, err)
	}

	var pf projectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return AllServices(), fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return Services{
		Redis:           pf.Config.Redis.value(),
		Temporal:        pf.Config.Temporal.value(),
		BundledPostgres: pf.Config.Database.BundledPostgres.value(),
	}, nil
}
