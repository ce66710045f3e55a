package config

// UserConfig represents the per-user forgectl configuration
type UserConfig struct {
	Defaults DefaultsConfig `yaml:"defaults"`
	Ingress  IngressConfig  `yaml:"ingress,omitempty"`
}

// DefaultsConfig holds default values for deploy commands
type DefaultsConfig struct {
	Namespace   string `yaml:"namespace"`
	Registry    string `yaml:"registry,omitempty"`
	KindCluster string `yaml:"kindCluster,omitempty"`
	ProjectRoot string `yaml:"projectRoot,omitempty"`
}

// IngressConfig holds default ingress settings for deploy up
type IngressConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Host      string `yaml:"host,omitempty"`
	TLSSecret string `yaml:"tlsSecret,omitempty"`
	TLSAuto   bool   `yaml:"tlsAuto,omitempty"`
	Staging   bool   `yaml:"staging,omitempty"`
}

// DefaultUserConfig returns the built-in defaults
func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Defaults: DefaultsConfig{
			Namespace: DefaultConstants().DefaultNamespace,
		},
	}
}

// Merge overlays non-empty values from other onto c
func (c *UserConfig) Merge(other *UserConfig) {
	if other == nil {
		return
	}

	c.Defaults.Namespace = CoalesceString(other.Defaults.Namespace, c.Defaults.Namespace)
	c.Defaults.Registry = CoalesceString(other.Defaults.Registry, c.Defaults.Registry)
	c.Defaults.KindCluster = CoalesceString(other.Defaults.KindCluster, c.Defaults.KindCluster)
	c.Defaults.ProjectRoot = CoalesceString(other.Defaults.ProjectRoot, c.Defaults.ProjectRoot)

	c.Ingress.Enabled = c.Ingress.Enabled || other.Ingress.Enabled
	c.Ingress.Host = CoalesceString(other.Ingress.Host, c.Ingress.Host)
	c.Ingress.TLSSecret = CoalesceString(other.Ingress.TLSSecret, c.Ingress.TLSSecret)
	c.Ingress.TLSAuto = c.Ingress.TLSAuto || other.Ingress.TLSAuto
	c.Ingress.Staging = c.Ingress.Staging || other.Ingress.Staging
}
