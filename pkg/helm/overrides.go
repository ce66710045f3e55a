package helm

import (
	"fmt"
	"os"
	"strings"

	"github.com/illumination-k/forgectl/pkg/config"
	"gopkg.in/yaml.v3"
)

const overrideFilePattern = "helm-image-override-*.yaml"

// IngressOptions controls the ingress section of the override values
type IngressOptions struct {
	Enabled bool
	Host    string
	// TLSSecret names an existing certificate secret
	TLSSecret string
	// TLSAuto requests a certificate from cert-manager; takes precedence over TLSSecret
	TLSAuto bool
	Staging bool
}

// IssuerName returns the cert-manager ClusterIssuer used for automatic TLS
func IssuerName(staging bool) string {
	if staging {
		return "letsencrypt-staging"
	}
	return "letsencrypt-prod"
}

// TLSSecretName derives a certificate secret name from a hostname
func TLSSecretName(host string) string {
	return strings.ReplaceAll(host, ".", "-") + "-tls"
}

type imageValues struct {
	Repository string `yaml:"repository"`
	Tag        string `yaml:"tag"`
	PullPolicy string `yaml:"pullPolicy"`
}

type componentValues struct {
	Image   imageValues    `yaml:"image"`
	Ingress *ingressValues `yaml:"ingress,omitempty"`
}

type ingressValues struct {
	Enabled     bool              `yaml:"enabled"`
	ClassName   string            `yaml:"className"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
	Hosts       []ingressHost     `yaml:"hosts"`
	TLS         []ingressTLS      `yaml:"tls,omitempty"`
}

type ingressHost struct {
	Host  string        `yaml:"host"`
	Paths []ingressPath `yaml:"paths"`
}

type ingressPath struct {
	Path     string `yaml:"path"`
	PathType string `yaml:"pathType"`
}

type ingressTLS struct {
	SecretName string   `yaml:"secretName"`
	Hosts      []string `yaml:"hosts"`
}

// overrideValues is the values document layered over the chart's values.yaml
type overrideValues struct {
	App      componentValues `yaml:"app"`
	Worker   componentValues `yaml:"worker"`
	Postgres componentValues `yaml:"postgres"`
	Redis    componentValues `yaml:"redis"`
	Temporal componentValues `yaml:"temporal"`
}

// buildOverrides assembles the override document for tag
func buildOverrides(constants *config.DeploymentConstants, tag, registry string, ingress IngressOptions) overrideValues {
	pullPolicy := "IfNotPresent"
	if registry != "" {
		pullPolicy = "Always"
	}
	image := func(name string) componentValues {
		repo := name
		if registry != "" {
			repo = strings.TrimSuffix(registry, "/") + "/" + name
		}
		return componentValues{Image: imageValues{Repository: repo, Tag: tag, PullPolicy: pullPolicy}}
	}

	values := overrideValues{
		App:      image(constants.AppImage),
		Worker:   image(constants.AppImage),
		Postgres: image(constants.PostgresImage),
		Redis:    image(constants.RedisImage),
		Temporal: image(constants.TemporalImage),
	}

	if ingress.Enabled {
		values.App.Ingress = buildIngress(constants, ingress)
	}

	return values
}

func buildIngress(constants *config.DeploymentConstants, opts IngressOptions) *ingressValues {
	host := opts.Host
	if host == "" {
		host = constants.DefaultIngressHost
	}

	ing := &ingressValues{
		Enabled:   true,
		ClassName: constants.IngressClassName,
		Hosts: []ingressHost{{
			Host:  host,
			Paths: []ingressPath{{Path: "/", PathType: "Prefix"}},
		}},
	}

	switch {
	case opts.TLSAuto:
		ing.Annotations = map[string]string{"cert-manager.io/cluster-issuer": IssuerName(opts.Staging)}
		ing.TLS = []ingressTLS{{SecretName: TLSSecretName(host), Hosts: []string{host}}}
	case opts.TLSSecret != "":
		ing.TLS = []ingressTLS{{SecretName: opts.TLSSecret, Hosts: []string{host}}}
	}

	return ing
}

// ingressSummary describes the ingress configuration for progress output
func ingressSummary(constants *config.DeploymentConstants, opts IngressOptions) string {
	host := opts.Host
	if host == "" {
		host = constants.DefaultIngressHost
	}
	switch {
	case opts.TLSAuto:
		return fmt.Sprintf("%s (TLS: auto via %s)", host, IssuerName(opts.Staging))
	case opts.TLSSecret != "":
		return fmt.Sprintf("%s (TLS: %s)", host, opts.TLSSecret)
	default:
		return host
	}
}

// writeOverrideFile writes values to a new temp file and returns its path
func writeOverrideFile(dir string, values overrideValues) (string, error) {
	data, err := yaml.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal override values: %w", err)
	}

	f, err := os.CreateTemp(dir, overrideFilePattern)
	if err != nil {
		return "", fmt.Errorf("failed to create override file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write override file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close override file: %w", err)
	}

	return path, nil
}
