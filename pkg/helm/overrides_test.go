package helm

import (
	"os"
	"testing"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBuildOverrides_Images(t *testing.T) {
	constants := config.DefaultConstants()

	tests := []struct {
		name       string
		registry   string
		wantApp    string
		wantRedis  string
		wantPolicy string
	}{
		{"local", "", "api-forge-app", "app_data_redis_image", "IfNotPresent"},
		{"registry", "ghcr.io/me", "ghcr.io/me/api-forge-app", "ghcr.io/me/app_data_redis_image", "Always"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := buildOverrides(constants, "git-abc1234", tt.registry, IngressOptions{})

			assert.Equal(t, tt.wantApp, values.App.Image.Repository)
			assert.Equal(t, tt.wantApp, values.Worker.Image.Repository)
			assert.Equal(t, tt.wantRedis, values.Redis.Image.Repository)
			for _, c := range []componentValues{values.App, values.Worker, values.Postgres, values.Redis, values.Temporal} {
				assert.Equal(t, "git-abc1234", c.Image.Tag)
				assert.Equal(t, tt.wantPolicy, c.Image.PullPolicy)
			}
			assert.Nil(t, values.App.Ingress)
		})
	}
}

func TestBuildOverrides_Ingress(t *testing.T) {
	constants := config.DefaultConstants()

	tests := []struct {
		name           string
		opts           IngressOptions
		wantHost       string
		wantTLSSecret  string
		wantAnnotation string
	}{
		{
			name:     "default host",
			opts:     IngressOptions{Enabled: true},
			wantHost: "api.local",
		},
		{
			name:          "manual tls",
			opts:          IngressOptions{Enabled: true, Host: "api.example.com", TLSSecret: "my-cert"},
			wantHost:      "api.example.com",
			wantTLSSecret: "my-cert",
		},
		{
			name:           "auto tls",
			opts:           IngressOptions{Enabled: true, Host: "api.example.com", TLSAuto: true, TLSSecret: "ignored"},
			wantHost:       "api.example.com",
			wantTLSSecret:  "api-example-com-tls",
			wantAnnotation: "letsencrypt-prod",
		},
		{
			name:           "auto tls staging",
			opts:           IngressOptions{Enabled: true, Host: "api.example.com", TLSAuto: true, Staging: true},
			wantHost:       "api.example.com",
			wantTLSSecret:  "api-example-com-tls",
			wantAnnotation: "letsencrypt-staging",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := buildOverrides(constants, "t", "", tt.opts).App.Ingress
			require.NotNil(t, ing)

			assert.True(t, ing.Enabled)
			assert.Equal(t, "nginx", ing.ClassName)
			require.Len(t, ing.Hosts, 1)
			assert.Equal(t, tt.wantHost, ing.Hosts[0].Host)
			assert.Equal(t, []ingressPath{{Path: "/", PathType: "Prefix"}}, ing.Hosts[0].Paths)

			if tt.wantTLSSecret == "" {
				assert.Empty(t, ing.TLS)
			} else {
				require.Len(t, ing.TLS, 1)
				assert.Equal(t, tt.wantTLSSecret, ing.TLS[0].SecretName)
				assert.Equal(t, []string{tt.wantHost}, ing.TLS[0].Hosts)
			}
			assert.Equal(t, tt.wantAnnotation, ing.Annotations["cert-manager.io/cluster-issuer"])
		})
	}
}

func TestWriteOverrideFile(t *testing.T) {
	dir := t.TempDir()
	values := buildOverrides(config.DefaultConstants(), "hash-0123456789ab", "", IngressOptions{Enabled: true})

	path, err := writeOverrideFile(dir, values)
	require.NoError(t, err)
	assert.Regexp(t, `helm-image-override-.*\.yaml$`, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	app := doc["app"].(map[string]any)
	img := app["image"].(map[string]any)
	assert.Equal(t, "api-forge-app", img["repository"])
	assert.Equal(t, "hash-0123456789ab", img["tag"])
	assert.Contains(t, app, "ingress")
	assert.NotContains(t, doc["worker"].(map[string]any), "ingress")
}
