package config

import "time"

// DeploymentConstants holds the static settings of a deployment.
// Loaded once per invocation and treated as read-only.
type DeploymentConstants struct {
	DefaultNamespace string
	ReleaseName      string
	ChartName        string

	HelmTimeout            time.Duration
	RollbackTimeout        time.Duration
	RolloutTimeout         time.Duration
	NamespaceDeleteTimeout time.Duration
	PodReadyTimeout        time.Duration

	// ReplicaSetAgeThreshold is the minimum age of a zero-replica ReplicaSet before it is deleted
	ReplicaSetAgeThreshold time.Duration
	// DeploymentPrefixes select the ReplicaSets managed by the cleanup passes
	DeploymentPrefixes []string

	AppImage      string
	PostgresImage string
	RedisImage    string
	TemporalImage string

	DefaultIngressHost string
	IngressClassName   string

	PortForwardSettle      time.Duration
	PortForwardStopTimeout time.Duration
	PostgresPort           int
	PostgresSelector       string
	// PodReadySelector matches the long-running pods; job pods never become Ready
	PodReadySelector string
}

// DefaultConstants returns the constants used for an api-forge project
func DefaultConstants() *DeploymentConstants {
	return &DeploymentConstants{
		DefaultNamespace: "api-forge-prod",
		ReleaseName:      "api-forge",
		ChartName:        "api-forge",

		HelmTimeout:            10 * time.Minute,
		RollbackTimeout:        5 * time.Minute,
		RolloutTimeout:         3 * time.Minute,
		NamespaceDeleteTimeout: 120 * time.Second,
		PodReadyTimeout:        300 * time.Second,

		ReplicaSetAgeThreshold: time.Hour,
		DeploymentPrefixes:     []string{"app-", "worker-", "api-forge-app-", "api-forge-worker-"},

		AppImage:      "api-forge-app",
		PostgresImage: "app_data_postgres_image",
		RedisImage:    "app_data_redis_image",
		TemporalImage: "my-temporal-server",

		DefaultIngressHost: "api.local",
		IngressClassName:   "nginx",

		PortForwardSettle:      2 * time.Second,
		PortForwardStopTimeout: 5 * time.Second,
		PostgresPort:           5432,
		PostgresSelector:       "app.kubernetes.io/name=postgres",
		PodReadySelector:       "app.kubernetes.io/component in (application,database,cache,workflow-engine,temporal-worker,workflow-ui)",
	}
}

// InfraImages returns the infrastructure images deployed next to the app image
func (c *DeploymentConstants) InfraImages(services Services) []string {
	images := []string{}
	if services.BundledPostgres {
		images = append(images, c.PostgresImage)
	}
	if services.Redis {
		images = append(images, c.RedisImage)
	}
	if services.Temporal {
		images = append(images, c.TemporalImage)
	}
	return images
}

// InstanceSelector returns the label selector for resources Helm installed as release
func InstanceSelector(release string) string {
	return "app.kubernetes.io/instance=" + release
}
