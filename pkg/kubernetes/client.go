package kubernetes

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const defaultPollInterval = 2 * time.Second

// NewClient creates a new Kubernetes client.
// contextName selects a kubeconfig context; empty uses the current context.
func NewClient(kubeconfigPath, contextName string) (*Client, error) {
	cfg := &Config{KubeconfigPath: kubeconfigPath, Context: contextName}

	restConfig, err := buildConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	return &Client{
		clientset:    clientset,
		dynamic:      dyn,
		rest:         restConfig,
		config:       cfg,
		pollInterval: defaultPollInterval,
	}, nil
}

// NewClientFromInterfaces builds a Client over existing clients.
// contextName is reported by CurrentContext instead of reading a kubeconfig.
func NewClientFromInterfaces(clientset kubernetes.Interface, dyn dynamic.Interface, contextName string) *Client {
	return &Client{
		clientset:    clientset,
		dynamic:      dyn,
		config:       &Config{Context: contextName},
		pollInterval: 10 * time.Millisecond,
	}
}

// buildConfig creates a Kubernetes REST config from kubeconfig,
// falling back to the in-cluster config when no kubeconfig is usable
func buildConfig(cfg *Config) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.KubeconfigPath != "" {
		loadingRules.ExplicitPath = cfg.KubeconfigPath
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err == nil {
		return restConfig, nil
	}

	inCluster, inClusterErr := rest.InClusterConfig()
	if inClusterErr == nil {
		return inCluster, nil
	}

	return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
}

// getDefaultKubeconfigPath returns the default kubeconfig file path
func getDefaultKubeconfigPath() string {
	if kubeconfigEnv := os.Getenv("KUBECONFIG"); kubeconfigEnv != "" {
		return kubeconfigEnv
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kube", "config")
}

// CurrentContext returns the kubeconfig context this client talks to
func (c *Client) CurrentContext() (string, error) {
	if c.config.Context != "" {
		return c.config.Context, nil
	}

	kubeconfigPath := c.config.KubeconfigPath
	if kubeconfigPath == "" {
		kubeconfigPath = getDefaultKubeconfigPath()
	}

	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
	if os.Getenv("KUBECONFIG") != "" && c.config.KubeconfigPath == "" {
		loadingRules = clientcmd.NewDefaultClientConfigLoadingRules()
	}

	raw, err := loadingRules.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	if raw.CurrentContext == "" {
		return "", fmt.Errorf("kubeconfig has no current-context set")
	}

	return raw.CurrentContext, nil
}

// RESTConfig returns the REST config used by this client (nil for test clients)
func (c *Client) RESTConfig() *rest.Config {
	return c.rest
}

// Clientset exposes the underlying typed clientset
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}
