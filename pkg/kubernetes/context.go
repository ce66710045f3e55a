package kubernetes

import "strings"

// ClusterType enumerates the cluster flavours that need distinct image delivery
type ClusterType int

const (
	// ClusterRemote is any cluster that pulls images from a registry
	ClusterRemote ClusterType = iota
	// ClusterMinikube is a local VM cluster with its own image cache
	ClusterMinikube
	// ClusterKind is a local container-based cluster
	ClusterKind
)

func (t ClusterType) String() string {
	switch t {
	case ClusterMinikube:
		return "minikube"
	case ClusterKind:
		return "kind"
	default:
		return "remote"
	}
}

// ClusterTarget is the cluster flavour resolved once per invocation from the kube context
type ClusterTarget struct {
	Type ClusterType
	// Context is the kubeconfig context name
	Context string
	// KindCluster is the kind cluster name (only for ClusterKind)
	KindCluster string
}

// IsLocal reports whether images can be side-loaded instead of pushed
func (k ClusterTarget) IsLocal() bool {
	return k.Type == ClusterMinikube || k.Type == ClusterKind
}

// DetectCluster classifies a kubeconfig context name
func DetectCluster(contextName string) ClusterTarget {
	lower := strings.ToLower(contextName)

	switch {
	case strings.Contains(lower, "minikube"):
		return ClusterTarget{Type: ClusterMinikube, Context: contextName}
	case strings.Contains(lower, "kind"):
		name := "kind"
		if strings.HasPrefix(contextName, "kind-") && len(contextName) > len("kind-") {
			name = strings.TrimPrefix(contextName, "kind-")
		}
		return ClusterTarget{Type: ClusterKind, Context: contextName, KindCluster: name}
	default:
		return ClusterTarget{Type: ClusterRemote, Context: contextName}
	}
}
