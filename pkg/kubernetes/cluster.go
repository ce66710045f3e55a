package kubernetes

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ClusterController is the set of cluster operations the deployer relies on
type ClusterController interface {
	CurrentContext() (string, error)

	NamespaceExists(ctx context.Context, namespace string) (bool, error)
	NamespaceTerminating(ctx context.Context, namespace string) (bool, error)
	DeleteNamespace(ctx context.Context, namespace string, timeout time.Duration) error
	DeletePVCs(ctx context.Context, namespace string) (int, error)

	ListPods(ctx context.Context, namespace, selector string) ([]PodInfo, error)
	ListJobs(ctx context.Context, namespace string) ([]JobInfo, error)
	ListServices(ctx context.Context, namespace string) ([]ServiceInfo, error)
	WaitForPodsReady(ctx context.Context, namespace, selector string, timeout time.Duration) error

	ListReplicaSets(ctx context.Context, namespace string) ([]ReplicaSetInfo, error)
	ScaleReplicaSet(ctx context.Context, namespace, name string, replicas int32) error
	DeleteReplicaSet(ctx context.Context, namespace, name string) error

	ListDeployments(ctx context.Context, namespace string) ([]DeploymentInfo, error)
	RolloutRestart(ctx context.Context, namespace, name string) error
	WaitForRollout(ctx context.Context, namespace, name string, timeout time.Duration) error

	DeleteResourcesByLabel(ctx context.Context, namespace, selector string, force bool) (int, error)
	DeleteHelmSecrets(ctx context.Context, namespace, release string) (int, error)

	ApplyClusterResource(ctx context.Context, gvr schema.GroupVersionResource, obj *unstructured.Unstructured) error
}

var _ ClusterController = (*Client)(nil)
