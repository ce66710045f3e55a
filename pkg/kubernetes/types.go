package kubernetes

import (
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Client wraps the Kubernetes clientset and provides convenience methods
type Client struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	rest      *rest.Config
	config    *Config

	// pollInterval paces rollout and deletion polling
	pollInterval time.Duration
}

// Config holds configuration for the Kubernetes client
type Config struct {
	KubeconfigPath string
	// Context overrides the kubeconfig's current-context when set
	Context string
}

// PodInfo is a read-only snapshot of a pod's state
type PodInfo struct {
	Name      string
	Namespace string
	Phase     corev1.PodPhase
	// Status is the kubectl-style display status: the phase, overridden by a
	// container waiting reason (e.g. CrashLoopBackOff) or "Error" when a
	// container terminated with that reason.
	Status   string
	Ready    bool
	Restarts int32
	// JobOwner is the owning Job's name, empty for non-job pods
	JobOwner  string
	CreatedAt *time.Time
	Labels    map[string]string
}

// JobStatus is the coarse state of a Job
type JobStatus string

const (
	JobComplete JobStatus = "Complete"
	JobFailed   JobStatus = "Failed"
	JobRunning  JobStatus = "Running"
	JobUnknown  JobStatus = "Unknown"
)

// JobInfo is a read-only snapshot of a Job
type JobInfo struct {
	Name      string
	Namespace string
	Status    JobStatus
	Failed    int32
	Succeeded int32
}

// ReplicaSetInfo is a read-only snapshot of a ReplicaSet
type ReplicaSetInfo struct {
	Name      string
	Namespace string
	Replicas  int32
	// Revision is the deployment.kubernetes.io/revision annotation
	Revision        string
	CreatedAt       time.Time
	OwnerDeployment string
}

// DeploymentInfo is a read-only snapshot of a Deployment
type DeploymentInfo struct {
	Name              string
	Namespace         string
	Revision          string
	Replicas          int32
	ReadyReplicas     int32
	UpdatedReplicas   int32
	AvailableReplicas int32
}

// ServiceInfo is a read-only snapshot of a Service
type ServiceInfo struct {
	Name       string
	Type       corev1.ServiceType
	ClusterIP  string
	ExternalIP string
	Ports      []string
}

const (
	// RevisionAnnotation is set by the deployment controller on Deployments and ReplicaSets
	RevisionAnnotation = "deployment.kubernetes.io/revision"
	// RestartedAtAnnotation is the pod-template annotation kubectl rollout restart sets
	RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"
)
