package cleanup

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
)

const ns = "api-forge-prod"

func int32Ptr(i int32) *int32 { return &i }

func deployment(name, revision string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   ns,
			Annotations: map[string]string{kubernetes.RevisionAnnotation: revision},
		},
		Spec: appsv1.DeploymentSpec{Replicas: int32Ptr(1)},
	}
}

func replicaSet(name, owner, revision string, replicas int32, created time.Time) *appsv1.ReplicaSet {
	rs := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         ns,
			CreationTimestamp: metav1.NewTime(created),
			Annotations:       map[string]string{kubernetes.RevisionAnnotation: revision},
		},
		Spec: appsv1.ReplicaSetSpec{Replicas: int32Ptr(replicas)},
	}
	if owner != "" {
		rs.OwnerReferences = []metav1.OwnerReference{{Kind: "Deployment", Name: owner}}
	}
	return rs
}

func newManager(objs ...runtime.Object) (*Manager, *fake.Clientset, *bytes.Buffer) {
	cs := fake.NewSimpleClientset(objs...)
	client := kubernetes.NewClientFromInterfaces(cs, nil, "kind-dev")
	out := &bytes.Buffer{}
	return NewManager(client, config.DefaultConstants(), out), cs, out
}

func replicas(t *testing.T, cs *fake.Clientset, name string) int32 {
	t.Helper()
	rs, err := cs.AppsV1().ReplicaSets(ns).Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	return *rs.Spec.Replicas
}

func TestScaleDownOldReplicaSets(t *testing.T) {
	now := time.Now()
	m, cs, out := newManager(
		deployment("app", "3"),
		replicaSet("app-old", "app", "2", 1, now),
		replicaSet("app-current", "app", "3", 2, now),
		replicaSet("app-orphan", "", "1", 1, now),
		replicaSet("redis-old", "redis", "1", 1, now),
	)

	scaled, errs := m.ScaleDownOldReplicaSets(context.Background(), ns)
	assert.Empty(t, errs)
	assert.Equal(t, 1, scaled)

	assert.Equal(t, int32(0), replicas(t, cs, "app-old"))
	assert.Equal(t, int32(2), replicas(t, cs, "app-current"))
	assert.Equal(t, int32(1), replicas(t, cs, "app-orphan"))
	assert.Equal(t, int32(1), replicas(t, cs, "redis-old"))
	assert.Contains(t, out.String(), "Scaled down 1 old ReplicaSet(s)")
}

func TestCleanupOldReplicaSets(t *testing.T) {
	now := time.Now()
	m, cs, out := newManager(
		replicaSet("app-stale", "app", "1", 0, now.Add(-2*time.Hour)),
		replicaSet("app-fresh", "app", "2", 0, now.Add(-10*time.Minute)),
		replicaSet("worker-live", "worker", "1", 1, now.Add(-3*time.Hour)),
		replicaSet("redis-stale", "redis", "1", 0, now.Add(-3*time.Hour)),
	)

	deleted, errs := m.CleanupOldReplicaSets(context.Background(), ns)
	assert.Empty(t, errs)
	assert.Equal(t, 1, deleted)

	list, err := cs.AppsV1().ReplicaSets(ns).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	names := []string{}
	for _, rs := range list.Items {
		names = append(names, rs.Name)
	}
	assert.ElementsMatch(t, []string{"app-fresh", "worker-live", "redis-stale"}, names)
	assert.Contains(t, out.String(), "Deleted 1 old ReplicaSet(s)")
}

func TestCleanupOldReplicaSets_NothingToDo(t *testing.T) {
	m, _, out := newManager()

	deleted, errs := m.CleanupOldReplicaSets(context.Background(), ns)
	assert.Zero(t, deleted)
	assert.Empty(t, errs)
	assert.Contains(t, out.String(), "No old ReplicaSets to clean up")
}

type flakyClient struct {
	ReplicaSetClient
	failOn string
}

func (f *flakyClient) ScaleReplicaSet(ctx context.Context, namespace, name string, n int32) error {
	if name == f.failOn {
		return errors.New("conflict")
	}
	return f.ReplicaSetClient.ScaleReplicaSet(ctx, namespace, name, n)
}

func TestScaleDownOldReplicaSets_ContinuesPastFailures(t *testing.T) {
	now := time.Now()
	cs := fake.NewSimpleClientset(
		deployment("app", "3"),
		replicaSet("app-a", "app", "1", 1, now),
		replicaSet("app-b", "app", "2", 1, now),
	)
	client := &flakyClient{ReplicaSetClient: kubernetes.NewClientFromInterfaces(cs, nil, "kind-dev"), failOn: "app-a"}
	m := NewManager(client, config.DefaultConstants(), &bytes.Buffer{})

	scaled, errs := m.ScaleDownOldReplicaSets(context.Background(), ns)
	assert.Equal(t, 1, scaled)
	require.Len(t, errs, 1)
	assert.Equal(t, int32(0), replicas(t, cs, "app-b"))
}
