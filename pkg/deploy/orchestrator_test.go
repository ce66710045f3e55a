package deploy

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/illumination-k/forgectl/pkg/cleanup"
	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/configsync"
	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/docker"
	"github.com/illumination-k/forgectl/pkg/git"
	"github.com/illumination-k/forgectl/pkg/helm"
	"github.com/illumination-k/forgectl/pkg/image"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/illumination-k/forgectl/pkg/portforward"
	"github.com/illumination-k/forgectl/pkg/secrets"
	"github.com/illumination-k/forgectl/pkg/shell"
	"github.com/illumination-k/forgectl/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
)

const testNS = "api-forge-prod"

type cleanRepo struct{}

func (cleanRepo) Status(ctx context.Context, dir string) (git.Status, error) {
	return git.Status{IsRepo: true, IsClean: true, ShortSHA: "abc1234"}, nil
}

type stubTunnel struct {
	mu      sync.Mutex
	stopped bool
}

func (t *stubTunnel) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

func (t *stubTunnel) Err() error { return nil }

func (t *stubTunnel) Stop(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

type stubSpawner struct {
	mu   sync.Mutex
	keys []portforward.Key
}

func (s *stubSpawner) Spawn(ctx context.Context, key portforward.Key) (portforward.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return &stubTunnel{}, nil
}

type harness struct {
	orch    *Orchestrator
	runner  *shell.MockRunner
	cs      *fake.Clientset
	spawner *stubSpawner
	out     *bytes.Buffer
	paths   *config.DeploymentPaths
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newProject(t *testing.T) *config.DeploymentPaths {
	t.Helper()
	paths := config.NewPaths(t.TempDir(), "api-forge")

	writeFile(t, paths.EnvFile, "APP_ENV=production\n")
	writeFile(t, paths.ConfigFile, "config:\n  redis:\n    enabled: false\n  temporal:\n    enabled: true\n")
	writeFile(t, paths.HelmValues, "redis:\n  enabled: true\ntemporal:\n  enabled: true\n")
	writeFile(t, paths.ApplySecretsScript, "#!/bin/bash\n")
	writeFile(t, paths.Dockerfile, "FROM python:3.12\n")
	writeFile(t, filepath.Join(paths.ProjectRoot, "app", "__init__.py"), "")
	for _, key := range []string{"postgres_password.txt", "session_signing_secret.txt", "csrf_signing_secret.txt"} {
		writeFile(t, filepath.Join(paths.SecretsKeys, key), "s3cr3t")
	}
	return paths
}

func newHarness(t *testing.T, services config.Services, target kubernetes.ClusterTarget, objs ...runtime.Object) *harness {
	t.Helper()

	paths := newProject(t)
	runner := shell.NewMockRunner()
	cs := fake.NewSimpleClientset(objs...)
	gvr := schema.GroupVersionResource{Group: "cert-manager.io", Version: "v1", Resource: "clusterissuers"}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{gvr: "ClusterIssuerList"})
	cluster := kubernetes.NewClientFromInterfaces(cs, dyn, target.Context)

	constants := config.DefaultConstants()
	constants.RolloutTimeout = 50 * time.Millisecond
	constants.NamespaceDeleteTimeout = time.Second
	constants.PodReadyTimeout = 50 * time.Millisecond

	out := &bytes.Buffer{}
	helmClient := helm.NewClient(runner)
	spawner := &stubSpawner{}

	orch := New(Deps{
		Cluster:   cluster,
		Target:    target,
		Constants: constants,
		Paths:     paths,
		Services:  services,
		Validator: validator.New(cluster, helmClient, constants, out),
		Builder: image.NewBuilder(docker.NewRuntime(runner, paths.ProjectRoot, out),
			image.NewTagger(paths, cleanRepo{}), constants, paths, services, out),
		Secrets:  secrets.NewManager(runner, paths, out),
		Sync:     configsync.New(paths, out),
		Release:  helm.NewManager(helmClient, cluster, constants, paths, out),
		Cleanup:  cleanup.NewManager(cluster, constants, out),
		Forwards: portforward.NewManager(spawner, cluster, portforward.WithSettle(0), portforward.WithDialCheck(false)),
		In:       strings.NewReader(""),
		Out:      out,
	})
	orch.dbRetryDelay = time.Millisecond

	return &harness{orch: orch, runner: runner, cs: cs, spawner: spawner, out: out, paths: paths}
}

func minikube() kubernetes.ClusterTarget {
	return kubernetes.ClusterTarget{Type: kubernetes.ClusterMinikube, Context: "minikube"}
}

func indexOf(lines []string, prefix string) int {
	for i, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return i
		}
	}
	return -1
}

func TestDeploy_Sequence(t *testing.T) {
	h := newHarness(t, config.Services{Temporal: true}, minikube())

	err := h.orch.Deploy(context.Background(), Options{Namespace: testNS})
	require.NoError(t, err)

	lines := h.runner.CommandLines()
	build := indexOf(lines, "docker compose")
	load := indexOf(lines, "minikube image load api-forge-app:git-abc1234")
	applySecrets := indexOf(lines, "bash "+h.paths.ApplySecretsScript+" "+testNS)
	upgrade := indexOf(lines, "helm upgrade --install api-forge")

	require.NotEqual(t, -1, build)
	require.NotEqual(t, -1, load)
	require.NotEqual(t, -1, applySecrets)
	require.NotEqual(t, -1, upgrade)
	assert.Less(t, build, load)
	assert.Less(t, load, applySecrets)
	assert.Less(t, applySecrets, upgrade)

	values, err := os.ReadFile(h.paths.HelmValues)
	require.NoError(t, err)
	assert.Contains(t, string(values), "redis:\n  enabled: false")
	assert.FileExists(t, filepath.Join(h.paths.HelmFiles, ".env"))
	assert.Contains(t, h.out.String(), "Deployment complete!")
}

func TestDeploy_NoWait(t *testing.T) {
	h := newHarness(t, config.Services{BundledPostgres: true}, minikube())

	err := h.orch.Deploy(context.Background(), Options{Namespace: testNS, NoWait: true})
	require.NoError(t, err)

	assert.True(t, h.runner.Ran("helm upgrade --install"))
	assert.NotContains(t, h.out.String(), "Waiting for pods")
	assert.Empty(t, h.spawner.keys)
}

func TestDeploy_NoWaitLeavesReplicaSets(t *testing.T) {
	var zero int32
	old := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "api-forge-app-5d9f7c",
			Namespace:         testNS,
			CreationTimestamp: metav1.NewTime(time.Now().Add(-48 * time.Hour)),
		},
		Spec: appsv1.ReplicaSetSpec{Replicas: &zero},
	}
	h := newHarness(t, config.Services{}, minikube(), old)

	err := h.orch.Deploy(context.Background(), Options{Namespace: testNS, SkipValidation: true, NoWait: true})
	require.NoError(t, err)

	for _, action := range h.cs.Actions() {
		if action.GetResource().Resource == "replicasets" {
			assert.Contains(t, []string{"list", "get", "watch"}, action.GetVerb())
		}
	}
	_, err = h.cs.AppsV1().ReplicaSets(testNS).Get(context.Background(), old.Name, metav1.GetOptions{})
	assert.NoError(t, err)
	assert.NotContains(t, h.out.String(), "Scaling down old ReplicaSets")
	assert.Contains(t, h.out.String(), "Skipping ReplicaSet cleanup")
}

func TestDeploy_PodsNotReadyOnlyWarns(t *testing.T) {
	pending := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "api-forge-app-abc",
			Namespace: testNS,
			Labels:    map[string]string{"app.kubernetes.io/component": "application"},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	h := newHarness(t, config.Services{}, minikube(), pending)

	err := h.orch.Deploy(context.Background(), Options{Namespace: testNS, SkipValidation: true})
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "Some pods may not be fully ready yet")
	assert.Contains(t, h.out.String(), "Deployment complete!")
}

func TestDeploy_MissingEnvFile(t *testing.T) {
	h := newHarness(t, config.Services{}, minikube())
	require.NoError(t, os.Remove(h.paths.EnvFile))

	err := h.orch.Deploy(context.Background(), Options{Namespace: testNS})
	derr, ok := deployerr.As(err)
	require.True(t, ok)
	assert.Equal(t, ".env file not found", derr.Message)
	assert.Empty(t, h.runner.CommandLines())
}

func TestDeploy_InvalidRegistry(t *testing.T) {
	h := newHarness(t, config.Services{}, minikube())

	err := h.orch.Deploy(context.Background(), Options{Namespace: testNS, Registry: "https://ghcr.io/me"})
	derr, ok := deployerr.As(err)
	require.True(t, ok)
	assert.Contains(t, derr.Message, "Invalid registry URL format")
}

func TestDeploy_RemoteWithoutRegistry(t *testing.T) {
	h := newHarness(t, config.Services{}, kubernetes.ClusterTarget{Type: kubernetes.ClusterRemote, Context: "gke-prod"})

	err := h.orch.Deploy(context.Background(), Options{Namespace: testNS})
	derr, ok := deployerr.As(err)
	require.True(t, ok)
	assert.Contains(t, derr.Message, "Remote cluster 'gke-prod' detected but no registry specified")
	assert.False(t, h.runner.Ran("docker"))
}

func crashLoopPod() *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "api-forge-app-xyz", Namespace: testNS},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{{
				State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"}},
			}},
		},
	}
}

func TestDeploy_PreflightPolicy(t *testing.T) {
	terminating := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: testNS},
		Status:     corev1.NamespaceStatus{Phase: corev1.NamespaceTerminating},
	}
	active := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: testNS}}

	tests := []struct {
		name      string
		objs      []runtime.Object
		input     string
		assumeYes bool
		wantErr   string
		wantBuild bool
	}{
		{name: "critical declined", objs: []runtime.Object{terminating}, input: "n\n", wantErr: "Deployment cancelled due to unresolved critical issues"},
		{name: "critical with --yes", objs: []runtime.Object{terminating}, assumeYes: true, wantErr: "Deployment cancelled due to unresolved critical issues"},
		{name: "critical accepted", objs: []runtime.Object{terminating}, input: "y\n", wantBuild: true},
		{name: "errors declined", objs: []runtime.Object{active, crashLoopPod()}, input: "\n", wantErr: "Deployment cancelled"},
		{name: "errors accepted", objs: []runtime.Object{active, crashLoopPod()}, input: "y\n", wantBuild: true},
		{name: "errors with --yes", objs: []runtime.Object{active, crashLoopPod()}, assumeYes: true, wantBuild: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.Services{}, minikube(), tt.objs...)
			h.orch.In = strings.NewReader(tt.input)

			err := h.orch.Deploy(context.Background(), Options{Namespace: testNS, AssumeYes: tt.assumeYes})
			if tt.wantErr != "" {
				derr, ok := deployerr.As(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantErr, derr.Message)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantBuild, h.runner.Ran("docker compose"))
		})
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func postgresPod() *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "postgres-0",
			Namespace: testNS,
			Labels:    map[string]string{"app.kubernetes.io/name": "postgres"},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
}

func TestVerifyDatabase(t *testing.T) {
	tests := []struct {
		name      string
		objs      []runtime.Object
		failDials int
		wantErr   bool
		wantDials int
		wantOut   string
	}{
		{name: "reachable", objs: []runtime.Object{postgresPod()}, wantDials: 1, wantOut: "Database is accepting connections"},
		{name: "reachable after retries", objs: []runtime.Object{postgresPod()}, failDials: 2, wantDials: 3, wantOut: "Database is accepting connections"},
		{name: "unreachable", objs: []runtime.Object{postgresPod()}, failDials: 99, wantErr: true, wantDials: 5},
		{name: "no database pod", wantOut: "Could not verify database connectivity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.Services{BundledPostgres: true}, minikube(), tt.objs...)
			h.orch.dbLocalPort = freePort(t)

			dials := 0
			h.orch.dial = func(ctx context.Context, addr string) error {
				dials++
				if dials <= tt.failDials {
					return errors.New("connection refused")
				}
				return nil
			}

			err := h.orch.VerifyDatabase(context.Background(), testNS)
			if tt.wantErr {
				derr, ok := deployerr.As(err)
				require.True(t, ok)
				assert.Equal(t, "Database unreachable after deployment", derr.Message)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantDials, dials)
			assert.Contains(t, h.out.String(), tt.wantOut)
			assert.Empty(t, h.orch.Forwards.Active())
		})
	}
}

func TestVerifyDatabase_SkippedWithoutBundledPostgres(t *testing.T) {
	h := newHarness(t, config.Services{}, minikube(), postgresPod())

	require.NoError(t, h.orch.VerifyDatabase(context.Background(), testNS))
	assert.Empty(t, h.spawner.keys)
}
