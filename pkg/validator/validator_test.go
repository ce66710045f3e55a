package validator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/helm"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
)

const testNS = "api-forge-prod"

type fakeReleases struct {
	releases     []helm.Release
	uninstallErr error
	uninstalled  []string
}

func (f *fakeReleases) List(ctx context.Context, namespace string, filter helm.ListFilter) ([]helm.Release, error) {
	return f.releases, nil
}

func (f *fakeReleases) Uninstall(ctx context.Context, release, namespace string, wait bool) error {
	f.uninstalled = append(f.uninstalled, release)
	return f.uninstallErr
}

func newValidator(releases *fakeReleases, objs ...runtime.Object) (*Validator, *fake.Clientset, *bytes.Buffer) {
	cs := fake.NewSimpleClientset(objs...)
	client := kubernetes.NewClientFromInterfaces(cs, nil, "kind-dev")
	out := &bytes.Buffer{}
	return New(client, releases, config.DefaultConstants(), out), cs, out
}

func namespace(name string) *corev1.Namespace {
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
}

func waitingPod(name, reason string, restarts int32) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNS},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{{
				RestartCount: restarts,
				State:        corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: reason}},
			}},
		},
	}
}

func pendingPod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNS},
		Status:     corev1.PodStatus{Phase: corev1.PodPending},
	}
}

func jobPod(name, job string, created time.Time, failed bool) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         testNS,
			CreationTimestamp: metav1.NewTime(created),
			OwnerReferences:   []metav1.OwnerReference{{Kind: "Job", Name: job}},
		},
		Status: corev1.PodStatus{Phase: corev1.PodSucceeded},
	}
	if failed {
		pod.Status.Phase = corev1.PodFailed
		pod.Status.ContainerStatuses = []corev1.ContainerStatus{{
			State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{Reason: "Error", ExitCode: 1}},
		}}
	}
	return pod
}

func failedJob(name string) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNS},
		Status:     batchv1.JobStatus{Failed: 1},
	}
}

func TestValidate_MissingNamespaceIsClean(t *testing.T) {
	v, _, _ := newValidator(&fakeReleases{})

	result, err := v.Validate(context.Background(), "nope")
	require.NoError(t, err)

	assert.True(t, result.IsClean())
	assert.False(t, result.NamespaceExists)
	assert.False(t, result.RequiresCleanup())
}

func TestValidate_SeverityOrder(t *testing.T) {
	v, _, _ := newValidator(&fakeReleases{},
		namespace(testNS),
		waitingPod("api-forge-app-xyz", "CrashLoopBackOff", 7),
		pendingPod("api-forge-worker-abc"),
		failedJob("postgres-verifier"),
	)

	result, err := v.Validate(context.Background(), testNS)
	require.NoError(t, err)
	require.Len(t, result.Issues, 3)

	assert.Equal(t, Error, result.Issues[0].Severity)
	assert.Equal(t, "Pod in CrashLoopBackOff: api-forge-app-xyz", result.Issues[0].Title)
	assert.Contains(t, result.Issues[0].Description, "7 restarts")
	assert.Equal(t, Warning, result.Issues[1].Severity)
	assert.Equal(t, "Pod pending: api-forge-worker-abc", result.Issues[1].Title)
	assert.Equal(t, Warning, result.Issues[2].Severity)
	assert.Equal(t, "Job has failures: postgres-verifier", result.Issues[2].Title)
	assert.Equal(t,
		"Check logs: 'kubectl logs job/postgres-verifier -n api-forge-prod'. Delete job to retry: 'kubectl delete job postgres-verifier -n api-forge-prod'",
		result.Issues[2].RecoveryHint)

	assert.True(t, result.HasErrors())
	assert.True(t, result.HasWarnings())
	assert.False(t, result.RequiresCleanup())
}

func TestValidate_JobPodDedup(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		pods       []runtime.Object
		wantIssues int
	}{
		{
			name: "latest pod succeeded hides older failures",
			pods: []runtime.Object{
				jobPod("migrate-a", "migrate", now.Add(-3*time.Minute), true),
				jobPod("migrate-b", "migrate", now.Add(-2*time.Minute), true),
				jobPod("migrate-c", "migrate", now.Add(-time.Minute), false),
			},
			wantIssues: 0,
		},
		{
			name: "latest pod failed reports once",
			pods: []runtime.Object{
				jobPod("migrate-a", "migrate", now.Add(-3*time.Minute), false),
				jobPod("migrate-b", "migrate", now.Add(-time.Minute), true),
			},
			wantIssues: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs := append([]runtime.Object{namespace(testNS)}, tt.pods...)
			v, _, _ := newValidator(&fakeReleases{}, objs...)

			result, err := v.Validate(context.Background(), testNS)
			require.NoError(t, err)
			require.Len(t, result.Issues, tt.wantIssues)

			if tt.wantIssues == 1 {
				assert.Equal(t, Warning, result.Issues[0].Severity)
				assert.Equal(t, "Job pod in Error state: migrate-b", result.Issues[0].Title)
			}
		})
	}
}

func TestLatestPerJob_NilCreatedAtWins(t *testing.T) {
	earlier := time.Now().Add(-time.Hour)
	pods := []kubernetes.PodInfo{
		{Name: "a", JobOwner: "j", CreatedAt: &earlier},
		{Name: "b", JobOwner: "j"},
		{Name: "web"},
	}

	got := latestPerJob(pods)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "web", got[1].Name)
}

func TestValidate_StandaloneErrorPod(t *testing.T) {
	pod := jobPod("oneshot", "", time.Now(), true)
	pod.OwnerReferences = nil
	v, _, _ := newValidator(&fakeReleases{}, namespace(testNS), pod)

	result, err := v.Validate(context.Background(), testNS)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, Error, result.Issues[0].Severity)
	assert.Equal(t, "Pod in Error state: oneshot", result.Issues[0].Title)
}

func TestValidate_TerminatingNamespaceIsCritical(t *testing.T) {
	ns := namespace(testNS)
	ns.Status.Phase = corev1.NamespaceTerminating
	v, _, _ := newValidator(&fakeReleases{}, ns)

	result, err := v.Validate(context.Background(), testNS)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, Critical, result.Issues[0].Severity)
	assert.True(t, result.RequiresCleanup())
}

func TestValidate_FailedJobAloneDoesNotRequireCleanup(t *testing.T) {
	v, _, _ := newValidator(&fakeReleases{}, namespace(testNS), failedJob("postgres-verifier"))

	result, err := v.Validate(context.Background(), testNS)
	require.NoError(t, err)
	assert.False(t, result.RequiresCleanup())
	assert.False(t, result.HasErrors())
	assert.True(t, result.HasWarnings())
}

func TestValidate_PreviousRelease(t *testing.T) {
	releases := &fakeReleases{releases: []helm.Release{{Name: "api-forge", Status: "deployed"}}}
	v, _, _ := newValidator(releases, namespace(testNS))

	result, err := v.Validate(context.Background(), testNS)
	require.NoError(t, err)
	assert.True(t, result.HasPreviousRelease)
}

func TestDisplay(t *testing.T) {
	var buf bytes.Buffer
	Display(&buf, &Result{NamespaceExists: true})
	assert.Contains(t, buf.String(), "Pre-deployment checks passed")

	buf.Reset()
	Display(&buf, &Result{Issues: []Issue{{
		Severity:     Warning,
		Title:        "Pod pending: w",
		Description:  "stuck",
		RecoveryHint: "describe it",
		ResourceType: "Pod",
		ResourceName: "w",
	}}})
	out := buf.String()
	assert.Contains(t, out, "Pre-deployment Issues Detected")
	assert.Contains(t, out, "Pod pending: w")
	assert.Contains(t, out, "Resource: Pod/w")
	assert.Contains(t, out, "💡 describe it")
}

func TestPromptCleanup(t *testing.T) {
	critical := &Result{Issues: []Issue{{Severity: Critical}}}
	errs := &Result{Issues: []Issue{{Severity: Error}}}
	warns := &Result{Issues: []Issue{{Severity: Warning}}}

	tests := []struct {
		name   string
		result *Result
		input  string
		want   bool
		prompt string
	}{
		{"critical yes", critical, "y\n", true, "Would you like to run cleanup now? [y/N]"},
		{"critical default", critical, "\n", false, "Would you like to run cleanup now? [y/N]"},
		{"critical eof", critical, "", false, "Would you like to run cleanup now? [y/N]"},
		{"errors yes", errs, "yes\n", true, "Proceed with deployment anyway? [y/N]"},
		{"errors no", errs, "n\n", false, "Proceed with deployment anyway? [y/N]"},
		{"warnings only", warns, "", true, "Warnings detected but proceeding"},
		{"clean", &Result{}, "", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := PromptCleanup(strings.NewReader(tt.input), &out, tt.result, testNS)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), tt.prompt)
		})
	}
}

func TestRunCleanup_UninstallFailureContinues(t *testing.T) {
	releases := &fakeReleases{uninstallErr: errors.New("timed out waiting for the condition")}
	v, _, out := newValidator(releases, namespace(testNS))

	ok := v.RunCleanup(context.Background(), testNS)
	require.True(t, ok)

	assert.Contains(t, out.String(), "Helm uninstall failed (continuing): timed out waiting for the condition")
	assert.NotContains(t, out.String(), "not found or already removed")
	assert.Contains(t, out.String(), "Cleanup complete")
}

func TestRunCleanup(t *testing.T) {
	pvc := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "data-postgres-0", Namespace: testNS}}
	releases := &fakeReleases{uninstallErr: helm.ErrReleaseNotFound}
	v, cs, out := newValidator(releases, namespace(testNS), pvc)

	ok := v.RunCleanup(context.Background(), testNS)
	require.True(t, ok)

	assert.Equal(t, []string{"api-forge"}, releases.uninstalled)
	pvcs, err := cs.CoreV1().PersistentVolumeClaims(testNS).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pvcs.Items)
	_, err = cs.CoreV1().Namespaces().Get(context.Background(), testNS, metav1.GetOptions{})
	assert.Error(t, err)
	assert.Contains(t, out.String(), "Cleanup complete")
}
