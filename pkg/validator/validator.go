package validator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/helm"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/illumination-k/forgectl/pkg/logging"
)

// ReleaseStore is the part of the helm client the validator needs
type ReleaseStore interface {
	List(ctx context.Context, namespace string, filter helm.ListFilter) ([]helm.Release, error)
	Uninstall(ctx context.Context, release, namespace string, wait bool) error
}

// Validator inspects a namespace before deploying into it
type Validator struct {
	cluster   kubernetes.ClusterController
	releases  ReleaseStore
	constants *config.DeploymentConstants
	out       io.Writer
}

// New creates a Validator
func New(cluster kubernetes.ClusterController, releases ReleaseStore, constants *config.DeploymentConstants, out io.Writer) *Validator {
	if out == nil {
		out = os.Stdout
	}
	return &Validator{cluster: cluster, releases: releases, constants: constants, out: out}
}

// Validate scans namespace with read-only queries.
// A missing namespace is a fresh deployment and yields a clean result.
func (v *Validator) Validate(ctx context.Context, namespace string) (*Result, error) {
	result := &Result{}

	exists, err := v.cluster.NamespaceExists(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to check namespace %s: %w", namespace, err)
	}
	result.NamespaceExists = exists
	if !exists {
		return result, nil
	}

	result.HasPreviousRelease = v.hasRelease(ctx, namespace)

	terminating, err := v.cluster.NamespaceTerminating(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to check namespace %s: %w", namespace, err)
	}
	if terminating {
		result.add(Issue{
			Severity:     Critical,
			Title:        fmt.Sprintf("Namespace is terminating: %s", namespace),
			Description:  fmt.Sprintf("Namespace '%s' is being deleted. New resources cannot be created in it until deletion finishes.", namespace),
			RecoveryHint: fmt.Sprintf("Wait for deletion to finish: 'kubectl get namespace %s -w'", namespace),
			ResourceType: "Namespace",
			ResourceName: namespace,
		})
	}

	pods, err := v.cluster.ListPods(ctx, namespace, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	pods = latestPerJob(pods)

	checkCrashLoopPods(namespace, pods, result)
	checkErrorPods(namespace, pods, result)
	checkPendingPods(namespace, pods, result)

	jobs, err := v.cluster.ListJobs(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	checkFailedJobs(namespace, jobs, result)

	logging.Debug("validator", "%s: %d issue(s)", namespace, len(result.Issues))
	return result, nil
}

func (v *Validator) hasRelease(ctx context.Context, namespace string) bool {
	releases, err := v.releases.List(ctx, namespace, helm.ListFilter{})
	if err != nil {
		logging.Warn("validator", "could not list releases: %v", err)
		return false
	}
	for _, r := range releases {
		if r.Name == v.constants.ReleaseName {
			return true
		}
	}
	return false
}

// latestPerJob keeps non-job pods and only the newest pod of each job.
// A pod without a creation timestamp counts as the newest.
func latestPerJob(pods []kubernetes.PodInfo) []kubernetes.PodInfo {
	latest := make(map[string]int)
	for i, p := range pods {
		if p.JobOwner == "" {
			continue
		}
		j, seen := latest[p.JobOwner]
		if !seen || newer(p, pods[j]) {
			latest[p.JobOwner] = i
		}
	}

	filtered := make([]kubernetes.PodInfo, 0, len(pods))
	for i, p := range pods {
		if p.JobOwner != "" && latest[p.JobOwner] != i {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

func newer(a, b kubernetes.PodInfo) bool {
	if a.CreatedAt == nil {
		return true
	}
	if b.CreatedAt == nil {
		return false
	}
	return !a.CreatedAt.Before(*b.CreatedAt)
}

func checkCrashLoopPods(namespace string, pods []kubernetes.PodInfo, result *Result) {
	for _, p := range pods {
		if p.Status != "CrashLoopBackOff" {
			continue
		}
		result.add(Issue{
			Severity:     Error,
			Title:        fmt.Sprintf("Pod in CrashLoopBackOff: %s", p.Name),
			Description:  fmt.Sprintf("Pod '%s' is crash-looping (%d restarts). This usually indicates configuration or dependency issues.", p.Name, p.Restarts),
			RecoveryHint: fmt.Sprintf("Check pod logs with 'kubectl logs %s -n %s', then fix the issue or run cleanup", p.Name, namespace),
			ResourceType: "Pod",
			ResourceName: p.Name,
		})
	}
}

func checkErrorPods(namespace string, pods []kubernetes.PodInfo, result *Result) {
	for _, p := range pods {
		if p.Status != "Error" {
			continue
		}
		if p.JobOwner != "" {
			result.add(Issue{
				Severity:     Warning,
				Title:        fmt.Sprintf("Job pod in Error state: %s", p.Name),
				Description:  fmt.Sprintf("Most recent pod for job '%s' is in Error state. This may be transient if the job will retry.", p.JobOwner),
				RecoveryHint: fmt.Sprintf("Check logs: 'kubectl logs %s -n %s'. Delete job to retry: 'kubectl delete job %s -n %s'", p.Name, namespace, p.JobOwner, namespace),
				ResourceType: "Pod",
				ResourceName: p.Name,
			})
			continue
		}
		result.add(Issue{
			Severity:     Error,
			Title:        fmt.Sprintf("Pod in Error state: %s", p.Name),
			Description:  fmt.Sprintf("Pod '%s' is in Error state. Check logs to determine the cause.", p.Name),
			RecoveryHint: fmt.Sprintf("Check pod logs with 'kubectl logs %s -n %s', then fix the issue or run cleanup", p.Name, namespace),
			ResourceType: "Pod",
			ResourceName: p.Name,
		})
	}
}

func checkPendingPods(namespace string, pods []kubernetes.PodInfo, result *Result) {
	for _, p := range pods {
		if p.Status != "Pending" {
			continue
		}
		result.add(Issue{
			Severity:     Warning,
			Title:        fmt.Sprintf("Pod pending: %s", p.Name),
			Description:  fmt.Sprintf("Pod '%s' is stuck in Pending state. This may indicate resource constraints or scheduling issues.", p.Name),
			RecoveryHint: fmt.Sprintf("Check events with 'kubectl describe pod %s -n %s'", p.Name, namespace),
			ResourceType: "Pod",
			ResourceName: p.Name,
		})
	}
}

// checkFailedJobs flags failed jobs as warnings; they are often retried successfully
func checkFailedJobs(namespace string, jobs []kubernetes.JobInfo, result *Result) {
	for _, j := range jobs {
		if j.Status != kubernetes.JobFailed {
			continue
		}
		result.add(Issue{
			Severity:     Warning,
			Title:        fmt.Sprintf("Job has failures: %s", j.Name),
			Description:  fmt.Sprintf("Job '%s' has failed attempts. This may be transient during startup while dependencies initialize.", j.Name),
			RecoveryHint: fmt.Sprintf("Check logs: 'kubectl logs job/%s -n %s'. Delete job to retry: 'kubectl delete job %s -n %s'", j.Name, namespace, j.Name, namespace),
			ResourceType: "Job",
			ResourceName: j.Name,
		})
	}
}

// RunCleanup uninstalls the release, deletes PVCs and deletes the namespace.
// Failures are reported and logged; it never panics or exits.
func (v *Validator) RunCleanup(ctx context.Context, namespace string) bool {
	fmt.Fprintf(v.out, "\n🧹 Cleaning up namespace %s...\n", namespace)

	err := v.releases.Uninstall(ctx, v.constants.ReleaseName, namespace, true)
	switch {
	case err == nil:
		fmt.Fprintf(v.out, "✓ Helm release '%s' uninstalled\n", v.constants.ReleaseName)
	case errors.Is(err, helm.ErrReleaseNotFound):
		fmt.Fprintln(v.out, "  Helm release not found or already removed")
	default:
		logging.Warn("validator", "helm uninstall failed: %v", err)
		fmt.Fprintf(v.out, "⚠️  Helm uninstall failed (continuing): %v\n", err)
	}

	deleted, err := v.cluster.DeletePVCs(ctx, namespace)
	if err != nil {
		return v.cleanupFailed(namespace, err)
	}
	fmt.Fprintf(v.out, "✓ Persistent volume claims deleted (%d)\n", deleted)

	timeout := v.constants.NamespaceDeleteTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if err := v.cluster.DeleteNamespace(ctx, namespace, timeout); err != nil {
		return v.cleanupFailed(namespace, err)
	}
	fmt.Fprintf(v.out, "✓ Namespace %s deleted\n", namespace)

	fmt.Fprintln(v.out, "✓ Cleanup complete. You can now run deployment again.")
	return true
}

func (v *Validator) cleanupFailed(namespace string, err error) bool {
	logging.Error("validator", err, "cleanup of %s failed", namespace)
	fmt.Fprintf(v.out, "❌ Cleanup failed: %v\n", err)
	fmt.Fprintf(v.out, "💡 Try manual cleanup: kubectl delete namespace %s\n", namespace)
	return false
}
