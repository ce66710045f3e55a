package helm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/image"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/illumination-k/forgectl/pkg/logging"
)

// Manager drives a chart release: override values, stuck-release recovery, restarts and rollout waits
type Manager struct {
	helm      *Client
	cluster   kubernetes.ClusterController
	constants *config.DeploymentConstants
	paths     *config.DeploymentPaths
	out       io.Writer
	// tempDir holds override files; empty means os.TempDir()
	tempDir string
}

// NewManager creates a release Manager
func NewManager(helm *Client, cluster kubernetes.ClusterController, constants *config.DeploymentConstants, paths *config.DeploymentPaths, out io.Writer) *Manager {
	if out == nil {
		out = os.Stdout
	}
	return &Manager{
		helm:      helm,
		cluster:   cluster,
		constants: constants,
		paths:     paths,
		out:       out,
	}
}

// CreateImageOverrides writes a values file pinning every image to tag.
// The caller hands the path to DeployRelease, which removes it.
func (m *Manager) CreateImageOverrides(tag image.Tag, registry string, ingress IngressOptions) (string, error) {
	values := buildOverrides(m.constants, tag.String(), registry, ingress)
	if ingress.Enabled {
		fmt.Fprintf(m.out, "🌐 Ingress enabled: %s\n", ingressSummary(m.constants, ingress))
	}

	path, err := writeOverrideFile(m.tempDir, values)
	if err != nil {
		return "", err
	}
	logging.Debug("helm", "created image override file %s", path)
	return path, nil
}

// DeployRelease recovers a stuck release and runs `helm upgrade --install` without waiting.
// overridePath is removed whether or not the upgrade succeeds.
func (m *Manager) DeployRelease(ctx context.Context, namespace, overridePath string) error {
	defer func() {
		if overridePath == "" {
			return
		}
		if err := os.Remove(overridePath); err != nil && !os.IsNotExist(err) {
			logging.Warn("helm", "failed to remove override file %s: %v", overridePath, err)
		}
	}()

	if err := m.RecoverStuckRelease(ctx, namespace); err != nil {
		return err
	}

	fmt.Fprintln(m.out, "🚀 Deploying resources via Helm...")

	var valuesFiles []string
	if overridePath != "" {
		if _, err := os.Stat(overridePath); err == nil {
			valuesFiles = append(valuesFiles, overridePath)
		}
	}

	err := m.helm.UpgradeInstall(ctx, UpgradeOptions{
		Release:         m.constants.ReleaseName,
		Chart:           m.paths.HelmChart,
		Namespace:       namespace,
		ValuesFiles:     valuesFiles,
		Timeout:         m.constants.HelmTimeout,
		CreateNamespace: true,
		Output:          m.out,
	})
	if err != nil {
		return deployerr.Wrap(err, "Helm deployment failed", helmRecoverySteps(namespace))
	}

	fmt.Fprintf(m.out, "✓ Helm manifests applied to namespace %s\n", namespace)
	return nil
}

func helmRecoverySteps(namespace string) string {
	return strings.Join([]string{
		"The Helm chart could not be deployed to the cluster.",
		"",
		"Recovery steps:",
		"  1. Check the cluster is reachable: kubectl cluster-info",
		"  2. Check pod status: kubectl get pods -n " + namespace,
		"  3. View pod logs: kubectl logs <pod-name> -n " + namespace,
		"  4. Clean up and retry: forgectl deploy down -n " + namespace,
		"  5. Redeploy: forgectl deploy up -n " + namespace,
	}, "\n")
}

// RecoverStuckRelease removes a release left in failed, pending or uninstalling state.
// A normal uninstall is tried first; if that fails the release's resources and
// helm's release records are deleted directly. Only a failed force cleanup is
// returned as an error.
func (m *Manager) RecoverStuckRelease(ctx context.Context, namespace string) error {
	stuck, err := m.helm.StuckReleases(ctx, namespace, m.constants.ReleaseName)
	if err != nil {
		logging.Warn("helm", "could not check for stuck releases: %v", err)
		return nil
	}

	for _, release := range stuck {
		fmt.Fprintf(m.out, "⚠️  Warning: Found release '%s' in '%s' state. Cleaning up...\n", release.Name, release.Status)

		err := m.helm.Uninstall(ctx, release.Name, namespace, true)
		if err == nil || errors.Is(err, ErrReleaseNotFound) {
			fmt.Fprintf(m.out, "✓ Successfully cleaned up stuck release '%s'\n", release.Name)
			continue
		}
		logging.Warn("helm", "uninstall of %s failed: %v", release.Name, err)

		fmt.Fprintln(m.out, "⚠️  Warning: Normal uninstall failed. Attempting force cleanup...")
		deleted, err := m.cluster.DeleteResourcesByLabel(ctx, namespace, config.InstanceSelector(release.Name), true)
		if err != nil {
			return deployerr.Wrap(err, fmt.Sprintf("Failed to clean up stuck release '%s'", release.Name), stuckRecoverySteps(release.Name, namespace))
		}
		secrets, err := m.cluster.DeleteHelmSecrets(ctx, namespace, release.Name)
		if err != nil {
			return deployerr.Wrap(err, fmt.Sprintf("Failed to clean up stuck release '%s'", release.Name), stuckRecoverySteps(release.Name, namespace))
		}
		logging.Info("helm", "force cleaned %s: %d resources, %d release secrets", release.Name, deleted, secrets)
		fmt.Fprintf(m.out, "✓ Force cleaned up release '%s'\n", release.Name)
	}

	return nil
}

func stuckRecoverySteps(release, namespace string) string {
	return strings.Join([]string{
		"Manual cleanup:",
		"  1. helm uninstall " + release + " -n " + namespace + " --no-hooks",
		"  2. kubectl delete all -l " + config.InstanceSelector(release) + " -n " + namespace,
		"  3. kubectl delete secret -l owner=helm,name=" + release + " -n " + namespace,
	}, "\n")
}

// RestartAllDeployments triggers a rollout of every deployment so pods pick up fresh secrets
func (m *Manager) RestartAllDeployments(ctx context.Context, namespace string) error {
	fmt.Fprintln(m.out, "♻️  Restarting all deployments for consistency...")

	deployments, err := m.cluster.ListDeployments(ctx, namespace)
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}

	var failed []string
	for _, d := range deployments {
		if err := m.cluster.RolloutRestart(ctx, namespace, d.Name); err != nil {
			logging.Warn("helm", "restart of %s failed: %v", d.Name, err)
			failed = append(failed, d.Name)
			continue
		}
		fmt.Fprintf(m.out, "  deployment.apps/%s restarted\n", d.Name)
	}

	if len(failed) > 0 {
		fmt.Fprintf(m.out, "⚠️  Warning: Rollout restart failed for: %s\n", strings.Join(failed, ", "))
		return nil
	}
	fmt.Fprintln(m.out, "✓ All deployments restarted successfully")
	return nil
}

// WaitForRollouts waits for each deployment in turn and returns those that did not finish.
// Timeouts are reported as warnings; the deployment itself is not failed.
func (m *Manager) WaitForRollouts(ctx context.Context, namespace string) ([]string, error) {
	fmt.Fprintln(m.out, "⏳ Waiting for rollouts to complete...")

	deployments, err := m.cluster.ListDeployments(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	if len(deployments) == 0 {
		fmt.Fprintln(m.out, "⚠️  Warning: No deployments found to wait for")
		return nil, nil
	}

	var timedOut []string
	for _, d := range deployments {
		if err := m.cluster.WaitForRollout(ctx, namespace, d.Name, m.constants.RolloutTimeout); err != nil {
			if ctx.Err() != nil {
				return timedOut, ctx.Err()
			}
			logging.Warn("helm", "rollout of %s not complete: %v", d.Name, err)
			fmt.Fprintf(m.out, "⚠️  Warning:   %s timed out\n", d.Name)
			timedOut = append(timedOut, d.Name)
			continue
		}
		fmt.Fprintf(m.out, "  ✓ %s ready\n", d.Name)
	}

	if len(timedOut) > 0 {
		fmt.Fprintf(m.out, "⚠️  Warning: Some rollouts timed out: %s\n", strings.Join(timedOut, ", "))
		fmt.Fprintf(m.out, "💡 Check status with: kubectl get pods -n %s\n", namespace)
		fmt.Fprintf(m.out, "💡 To rollback: helm rollback %s -n %s\n", m.constants.ReleaseName, namespace)
		return timedOut, nil
	}

	fmt.Fprintln(m.out, "✓ All rollouts completed successfully")
	return nil, nil
}

// Client returns the underlying helm client
func (m *Manager) Client() *Client {
	return m.helm
}
