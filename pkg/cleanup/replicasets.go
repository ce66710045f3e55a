// Package cleanup garbage-collects ReplicaSets left behind by earlier rollouts.
package cleanup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/illumination-k/forgectl/pkg/logging"
)

// ReplicaSetClient is the cluster surface the cleanup passes need
type ReplicaSetClient interface {
	ListReplicaSets(ctx context.Context, namespace string) ([]kubernetes.ReplicaSetInfo, error)
	ListDeployments(ctx context.Context, namespace string) ([]kubernetes.DeploymentInfo, error)
	ScaleReplicaSet(ctx context.Context, namespace, name string, replicas int32) error
	DeleteReplicaSet(ctx context.Context, namespace, name string) error
}

// Manager runs the ReplicaSet cleanup passes. Both passes are best effort:
// individual failures are logged and returned, never abort the pass.
type Manager struct {
	client    ReplicaSetClient
	prefixes  []string
	threshold time.Duration
	now       func() time.Time
	out       io.Writer
}

// NewManager creates a cleanup Manager
func NewManager(client ReplicaSetClient, constants *config.DeploymentConstants, out io.Writer) *Manager {
	if out == nil {
		out = os.Stdout
	}
	return &Manager{
		client:    client,
		prefixes:  constants.DeploymentPrefixes,
		threshold: constants.ReplicaSetAgeThreshold,
		now:       time.Now,
		out:       out,
	}
}

func (m *Manager) managed(name string) bool {
	for _, p := range m.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ScaleDownOldReplicaSets scales superseded ReplicaSets to zero.
// A ReplicaSet is superseded when its revision differs from its owning
// Deployment's current revision.
func (m *Manager) ScaleDownOldReplicaSets(ctx context.Context, namespace string) (int, []error) {
	fmt.Fprintln(m.out, "🧹 Scaling down old ReplicaSets...")

	deployments, err := m.client.ListDeployments(ctx, namespace)
	if err != nil {
		logging.Warn("cleanup", "failed to list deployments: %v", err)
		return 0, []error{err}
	}
	current := make(map[string]string, len(deployments))
	for _, d := range deployments {
		current[d.Name] = d.Revision
	}

	replicaSets, err := m.client.ListReplicaSets(ctx, namespace)
	if err != nil {
		logging.Warn("cleanup", "failed to list replicasets: %v", err)
		return 0, []error{err}
	}

	scaled := 0
	var errs []error
	for _, rs := range replicaSets {
		if !m.managed(rs.Name) || rs.Replicas <= 0 || rs.OwnerDeployment == "" {
			continue
		}
		revision, ok := current[rs.OwnerDeployment]
		if !ok || rs.Revision == revision {
			continue
		}

		if err := m.client.ScaleReplicaSet(ctx, namespace, rs.Name, 0); err != nil {
			logging.Warn("cleanup", "failed to scale down %s: %v", rs.Name, err)
			errs = append(errs, err)
			continue
		}
		logging.Debug("cleanup", "scaled %s (revision %s, current %s) to 0", rs.Name, rs.Revision, revision)
		scaled++
	}

	if scaled > 0 {
		fmt.Fprintf(m.out, "✓ Scaled down %d old ReplicaSet(s)\n", scaled)
	} else {
		fmt.Fprintln(m.out, "  No old ReplicaSets to scale down")
	}
	return scaled, errs
}

// CleanupOldReplicaSets deletes zero-replica ReplicaSets older than the age threshold
func (m *Manager) CleanupOldReplicaSets(ctx context.Context, namespace string) (int, []error) {
	replicaSets, err := m.client.ListReplicaSets(ctx, namespace)
	if err != nil {
		logging.Warn("cleanup", "failed to list replicasets: %v", err)
		return 0, []error{err}
	}

	cutoff := m.now().Add(-m.threshold)
	deleted := 0
	var errs []error
	for _, rs := range replicaSets {
		if !m.managed(rs.Name) || rs.Replicas != 0 || !rs.CreatedAt.Before(cutoff) {
			continue
		}

		if err := m.client.DeleteReplicaSet(ctx, namespace, rs.Name); err != nil {
			logging.Warn("cleanup", "failed to delete %s: %v", rs.Name, err)
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		fmt.Fprintf(m.out, "✓ Deleted %d old ReplicaSet(s)\n", deleted)
	} else {
		fmt.Fprintln(m.out, "  No old ReplicaSets to clean up")
	}
	return deleted, errs
}
