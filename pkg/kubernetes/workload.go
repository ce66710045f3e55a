package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
)

// ListJobs lists jobs in the namespace with a coarse status
func (c *Client) ListJobs(ctx context.Context, namespace string) ([]JobInfo, error) {
	jobs, err := c.clientset.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs in %s: %w", namespace, err)
	}

	infos := make([]JobInfo, 0, len(jobs.Items))
	for _, job := range jobs.Items {
		status := JobUnknown
		switch {
		case job.Status.Succeeded > 0:
			status = JobComplete
		case job.Status.Failed > 0:
			status = JobFailed
		case job.Status.Active > 0:
			status = JobRunning
		}

		infos = append(infos, JobInfo{
			Name:      job.Name,
			Namespace: job.Namespace,
			Status:    status,
			Failed:    job.Status.Failed,
			Succeeded: job.Status.Succeeded,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// ListReplicaSets lists ReplicaSets in the namespace
func (c *Client) ListReplicaSets(ctx context.Context, namespace string) ([]ReplicaSetInfo, error) {
	rsList, err := c.clientset.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list replicasets in %s: %w", namespace, err)
	}

	infos := make([]ReplicaSetInfo, 0, len(rsList.Items))
	for _, rs := range rsList.Items {
		info := ReplicaSetInfo{
			Name:      rs.Name,
			Namespace: rs.Namespace,
			Revision:  rs.Annotations[RevisionAnnotation],
			CreatedAt: rs.CreationTimestamp.Time,
		}
		if rs.Spec.Replicas != nil {
			info.Replicas = *rs.Spec.Replicas
		}
		for _, owner := range rs.OwnerReferences {
			if owner.Kind == "Deployment" {
				info.OwnerDeployment = owner.Name
				break
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// ScaleReplicaSet sets the desired replica count of a ReplicaSet
func (c *Client) ScaleReplicaSet(ctx context.Context, namespace, name string, replicas int32) error {
	rs, err := c.clientset.AppsV1().ReplicaSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get replicaset %s: %w", name, err)
	}

	rs.Spec.Replicas = &replicas
	if _, err := c.clientset.AppsV1().ReplicaSets(namespace).Update(ctx, rs, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to scale replicaset %s: %w", name, err)
	}

	return nil
}

// DeleteReplicaSet deletes a ReplicaSet; a missing one is not an error
func (c *Client) DeleteReplicaSet(ctx context.Context, namespace, name string) error {
	err := c.clientset.AppsV1().ReplicaSets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("failed to delete replicaset %s: %w", name, err)
	}
	return nil
}

// ListDeployments lists deployments in the namespace
func (c *Client) ListDeployments(ctx context.Context, namespace string) ([]DeploymentInfo, error) {
	deployments, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments in %s: %w", namespace, err)
	}

	infos := make([]DeploymentInfo, 0, len(deployments.Items))
	for _, d := range deployments.Items {
		info := DeploymentInfo{
			Name:              d.Name,
			Namespace:         d.Namespace,
			Revision:          d.Annotations[RevisionAnnotation],
			ReadyReplicas:     d.Status.ReadyReplicas,
			UpdatedReplicas:   d.Status.UpdatedReplicas,
			AvailableReplicas: d.Status.AvailableReplicas,
		}
		if d.Spec.Replicas != nil {
			info.Replicas = *d.Spec.Replicas
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// RolloutRestart triggers a rolling restart the same way kubectl rollout restart does
func (c *Client) RolloutRestart(ctx context.Context, namespace, name string) error {
	patch := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{
						RestartedAtAnnotation: time.Now().Format(time.RFC3339),
					},
				},
			},
		},
	}

	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to build restart patch: %w", err)
	}

	_, err = c.clientset.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, data, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to restart deployment %s: %w", name, err)
	}

	return nil
}

// WaitForRollout waits until the deployment has fully rolled out or timeout elapses
func (c *Client) WaitForRollout(ctx context.Context, namespace, name string, timeout time.Duration) error {
	var lastStatus string

	err := wait.PollUntilContextTimeout(ctx, c.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		d, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, fmt.Errorf("failed to get deployment %s: %w", name, err)
		}

		done, status, err := rolloutComplete(d)
		lastStatus = status
		return done, err
	})
	if err != nil {
		if lastStatus != "" {
			return fmt.Errorf("deployment %s rollout not complete within %v (%s): %w", name, timeout, lastStatus, err)
		}
		return fmt.Errorf("deployment %s rollout not complete within %v: %w", name, timeout, err)
	}

	return nil
}

// rolloutComplete mirrors kubectl rollout status for Deployments
func rolloutComplete(d *appsv1.Deployment) (bool, string, error) {
	if d.Generation > d.Status.ObservedGeneration {
		return false, "waiting for deployment spec update to be observed", nil
	}

	for _, cond := range d.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing && cond.Reason == "ProgressDeadlineExceeded" {
			return false, "", fmt.Errorf("deployment %s exceeded its progress deadline", d.Name)
		}
	}

	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}

	switch {
	case d.Status.UpdatedReplicas < desired:
		return false, fmt.Sprintf("%d of %d updated replicas are available", d.Status.UpdatedReplicas, desired), nil
	case d.Status.Replicas > d.Status.UpdatedReplicas:
		return false, fmt.Sprintf("%d old replicas are pending termination", d.Status.Replicas-d.Status.UpdatedReplicas), nil
	case d.Status.AvailableReplicas < d.Status.UpdatedReplicas:
		return false, fmt.Sprintf("%d of %d updated replicas are available", d.Status.AvailableReplicas, d.Status.UpdatedReplicas), nil
	}

	return true, "", nil
}
