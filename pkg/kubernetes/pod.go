package kubernetes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

// ListPods lists pods in the namespace, optionally filtered by a label selector
func (c *Client) ListPods(ctx context.Context, namespace, selector string) ([]PodInfo, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in %s: %w", namespace, err)
	}

	infos := make([]PodInfo, 0, len(pods.Items))
	for i := range pods.Items {
		infos = append(infos, podInfo(&pods.Items[i]))
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// podInfo converts a pod into its snapshot form
func podInfo(pod *corev1.Pod) PodInfo {
	info := PodInfo{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Phase:     pod.Status.Phase,
		Status:    PodDisplayStatus(pod),
		Ready:     isPodReady(pod),
		Labels:    pod.Labels,
	}

	if !pod.CreationTimestamp.IsZero() {
		created := pod.CreationTimestamp.Time
		info.CreatedAt = &created
	}

	for _, cs := range pod.Status.ContainerStatuses {
		info.Restarts += cs.RestartCount
	}

	for _, owner := range pod.OwnerReferences {
		if owner.Kind == "Job" {
			info.JobOwner = owner.Name
			break
		}
	}

	return info
}

// PodDisplayStatus derives the status kubectl would show for a pod
func PodDisplayStatus(pod *corev1.Pod) string {
	status := string(pod.Status.Phase)
	if status == "" {
		status = "Unknown"
	}

	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
		if cs.State.Terminated != nil && cs.State.Terminated.Reason == "Error" {
			status = "Error"
		}
	}

	return status
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// WaitForPodsReady waits until every pod matching selector is Ready
func (c *Client) WaitForPodsReady(ctx context.Context, namespace, selector string, timeout time.Duration) error {
	var notReady []string

	err := wait.PollUntilContextTimeout(ctx, c.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		pods, err := c.ListPods(ctx, namespace, selector)
		if err != nil {
			return false, err
		}
		if len(pods) == 0 {
			notReady = []string{"(no pods match " + selector + ")"}
			return false, nil
		}

		notReady = notReady[:0]
		for _, p := range pods {
			if !p.Ready {
				notReady = append(notReady, p.Name)
			}
		}
		return len(notReady) == 0, nil
	})
	if err != nil {
		return fmt.Errorf("pods not ready within %v: %s: %w", timeout, strings.Join(notReady, ", "), err)
	}

	return nil
}

// ListServices lists services in the namespace
func (c *Client) ListServices(ctx context.Context, namespace string) ([]ServiceInfo, error) {
	svcs, err := c.clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list services in %s: %w", namespace, err)
	}

	infos := make([]ServiceInfo, 0, len(svcs.Items))
	for _, svc := range svcs.Items {
		info := ServiceInfo{
			Name:      svc.Name,
			Type:      svc.Spec.Type,
			ClusterIP: svc.Spec.ClusterIP,
		}
		for _, ing := range svc.Status.LoadBalancer.Ingress {
			if ing.IP != "" {
				info.ExternalIP = ing.IP
			} else if ing.Hostname != "" {
				info.ExternalIP = ing.Hostname
			}
		}
		for _, p := range svc.Spec.Ports {
			info.Ports = append(info.Ports, fmt.Sprintf("%d/%s", p.Port, p.Protocol))
		}
		infos = append(infos, info)
	}

	return infos, nil
}
