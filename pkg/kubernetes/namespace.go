package kubernetes

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
)

// NamespaceExists reports whether the namespace exists
func (c *Client) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get namespace %s: %w", namespace, err)
	}
	return true, nil
}

// NamespaceTerminating reports whether the namespace is being deleted
func (c *Client) NamespaceTerminating(ctx context.Context, namespace string) (bool, error) {
	ns, err := c.clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get namespace %s: %w", namespace, err)
	}
	return ns.Status.Phase == corev1.NamespaceTerminating || ns.DeletionTimestamp != nil, nil
}

// DeleteNamespace deletes the namespace and waits until it is gone or timeout elapses
func (c *Client) DeleteNamespace(ctx context.Context, namespace string, timeout time.Duration) error {
	err := c.clientset.CoreV1().Namespaces().Delete(ctx, namespace, metav1.DeleteOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
	}

	return c.waitForNamespaceDeleted(ctx, namespace, timeout)
}

// waitForNamespaceDeleted waits for the namespace to disappear using a watch
func (c *Client) waitForNamespaceDeleted(ctx context.Context, namespace string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// First check if namespace already doesn't exist
	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to check namespace status: %w", err)
	}

	watcher, err := c.clientset.CoreV1().Namespaces().Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", namespace),
	})
	if err != nil {
		return fmt.Errorf("failed to watch namespace %s: %w", namespace, err)
	}
	defer watcher.Stop()

	for {
		select {
		case event, ok := <-watcher.ResultChan():
			if !ok {
				_, err := c.clientset.CoreV1().Namespaces().Get(context.Background(), namespace, metav1.GetOptions{})
				if errors.IsNotFound(err) {
					return nil
				}
				return fmt.Errorf("watch channel closed but namespace %s still exists", namespace)
			}

			if event.Type == watch.Deleted {
				return nil
			}

			if event.Type == watch.Error {
				return fmt.Errorf("watch error for namespace %s", namespace)
			}

		case <-ctx.Done():
			_, err := c.clientset.CoreV1().Namespaces().Get(context.Background(), namespace, metav1.GetOptions{})
			if errors.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("namespace %s was not deleted within %v", namespace, timeout)
		}
	}
}

// DeletePVCs deletes every PersistentVolumeClaim in the namespace
func (c *Client) DeletePVCs(ctx context.Context, namespace string) (int, error) {
	pvcs, err := c.clientset.CoreV1().PersistentVolumeClaims(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to list persistent volume claims: %w", err)
	}

	deleted := 0
	for _, pvc := range pvcs.Items {
		err := c.clientset.CoreV1().PersistentVolumeClaims(namespace).Delete(ctx, pvc.Name, metav1.DeleteOptions{})
		if err != nil && !errors.IsNotFound(err) {
			return deleted, fmt.Errorf("failed to delete persistent volume claim %s: %w", pvc.Name, err)
		}
		deleted++
	}

	return deleted, nil
}
