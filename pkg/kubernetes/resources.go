package kubernetes

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// labeledKind lists and deletes one resource kind by label selector
type labeledKind struct {
	kind   string
	list   func(ctx context.Context, namespace string, opts metav1.ListOptions) ([]string, error)
	delete func(ctx context.Context, namespace, name string, opts metav1.DeleteOptions) error
}

// namesOf collects object names from a typed list
func namesOf[T any, PT interface {
	*T
	GetName() string
}](items []T) []string {
	names := make([]string, 0, len(items))
	for i := range items {
		names = append(names, PT(&items[i]).GetName())
	}
	return names
}

func (c *Client) labeledKinds() []labeledKind {
	cs := c.clientset
	return []labeledKind{
		{
			kind: "deployment",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.AppsV1().Deployments(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.AppsV1().Deployments(ns).Delete(ctx, name, opts)
			},
		},
		{
			kind: "statefulset",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.AppsV1().StatefulSets(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.AppsV1().StatefulSets(ns).Delete(ctx, name, opts)
			},
		},
		{
			kind: "replicaset",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.AppsV1().ReplicaSets(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.AppsV1().ReplicaSets(ns).Delete(ctx, name, opts)
			},
		},
		{
			kind: "job",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.BatchV1().Jobs(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.BatchV1().Jobs(ns).Delete(ctx, name, opts)
			},
		},
		{
			kind: "service",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.CoreV1().Services(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.CoreV1().Services(ns).Delete(ctx, name, opts)
			},
		},
		{
			kind: "pod",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.CoreV1().Pods(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.CoreV1().Pods(ns).Delete(ctx, name, opts)
			},
		},
		{
			kind: "configmap",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.CoreV1().ConfigMaps(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.CoreV1().ConfigMaps(ns).Delete(ctx, name, opts)
			},
		},
		{
			kind: "secret",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.CoreV1().Secrets(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.CoreV1().Secrets(ns).Delete(ctx, name, opts)
			},
		},
		{
			kind: "persistentvolumeclaim",
			list: func(ctx context.Context, ns string, opts metav1.ListOptions) ([]string, error) {
				l, err := cs.CoreV1().PersistentVolumeClaims(ns).List(ctx, opts)
				if err != nil {
					return nil, err
				}
				return namesOf(l.Items), nil
			},
			delete: func(ctx context.Context, ns, name string, opts metav1.DeleteOptions) error {
				return cs.CoreV1().PersistentVolumeClaims(ns).Delete(ctx, name, opts)
			},
		},
	}
}

// DeleteResourcesByLabel deletes workloads, services, config and storage matching selector.
// force deletes with a zero grace period. Returns the number of deleted objects.
func (c *Client) DeleteResourcesByLabel(ctx context.Context, namespace, selector string, force bool) (int, error) {
	opts := metav1.DeleteOptions{}
	if force {
		grace := int64(0)
		opts.GracePeriodSeconds = &grace
	}
	propagation := metav1.DeletePropagationBackground
	opts.PropagationPolicy = &propagation

	deleted := 0
	for _, k := range c.labeledKinds() {
		names, err := k.list(ctx, namespace, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return deleted, fmt.Errorf("failed to list %ss with %s: %w", k.kind, selector, err)
		}
		for _, name := range names {
			if err := k.delete(ctx, namespace, name, opts); err != nil && !errors.IsNotFound(err) {
				return deleted, fmt.Errorf("failed to delete %s/%s: %w", k.kind, name, err)
			}
			deleted++
		}
	}

	return deleted, nil
}

// DeleteHelmSecrets deletes the release metadata secrets helm stores in the namespace
func (c *Client) DeleteHelmSecrets(ctx context.Context, namespace, release string) (int, error) {
	selector := fmt.Sprintf("owner=helm,name=%s", release)

	secrets, err := c.clientset.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return 0, fmt.Errorf("failed to list helm secrets: %w", err)
	}

	deleted := 0
	for _, s := range secrets.Items {
		err := c.clientset.CoreV1().Secrets(namespace).Delete(ctx, s.Name, metav1.DeleteOptions{})
		if err != nil && !errors.IsNotFound(err) {
			return deleted, fmt.Errorf("failed to delete helm secret %s: %w", s.Name, err)
		}
		deleted++
	}

	return deleted, nil
}

// ApplyClusterResource creates or updates a cluster-scoped custom resource
func (c *Client) ApplyClusterResource(ctx context.Context, gvr schema.GroupVersionResource, obj *unstructured.Unstructured) error {
	if c.dynamic == nil {
		return fmt.Errorf("dynamic client not configured")
	}

	res := c.dynamic.Resource(gvr)
	existing, err := res.Get(ctx, obj.GetName(), metav1.GetOptions{})
	if err != nil {
		if !errors.IsNotFound(err) {
			return fmt.Errorf("failed to get %s %s: %w", gvr.Resource, obj.GetName(), err)
		}
		if _, err := res.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create %s %s: %w", gvr.Resource, obj.GetName(), err)
		}
		return nil
	}

	obj.SetResourceVersion(existing.GetResourceVersion())
	if _, err := res.Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update %s %s: %w", gvr.Resource, obj.GetName(), err)
	}

	return nil
}
