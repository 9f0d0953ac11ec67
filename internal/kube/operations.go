// Package kube provides the uniform create/delete/patch/get/list/readiness contract
// used by the reconciliation engine for every Kubernetes resource kind it manages.
package kube

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

// Operations is the contract every managed resource kind satisfies.
type Operations interface {
	// Kind returns the human readable resource kind, e.g. "StatefulSet".
	Kind() string
	// Create creates obj unless a resource with the same name already exists.
	Create(ctx context.Context, obj client.Object) error
	// Delete removes the named resource; a missing resource is not an error.
	Delete(ctx context.Context, namespace, name string) error
	// Patch merges patch into the live resource. With cascading set to false the
	// live pod template is kept, so the workload controller does not replace members.
	Patch(ctx context.Context, namespace, name string, patch client.Object, cascading bool) error
	// Get returns the named resource, or nil when it does not exist.
	Get(ctx context.Context, namespace, name string) (client.Object, error)
	// List returns the resources in namespace matching labels.
	List(ctx context.Context, namespace string, labels map[string]string) ([]client.Object, error)
	// IsReady reports whether the named resource exists and is ready.
	IsReady(ctx context.Context, namespace, name string) (bool, error)
	// WaitReady polls IsReady every pollInterval until it succeeds or timeout elapses.
	WaitReady(ctx context.Context, namespace, name string, pollInterval, timeout time.Duration) error
}

// Kind describes one resource kind. ResourceOperations is specialized per kind by
// composing it with a Kind value; there is no per-kind subtype.
type Kind struct {
	// Name is used in logs and errors.
	Name string
	// New returns an empty object of the kind. Unstructured kinds must set the GVK.
	New func() client.Object
	// NewList returns an empty list of the kind. Unstructured kinds must set the GVK.
	NewList func() client.ObjectList
	// Ready reports readiness of a live object; nil means ready once it exists.
	Ready ReadyFunc
	// Preserve lists field paths that Patch always takes from the live object,
	// either because they are immutable or because another operation owns them.
	Preserve [][]string
	// ReadOnly rejects Create and Patch with ErrUnsupported.
	ReadOnly bool
}

// ResourceOperations implements Operations for one Kind on top of a controller-runtime client.
// Every API call goes through the shared Pool.
type ResourceOperations struct {
	client client.Client
	pool   *Pool
	kind   Kind
}

var _ Operations = (*ResourceOperations)(nil)

// NewResourceOperations returns the operations for kind.
func NewResourceOperations(c client.Client, pool *Pool, kind Kind) *ResourceOperations {
	return &ResourceOperations{
		client: c,
		pool:   pool,
		kind:   kind,
	}
}

// Kind returns the resource kind name.
func (o *ResourceOperations) Kind() string {
	return o.kind.Name
}

func (o *ResourceOperations) logger(ctx context.Context, namespace, name string) logr.Logger {
	return log.FromContext(ctx).WithValues("kind", o.kind.Name, "namespace", namespace, "name", name)
}

// Create creates obj if no resource of that name exists yet.
func (o *ResourceOperations) Create(ctx context.Context, obj client.Object) error {
	namespace, name := obj.GetNamespace(), obj.GetName()
	logger := o.logger(ctx, namespace, name)

	if o.kind.ReadOnly {
		return fmt.Errorf("%w: create %s %s/%s", operatorerrors.ErrUnsupported, o.kind.Name, namespace, name)
	}

	existing, err := o.Get(ctx, namespace, name)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Info("Resource already exists; skipping create")
		return nil
	}

	logger.Info("Creating resource")
	err = o.pool.Do(ctx, func(ctx context.Context) error {
		return o.client.Create(ctx, obj)
	})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			logger.Info("Resource was created concurrently; treating create as done")
			return nil
		}
		logger.Error(err, "Failed to create resource")
		return operatorerrors.WrapAPI(operatorerrors.WrapCRDMissing(err), "create", o.kind.Name, namespace, name)
	}
	logger.Info("Resource created")
	return nil
}

// Delete removes the named resource, cascading to its dependents.
func (o *ResourceOperations) Delete(ctx context.Context, namespace, name string) error {
	return o.DeleteWithPropagation(ctx, namespace, name, metav1.DeletePropagationBackground)
}

// DeleteWithPropagation removes the named resource with the given propagation policy.
func (o *ResourceOperations) DeleteWithPropagation(ctx context.Context, namespace, name string, propagation metav1.DeletionPropagation) error {
	logger := o.logger(ctx, namespace, name)

	existing, err := o.Get(ctx, namespace, name)
	if err != nil {
		return err
	}
	if existing == nil {
		logger.Info("Resource does not exist; nothing to delete")
		return nil
	}

	logger.Info("Deleting resource")
	err = o.pool.Do(ctx, func(ctx context.Context) error {
		return o.client.Delete(ctx, existing, client.PropagationPolicy(propagation))
	})
	if err != nil && !apierrors.IsNotFound(err) {
		logger.Error(err, "Failed to delete resource")
		return operatorerrors.WrapAPI(err, "delete", o.kind.Name, namespace, name)
	}
	logger.Info("Resource deleted")
	return nil
}

// Patch merges patch into the live resource.
//
// Labels, spec and top-level data fields are taken from patch, annotations are merged,
// and everything else (status, server-populated metadata, Kind.Preserve paths) is kept
// from the live object. The resulting change is sent as a JSON merge patch.
func (o *ResourceOperations) Patch(ctx context.Context, namespace, name string, patch client.Object, cascading bool) error {
	logger := o.logger(ctx, namespace, name)

	if o.kind.ReadOnly {
		return fmt.Errorf("%w: patch %s %s/%s", operatorerrors.ErrUnsupported, o.kind.Name, namespace, name)
	}

	logger.Info("Patching resource", "cascading", cascading)
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		current := o.kind.New()
		if err := o.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, current); err != nil {
			return err
		}

		target, err := o.mergeForPatch(current, patch, cascading)
		if err != nil {
			return err
		}
		return o.client.Patch(ctx, target, client.MergeFrom(current))
	})
	if err != nil {
		logger.Error(err, "Failed to patch resource")
		return operatorerrors.WrapAPI(err, "patch", o.kind.Name, namespace, name)
	}
	logger.Info("Resource patched")
	return nil
}

func (o *ResourceOperations) mergeForPatch(current, patch client.Object, cascading bool) (client.Object, error) {
	live, err := runtime.DefaultUnstructuredConverter.ToUnstructured(current)
	if err != nil {
		return nil, fmt.Errorf("failed to convert live %s: %w", o.kind.Name, err)
	}
	desired, err := runtime.DefaultUnstructuredConverter.ToUnstructured(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to convert patch for %s: %w", o.kind.Name, err)
	}

	merged := runtime.DeepCopyJSON(live)
	for key, value := range desired {
		switch key {
		case "apiVersion", "kind", "metadata", "status":
			continue
		}
		merged[key] = runtime.DeepCopyJSONValue(value)
	}

	if labels, found, _ := unstructured.NestedStringMap(desired, "metadata", "labels"); found {
		if err := unstructured.SetNestedStringMap(merged, labels, "metadata", "labels"); err != nil {
			return nil, err
		}
	}
	if annotations, found, _ := unstructured.NestedStringMap(desired, "metadata", "annotations"); found && len(annotations) > 0 {
		existing, _, _ := unstructured.NestedStringMap(live, "metadata", "annotations")
		if existing == nil {
			existing = map[string]string{}
		}
		for k, v := range annotations {
			existing[k] = v
		}
		if err := unstructured.SetNestedStringMap(merged, existing, "metadata", "annotations"); err != nil {
			return nil, err
		}
	}

	preserve := o.kind.Preserve
	if !cascading {
		preserve = append(append([][]string{}, preserve...), []string{"spec", "template"})
	}
	for _, path := range preserve {
		if err := preserveField(merged, live, path); err != nil {
			return nil, err
		}
	}

	target := o.kind.New()
	if err := fromUnstructured(merged, target); err != nil {
		return nil, fmt.Errorf("failed to build patched %s: %w", o.kind.Name, err)
	}
	return target, nil
}

func preserveField(merged, live map[string]interface{}, path []string) error {
	value, found, err := unstructured.NestedFieldCopy(live, path...)
	if err != nil {
		return err
	}
	if !found {
		unstructured.RemoveNestedField(merged, path...)
		return nil
	}
	return unstructured.SetNestedField(merged, value, path...)
}

func fromUnstructured(content map[string]interface{}, obj client.Object) error {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		gvk := u.GroupVersionKind()
		u.SetUnstructuredContent(content)
		if u.GroupVersionKind().Empty() {
			u.SetGroupVersionKind(gvk)
		}
		return nil
	}
	return runtime.DefaultUnstructuredConverter.FromUnstructured(content, obj)
}

// Get returns the named resource, or nil when it does not exist.
func (o *ResourceOperations) Get(ctx context.Context, namespace, name string) (client.Object, error) {
	obj := o.kind.New()
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		return o.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, obj)
	})
	if err != nil {
		if apierrors.IsNotFound(err) || meta.IsNoMatchError(err) {
			return nil, nil
		}
		return nil, operatorerrors.WrapAPI(err, "get", o.kind.Name, namespace, name)
	}
	return obj, nil
}

// List returns the resources in namespace matching labels.
func (o *ResourceOperations) List(ctx context.Context, namespace string, labels map[string]string) ([]client.Object, error) {
	list := o.kind.NewList()
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		return o.client.List(ctx, list, client.InNamespace(namespace), client.MatchingLabels(labels))
	})
	if err != nil {
		if apierrors.IsNotFound(err) || meta.IsNoMatchError(err) {
			return nil, nil
		}
		return nil, operatorerrors.WrapAPI(err, "list", o.kind.Name, namespace, "")
	}

	items := make([]client.Object, 0, meta.LenList(list))
	err = meta.EachListItem(list, func(item runtime.Object) error {
		obj, ok := item.(client.Object)
		if !ok {
			return fmt.Errorf("unexpected list item %T", item)
		}
		items = append(items, obj)
		return nil
	})
	if err != nil {
		return nil, operatorerrors.WrapAPI(err, "list", o.kind.Name, namespace, "")
	}
	return items, nil
}

// IsReady reports whether the named resource exists and is ready.
func (o *ResourceOperations) IsReady(ctx context.Context, namespace, name string) (bool, error) {
	obj, err := o.Get(ctx, namespace, name)
	if err != nil {
		return false, err
	}
	if obj == nil {
		return false, nil
	}
	if o.kind.Ready == nil {
		return true, nil
	}
	return o.kind.Ready(obj), nil
}

// WaitReady polls readiness on a timer. The caller's goroutine is parked between polls.
func (o *ResourceOperations) WaitReady(ctx context.Context, namespace, name string, pollInterval, timeout time.Duration) error {
	logger := o.logger(ctx, namespace, name)
	logger.Info("Waiting for resource to get ready", "timeout", timeout.String())

	err := wait.PollUntilContextTimeout(ctx, pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		ready, err := o.IsReady(ctx, namespace, name)
		if err != nil {
			return false, err
		}
		if !ready {
			logger.V(1).Info("Resource is not ready yet")
		}
		return ready, nil
	})
	if err == nil {
		logger.Info("Resource is ready")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wait.Interrupted(err) {
		logger.Error(err, "Exceeded timeout while waiting for resource to get ready")
		return fmt.Errorf("%w: %s %s/%s after %s", operatorerrors.ErrReadinessTimeout, o.kind.Name, namespace, name, timeout)
	}
	return err
}
