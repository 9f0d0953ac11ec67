package kube

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

// ScalableOperations adds replica scaling to a workload kind.
type ScalableOperations struct {
	*ResourceOperations
}

// NewScalableOperations returns the operations for a workload kind with a spec.replicas field.
func NewScalableOperations(c client.Client, pool *Pool, kind Kind) *ScalableOperations {
	return &ScalableOperations{ResourceOperations: NewResourceOperations(c, pool, kind)}
}

// Replicas returns the desired replica count of the named workload, or -1 if it does not exist.
func (o *ScalableOperations) Replicas(ctx context.Context, namespace, name string) (int32, error) {
	obj, err := o.Get(ctx, namespace, name)
	if err != nil {
		return 0, err
	}
	if obj == nil {
		return -1, nil
	}
	return replicasOf(obj)
}

func replicasOf(obj client.Object) (int32, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return 0, err
	}
	replicas, found, err := unstructured.NestedInt64(content, "spec", "replicas")
	if err != nil {
		return 0, err
	}
	if !found {
		return 1, nil
	}
	return int32(replicas), nil
}

// ScaleUp raises the replica count to replicas. It never shrinks a workload.
func (o *ScalableOperations) ScaleUp(ctx context.Context, namespace, name string, replicas int32) error {
	current, err := o.Replicas(ctx, namespace, name)
	if err != nil {
		return err
	}
	if current < 0 || current >= replicas {
		return nil
	}
	o.logger(ctx, namespace, name).Info("Scaling up", "from", current, "to", replicas)
	return o.setReplicas(ctx, namespace, name, replicas)
}

// ScaleDown lowers the replica count to replicas. It never grows a workload.
func (o *ScalableOperations) ScaleDown(ctx context.Context, namespace, name string, replicas int32) error {
	current, err := o.Replicas(ctx, namespace, name)
	if err != nil {
		return err
	}
	if current < 0 || current <= replicas {
		return nil
	}
	o.logger(ctx, namespace, name).Info("Scaling down", "from", current, "to", replicas)
	return o.setReplicas(ctx, namespace, name, replicas)
}

func (o *ScalableOperations) setReplicas(ctx context.Context, namespace, name string, replicas int32) error {
	body := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		obj := o.kind.New()
		obj.SetNamespace(namespace)
		obj.SetName(name)
		return o.client.Patch(ctx, obj, client.RawPatch(types.MergePatchType, body))
	})
	if err != nil {
		return operatorerrors.WrapAPI(err, "scale", o.kind.Name, namespace, name)
	}
	return nil
}
