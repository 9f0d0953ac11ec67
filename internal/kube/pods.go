package kube

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

// PodOperations adds a per-pod watch to the Pod operations.
type PodOperations struct {
	*ResourceOperations
	watcher client.WithWatch
}

// NewPodOperations returns the Pod operations. The client must support watches.
func NewPodOperations(c client.WithWatch, pool *Pool) *PodOperations {
	return &PodOperations{
		ResourceOperations: NewResourceOperations(c, pool, PodKind()),
		watcher:            c,
	}
}

// Watch opens a watch on the named pod. The caller must Stop the returned watch.
// Events for other pods can still be delivered by some clients; callers filter by name.
func (o *PodOperations) Watch(ctx context.Context, namespace, name string) (watch.Interface, error) {
	var w watch.Interface
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		w, err = o.watcher.Watch(ctx, &corev1.PodList{},
			client.InNamespace(namespace),
			client.MatchingFields{"metadata.name": name},
		)
		return err
	})
	if err != nil {
		return nil, operatorerrors.WrapAPI(err, "watch", "Pod", namespace, name)
	}
	return w, nil
}
