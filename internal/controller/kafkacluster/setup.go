package kafkacluster

import (
	"context"
	"time"

	"golang.org/x/time/rate"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	ctrlreconcile "sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	controllerutil "github.com/dc-tec/kafka-cluster-operator/internal/controller"
)

// SetupOptions configures the controller registered by SetupWithManager.
type SetupOptions struct {
	// Workload is the top-level resource kind of the cluster type. Its deletion
	// triggers reconciliation of the owning cluster.
	Workload client.Object
	// MaxConcurrentReconciles defaults to 1. Reconciliations of the same cluster are
	// serialized by the engine lock regardless.
	MaxConcurrentReconciles int
}

// NewRateLimiter returns the workqueue rate limiter shared by the cluster controllers:
// per-item exponential backoff capped at a minute, plus an overall token bucket.
func NewRateLimiter() workqueue.TypedRateLimiter[ctrl.Request] {
	return workqueue.NewTypedMaxOfRateLimiter(
		workqueue.NewTypedItemExponentialFailureRateLimiter[ctrl.Request](1*time.Second, 60*time.Second),
		&workqueue.TypedBucketRateLimiter[ctrl.Request]{Limiter: rate.NewLimiter(rate.Limit(10), 100)},
	)
}

// SetupWithManager registers the controller for the engine's cluster type. It watches
// desired-state ConfigMaps and the deletion of the cluster type's workloads.
func (r *ClusterReconciler) SetupWithManager(mgr ctrl.Manager, opts SetupOptions) error {
	if opts.MaxConcurrentReconciles <= 0 {
		opts.MaxConcurrentReconciles = 1
	}
	clusterType := r.Engine.ClusterType()

	b := ctrl.NewControllerManagedBy(mgr).
		For(&corev1.ConfigMap{}, builder.WithPredicates(controllerutil.DesiredStatePredicate(clusterType, r.Selector)))
	if opts.Workload != nil {
		b = b.Watches(opts.Workload,
			handler.EnqueueRequestsFromMapFunc(clusterRequests),
			builder.WithPredicates(controllerutil.ClusterResourceDeletedPredicate(clusterType)))
	}
	return b.
		WithOptions(controller.Options{
			MaxConcurrentReconciles: opts.MaxConcurrentReconciles,
			RateLimiter:             NewRateLimiter(),
		}).
		Named(r.ControllerName()).
		Complete(r)
}

// clusterRequests maps a cluster resource to the cluster named by its cluster label.
func clusterRequests(_ context.Context, obj client.Object) []ctrlreconcile.Request {
	name := obj.GetLabels()[constants.LabelCluster]
	if name == "" {
		return nil
	}
	return []ctrlreconcile.Request{{
		NamespacedName: types.NamespacedName{Namespace: obj.GetNamespace(), Name: name},
	}}
}
