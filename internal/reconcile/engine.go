// Package reconcile drives one cluster type toward its desired state. The Engine
// serializes work per cluster identity with a lock, observes the desired ConfigMap and
// the live resources, and decides between create, update and delete.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
	"github.com/dc-tec/kafka-cluster-operator/internal/logging"
	"github.com/dc-tec/kafka-cluster-operator/internal/operationlock"
)

// DefaultSweepConcurrency bounds the clusters reconciled at once by ReconcileAll.
const DefaultSweepConcurrency = 4

// ClusterOperations materializes one cluster type.
type ClusterOperations interface {
	// ClusterType is the value of the type label owned by these operations.
	ClusterType() string
	// Description is a human readable cluster type name used in logs.
	Description() string
	// Create creates every resource of the cluster described by desired.
	Create(ctx context.Context, desired *corev1.ConfigMap) error
	// Update converges the live resources of the cluster to desired. A cluster without
	// differences is left untouched.
	Update(ctx context.Context, desired *corev1.ConfigMap) error
	// Delete removes one top-level resource returned by Resources together with the
	// resources that belong to it.
	Delete(ctx context.Context, resource client.Object) error
	// Resources lists the top-level live resources matching labels.
	Resources(ctx context.Context, namespace string, labels map[string]string) ([]client.Object, error)
}

// DesiredStore reads desired-state ConfigMaps. Get returns nil when the ConfigMap does
// not exist.
type DesiredStore interface {
	Get(ctx context.Context, namespace, name string) (client.Object, error)
	List(ctx context.Context, namespace string, labels map[string]string) ([]client.Object, error)
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	LockTimeout      time.Duration
	SweepConcurrency int
}

// Engine reconciles the clusters of one type.
type Engine struct {
	desired DesiredStore
	ops     ClusterOperations
	locker  operationlock.Locker
	opts    Options
}

// NewEngine constructs an Engine.
func NewEngine(desired DesiredStore, ops ClusterOperations, locker operationlock.Locker, opts Options) *Engine {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = constants.LockTimeout
	}
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = DefaultSweepConcurrency
	}
	return &Engine{desired: desired, ops: ops, locker: locker, opts: opts}
}

// ClusterType returns the cluster type reconciled by the engine.
func (e *Engine) ClusterType() string {
	return e.ops.ClusterType()
}

// Reconcile converges one cluster. The work is serialized with every other
// reconciliation of the same cluster and is not cancelled with ctx; only the lock wait
// and the readiness waits bound it.
func (e *Engine) Reconcile(ctx context.Context, namespace, name string) (Result, error) {
	id := ClusterIdentity{Namespace: namespace, Name: name, ClusterType: e.ops.ClusterType()}
	logger := log.FromContext(ctx).WithValues(
		"cluster_type", id.ClusterType,
		"cluster_namespace", namespace,
		"cluster_name", name,
	)
	ctx = log.IntoContext(context.WithoutCancel(ctx), logger)

	start := time.Now()
	result := Result{Operation: OperationNone}
	err := operationlock.WithLock(ctx, e.locker, id.LockKey(), e.opts.LockTimeout, func(ctx context.Context) error {
		desired, observed, err := e.observe(ctx, id)
		if err != nil {
			return fmt.Errorf("observe %s cluster: %w", e.ops.Description(), err)
		}

		result.Operation = decide(desired != nil, len(observed) > 0)
		switch result.Operation {
		case OperationCreate:
			logger.Info("Creating cluster", "description", e.ops.Description())
			if err := e.ops.Create(ctx, desired); err != nil {
				return err
			}
			logging.LogAuditEvent(logger, logging.EventClusterCreate, logging.ClusterFields(id.ClusterType, namespace, name, nil))
		case OperationUpdate:
			logger.V(1).Info("Checking cluster for updates", "description", e.ops.Description())
			return e.ops.Update(ctx, desired)
		case OperationDelete:
			logger.Info("Deleting cluster", "description", e.ops.Description(), "resources", len(observed))
			e.deleteAll(ctx, logger, id, observed)
			logging.LogAuditEvent(logger, logging.EventClusterDelete, logging.ClusterFields(id.ClusterType, namespace, name, nil))
		default:
			logger.V(1).Info("Nothing to reconcile")
		}
		return nil
	})
	recordOperation(id.ClusterType, result.Operation, err, time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, operatorerrors.ErrLockTimeout) {
			result.RequeueAfter = constants.RequeueShort
			return result, err
		}
		logger.Error(err, "Cluster reconciliation failed", "operation", result.Operation)
		return result, err
	}
	return result, nil
}

// observe fetches the desired ConfigMap and the observed resources concurrently.
// A ConfigMap that is not labeled as a cluster of this type counts as absent.
func (e *Engine) observe(ctx context.Context, id ClusterIdentity) (*corev1.ConfigMap, []client.Object, error) {
	var (
		desired  *corev1.ConfigMap
		observed []client.Object
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverInto(&err, "reading desired state")
		obj, err := e.desired.Get(gctx, id.Namespace, id.Name)
		if err != nil || obj == nil {
			return err
		}
		cm, ok := obj.(*corev1.ConfigMap)
		if !ok {
			return fmt.Errorf("desired state %s/%s is a %T, not a ConfigMap", id.Namespace, id.Name, obj)
		}
		if isDesiredState(cm, id.ClusterType) {
			desired = cm
		}
		return nil
	})
	g.Go(func() (err error) {
		defer recoverInto(&err, "listing cluster resources")
		observed, err = e.ops.Resources(gctx, id.Namespace, map[string]string{
			constants.LabelCluster: id.Name,
			constants.LabelType:    id.ClusterType,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return desired, observed, nil
}

func isDesiredState(cm *corev1.ConfigMap, clusterType string) bool {
	return cm.Labels[constants.LabelKind] == constants.LabelValueKindCluster &&
		cm.Labels[constants.LabelType] == clusterType
}

// deleteAll deletes every observed resource in parallel and returns once all of them
// have been attempted. Individual failures are logged and counted, never returned; the
// next sweep finds whatever is left over.
func (e *Engine) deleteAll(ctx context.Context, logger logr.Logger, id ClusterIdentity, observed []client.Object) {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, resource := range observed {
		g.Go(func() error {
			err := e.deleteOne(ctx, resource)
			if err != nil {
				logger.Error(err, "Failed to delete resource", "resource", resource.GetName())
				deleteFailuresTotal.WithLabelValues(id.ClusterType).Inc()
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			logging.LogAuditEvent(logger, logging.EventResourceDelete,
				logging.ClusterFields(id.ClusterType, id.Namespace, id.Name, map[string]string{"resource": resource.GetName()}))
			return nil
		})
	}
	_ = g.Wait()

	if agg := utilerrors.NewAggregate(errs); agg != nil {
		logger.Info("Cluster deletion finished with failures", "failed", len(errs), "total", len(observed), "errors", agg.Error())
	}
}

func (e *Engine) deleteOne(ctx context.Context, resource client.Object) (err error) {
	defer recoverInto(&err, "deleting "+resource.GetName())
	return e.ops.Delete(ctx, resource)
}

// recoverInto turns a panic in the calling goroutine into *err. errgroup does not
// carry panics to Wait, so every goroutine the engine starts defers it.
func recoverInto(err *error, what string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic %s: %v", what, r)
	}
}

// ReconcileAll reconciles every cluster of the type in namespace: those with a desired
// ConfigMap and those with live resources only. labels narrows both lists. Each cluster
// is reconciled once; failures of one cluster do not stop the others.
func (e *Engine) ReconcileAll(ctx context.Context, namespace string, labels map[string]string) (map[string]Result, error) {
	logger := log.FromContext(ctx).WithValues("cluster_type", e.ops.ClusterType(), "cluster_namespace", namespace)

	selector := maps.Clone(labels)
	if selector == nil {
		selector = map[string]string{}
	}
	selector[constants.LabelType] = e.ops.ClusterType()
	desiredSelector := maps.Clone(selector)
	desiredSelector[constants.LabelKind] = constants.LabelValueKindCluster

	var desired, observed []client.Object
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverInto(&err, "listing desired state")
		desired, err = e.desired.List(gctx, namespace, desiredSelector)
		return err
	})
	g.Go(func() (err error) {
		defer recoverInto(&err, "listing cluster resources")
		observed, err = e.ops.Resources(gctx, namespace, selector)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list %s clusters: %w", e.ops.Description(), err)
	}

	names := clusterNames(desired, observed)
	logger.V(1).Info("Reconciling all clusters", "clusters", names)

	var (
		sweep   errgroup.Group
		mu      sync.Mutex
		results = make(map[string]Result, len(names))
		errs    []error
	)
	sweep.SetLimit(e.opts.SweepConcurrency)
	for _, name := range names {
		sweep.Go(func() error {
			result, err := e.Reconcile(ctx, namespace, name)
			mu.Lock()
			defer mu.Unlock()
			results[name] = result
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			return nil
		})
	}
	_ = sweep.Wait()

	return results, utilerrors.NewAggregate(errs)
}

// clusterNames unions the names of desired ConfigMaps with the cluster label of
// observed resources.
func clusterNames(desired, observed []client.Object) []string {
	set := make(map[string]struct{}, len(desired)+len(observed))
	for _, cm := range desired {
		set[cm.GetName()] = struct{}{}
	}
	for _, resource := range observed {
		if name := resource.GetLabels()[constants.LabelCluster]; name != "" {
			set[name] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}
