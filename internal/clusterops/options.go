// Package clusterops materializes the supported cluster types on Kubernetes. Each type
// implements the create, update and delete steps the reconciliation engine decides on,
// built from the manifests and diffs of the cluster package.
package clusterops

import (
	"context"
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
	"github.com/dc-tec/kafka-cluster-operator/internal/reconcile"
)

// Options tunes the readiness waits after a create. Zero values select the defaults.
type Options struct {
	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadyPollInterval <= 0 {
		o.ReadyPollInterval = constants.ReadyPollInterval
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = constants.ReadyTimeout
	}
	return o
}

var (
	_ reconcile.ClusterOperations = (*KafkaOperations)(nil)
	_ reconcile.ClusterOperations = (*ConnectOperations)(nil)
	_ reconcile.ClusterOperations = (*ConnectS2IOperations)(nil)
)

// createAll creates objs in order, stopping at the first failure.
func createAll(ctx context.Context, ops kube.Operations, objs ...client.Object) error {
	for _, obj := range objs {
		if err := ops.Create(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

// deleteTask is one named delete of a teardown.
type deleteTask struct {
	ops  kube.Operations
	name string
}

// deleteAll attempts every delete and reports the failures together, so one stuck
// resource does not leave the others behind.
func deleteAll(ctx context.Context, namespace string, tasks ...deleteTask) error {
	var errs []error
	for _, task := range tasks {
		if err := task.ops.Delete(ctx, namespace, task.name); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func unexpectedResource(clusterType string, resource client.Object) error {
	return fmt.Errorf("%w: %s clusters are not made of %T", operatorerrors.ErrUnsupported, clusterType, resource)
}
