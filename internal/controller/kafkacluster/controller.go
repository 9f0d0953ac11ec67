/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package kafkacluster hosts the controllers that drive the reconcile engines: one
// event-driven controller per cluster type and a periodic sweep across all of them.
package kafkacluster

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	controllermetrics "github.com/dc-tec/kafka-cluster-operator/internal/controller"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
	"github.com/dc-tec/kafka-cluster-operator/internal/reconcile"
)

// Engine reconciles single clusters of one type.
type Engine interface {
	ClusterType() string
	Reconcile(ctx context.Context, namespace, name string) (reconcile.Result, error)
}

// ClusterReconciler reconciles the clusters of one type. Requests are named after the
// cluster, which is also the name of its desired-state ConfigMap.
type ClusterReconciler struct {
	Engine Engine
	// Selector restricts the desired-state ConfigMaps that trigger reconciliation.
	Selector map[string]string
}

// ControllerName is the name the controller is registered under.
func (r *ClusterReconciler) ControllerName() string {
	return constants.ControllerNameCluster + "-" + r.Engine.ClusterType()
}

// Reconcile runs one reconciliation of the requested cluster.
//
// A lock timeout and a transient API failure requeue after a short delay. An invalid
// desired state is not retried; the next change to the ConfigMap triggers a new attempt.
// Every other failure is retried with the workqueue backoff.
func (r *ClusterReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	reconcileMetrics := controllermetrics.NewReconcileMetrics(r.ControllerName())
	startTime := time.Now()
	defer func() {
		reconcileMetrics.ObserveDuration(time.Since(startTime).Seconds())
	}()

	logger := log.FromContext(ctx).WithValues(
		"controller", r.ControllerName(),
		"reconcile_id", uuid.NewString(),
	)
	ctx = log.IntoContext(ctx, logger)

	result, err := r.Engine.Reconcile(ctx, req.Namespace, req.Name)
	if err == nil {
		if result.Operation != reconcile.OperationNone {
			logger.V(1).Info("Reconciled cluster", "operation", result.Operation)
		}
		return ctrl.Result{RequeueAfter: result.RequeueAfter}, nil
	}

	reconcileMetrics.IncrementError(errorReason(err))
	requeue, after := operatorerrors.ShouldRequeue(err)
	if result.RequeueAfter > 0 {
		after = result.RequeueAfter
	}
	switch {
	case !requeue:
		logger.Error(err, "Desired state cannot be applied; waiting for it to change")
		return ctrl.Result{}, nil
	case after > 0:
		logger.Info("Requeueing cluster", "after", after.String(), "reason", err.Error())
		return ctrl.Result{RequeueAfter: after}, nil
	default:
		return ctrl.Result{}, err
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, operatorerrors.ErrLockTimeout):
		return controllermetrics.ReasonLockTimeout
	case operatorerrors.IsPermanent(err):
		return controllermetrics.ReasonPermanent
	case operatorerrors.IsTransientKubernetesAPI(err):
		return controllermetrics.ReasonTransientAPI
	default:
		return controllermetrics.ReasonReconcileFail
	}
}
