// Package rolling restarts the members of a StatefulSet one at a time. The
// StatefulSets it rolls use the OnDelete update strategy, so deleting a pod is what
// makes it pick up the new template.
package rolling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/log"

	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
	"github.com/dc-tec/kafka-cluster-operator/internal/logging"
	"github.com/dc-tec/kafka-cluster-operator/internal/upgrade"
)

// Options tunes the waits of a rolling update. Zero values select the defaults.
type Options struct {
	DeleteTimeout         time.Duration
	PodReadyTimeout       time.Duration
	PodReadyCheckInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.DeleteTimeout <= 0 {
		o.DeleteTimeout = upgrade.DefaultDeleteTimeout
	}
	if o.PodReadyTimeout <= 0 {
		o.PodReadyTimeout = upgrade.DefaultPodReadyTimeout
	}
	if o.PodReadyCheckInterval <= 0 {
		o.PodReadyCheckInterval = upgrade.DefaultPodReadyCheckInterval
	}
	return o
}

// Orchestrator performs rolling updates of StatefulSets.
type Orchestrator struct {
	statefulSets *kube.ScalableOperations
	pods         *kube.PodOperations
	opts         Options
}

// NewOrchestrator constructs an Orchestrator on top of the StatefulSet and Pod operations.
func NewOrchestrator(statefulSets *kube.ScalableOperations, pods *kube.PodOperations, opts Options) *Orchestrator {
	return &Orchestrator{
		statefulSets: statefulSets,
		pods:         pods,
		opts:         opts.withDefaults(),
	}
}

// RollingUpdate restarts every member of the StatefulSet in ordinal order. A member is
// only deleted once the replacement of the previous one is ready. On failure the
// members already restarted are left as they are and the error names the member that
// failed.
func (o *Orchestrator) RollingUpdate(ctx context.Context, namespace, statefulSetName string) error {
	logger := log.FromContext(ctx).WithValues("namespace", namespace, "statefulset", statefulSetName)

	replicas, err := o.statefulSets.Replicas(ctx, namespace, statefulSetName)
	if err != nil {
		return err
	}
	if replicas < 0 {
		return fmt.Errorf("%w: StatefulSet %s/%s not found", operatorerrors.ErrAPI, namespace, statefulSetName)
	}
	plan := Plan(statefulSetName, replicas)

	metrics := upgrade.NewMetrics(namespace, statefulSetName)
	metrics.SetStatus(upgrade.StatusRunning)
	metrics.SetInProgress(true)
	metrics.SetTotalPods(len(plan))
	metrics.SetPodsCompleted(0)
	defer metrics.SetInProgress(false)

	start := time.Now()
	logger.Info("Starting rolling update", "pods", len(plan))

	for i, podName := range plan {
		podStart := time.Now()
		if err := o.restartPod(ctx, logger, namespace, podName); err != nil {
			metrics.SetStatus(upgrade.StatusFailed)
			logger.Error(err, "Rolling update stopped", "reason", errorReason(err), "pod", podName, "completed", i, "total", len(plan))
			return fmt.Errorf("rolling update of %s/%s stopped at pod %s after %d of %d pods: %w",
				namespace, statefulSetName, podName, i, len(plan), err)
		}

		podDuration := time.Since(podStart).Seconds()
		metrics.RecordPodDuration(podDuration, podName)
		metrics.SetPodsCompleted(i + 1)
		logging.LogAuditEvent(logger, logging.EventRollingUpdatePod, map[string]string{
			"namespace":   namespace,
			"statefulset": statefulSetName,
			"pod":         podName,
		})
		logger.Info("Pod rolled", "pod", podName, "duration", podDuration)
	}

	metrics.SetStatus(upgrade.StatusSuccess)
	metrics.RecordDuration(time.Since(start).Seconds())
	logger.Info("Rolling update completed", "reason", upgrade.ReasonRollingUpdateComplete)
	return nil
}

// restartPod deletes one member and waits until its replacement is ready.
func (o *Orchestrator) restartPod(ctx context.Context, logger logr.Logger, namespace, podName string) error {
	logger = logger.WithValues("pod", podName, "ordinal", extractOrdinal(podName))

	current, err := o.pods.Get(ctx, namespace, podName)
	if err != nil {
		return err
	}
	if current == nil {
		// Nothing to delete; the StatefulSet controller is already recreating it.
		logger.Info("Pod is missing, waiting for its replacement")
		return o.awaitReplacement(ctx, logger, namespace, podName, "")
	}
	oldUID := current.GetUID()

	// The watch is armed before the delete so the Deleted event cannot be missed.
	w, err := o.pods.Watch(ctx, namespace, podName)
	if err != nil {
		return err
	}

	logger.Info("Deleting pod")
	if err := o.pods.Delete(ctx, namespace, podName); err != nil {
		w.Stop()
		return err
	}

	err = o.awaitDeleted(ctx, logger, w, namespace, podName, oldUID)
	w.Stop()
	if err != nil {
		return err
	}

	return o.awaitReplacement(ctx, logger, namespace, podName, oldUID)
}

// awaitDeleted blocks until the watch reports the deletion of the pod with oldUID.
func (o *Orchestrator) awaitDeleted(ctx context.Context, logger logr.Logger, w watch.Interface, namespace, podName string, oldUID types.UID) error {
	timer := time.NewTimer(o.opts.DeleteTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			if o.confirmGone(ctx, namespace, podName, oldUID) {
				return nil
			}
			return fmt.Errorf("%w: pod %s/%s not deleted within %s",
				operatorerrors.ErrReadinessTimeout, namespace, podName, o.opts.DeleteTimeout)

		case event, ok := <-w.ResultChan():
			if !ok {
				if o.confirmGone(ctx, namespace, podName, oldUID) {
					return nil
				}
				return fmt.Errorf("%w: watch on pod %s/%s closed before its deletion", operatorerrors.ErrWatchClosed, namespace, podName)
			}
			switch event.Type {
			case watch.Error:
				return fmt.Errorf("%w: pod %s/%s: %w", operatorerrors.ErrWatchClosed, namespace, podName, apierrors.FromObject(event.Object))
			case watch.Deleted:
				if isPod(event.Object, podName, oldUID) {
					logger.V(1).Info("Pod deletion observed")
					return nil
				}
			}
		}
	}
}

// confirmGone reads the pod back to tell a lost watch from a live pod.
func (o *Orchestrator) confirmGone(ctx context.Context, namespace, podName string, oldUID types.UID) bool {
	obj, err := o.pods.Get(ctx, namespace, podName)
	if err != nil {
		return false
	}
	return obj == nil || obj.GetUID() != oldUID
}

// awaitReplacement polls until a pod other than oldUID is Ready under podName.
func (o *Orchestrator) awaitReplacement(ctx context.Context, logger logr.Logger, namespace, podName string, oldUID types.UID) error {
	logger.Info("Waiting for pod to get ready", "timeout", o.opts.PodReadyTimeout.String())

	err := wait.PollUntilContextTimeout(ctx, o.opts.PodReadyCheckInterval, o.opts.PodReadyTimeout, true, func(ctx context.Context) (bool, error) {
		obj, err := o.pods.Get(ctx, namespace, podName)
		if err != nil {
			if operatorerrors.IsTransientKubernetesAPI(err) {
				logger.V(1).Info("Transient error reading pod", "error", err.Error())
				return false, nil
			}
			return false, err
		}
		if obj == nil || (oldUID != "" && obj.GetUID() == oldUID) {
			return false, nil
		}
		return kube.PodReady(obj), nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wait.Interrupted(err) {
		return fmt.Errorf("%w: pod %s/%s not ready within %s", operatorerrors.ErrReadinessTimeout, namespace, podName, o.opts.PodReadyTimeout)
	}
	return err
}

// isPod reports whether obj is the pod named podName with oldUID.
func isPod(obj any, podName string, oldUID types.UID) bool {
	accessor, ok := obj.(metav1.Object)
	if !ok {
		return false
	}
	if accessor.GetName() != podName {
		return false
	}
	return accessor.GetUID() == "" || accessor.GetUID() == oldUID
}

// errorReason returns the reason of a rolling update error for logs and events.
func errorReason(err error) string {
	switch {
	case errors.Is(err, operatorerrors.ErrWatchClosed):
		return upgrade.ReasonWatchClosed
	case errors.Is(err, operatorerrors.ErrReadinessTimeout):
		return upgrade.ReasonPodNotReady
	default:
		return upgrade.ReasonRollingUpdateFailed
	}
}
