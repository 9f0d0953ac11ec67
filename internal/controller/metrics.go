package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	reconcileDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kafka_operator",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation loops in seconds",
			// Rolling updates and readiness waits push the tail well past a minute.
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900},
		},
		[]string{"controller"},
	)

	reconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafka_operator",
			Name:      "reconcile_errors_total",
			Help:      "Total number of reconciliation errors",
		},
		[]string{"controller", "reason"},
	)

	sweepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafka_operator",
			Name:      "sweep_total",
			Help:      "Total number of periodic full reconciliations by cluster type and outcome",
		},
		[]string{"cluster_type", "outcome"},
	)

	sweepClustersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kafka_operator",
			Name:      "sweep_clusters",
			Help:      "Number of clusters visited by the last periodic full reconciliation",
		},
		[]string{"cluster_type"},
	)

	sweepLastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kafka_operator",
			Name:      "sweep_last_run_timestamp",
			Help:      "Unix timestamp of the last periodic full reconciliation",
		},
		[]string{"cluster_type"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		reconcileDurationHistogram,
		reconcileErrorsTotal,
		sweepTotal,
		sweepClustersGauge,
		sweepLastRunTimestamp,
	)
}

// Error reasons recorded by IncrementError.
const (
	ReasonLockTimeout   = "LockTimeout"
	ReasonPermanent     = "PermanentConfig"
	ReasonTransientAPI  = "TransientKubernetesAPI"
	ReasonReconcileFail = "Error"
)

// ReconcileMetrics provides helpers to record reconcile-level metrics for a
// specific controller.
type ReconcileMetrics struct {
	controller string
}

// NewReconcileMetrics creates a new ReconcileMetrics instance.
func NewReconcileMetrics(controller string) *ReconcileMetrics {
	return &ReconcileMetrics{controller: controller}
}

// ObserveDuration records the duration of a reconcile loop in seconds.
func (m *ReconcileMetrics) ObserveDuration(durationSeconds float64) {
	reconcileDurationHistogram.
		WithLabelValues(m.controller).
		Observe(durationSeconds)
}

// IncrementError increments the reconcile error counter with the given reason.
// Reason values should be low-cardinality strings (for example, ReasonLockTimeout).
func (m *ReconcileMetrics) IncrementError(reason string) {
	reconcileErrorsTotal.
		WithLabelValues(m.controller, reason).
		Inc()
}

// SweepMetrics records the outcome of periodic full reconciliations of one cluster type.
type SweepMetrics struct {
	clusterType string
}

// NewSweepMetrics creates a new SweepMetrics instance.
func NewSweepMetrics(clusterType string) *SweepMetrics {
	return &SweepMetrics{clusterType: clusterType}
}

// RecordSweep records one sweep that visited clusters and finished at timestampSeconds.
func (m *SweepMetrics) RecordSweep(clusters int, failed bool, timestampSeconds float64) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	sweepTotal.WithLabelValues(m.clusterType, outcome).Inc()
	sweepClustersGauge.WithLabelValues(m.clusterType).Set(float64(clusters))
	sweepLastRunTimestamp.WithLabelValues(m.clusterType).Set(timestampSeconds)
}
