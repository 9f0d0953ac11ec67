package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafka_operator",
			Name:      "cluster_operations_total",
			Help:      "Total number of cluster operations by type and outcome",
		},
		[]string{"cluster_type", "operation", "outcome"},
	)

	operationDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kafka_operator",
			Name:      "cluster_operation_duration_seconds",
			Help:      "Duration of cluster operations in seconds, lock wait included",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
		[]string{"cluster_type", "operation"},
	)

	deleteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafka_operator",
			Name:      "cluster_delete_failures_total",
			Help:      "Total number of observed resources whose deletion failed during a cluster delete",
		},
		[]string{"cluster_type"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		operationsTotal,
		operationDurationHistogram,
		deleteFailuresTotal,
	)
}

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

func recordOperation(clusterType string, op Operation, err error, durationSeconds float64) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	operationsTotal.WithLabelValues(clusterType, string(op), outcome).Inc()
	operationDurationHistogram.WithLabelValues(clusterType, string(op)).Observe(durationSeconds)
}
