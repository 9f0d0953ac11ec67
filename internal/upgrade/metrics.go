// Package upgrade holds the timing defaults and Prometheus metrics of rolling updates.
// The orchestrator itself lives in the rolling subpackage.
package upgrade

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Status represents the status of a rolling update for the status gauge.
type Status int

const (
	// StatusNone indicates no rolling update has run.
	StatusNone Status = 0
	// StatusRunning indicates a rolling update is in progress.
	StatusRunning Status = 1
	// StatusSuccess indicates the last rolling update succeeded.
	StatusSuccess Status = 2
	// StatusFailed indicates the last rolling update failed.
	StatusFailed Status = 3
)

var (
	// rollingStatusGauge tracks the current rolling update status per workload.
	// Values: 0=none, 1=running, 2=success, 3=failed
	rollingStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kafka_operator",
			Subsystem: "rolling_update",
			Name:      "status",
			Help:      "Current rolling update status per workload (0=none, 1=running, 2=success, 3=failed)",
		},
		[]string{"namespace", "name"},
	)

	// rollingDurationHistogram tracks the total duration of rolling updates.
	rollingDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kafka_operator",
			Subsystem: "rolling_update",
			Name:      "duration_seconds",
			Help:      "Total duration of rolling updates in seconds",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1800, 3600},
		},
		[]string{"namespace", "name"},
	)

	// rollingPodDurationHistogram tracks the duration per pod during rolling updates.
	rollingPodDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kafka_operator",
			Subsystem: "rolling_update",
			Name:      "pod_duration_seconds",
			Help:      "Duration to restart each pod in seconds",
			Buckets:   []float64{5, 10, 30, 60, 120, 180, 300},
		},
		[]string{"namespace", "name", "pod"},
	)

	// rollingInProgressGauge indicates if a rolling update is currently in progress.
	rollingInProgressGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kafka_operator",
			Subsystem: "rolling_update",
			Name:      "in_progress",
			Help:      "Whether a rolling update is currently in progress (1) or not (0)",
		},
		[]string{"namespace", "name"},
	)

	// rollingPodsCompletedGauge tracks how many pods have been restarted.
	rollingPodsCompletedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kafka_operator",
			Subsystem: "rolling_update",
			Name:      "pods_completed",
			Help:      "Number of pods that have been restarted in the current rolling update",
		},
		[]string{"namespace", "name"},
	)

	// rollingTotalPodsGauge tracks the total number of pods to be restarted.
	rollingTotalPodsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kafka_operator",
			Subsystem: "rolling_update",
			Name:      "pods_total",
			Help:      "Total number of pods to be restarted",
		},
		[]string{"namespace", "name"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		rollingStatusGauge,
		rollingDurationHistogram,
		rollingPodDurationHistogram,
		rollingInProgressGauge,
		rollingPodsCompletedGauge,
		rollingTotalPodsGauge,
	)
}

// Metrics provides methods to record rolling update metrics of one workload.
type Metrics struct {
	namespace string
	name      string
}

// NewMetrics creates a new Metrics instance for the given workload.
func NewMetrics(namespace, name string) *Metrics {
	return &Metrics{
		namespace: namespace,
		name:      name,
	}
}

// SetStatus sets the current rolling update status.
func (m *Metrics) SetStatus(status Status) {
	rollingStatusGauge.WithLabelValues(m.namespace, m.name).Set(float64(status))
}

// RecordDuration records the total duration of a rolling update.
func (m *Metrics) RecordDuration(durationSeconds float64) {
	rollingDurationHistogram.WithLabelValues(m.namespace, m.name).Observe(durationSeconds)
}

// RecordPodDuration records the duration to restart a specific pod.
func (m *Metrics) RecordPodDuration(durationSeconds float64, podName string) {
	rollingPodDurationHistogram.WithLabelValues(m.namespace, m.name, podName).Observe(durationSeconds)
}

// SetInProgress sets whether a rolling update is in progress.
func (m *Metrics) SetInProgress(inProgress bool) {
	value := 0.0
	if inProgress {
		value = 1.0
	}
	rollingInProgressGauge.WithLabelValues(m.namespace, m.name).Set(value)
}

// SetPodsCompleted sets the number of pods that have been restarted.
func (m *Metrics) SetPodsCompleted(count int) {
	rollingPodsCompletedGauge.WithLabelValues(m.namespace, m.name).Set(float64(count))
}

// SetTotalPods sets the total number of pods to be restarted.
func (m *Metrics) SetTotalPods(count int) {
	rollingTotalPodsGauge.WithLabelValues(m.namespace, m.name).Set(float64(count))
}

// Clear resets all metrics for this workload (used on deletion).
func (m *Metrics) Clear() {
	rollingStatusGauge.DeleteLabelValues(m.namespace, m.name)
	rollingInProgressGauge.DeleteLabelValues(m.namespace, m.name)
	rollingPodsCompletedGauge.DeleteLabelValues(m.namespace, m.name)
	rollingTotalPodsGauge.DeleteLabelValues(m.namespace, m.name)
}
