package cluster

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

// ParseMetricsConfig parses the Prometheus JMX exporter configuration of a component.
// An empty document disables metrics and yields nil.
func ParseMetricsConfig(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var config map[string]any
	if err := yaml.Unmarshal([]byte(raw), &config); err != nil {
		return nil, fmt.Errorf("invalid metrics configuration: %w", err)
	}
	return config, nil
}

// MetricsConfigEqual compares two metrics configurations structurally. Both absent
// is equal; one absent is not.
func MetricsConfigEqual(a, b map[string]any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return cmp.Equal(a, b)
}

// MetricsConfigMapName returns the name of the metrics ConfigMap of a component.
func MetricsConfigMapName(component string) string {
	return component + constants.SuffixMetricsConfig
}

// buildMetricsConfigMap renders config into the ConfigMap mounted by the component.
// A disabled configuration is stored as an empty document.
func buildMetricsConfigMap(namespace, name string, labels map[string]string, config map[string]any) *corev1.ConfigMap {
	data := ""
	if config != nil {
		out, err := json.Marshal(config)
		if err == nil {
			data = string(out)
		}
	}
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Data: map[string]string{constants.MetricsConfigFile: data},
	}
}

// metricsFromConfigMap extracts the metrics configuration from a live ConfigMap.
// A missing ConfigMap means metrics are disabled.
func metricsFromConfigMap(cm *corev1.ConfigMap) (map[string]any, error) {
	if cm == nil {
		return nil, nil
	}
	config, err := ParseMetricsConfig(cm.Data[constants.MetricsConfigFile])
	if err != nil {
		return nil, fmt.Errorf("%w: ConfigMap %s: %w", operatorerrors.ErrDiffComputation, cm.Name, err)
	}
	return config, nil
}
