// Package cluster turns desired-state ConfigMaps into cluster models, builds the
// manifests those models materialize into, and compares them with live resources.
//
// Everything in this package is pure: no function here talks to the API server.
package cluster

import (
	"maps"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
)

// ClusterLabels derives the labels stamped on every resource of a cluster from the
// labels of its desired-state ConfigMap. The ConfigMap-only kind label is dropped
// and the cluster identity label is forced to the cluster name.
func ClusterLabels(configMapLabels map[string]string, clusterName, clusterType string) map[string]string {
	labels := make(map[string]string, len(configMapLabels)+2)
	maps.Copy(labels, configMapLabels)
	delete(labels, constants.LabelKind)
	labels[constants.LabelCluster] = clusterName
	labels[constants.LabelType] = clusterType
	return labels
}

// WithName returns a copy of labels with the resource name label set.
func WithName(labels map[string]string, name string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	maps.Copy(out, labels)
	out[constants.LabelName] = name
	return out
}

// SelectorLabels returns the immutable subset of labels used in workload selectors.
func SelectorLabels(clusterName, name string) map[string]string {
	return map[string]string{
		constants.LabelCluster: clusterName,
		constants.LabelName:    name,
	}
}

// LabelsEqual compares label sets. Nil and empty sets are equal.
func LabelsEqual(a, b map[string]string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return maps.Equal(a, b)
}
