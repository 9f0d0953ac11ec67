// Package logging holds logging helpers shared by the reconciliation packages.
package logging

import (
	"maps"
	"slices"

	"github.com/go-logr/logr"
)

// Audit event types emitted for mutating cluster operations.
const (
	EventClusterCreate     = "ClusterCreate"
	EventClusterUpdate     = "ClusterUpdate"
	EventClusterDelete     = "ClusterDelete"
	EventResourceDelete    = "ResourceDelete"
	EventRollingUpdatePod  = "RollingUpdatePod"
	EventStorageChangeSkip = "StorageChangeSkipped"
)

// LogAuditEvent logs a structured audit event for operator actions.
// Audit events are distinct from regular debug/info logs and are tagged
// with "audit=true" for easy filtering in log aggregation systems.
// Fields are attached in key order so repeated events render identically.
func LogAuditEvent(logger logr.Logger, eventType string, fields map[string]string) {
	auditLogger := logger.WithValues("audit", "true", "event_type", eventType)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		auditLogger = auditLogger.WithValues(key, fields[key])
	}
	auditLogger.Info("Operator audit event")
}

// ClusterFields returns the audit fields identifying one cluster, merged with extra.
func ClusterFields(clusterType, namespace, name string, extra map[string]string) map[string]string {
	fields := map[string]string{
		"cluster_type":      clusterType,
		"cluster_namespace": namespace,
		"cluster_name":      name,
	}
	maps.Copy(fields, extra)
	return fields
}
