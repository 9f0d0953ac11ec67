package constants

// Environment variables understood by the controller binary. Each one overrides
// the default of the matching command-line flag.
const (
	EnvNamespace         = "STRIMZI_NAMESPACE"
	EnvConfigMapLabels   = "STRIMZI_CONFIGMAP_LABELS"
	EnvSweepSchedule     = "STRIMZI_FULL_RECONCILIATION_SCHEDULE"
	EnvLockTimeout       = "STRIMZI_LOCK_TIMEOUT"
	EnvLockBackend       = "STRIMZI_LOCK_BACKEND"
	EnvOpenShift         = "STRIMZI_OPENSHIFT"
	EnvAPIConcurrency    = "STRIMZI_API_CONCURRENCY"
	EnvMaxReconciles     = "STRIMZI_MAX_CONCURRENT_RECONCILES"
	EnvOperatorNamespace = "POD_NAMESPACE"
)
