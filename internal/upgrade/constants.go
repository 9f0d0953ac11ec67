package upgrade

import "time"

// Timeout constants for rolling updates.
// These values provide sensible defaults while allowing brokers with large logs to
// restart on slower infrastructure.
const (
	// DefaultDeleteTimeout is the maximum time to wait for a deleted pod to be
	// reported gone by its watch.
	DefaultDeleteTimeout = 2 * time.Minute

	// DefaultPodReadyTimeout is the maximum time to wait for a replacement pod
	// to become Ready.
	DefaultPodReadyTimeout = 5 * time.Minute

	// DefaultPodReadyCheckInterval is the interval between checks when waiting
	// for a pod to become Ready.
	DefaultPodReadyCheckInterval = 2 * time.Second
)

// Reason constants describing the outcome of a rolling update.
const (
	// ReasonRollingUpdateComplete indicates every member was restarted.
	ReasonRollingUpdateComplete = "RollingUpdateComplete"

	// ReasonWatchClosed indicates the pod watch failed before the deletion was seen.
	ReasonWatchClosed = "WatchClosed"

	// ReasonPodNotReady indicates a replacement pod failed to become ready within timeout.
	ReasonPodNotReady = "PodNotReady"

	// ReasonRollingUpdateFailed indicates any other failure.
	ReasonRollingUpdateFailed = "RollingUpdateFailed"
)
