package constants

import "time"

// Requeue intervals used by controllers.
const (
	RequeueShort    = 5 * time.Second
	RequeueStandard = 1 * time.Minute
)

// Reconciliation deadlines.
const (
	// LockTimeout bounds how long a reconciliation waits for the per-cluster lock.
	LockTimeout = 60 * time.Second

	// ReadyPollInterval is the default interval between readiness checks.
	ReadyPollInterval = 1 * time.Second
	// ReadyTimeout bounds how long a newly created workload may take to become ready.
	ReadyTimeout = 5 * time.Minute

	// DefaultSweepSchedule runs a full namespace sweep every two minutes.
	DefaultSweepSchedule = "*/2 * * * *"
)
