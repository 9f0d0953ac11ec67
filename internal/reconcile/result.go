package reconcile

import (
	"time"

	"github.com/dc-tec/kafka-cluster-operator/internal/operationlock"
)

// Operation is the action a reconciliation decided on.
type Operation string

const (
	OperationNone   Operation = "none"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Result expresses what a reconciliation did and whether it should be requeued, and
// after what delay. A zero RequeueAfter means "no requeue requested".
type Result struct {
	Operation    Operation
	RequeueAfter time.Duration
}

// ClusterIdentity names one cluster. It is fixed for the duration of a reconciliation.
type ClusterIdentity struct {
	Namespace   string
	Name        string
	ClusterType string
}

// LockKey returns the key of the lock serializing work on the cluster.
func (id ClusterIdentity) LockKey() string {
	return operationlock.Key(id.ClusterType, id.Namespace, id.Name)
}

// decide maps desired and observed presence to an operation.
func decide(desiredExists, observedExists bool) Operation {
	switch {
	case desiredExists && observedExists:
		return OperationUpdate
	case desiredExists:
		return OperationCreate
	case observedExists:
		return OperationDelete
	default:
		return OperationNone
	}
}
