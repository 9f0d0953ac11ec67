// Package operationlock provides the named, timeout-bounded mutual exclusion used to
// serialize reconciliations of one cluster identity.
//
// Two implementations are available:
// - MemoryLocker: a per-key slot map, for a single controller process
// - LeaseLocker: a coordination.k8s.io Lease per key, for a fleet of controllers
//
// Callers should use WithLock so that release happens on every exit path.
package operationlock

import (
	"context"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

// releaseTimeout bounds the release of a lock after the caller's context is gone.
const releaseTimeout = 10 * time.Second

// Locker acquires named locks.
type Locker interface {
	// Acquire blocks the calling goroutine until key is free or timeout elapses.
	// On timeout it returns a *HeldError wrapping ErrLockTimeout.
	Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error)
}

// Lock is a held lock. Release must be called exactly once.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// HeldError provides structured information when a lock cannot be acquired in time.
type HeldError struct {
	Key     string
	Holder  string
	Timeout time.Duration
}

func (e *HeldError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("%s: key=%q timeout=%s", operatorerrors.ErrLockTimeout, e.Key, e.Timeout)
	}
	return fmt.Sprintf("%s: key=%q holder=%q timeout=%s", operatorerrors.ErrLockTimeout, e.Key, e.Holder, e.Timeout)
}

func (e *HeldError) Unwrap() error {
	return operatorerrors.ErrLockTimeout
}

// Key builds the lock key of a cluster identity.
func Key(clusterType, namespace, name string) string {
	return fmt.Sprintf("lock::%s::%s::%s", clusterType, namespace, name)
}

// WithLock acquires key, runs fn and releases the lock. The release is deferred, so it
// also happens when fn returns an error or panics; a panic is converted into an error.
func WithLock(ctx context.Context, locker Locker, key string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	logger := log.FromContext(ctx).WithValues("lock", key)

	lock, err := locker.Acquire(ctx, key, timeout)
	if err != nil {
		logger.Info("Failed to acquire lock", "timeout", timeout.String(), "error", err.Error())
		return err
	}
	logger.V(1).Info("Lock acquired")

	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("%v", r), "Recovered from panic while holding lock")
			err = fmt.Errorf("panic while holding lock %s: %v", key, r)
		}

		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if releaseErr := lock.Release(releaseCtx); releaseErr != nil {
			logger.Error(releaseErr, "Failed to release lock")
			if err == nil {
				err = fmt.Errorf("failed to release lock %s: %w", key, releaseErr)
			}
			return
		}
		logger.V(1).Info("Lock released")
	}()

	return fn(ctx)
}
