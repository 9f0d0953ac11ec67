// Package errors defines the failure taxonomy of a reconciliation and the
// helpers used to decide whether a failed reconciliation should be requeued.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Reconciliation failures. None of them is process-fatal: they abort at most
// the one reconciliation that produced them.
var (
	// ErrLockTimeout indicates the per-cluster lock was not acquired before its
	// deadline. The reconciliation is abandoned; the next trigger retries.
	ErrLockTimeout = errors.New("lock not acquired within timeout")

	// ErrAPI indicates a transport or validation failure reported by the
	// Kubernetes API.
	ErrAPI = errors.New("kubernetes API error")

	// ErrReadinessTimeout indicates a resource did not become ready before the
	// configured deadline.
	ErrReadinessTimeout = errors.New("resource not ready within timeout")

	// ErrDiffComputation indicates a live resource is malformed and cannot be
	// compared with the desired state. It is handled like ErrAPI.
	ErrDiffComputation = errors.New("cannot compute diff")

	// ErrWatchClosed indicates a watch terminated abnormally before the awaited
	// event was observed.
	ErrWatchClosed = errors.New("watch closed unexpectedly")

	// ErrUnsupported indicates an operation that a resource kind does not allow.
	ErrUnsupported = errors.New("operation not supported for resource kind")
)

// ErrTransientKubernetesAPI indicates a transient Kubernetes API error that should be retried.
// This includes rate limiting, temporary server errors, and network issues.
var ErrTransientKubernetesAPI = errors.New("transient Kubernetes API error")

// ErrPermanentConfig indicates a permanent configuration error that requires user intervention.
// This includes invalid desired-state values and resource kinds that are not installed.
var ErrPermanentConfig = errors.New("permanent configuration error")

// WrapAPI marks err as a Kubernetes API failure for the given verb and object.
func WrapAPI(err error, verb, kind, namespace, name string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAPI) {
		return err
	}
	return fmt.Errorf("%w: %s %s %s/%s: %w", ErrAPI, verb, kind, namespace, name, err)
}

// IsAPIFailure reports whether err should be handled as a Kubernetes API failure.
// Diff computation failures are deliberately included.
func IsAPIFailure(err error) bool {
	return errors.Is(err, ErrAPI) || errors.Is(err, ErrDiffComputation)
}

// IsTransientKubernetesAPI checks if an error is a transient Kubernetes API error.
func IsTransientKubernetesAPI(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientKubernetesAPI) {
		return true
	}

	if apierrors.IsTooManyRequests(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsConflict(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"rate limit",
		"too many requests",
		"service unavailable",
		"connection refused",
		"connection reset",
		"context deadline exceeded",
		"i/o timeout",
		"broken pipe",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// WrapTransientKubernetesAPI wraps an error as a transient Kubernetes API error.
func WrapTransientKubernetesAPI(err error) error {
	if err == nil {
		return nil
	}

	if IsTransientKubernetesAPI(err) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientKubernetesAPI, err)
}

// WrapPermanentConfig wraps an error as a permanent configuration error.
func WrapPermanentConfig(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrPermanentConfig, err)
}

// IsPermanent checks if an error requires user intervention.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrPermanentConfig)
}

// ShouldRequeue determines if an error should trigger a requeue.
// Returns (shouldRequeue, requeueAfter). A zero delay leaves the backoff to
// the workqueue rate limiter.
func ShouldRequeue(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}

	// Abandoned reconciliations are retried by the next trigger; a short requeue
	// stands in for that trigger when the identity sees no further events.
	if errors.Is(err, ErrLockTimeout) {
		return true, 5 * time.Second
	}

	if IsPermanent(err) {
		return false, 0
	}

	if IsTransientKubernetesAPI(err) {
		return true, 5 * time.Second
	}

	return true, 0
}

// IsCRDMissingError checks if an error indicates that a resource kind is not installed,
// for example the OpenShift build and image APIs on a vanilla cluster.
func IsCRDMissingError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no matches for kind") ||
		strings.Contains(errStr, "no kind is registered for the type") ||
		strings.Contains(errStr, "could not find the requested resource")
}

// WrapCRDMissing wraps an error as a permanent config error for missing CRDs.
func WrapCRDMissing(err error) error {
	if err == nil {
		return nil
	}

	if IsCRDMissingError(err) {
		return WrapPermanentConfig(fmt.Errorf("resource kind not installed: %w", err))
	}

	return err
}
