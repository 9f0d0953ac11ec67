package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestWrapAPI(t *testing.T) {
	base := errors.New("boom")

	err := WrapAPI(base, "create", "StatefulSet", "ns", "my-cluster-kafka")
	if !errors.Is(err, ErrAPI) {
		t.Fatalf("WrapAPI() should wrap ErrAPI, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("WrapAPI() should keep the cause, got %v", err)
	}

	again := WrapAPI(err, "create", "StatefulSet", "ns", "my-cluster-kafka")
	if again != err {
		t.Errorf("WrapAPI() should not double wrap, got %v", again)
	}

	if WrapAPI(nil, "get", "Pod", "ns", "p") != nil {
		t.Errorf("WrapAPI(nil) should return nil")
	}
}

func TestIsAPIFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "api", err: fmt.Errorf("x: %w", ErrAPI), want: true},
		{name: "diff computation", err: fmt.Errorf("x: %w", ErrDiffComputation), want: true},
		{name: "lock timeout", err: ErrLockTimeout, want: false},
		{name: "readiness timeout", err: ErrReadinessTimeout, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAPIFailure(tt.err); got != tt.want {
				t.Errorf("IsAPIFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTransientKubernetesAPI(t *testing.T) {
	gr := schema.GroupResource{Group: "apps", Resource: "statefulsets"}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "sentinel error", err: ErrTransientKubernetesAPI, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("context: %w", ErrTransientKubernetesAPI), want: true},
		{name: "too many requests", err: apierrors.NewTooManyRequests("slow down", 1), want: true},
		{name: "server timeout", err: apierrors.NewServerTimeout(gr, "get", 1), want: true},
		{name: "service unavailable", err: apierrors.NewServiceUnavailable("down"), want: true},
		{name: "internal error", err: apierrors.NewInternalError(errors.New("oops")), want: true},
		{name: "conflict", err: apierrors.NewConflict(gr, "a", errors.New("changed")), want: true},
		{name: "rate limit text", err: errors.New("client rate limit exceeded"), want: true},
		{name: "connection refused text", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "not found", err: apierrors.NewNotFound(gr, "a"), want: false},
		{name: "forbidden", err: apierrors.NewForbidden(gr, "a", errors.New("no")), want: false},
		{name: "generic error", err: errors.New("invalid value"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientKubernetesAPI(tt.err); got != tt.want {
				t.Errorf("IsTransientKubernetesAPI() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTransientKubernetesAPI_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if !IsTransientKubernetesAPI(ctx.Err()) {
		t.Errorf("IsTransientKubernetesAPI() should treat deadline exceeded as transient")
	}
}

func TestWrapTransientKubernetesAPI(t *testing.T) {
	if WrapTransientKubernetesAPI(nil) != nil {
		t.Fatalf("WrapTransientKubernetesAPI(nil) should return nil")
	}

	already := apierrors.NewTooManyRequests("slow down", 1)
	if got := WrapTransientKubernetesAPI(already); got != error(already) {
		t.Errorf("already transient errors should be returned as-is, got %v", got)
	}

	plain := errors.New("something else")
	got := WrapTransientKubernetesAPI(plain)
	if !errors.Is(got, ErrTransientKubernetesAPI) || !errors.Is(got, plain) {
		t.Errorf("WrapTransientKubernetesAPI() = %v, want wrapped sentinel and cause", got)
	}
}

func TestWrapPermanentConfig(t *testing.T) {
	if WrapPermanentConfig(nil) != nil {
		t.Fatalf("WrapPermanentConfig(nil) should return nil")
	}
	err := WrapPermanentConfig(errors.New("bad replicas"))
	if !IsPermanent(err) {
		t.Errorf("IsPermanent() = false for %v", err)
	}
	if IsPermanent(errors.New("other")) {
		t.Errorf("IsPermanent() = true for a plain error")
	}
}

func TestIsCRDMissingError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "no matches for kind", err: errors.New(`no matches for kind "BuildConfig" in version "build.openshift.io/v1"`), want: true},
		{name: "not registered", err: errors.New("no kind is registered for the type v1.ImageStream"), want: true},
		{name: "resource missing", err: errors.New("the server could not find the requested resource"), want: true},
		{name: "other", err: errors.New("forbidden"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCRDMissingError(tt.err); got != tt.want {
				t.Errorf("IsCRDMissingError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapCRDMissing(t *testing.T) {
	missing := errors.New(`no matches for kind "DeploymentConfig"`)
	if !IsPermanent(WrapCRDMissing(missing)) {
		t.Errorf("missing kinds should become permanent errors")
	}

	other := errors.New("boom")
	if got := WrapCRDMissing(other); got != other {
		t.Errorf("WrapCRDMissing() should pass through other errors, got %v", got)
	}
}

func TestShouldRequeue(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantRequeue bool
		wantAfter   time.Duration
	}{
		{name: "nil", err: nil, wantRequeue: false, wantAfter: 0},
		{name: "lock timeout", err: fmt.Errorf("x: %w", ErrLockTimeout), wantRequeue: true, wantAfter: 5 * time.Second},
		{name: "permanent", err: WrapPermanentConfig(errors.New("bad")), wantRequeue: false, wantAfter: 0},
		{name: "transient", err: apierrors.NewTooManyRequests("slow", 1), wantRequeue: true, wantAfter: 5 * time.Second},
		{name: "readiness timeout", err: ErrReadinessTimeout, wantRequeue: true, wantAfter: 0},
		{name: "unknown", err: errors.New("boom"), wantRequeue: true, wantAfter: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requeue, after := ShouldRequeue(tt.err)
			if requeue != tt.wantRequeue || after != tt.wantAfter {
				t.Errorf("ShouldRequeue() = (%v, %v), want (%v, %v)", requeue, after, tt.wantRequeue, tt.wantAfter)
			}
		})
	}
}
