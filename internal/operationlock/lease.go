package operationlock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
)

const (
	// leaseNamePrefix prefixes every lock Lease.
	leaseNamePrefix = "lock-"
	// maxLeaseNameLength keeps Lease names valid DNS subdomain labels.
	maxLeaseNameLength = 63
	// annotationLockKey records the unsanitized lock key on the Lease.
	annotationLockKey = "strimzi.io/lock-key"
)

// LeaseLockerOptions configures a LeaseLocker.
type LeaseLockerOptions struct {
	// Namespace holds the Leases. Required.
	Namespace string
	// Identity names this controller instance. Defaults to "<hostname>_<uuid>".
	Identity string
	// LeaseDuration is how long a Lease stays valid without renewal. Defaults to 15s.
	LeaseDuration time.Duration
	// RenewInterval is how often a held Lease is renewed. Defaults to LeaseDuration/3.
	RenewInterval time.Duration
	// RetryInterval is how often a held key is re-checked while waiting. Defaults to 500ms.
	RetryInterval time.Duration
}

// LeaseLocker is a cluster-wide Locker backed by coordination.k8s.io/v1 Leases, one per
// key. Leases left behind by a crashed holder are taken over once they expire.
// Goroutines of the same instance share one identity, so they are serialized in
// process before the Lease is contended.
type LeaseLocker struct {
	local         *MemoryLocker
	client        client.Client
	namespace     string
	identity      string
	leaseDuration time.Duration
	renewInterval time.Duration
	retryInterval time.Duration
}

var _ Locker = (*LeaseLocker)(nil)

// NewLeaseLocker returns a LeaseLocker.
func NewLeaseLocker(c client.Client, opts LeaseLockerOptions) (*LeaseLocker, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	identity := opts.Identity
	if identity == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to determine hostname: %w", err)
		}
		identity = hostname + "_" + uuid.NewString()
	}

	leaseDuration := opts.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = 15 * time.Second
	}
	renewInterval := opts.RenewInterval
	if renewInterval <= 0 {
		renewInterval = leaseDuration / 3
	}
	retryInterval := opts.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 500 * time.Millisecond
	}

	return &LeaseLocker{
		local:         NewMemoryLocker(),
		client:        c,
		namespace:     opts.Namespace,
		identity:      identity,
		leaseDuration: leaseDuration,
		renewInterval: renewInterval,
		retryInterval: retryInterval,
	}, nil
}

// Identity returns the holder identity written to Leases.
func (l *LeaseLocker) Identity() string {
	return l.identity
}

// LeaseName maps a lock key to a valid Lease name.
func LeaseName(key string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(key) {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if valid {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	name := leaseNamePrefix + strings.Trim(b.String(), "-")

	if len(name) <= maxLeaseNameLength {
		return name
	}
	sum := sha256.Sum256([]byte(key))
	suffix := hex.EncodeToString(sum[:])[:10]
	return strings.TrimRight(name[:maxLeaseNameLength-len(suffix)-1], "-") + "-" + suffix
}

// Acquire polls the key's Lease until it is free, expired or already ours.
func (l *LeaseLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	name := LeaseName(key)
	logger := log.FromContext(ctx).WithValues("lock", key, "lease", name)

	deadline := time.Now().Add(timeout)
	local, err := l.local.Acquire(ctx, key, timeout)
	if err != nil {
		return nil, err
	}

	var holder string
	err = wait.PollUntilContextTimeout(ctx, l.retryInterval, time.Until(deadline), true, func(ctx context.Context) (bool, error) {
		acquired, current, err := l.tryAcquire(ctx, key, name)
		if err != nil {
			// API failures are retried until the timeout; the lock stays unacquired.
			logger.V(1).Info("Failed to read or write lock lease", "error", err.Error())
			return false, nil
		}
		holder = current
		return acquired, nil
	})
	if err != nil {
		_ = local.Release(ctx)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &HeldError{Key: key, Holder: holder, Timeout: timeout}
	}

	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lock := &leaseLock{
		local:  local,
		locker: l,
		key:    key,
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go lock.renew(renewCtx)
	return lock, nil
}

func (l *LeaseLocker) tryAcquire(ctx context.Context, key, name string) (bool, string, error) {
	now := metav1.NowMicro()
	lease := &coordinationv1.Lease{}
	err := l.client.Get(ctx, types.NamespacedName{Namespace: l.namespace, Name: name}, lease)
	if apierrors.IsNotFound(err) {
		lease = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: l.namespace,
				Labels: map[string]string{
					constants.LabelAppManagedBy: constants.LabelValueAppManagedByController,
				},
				Annotations: map[string]string{annotationLockKey: key},
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       ptr.To(l.identity),
				LeaseDurationSeconds: ptr.To(int32(l.leaseDuration / time.Second)),
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if err := l.client.Create(ctx, lease); err != nil {
			if apierrors.IsAlreadyExists(err) {
				return false, "", nil
			}
			return false, "", err
		}
		return true, l.identity, nil
	}
	if err != nil {
		return false, "", err
	}

	holder := ptr.Deref(lease.Spec.HolderIdentity, "")
	if holder != "" && holder != l.identity && !leaseExpired(lease, now.Time) {
		return false, holder, nil
	}

	lease.Spec.HolderIdentity = ptr.To(l.identity)
	lease.Spec.LeaseDurationSeconds = ptr.To(int32(l.leaseDuration / time.Second))
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now
	if holder != l.identity {
		lease.Spec.LeaseTransitions = ptr.To(ptr.Deref(lease.Spec.LeaseTransitions, 0) + 1)
	}
	if err := l.client.Update(ctx, lease); err != nil {
		if apierrors.IsConflict(err) {
			return false, holder, nil
		}
		return false, holder, err
	}
	return true, l.identity, nil
}

func leaseExpired(lease *coordinationv1.Lease, now time.Time) bool {
	if lease.Spec.RenewTime == nil {
		return true
	}
	duration := time.Duration(ptr.Deref(lease.Spec.LeaseDurationSeconds, 0)) * time.Second
	return lease.Spec.RenewTime.Add(duration).Before(now)
}

type leaseLock struct {
	local  Lock
	locker *LeaseLocker
	key    string
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (ll *leaseLock) Key() string {
	return ll.key
}

func (ll *leaseLock) renew(ctx context.Context) {
	defer close(ll.done)
	logger := log.FromContext(ctx).WithValues("lock", ll.key, "lease", ll.name)

	ticker := time.NewTicker(ll.locker.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lease := &coordinationv1.Lease{}
			key := types.NamespacedName{Namespace: ll.locker.namespace, Name: ll.name}
			if err := ll.locker.client.Get(ctx, key, lease); err != nil {
				logger.Error(err, "Failed to read lock lease for renewal")
				continue
			}
			if ptr.Deref(lease.Spec.HolderIdentity, "") != ll.locker.identity {
				logger.Info("Lock lease was taken over by another holder", "holder", ptr.Deref(lease.Spec.HolderIdentity, ""))
				return
			}
			now := metav1.NowMicro()
			lease.Spec.RenewTime = &now
			if err := ll.locker.client.Update(ctx, lease); err != nil {
				logger.Error(err, "Failed to renew lock lease")
			}
		}
	}
}

// Release stops renewal and deletes the Lease if this instance still holds it.
func (ll *leaseLock) Release(ctx context.Context) error {
	first := false
	ll.once.Do(func() { first = true })
	if !first {
		return errAlreadyReleased
	}

	ll.cancel()
	<-ll.done
	defer func() { _ = ll.local.Release(ctx) }()

	lease := &coordinationv1.Lease{}
	err := ll.locker.client.Get(ctx, types.NamespacedName{Namespace: ll.locker.namespace, Name: ll.name}, lease)
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get lock lease %s/%s: %w", ll.locker.namespace, ll.name, err)
	}
	if ptr.Deref(lease.Spec.HolderIdentity, "") != ll.locker.identity {
		return nil
	}

	err = ll.locker.client.Delete(ctx, lease, client.Preconditions{UID: ptr.To(lease.UID)})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete lock lease %s/%s: %w", ll.locker.namespace, ll.name, err)
	}
	return nil
}
