package operationlock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errAlreadyReleased is returned when a lock is released more than once.
var errAlreadyReleased = errors.New("lock already released")

// MemoryLocker is an in-process Locker. Each key owns a one-slot channel; holding the
// lock means holding the slot. A key's slot lives only while someone holds or waits for it.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*memorySlot
}

type memorySlot struct {
	ch chan struct{}
	// refs counts the holder and the waiters; guarded by MemoryLocker.mu.
	refs int
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*memorySlot)}
}

func (l *MemoryLocker) ref(key string) *memorySlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &memorySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(l.slots, key)
	}
}

// Acquire waits for the key's slot, the timeout or ctx, whichever comes first.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	s := l.ref(key)

	select {
	case s.ch <- struct{}{}:
		return &memoryLock{locker: l, key: key, slot: s.ch}, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return &memoryLock{locker: l, key: key, slot: s.ch}, nil
	case <-timer.C:
		l.unref(key)
		return nil, &HeldError{Key: key, Timeout: timeout}
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	slot   chan struct{}
	once   sync.Once
}

func (m *memoryLock) Key() string {
	return m.key
}

func (m *memoryLock) Release(_ context.Context) error {
	released := false
	m.once.Do(func() {
		<-m.slot
		m.locker.unref(m.key)
		released = true
	})
	if !released {
		return errAlreadyReleased
	}
	return nil
}
