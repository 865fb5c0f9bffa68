package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrLockTimeout is returned when an identity lock cannot be acquired before the
	// context is done.
	ErrLockTimeout = errors.New("identity lock acquisition timed out")
	// ErrLockUnavailable wraps lock backend failures.
	ErrLockUnavailable = errors.New("identity lock backend unavailable")
)

// Locker serializes work per key. Acquire blocks until the lock is held or ctx is
// done; the returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a process-local Locker. Locks are created lazily under one mutex
// and removed once no holder or waiter references them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk := l.locks[key]
	if lk == nil {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, lk)
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.unref(key, lk)
		})
	}, nil
}

// Len returns the number of keys with a holder or waiter.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *LocalLocker) unref(key string, lk *localLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 && l.locks[key] == lk {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
