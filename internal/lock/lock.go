// Package lock provides keyed mutual exclusion for cache population.
package lock

import (
	"context"
	"sync"
)

// Locker serialises work per key. The returned unlock func must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits for them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty keyed mutex.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entryLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &entryLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.release(key, lock)
		})
	}, nil
}

func (l *Local) release(key string, lock *entryLock) {
	l.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// size reports the number of tracked keys.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
