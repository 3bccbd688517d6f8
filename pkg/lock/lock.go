// Package lock serializes work on a single key, either inside one process or
// across replicas sharing a Redis instance.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned when releasing a lock that has expired or been taken over.
var ErrNotHeld = errors.New("lock not held")

// Release gives up a held lock. Calling it more than once is a no-op.
type Release func(ctx context.Context) error

// Locker acquires exclusive locks by key. Acquire blocks until the lock is
// held or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is a Locker for a single process.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]*localEntry)}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-e.sem
			l.drop(key, e)
		})
		return nil
	}, nil
}

func (l *LocalLocker) drop(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}
