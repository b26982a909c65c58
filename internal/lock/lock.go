// Package lock provides keyed mutual exclusion for imports that must not
// overlap, such as two deal imports creating stages in the same pipeline.
//
// Local serializes within one process. Redis serializes across processes
// sharing a Redis instance.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotAcquired is returned when a lock could not be taken before the wait
// deadline.
var ErrNotAcquired = errors.New("lock not acquired")

// DefaultWait bounds how long Lock waits for a held key.
const DefaultWait = 30 * time.Second

// Local is an in-process keyed lock.
type Local struct {
	wait time.Duration

	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocal creates a Local lock. wait <= 0 uses DefaultWait.
func NewLocal(wait time.Duration) *Local {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Local{wait: wait, held: make(map[string]chan struct{})}
}

// Lock blocks until key is free, the wait elapses or ctx is done.
// The returned unlock func is safe to call more than once.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			return l.release(key, ch), nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		}
	}
}

func (l *Local) release(key string, ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// Held reports whether key is currently locked.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
