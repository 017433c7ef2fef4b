// Package lock provides per-key mutual exclusion for settlement calls.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrBusy is returned when a key stays held for longer than the wait limit.
var ErrBusy = errors.New("lock is held")

// DefaultWait bounds how long Acquire waits for a held key.
const DefaultWait = 5 * time.Second

// Local serializes keys within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

// NewLocal creates a Local lock that waits up to DefaultWait.
func NewLocal() *Local {
	return NewLocalWait(DefaultWait)
}

// NewLocalWait creates a Local lock with a custom wait limit.
func NewLocalWait(wait time.Duration) *Local {
	return &Local{
		held: make(map[string]chan struct{}),
		wait: wait,
	}
}

// Acquire blocks until key is free, the wait limit passes or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			return l.releaser(key, ch), nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return nil, ErrBusy
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Local) releaser(key string, ch chan struct{}) func(context.Context) error {
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(ch)
		})
		return nil
	}
}
