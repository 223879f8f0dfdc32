package store

import (
	"context"
	"sync"
)

// threadLocks is an in-process lock table keyed by thread id.
//
// Each thread gets a one-slot channel; holding the slot is holding the lock.
// Channels are used instead of sync.Mutex so waiters can give up when their
// context is cancelled.
type threadLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newThreadLocks() *threadLocks {
	return &threadLocks{slots: make(map[string]chan struct{})}
}

func (l *threadLocks) slot(threadID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[threadID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[threadID] = ch
	}
	return ch
}

// lock blocks until the thread's slot is free or ctx is done.
func (l *threadLocks) lock(ctx context.Context, threadID string) (UnlockFunc, error) {
	ch := l.slot(threadID)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}
