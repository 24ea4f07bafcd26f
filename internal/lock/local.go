package lock

import (
	"context"
	"sync"
)

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// localBackend is an in-process keyed mutex. Waiting is unbounded: a posting
// holds its keys only for the duration of one local transaction.
type localBackend struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newLocalBackend() *localBackend {
	return &localBackend{locks: make(map[string]*keyLock)}
}

func (b *localBackend) lock(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	l, ok := b.locks[key]
	if !ok {
		l = &keyLock{}
		b.locks[key] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return "", nil
}

func (b *localBackend) unlock(_ context.Context, key, _ string) {
	b.mu.Lock()
	l, ok := b.locks[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(b.locks, key)
	}
	b.mu.Unlock()
	l.mu.Unlock()
}

// NewLocal returns a Locker backed by in-process mutexes.
func NewLocal() Locker {
	return newLocker(newLocalBackend(), nil)
}
