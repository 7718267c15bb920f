package fetcher

import (
	"context"
	"sync"
)

// memo runs fn at most once per key and session. Concurrent callers of the same key
// wait for the first one. Cancelled attempts are not remembered.
type memo[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
}

type entry[V any] struct {
	mu    sync.Mutex
	done  bool
	value V
	err   error
}

func newMemo[K comparable, V any]() *memo[K, V] {
	return &memo[K, V]{entries: make(map[K]*entry[V])}
}

func (m *memo[K, V]) do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry[V]{}
		m.entries[key] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return e.value, e.err
	}
	v, err := fn()
	if err != nil && ctx.Err() != nil {
		return v, err
	}
	e.done, e.value, e.err = true, v, err
	return v, err
}
