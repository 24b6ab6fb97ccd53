// Package memory provides in-memory repository implementations used by
// tests and local development.
package memory

import (
	"context"
	"sync"
)

// CounterRepository keeps sequence counters in a map guarded by a mutex.
// It gives the same guarantee as the database implementation: no two
// callers ever observe the same value for a key.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) NextValue(_ context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key]++
	return r.values[key], nil
}
