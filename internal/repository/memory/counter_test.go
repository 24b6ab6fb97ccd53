package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/clinicflow/internal/domain/counter"
)

func TestNextValueStartsAtOne(t *testing.T) {
	repo := NewCounterRepository()

	v, err := repo.NextValue(context.Background(), "visit-20260824")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = repo.NextValue(context.Background(), "visit-20260824")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestNextValueKeysAreIndependent(t *testing.T) {
	repo := NewCounterRepository()
	ctx := context.Background()

	_, err := repo.NextValue(ctx, counter.VisitKey(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	v, err := repo.NextValue(ctx, counter.VisitKey(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "a new day starts its own sequence")

	v, err = repo.NextValue(ctx, counter.InvoiceKey(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "invoice sequence is separate from visits")
}

func TestNextValueConcurrentCallersGetDistinctValues(t *testing.T) {
	repo := NewCounterRepository()
	const callers = 1000

	values := make(chan int64, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			v, err := repo.NextValue(context.Background(), "visit-20260824")
			assert.NoError(t, err)
			values <- v
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[int64]bool, callers)
	for v := range values {
		assert.False(t, seen[v], "value %d assigned twice", v)
		seen[v] = true
	}
	require.Len(t, seen, callers)
	for i := int64(1); i <= callers; i++ {
		assert.True(t, seen[i], "value %d missing from the assigned set", i)
	}
}
