package postgres

import (
	"context"

	"gorm.io/gorm"
)

type CounterRepository struct {
	db *gorm.DB
}

func NewCounterRepository(db *gorm.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// NextValue increments the counter for key and returns the new value. The
// whole read-modify-write is one atomic upsert, so no two callers ever see
// the same value even without an enclosing transaction.
func (r *CounterRepository) NextValue(ctx context.Context, key string) (int64, error) {
	var value int64
	err := dbFrom(ctx, r.db).Raw(`
		INSERT INTO clinical.counters (key, value, updated_at)
		VALUES (?, 1, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = clinical.counters.value + 1, updated_at = NOW()
		RETURNING value`, key).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}
