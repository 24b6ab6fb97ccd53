package visit

import (
	"context"
	"time"
)

type Repository interface {
	// Create persists a new visit under its minted code.
	Create(ctx context.Context, v *Visit) error

	// GetByID retrieves a visit by code. Returns ErrVisitNotFound if absent
	// or soft-deleted.
	GetByID(ctx context.Context, id string) (*Visit, error)

	// Update writes the full visit conditionally on v.Version and bumps it.
	// Returns ErrVersionConflict when another writer got there first.
	Update(ctx context.Context, v *Visit) error

	// SoftDelete marks the visit deleted. Visits are never physically removed.
	SoftDelete(ctx context.Context, id string) error

	// ClearExpiredLocks releases every edit lock whose expiry has passed and
	// returns how many were cleared. Runs from the background sweeper,
	// independent of any acquire/release call.
	ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}
