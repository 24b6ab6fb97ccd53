package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/careops/clinicflow/internal/domain/visit"
)

type VisitRepository struct {
	db *gorm.DB
}

func NewVisitRepository(db *gorm.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

func (r *VisitRepository) Create(ctx context.Context, v *visit.Visit) error {
	return dbFrom(ctx, r.db).Create(v).Error
}

func (r *VisitRepository) GetByID(ctx context.Context, id string) (*visit.Visit, error) {
	var v visit.Visit
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, visit.ErrVisitNotFound
		}
		return nil, err
	}
	return &v, nil
}

// Update writes the whole row conditionally on the version the caller read.
// Zero rows affected means a concurrent writer bumped it first.
func (r *VisitRepository) Update(ctx context.Context, v *visit.Visit) error {
	readVersion := v.Version
	v.Version = readVersion + 1

	res := dbFrom(ctx, r.db).
		Model(&visit.Visit{}).
		Where("id = ? AND version = ? AND deleted_at IS NULL", v.ID, readVersion).
		Select("*").
		Omit("id", "created_at", "created_by").
		Updates(v)
	if res.Error != nil {
		v.Version = readVersion
		return res.Error
	}
	if res.RowsAffected == 0 {
		v.Version = readVersion
		return visit.ErrVersionConflict
	}
	return nil
}

func (r *VisitRepository) SoftDelete(ctx context.Context, id string) error {
	res := dbFrom(ctx, r.db).
		Model(&visit.Visit{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return visit.ErrVisitNotFound
	}
	return nil
}

// ClearExpiredLocks releases every expired edit lock in one statement. The
// version is not bumped: clearing a dead lock is not a content change and
// must not fail an editor's in-flight optimistic write.
func (r *VisitRepository) ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res := dbFrom(ctx, r.db).
		Model(&visit.Visit{}).
		Where("lock_expires_at IS NOT NULL AND lock_expires_at <= ?", now).
		Updates(map[string]any{
			"lock_holder_id":   nil,
			"lock_acquired_at": nil,
			"lock_expires_at":  nil,
		})
	return res.RowsAffected, res.Error
}
