package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/careops/clinicflow/internal/domain"
)

type AlertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create writes on the repository's own connection, never a caller's
// transaction. An alert raised during a failing saga must survive the abort.
func (r *AlertRepository) Create(ctx context.Context, a *domain.OperationalAlert) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AlertRepository) ListUnacknowledged(ctx context.Context) ([]*domain.OperationalAlert, error) {
	var list []*domain.OperationalAlert
	err := r.db.WithContext(ctx).
		Where("acknowledged = false").
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *AlertRepository) Acknowledge(ctx context.Context, id uuid.UUID, by uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&domain.OperationalAlert{}).
		Where("id = ? AND acknowledged = false", id).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_by": by,
			"acknowledged_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
