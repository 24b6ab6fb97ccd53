package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/careops/clinicflow/internal/domain"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create writes the entry on the repository's own connection. Audit rows are
// append-only and never join a caller's transaction: a rolled-back saga still
// leaves its trace.
func (r *AuditRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
