package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/careops/clinicflow/internal/domain/patient"
)

type PatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

func (r *PatientRepository) Create(ctx context.Context, p *patient.Patient) error {
	err := dbFrom(ctx, r.db).Create(p).Error
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return patient.ErrPatientAlreadyExists
	}
	return err
}

func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	var p patient.Patient
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, patient.ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SetLastVisitIfLater advances the last-visit pointer with a conditional
// update. A zero-row outcome means a later visit already holds the pointer,
// which is not an error.
func (r *PatientRepository) SetLastVisitIfLater(ctx context.Context, id uuid.UUID, visitID string, visitDate time.Time) error {
	return dbFrom(ctx, r.db).
		Model(&patient.Patient{}).
		Where("id = ? AND (last_visit_at IS NULL OR last_visit_at < ?)", id, visitDate).
		Updates(map[string]any{
			"last_visit_id": visitID,
			"last_visit_at": visitDate,
		}).Error
}
