package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/careops/clinicflow/internal/domain/prescription"
)

type PrescriptionRepository struct {
	db *gorm.DB
}

func NewPrescriptionRepository(db *gorm.DB) *PrescriptionRepository {
	return &PrescriptionRepository{db: db}
}

func (r *PrescriptionRepository) Create(ctx context.Context, p *prescription.Prescription) error {
	return dbFrom(ctx, r.db).Create(p).Error
}

func (r *PrescriptionRepository) GetByID(ctx context.Context, id string) (*prescription.Prescription, error) {
	var p prescription.Prescription
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, prescription.ErrPrescriptionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PrescriptionRepository) GetByVisit(ctx context.Context, visitID string) ([]*prescription.Prescription, error) {
	var list []*prescription.Prescription
	err := dbFrom(ctx, r.db).
		Where("visit_id = ? AND deleted_at IS NULL", visitID).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (r *PrescriptionRepository) Update(ctx context.Context, p *prescription.Prescription) error {
	res := dbFrom(ctx, r.db).
		Model(&prescription.Prescription{}).
		Where("id = ? AND deleted_at IS NULL", p.ID).
		Select("*").
		Omit("id", "created_at", "created_by").
		Updates(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return prescription.ErrPrescriptionNotFound
	}
	return nil
}

func (r *PrescriptionRepository) UpdateStatus(ctx context.Context, id string, status prescription.Status) error {
	res := dbFrom(ctx, r.db).
		Model(&prescription.Prescription{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return prescription.ErrPrescriptionNotFound
	}
	return nil
}
