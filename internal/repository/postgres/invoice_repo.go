package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/careops/clinicflow/internal/domain/invoice"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, i *invoice.Invoice) error {
	return dbFrom(ctx, r.db).Create(i).Error
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*invoice.Invoice, error) {
	var i invoice.Invoice
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&i).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoice.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &i, nil
}

func (r *InvoiceRepository) GetByVisit(ctx context.Context, visitID string) (*invoice.Invoice, error) {
	var i invoice.Invoice
	err := dbFrom(ctx, r.db).
		Where("visit_id = ? AND deleted_at IS NULL", visitID).
		First(&i).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoice.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &i, nil
}

func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, status invoice.Status) error {
	res := dbFrom(ctx, r.db).
		Model(&invoice.Invoice{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invoice.ErrInvoiceNotFound
	}
	return nil
}
