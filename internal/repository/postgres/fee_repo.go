package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/careops/clinicflow/internal/domain/fee"
)

type FeeRepository struct {
	db *gorm.DB
}

func NewFeeRepository(db *gorm.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// ResolvePrice returns the fee schedule price for code as of asOf.
func (r *FeeRepository) ResolvePrice(ctx context.Context, code string, asOf time.Time) (decimal.Decimal, error) {
	var entry fee.Entry
	err := dbFrom(ctx, r.db).
		Where("code = ? AND effective_from <= ?", code, asOf).
		Order("effective_from DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, fee.ErrPriceNotFound
		}
		return decimal.Zero, err
	}
	return entry.Price, nil
}
