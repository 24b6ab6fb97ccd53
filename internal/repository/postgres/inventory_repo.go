package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/careops/clinicflow/internal/domain/inventory"
)

type InventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) GetItem(ctx context.Context, id uuid.UUID) (*inventory.StockItem, error) {
	var item inventory.StockItem
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventory.ErrStockItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// AdjustQuantity applies delta in one conditional statement. The guard
// keeps on-hand quantity from ever going negative; a failed decrement
// changes nothing and reports insufficient stock.
func (r *InventoryRepository) AdjustQuantity(ctx context.Context, id uuid.UUID, delta int) error {
	res := dbFrom(ctx, r.db).
		Model(&inventory.StockItem{}).
		Where("id = ? AND deleted_at IS NULL AND quantity + ? >= 0", id, delta).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if delta < 0 {
			return inventory.ErrInsufficientStock
		}
		return inventory.ErrStockItemNotFound
	}
	return nil
}

func (r *InventoryRepository) CreateReservation(ctx context.Context, res *inventory.Reservation) error {
	return dbFrom(ctx, r.db).Create(res).Error
}

func (r *InventoryRepository) HeldByPrescription(ctx context.Context, prescriptionID string) ([]*inventory.Reservation, error) {
	var list []*inventory.Reservation
	err := dbFrom(ctx, r.db).
		Where("prescription_id = ? AND status = ?", prescriptionID, inventory.ReservationHeld).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (r *InventoryRepository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, status inventory.ReservationStatus) error {
	res := dbFrom(ctx, r.db).
		Model(&inventory.Reservation{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return inventory.ErrReservationNotFound
	}
	return nil
}
