package inventory

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetItem(ctx context.Context, id uuid.UUID) (*StockItem, error)

	// AdjustQuantity applies delta to the item's on-hand quantity as a
	// conditional single-statement update. A decrement below zero returns
	// ErrInsufficientStock and changes nothing.
	AdjustQuantity(ctx context.Context, id uuid.UUID, delta int) error

	CreateReservation(ctx context.Context, r *Reservation) error

	// HeldByPrescription returns the reservations still held for a
	// prescription.
	HeldByPrescription(ctx context.Context, prescriptionID string) ([]*Reservation, error)

	UpdateReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus) error
}
