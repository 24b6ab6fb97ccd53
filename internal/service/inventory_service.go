package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careops/clinicflow/internal/domain/inventory"
	"github.com/careops/clinicflow/internal/domain/prescription"
)

// InventoryService reserves clinic stock against prescription lines and
// releases it again on rollback or cancellation. It satisfies
// InventoryReserver for the completion saga.
type InventoryService struct {
	repo inventory.Repository
	log  *zap.Logger
}

func NewInventoryService(repo inventory.Repository, log *zap.Logger) *InventoryService {
	return &InventoryService{repo: repo, log: log}
}

// Reserve holds stock for every reservable line of the prescription.
// All-or-nothing per prescription: when one line cannot be covered, the
// lines already taken are restored and the error names the short line.
func (s *InventoryService) Reserve(ctx context.Context, rx *prescription.Prescription, actorID uuid.UUID) error {
	items := rx.ReservableItems()
	if len(items) == 0 {
		return nil
	}

	var taken []*inventory.Reservation
	restore := func() {
		for _, r := range taken {
			if err := s.repo.AdjustQuantity(ctx, r.StockItemID, r.Quantity); err != nil {
				s.log.Error("failed to restore stock after partial reservation",
					zap.String("stock_item_id", r.StockItemID.String()),
					zap.Error(err),
				)
			}
			if err := s.repo.UpdateReservationStatus(ctx, r.ID, inventory.ReservationReleased); err != nil {
				s.log.Error("failed to release reservation record", zap.String("reservation_id", r.ID.String()), zap.Error(err))
			}
		}
	}

	for _, it := range items {
		if err := s.repo.AdjustQuantity(ctx, *it.StockItemID, -it.Quantity); err != nil {
			restore()
			if errors.Is(err, inventory.ErrInsufficientStock) {
				return fmt.Errorf("%s: %w", it.MedicationName, err)
			}
			return fmt.Errorf("adjusting stock for %s: %w", it.MedicationName, err)
		}

		r := &inventory.Reservation{
			ID:             uuid.New(),
			PrescriptionID: rx.ID,
			StockItemID:    *it.StockItemID,
			Quantity:       it.Quantity,
			Status:         inventory.ReservationHeld,
			ReservedBy:     actorID,
		}
		if err := s.repo.CreateReservation(ctx, r); err != nil {
			// Quantity was already decremented; put it back before bailing.
			if rerr := s.repo.AdjustQuantity(ctx, *it.StockItemID, it.Quantity); rerr != nil {
				s.log.Error("failed to restore stock after reservation write failure",
					zap.String("stock_item_id", it.StockItemID.String()),
					zap.Error(rerr),
				)
			}
			restore()
			return fmt.Errorf("recording reservation for %s: %w", it.MedicationName, err)
		}
		taken = append(taken, r)
	}

	s.log.Info("inventory reserved",
		zap.String("prescription_id", rx.ID),
		zap.Int("lines", len(taken)),
	)
	return nil
}

// Release returns every held reservation of a prescription to stock.
func (s *InventoryService) Release(ctx context.Context, prescriptionID string) error {
	held, err := s.repo.HeldByPrescription(ctx, prescriptionID)
	if err != nil {
		return fmt.Errorf("loading reservations: %w", err)
	}

	var errs []error
	for _, r := range held {
		if err := s.repo.AdjustQuantity(ctx, r.StockItemID, r.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("restoring stock %s: %w", r.StockItemID, err))
			continue
		}
		if err := s.repo.UpdateReservationStatus(ctx, r.ID, inventory.ReservationReleased); err != nil {
			errs = append(errs, fmt.Errorf("releasing reservation %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}
