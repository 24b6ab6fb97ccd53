package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error

	// GetByID retrieves a patient by primary key. Returns ErrPatientNotFound
	// if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// SetLastVisitIfLater advances the last-visit pointer only when visitDate
	// is later than the recorded one (or none is recorded). Best-effort under
	// concurrent cancellations: the pointer never moves backwards but is not
	// recomputed when a visit is cancelled.
	SetLastVisitIfLater(ctx context.Context, id uuid.UUID, visitID string, visitDate time.Time) error
}
