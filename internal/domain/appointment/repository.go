package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus persists the status and completion timestamp.
	UpdateStatus(ctx context.Context, a *Appointment) error
}
