package prescription

import "context"

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id string) (*Prescription, error)

	// GetByVisit returns every non-deleted prescription linked to a visit.
	GetByVisit(ctx context.Context, visitID string) ([]*Prescription, error)

	// Update persists the whole prescription, including reservation fields.
	Update(ctx context.Context, p *Prescription) error

	UpdateStatus(ctx context.Context, id string, status Status) error
}
