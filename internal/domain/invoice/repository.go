package invoice

import "context"

type Repository interface {
	Create(ctx context.Context, i *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)

	// GetByVisit resolves the invoice generated for a visit, if any.
	GetByVisit(ctx context.Context, visitID string) (*Invoice, error)

	UpdateStatus(ctx context.Context, id string, status Status) error
}
