package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careops/clinicflow/internal/domain"
)

type AlertRepository interface {
	Create(ctx context.Context, a *domain.OperationalAlert) error
	ListUnacknowledged(ctx context.Context) ([]*domain.OperationalAlert, error)
	Acknowledge(ctx context.Context, id uuid.UUID, by uuid.UUID) error
}

// AlertService records must-acknowledge operational incidents. Unlike audit
// entries these are written synchronously: a failed compensation means real
// inconsistency and losing the alert is worse than blocking a moment.
type AlertService struct {
	repo AlertRepository
	log  *zap.Logger
}

func NewAlertService(repo AlertRepository, log *zap.Logger) *AlertService {
	return &AlertService{repo: repo, log: log}
}

func (s *AlertService) Raise(ctx context.Context, severity domain.AlertSeverity, source, resourceType, resourceID, message string) {
	a := &domain.OperationalAlert{
		Severity:     severity,
		Source:       source,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Message:      message,
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.Create(wctx, a); err != nil {
		// Last line of defense: the log stream is the only remaining record.
		s.log.Error("failed to persist operational alert",
			zap.String("source", source),
			zap.String("resource_id", resourceID),
			zap.String("message", message),
			zap.Error(err),
		)
		return
	}

	s.log.Warn("operational alert raised",
		zap.String("severity", string(severity)),
		zap.String("source", source),
		zap.String("resource_id", resourceID),
		zap.String("message", message),
	)
}

func (s *AlertService) ListOpen(ctx context.Context) ([]*domain.OperationalAlert, error) {
	return s.repo.ListUnacknowledged(ctx)
}

func (s *AlertService) Acknowledge(ctx context.Context, id uuid.UUID, by uuid.UUID) error {
	return s.repo.Acknowledge(ctx, id, by)
}
