package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careops/clinicflow/internal/domain"
	"github.com/careops/clinicflow/internal/domain/counter"
	"github.com/careops/clinicflow/internal/domain/visit"
	"github.com/careops/clinicflow/pkg/metrics"
)

// SequenceMinter mints human-readable entity codes from the per-day
// sequence counter.
type SequenceMinter struct {
	counters counter.Repository
}

func NewSequenceMinter(counters counter.Repository) *SequenceMinter {
	return &SequenceMinter{counters: counters}
}

func (m *SequenceMinter) NextVisitID(ctx context.Context, day time.Time) (string, error) {
	seq, err := m.counters.NextValue(ctx, counter.VisitKey(day))
	if err != nil {
		return "", err
	}
	return counter.FormatVisitID(day, seq), nil
}

func (m *SequenceMinter) NextPrescriptionID(ctx context.Context, day time.Time) (string, error) {
	seq, err := m.counters.NextValue(ctx, counter.PrescriptionKey(day))
	if err != nil {
		return "", err
	}
	return counter.FormatPrescriptionID(day, seq), nil
}

// VisitService owns the interactive-edit path: visit creation, the edit
// lock, and clinical content updates. Completion is CompletionService's job;
// the edit lock is deliberately not consulted there.
type VisitService struct {
	repo          visit.Repository
	minter        *SequenceMinter
	auditSvc      *AuditService
	metrics       *metrics.Collector
	log           *zap.Logger
	lockTTL       time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	stopSweep chan struct{}
	sweepDone chan struct{}
}

func NewVisitService(
	repo visit.Repository,
	minter *SequenceMinter,
	auditSvc *AuditService,
	collector *metrics.Collector,
	lockTTL, sweepInterval time.Duration,
	log *zap.Logger,
) *VisitService {
	if lockTTL <= 0 {
		lockTTL = visit.DefaultLockTTL
	}
	return &VisitService{
		repo:          repo,
		minter:        minter,
		auditSvc:      auditSvc,
		metrics:       collector,
		log:           log,
		lockTTL:       lockTTL,
		sweepInterval: sweepInterval,
		now:           time.Now,
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
}

func (s *VisitService) CreateVisit(ctx context.Context, cmd *visit.CreateVisitCommand) (*visit.Visit, error) {
	var errs []string
	if cmd.PatientID == uuid.Nil {
		errs = append(errs, "patient_id is required")
	}
	if cmd.ProviderID == uuid.Nil {
		errs = append(errs, "provider_id is required")
	}
	if !cmd.Type.IsValid() {
		errs = append(errs, "type is invalid")
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}

	date := cmd.Date
	if date.IsZero() {
		date = s.now()
	}

	id, err := s.minter.NextVisitID(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("minting visit id: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SequenceValuesTotal.WithLabelValues("visit").Inc()
	}

	v := &visit.Visit{
		ID:            id,
		PatientID:     cmd.PatientID,
		AppointmentID: cmd.AppointmentID,
		ProviderID:    cmd.ProviderID,
		Type:          cmd.Type,
		Status:        visit.StatusScheduled,
		Date:          date,
		Billing:       visit.BillingState{Status: visit.BillingUnbilled, Coverage: cmd.Coverage},
		Version:       1,
		CreatedBy:     cmd.CreatedBy,
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("creating visit: %w", err)
	}

	s.log.Info("visit created",
		zap.String("visit_id", v.ID),
		zap.String("patient_id", v.PatientID.String()),
	)
	return v, nil
}

func (s *VisitService) GetVisit(ctx context.Context, id string) (*visit.Visit, error) {
	return s.repo.GetByID(ctx, id)
}

// ChangeStatus applies a non-completion lifecycle move (check-in, start,
// cancel, no-show) through the state machine.
func (s *VisitService) ChangeStatus(ctx context.Context, id string, target visit.Status, actorID uuid.UUID) (*visit.Visit, error) {
	if !target.IsValid() {
		return nil, visit.ErrInvalidStatus
	}
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := v.TransitionTo(target); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, v); err != nil {
		return nil, err
	}

	if s.auditSvc != nil {
		s.auditSvc.LogAsync(ctx, AuditEntry{
			UserID: actorID, Action: string(domain.ActionUpdate),
			ResourceType: "visit", ResourceID: id,
			Changes: fmt.Sprintf(`{"status":%q}`, target),
		})
	}
	return v, nil
}

// AcquireLock takes the edit lock for holder. On conflict it returns the
// current lock info alongside visit.ErrLockHeld so the UI can show who has it.
func (s *VisitService) AcquireLock(ctx context.Context, visitID string, holder uuid.UUID) (*visit.LockInfo, error) {
	v, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if info := v.Lock.HeldByOther(holder, now); info != nil {
		return info, visit.ErrLockHeld
	}
	v.Lock.Acquire(holder, s.lockTTL, now)
	if err := s.repo.Update(ctx, v); err != nil {
		return nil, err
	}
	return &visit.LockInfo{HolderID: holder, ExpiresAt: *v.Lock.ExpiresAt}, nil
}

// ExtendLock pushes the holder's expiry forward. Returns false, silently,
// for non-holders.
func (s *VisitService) ExtendLock(ctx context.Context, visitID string, holder uuid.UUID) (bool, error) {
	v, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return false, err
	}
	if !v.Lock.Extend(holder, s.lockTTL, s.now()) {
		return false, nil
	}
	if err := s.repo.Update(ctx, v); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLock releases the holder's lock. Returns false, silently, for
// non-holders.
func (s *VisitService) ReleaseLock(ctx context.Context, visitID string, holder uuid.UUID) (bool, error) {
	v, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return false, err
	}
	if !v.Lock.Release(holder, s.now()) {
		return false, nil
	}
	if err := s.repo.Update(ctx, v); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateClinical mutates the visit's clinical content. The caller must hold
// the edit lock; the optimistic version on the write catches anything the
// lock did not.
func (s *VisitService) UpdateClinical(ctx context.Context, visitID string, cmd *visit.UpdateClinicalCommand) (*visit.Visit, error) {
	v, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if v.Status.IsTerminal() {
		return nil, visit.ErrInvalidStatus
	}

	now := s.now()
	if info := v.Lock.HeldByOther(cmd.UpdatedBy, now); info != nil {
		return nil, visit.ErrLockHeld
	}
	if !v.Lock.Held(now) {
		return nil, visit.ErrLockRequired
	}

	if cmd.Acts != nil {
		v.Acts = *cmd.Acts
	}
	if cmd.DeviceExams != nil {
		v.DeviceExams = *cmd.DeviceExams
	}
	if cmd.Orders != nil {
		v.Orders = *cmd.Orders
	}
	if cmd.MedicationPlan != nil {
		v.MedicationPlan = *cmd.MedicationPlan
	}

	if err := s.repo.Update(ctx, v); err != nil {
		return nil, err
	}

	if s.auditSvc != nil {
		s.auditSvc.LogAsync(ctx, AuditEntry{
			UserID: cmd.UpdatedBy, Action: string(domain.ActionUpdate),
			ResourceType: "visit", ResourceID: visitID,
			Changes: `{"clinical_content":"updated"}`,
		})
	}
	return v, nil
}

// StartLockSweeper runs the background sweep that clears expired edit locks,
// independent of any acquire/release traffic.
func (s *VisitService) StartLockSweeper() {
	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopSweep:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				cleared, err := s.repo.ClearExpiredLocks(ctx, s.now())
				cancel()
				if err != nil {
					s.log.Error("lock sweep failed", zap.Error(err))
					continue
				}
				if cleared > 0 {
					if s.metrics != nil {
						s.metrics.ExpiredLocksSweptTotal.Add(float64(cleared))
					}
					s.log.Info("cleared expired visit locks", zap.Int64("count", cleared))
				}
			}
		}
	}()
}

func (s *VisitService) StopLockSweeper() {
	close(s.stopSweep)
	select {
	case <-s.sweepDone:
	case <-time.After(5 * time.Second):
		s.log.Warn("lock sweeper shutdown timed out")
	}
}
