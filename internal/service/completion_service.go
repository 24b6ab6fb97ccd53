package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/careops/clinicflow/internal/domain"
	"github.com/careops/clinicflow/internal/domain/appointment"
	"github.com/careops/clinicflow/internal/domain/patient"
	"github.com/careops/clinicflow/internal/domain/prescription"
	"github.com/careops/clinicflow/internal/domain/visit"
	"github.com/careops/clinicflow/pkg/metrics"
)

// ReservationOutcome reports how inventory reservation went for one
// prescription. Failures here are informational: completion proceeds.
type ReservationOutcome struct {
	PrescriptionID string `json:"prescription_id"`
	Reserved       bool   `json:"reserved"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

// CompletionResult is the single, unambiguous result shape of CompleteVisit.
type CompletionResult struct {
	Visit            *visit.Visit         `json:"visit"`
	Reservations     []ReservationOutcome `json:"reservations"`
	InvoiceGenerated bool                 `json:"invoice_generated"`
	AlreadyCompleted bool                 `json:"already_completed"`
}

// InventoryReserver is the pharmacy reservation collaborator.
type InventoryReserver interface {
	Reserve(ctx context.Context, rx *prescription.Prescription, actorID uuid.UUID) error
	Release(ctx context.Context, prescriptionID string) error
}

// PrescriptionMinter mints prescription codes; satisfied by the same
// sequence counter that mints visit and invoice codes.
type PrescriptionMinter interface {
	NextPrescriptionID(ctx context.Context, day time.Time) (string, error)
}

// CompletionService is the saga controller that moves a visit from
// in-progress to completed, touching prescriptions, inventory, the invoice,
// the originating appointment and the patient's last-visit pointer.
type CompletionService struct {
	visits        visit.Repository
	prescriptions prescription.Repository
	appointments  appointment.Repository
	patients      patient.Repository
	minter        PrescriptionMinter
	billing       *BillingService
	reserver      InventoryReserver
	alerts        *AlertService
	auditSvc      *AuditService
	metrics       *metrics.Collector
	strategy      sagaStrategy
	lookupTimeout time.Duration
	log           *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

func NewCompletionService(
	visits visit.Repository,
	prescriptions prescription.Repository,
	appointments appointment.Repository,
	patients patient.Repository,
	minter PrescriptionMinter,
	billing *BillingService,
	reserver InventoryReserver,
	alerts *AlertService,
	auditSvc *AuditService,
	collector *metrics.Collector,
	tx Transactor,
	txCapable bool,
	lookupTimeout time.Duration,
	log *zap.Logger,
) *CompletionService {
	s := &CompletionService{
		visits:        visits,
		prescriptions: prescriptions,
		appointments:  appointments,
		patients:      patients,
		minter:        minter,
		billing:       billing,
		reserver:      reserver,
		alerts:        alerts,
		auditSvc:      auditSvc,
		metrics:       collector,
		lookupTimeout: lookupTimeout,
		log:           log,
		tracer:        otel.Tracer("clinicflow/completion"),
		now:           time.Now,
	}
	if txCapable && tx != nil {
		s.strategy = &nativeTxStrategy{tx: tx, compensate: s.compensate}
	} else {
		s.strategy = &compensatingStrategy{compensate: s.compensate}
	}
	log.Info("completion strategy selected", zap.String("strategy", s.strategy.Name()))
	return s
}

// CompleteVisit runs the completion saga. It either returns a full result
// (possibly listing per-prescription reservation failures) or an error; it
// never reports completion while leaving downstream state inconsistent.
// Re-completing a completed visit is a no-op returning the existing state.
func (s *CompletionService) CompleteVisit(ctx context.Context, visitID string, actorID uuid.UUID) (*CompletionResult, error) {
	ctx, span := s.tracer.Start(ctx, "visit.complete",
		trace.WithAttributes(
			attribute.String("visit.id", visitID),
			attribute.String("saga.strategy", s.strategy.Name()),
		))
	defer span.End()

	v, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, visit.ErrVisitNotFound) {
			return nil, err
		}
		return nil, completionErr(KindPersistenceFailure, StageValidate, err)
	}

	// Step 0: idempotency. Completing twice returns the existing result.
	if v.IsCompleted() {
		span.SetAttributes(attribute.Bool("visit.already_completed", true))
		return &CompletionResult{
			Visit:            v,
			InvoiceGenerated: false,
			AlreadyCompleted: true,
		}, nil
	}

	// Step 1: legality. Rejected before any side effect happens.
	if !visit.CanTransition(v.Status, visit.StatusCompleted) {
		return nil, completionErr(KindIllegalTransition, StageValidate,
			&visit.IllegalTransitionError{From: v.Status, To: visit.StatusCompleted})
	}

	start := s.now()
	ulog := &undoLog{}
	var result *CompletionResult

	// Steps 2–8. The strategy was fixed at startup by the capability probe;
	// it decides how failure is handled, not what the steps are.
	err = s.strategy.Execute(ctx, ulog, func(ctx context.Context) error {
		res, err := s.runSteps(ctx, v, actorID, ulog)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		s.log.Error("visit completion failed",
			zap.String("visit_id", visitID),
			zap.String("actor_id", actorID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.VisitsCompletedTotal.Inc()
		s.metrics.CompletionDuration.Observe(s.now().Sub(start).Seconds())
	}
	if s.auditSvc != nil {
		s.auditSvc.LogAsync(ctx, AuditEntry{
			UserID:       actorID,
			Action:       string(domain.ActionComplete),
			ResourceType: "visit",
			ResourceID:   visitID,
			Changes:      fmt.Sprintf(`{"invoice_generated":%t,"reservations":%d}`, result.InvoiceGenerated, len(result.Reservations)),
		})
	}
	s.log.Info("visit completed",
		zap.String("visit_id", visitID),
		zap.String("actor_id", actorID.String()),
		zap.Bool("invoice_generated", result.InvoiceGenerated),
	)

	return result, nil
}

func (s *CompletionService) runSteps(ctx context.Context, v *visit.Visit, actorID uuid.UUID, ulog *undoLog) (*CompletionResult, error) {
	priorStatus := v.Status

	// Step 3: materialize the pending medication plan into a prescription.
	if len(v.MedicationPlan) > 0 {
		plan := v.MedicationPlan
		rx, err := s.materializePlan(ctx, v, actorID)
		if err != nil {
			return nil, completionErr(KindPersistenceFailure, StageMaterialize, err)
		}
		rxID := rx.ID
		ulog.push("cancel materialized prescription", rxID, undoInternal, func(ctx context.Context) error {
			if err := s.prescriptions.UpdateStatus(ctx, rxID, prescription.StatusCancelled); err != nil {
				return err
			}
			// Put the plan back so a retry can materialize it again.
			current, err := s.visits.GetByID(ctx, v.ID)
			if err != nil {
				return err
			}
			current.MedicationPlan = plan
			current.PrescriptionIDs = removeString(current.PrescriptionIDs, rxID)
			return s.visits.Update(ctx, current)
		})
	}

	// Step 4: reserve inventory per prescription. A single prescription's
	// failure is recorded and the rest keep going.
	outcomes, err := s.reserveAll(ctx, v, actorID, ulog)
	if err != nil {
		return nil, err
	}

	// Step 5: invoice generation.
	inv, created, err := s.billing.Generate(ctx, v, actorID)
	if err != nil {
		return nil, completionErr(KindPersistenceFailure, StageInvoice, err)
	}
	if created {
		invID := inv.ID
		ulog.push("cancel generated invoice", invID, undoInternal, func(ctx context.Context) error {
			if err := s.billing.CancelInvoice(ctx, invID); err != nil {
				return err
			}
			// Unstamp the visit's billing state so a retry regenerates cleanly.
			current, err := s.visits.GetByID(ctx, v.ID)
			if err != nil {
				return err
			}
			current.Billing = visit.BillingState{
				Status:   visit.BillingUnbilled,
				Coverage: current.Billing.Coverage,
			}
			return s.visits.Update(ctx, current)
		})
	}

	// Step 6: sync the originating appointment.
	if v.AppointmentID != nil {
		if err := s.syncAppointment(ctx, *v.AppointmentID, ulog); err != nil {
			return nil, err
		}
	}

	// Step 7: flip the visit itself.
	if err := v.TransitionTo(visit.StatusCompleted); err != nil {
		return nil, completionErr(KindIllegalTransition, StageComplete, err)
	}
	v.CompletedBy = &actorID
	if err := s.visits.Update(ctx, v); err != nil {
		return nil, completionErr(KindPersistenceFailure, StageComplete, err)
	}
	visitID := v.ID
	ulog.push("revert visit status", visitID, undoInternal, func(ctx context.Context) error {
		current, err := s.visits.GetByID(ctx, visitID)
		if err != nil {
			return err
		}
		current.Status = priorStatus
		current.CompletedAt = nil
		current.CompletedBy = nil
		return s.visits.Update(ctx, current)
	})

	// Step 8: conditionally advance the patient's last-visit pointer. The
	// update is compare-and-swap on the recorded date, so two visits
	// completing concurrently settle on the chronologically later one.
	if err := s.patients.SetLastVisitIfLater(ctx, v.PatientID, v.ID, v.Date); err != nil {
		return nil, completionErr(KindPersistenceFailure, StagePatient, err)
	}

	return &CompletionResult{
		Visit:            v,
		Reservations:     outcomes,
		InvoiceGenerated: created,
	}, nil
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// materializePlan turns the visit's pending medication-plan entries into a
// real prescription and links it to the visit.
func (s *CompletionService) materializePlan(ctx context.Context, v *visit.Visit, actorID uuid.UUID) (*prescription.Prescription, error) {
	id, err := s.minter.NextPrescriptionID(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("minting prescription id: %w", err)
	}

	items := make([]prescription.MedicationItem, 0, len(v.MedicationPlan))
	for _, plan := range v.MedicationPlan {
		items = append(items, prescription.MedicationItem{
			MedicationName:  plan.MedicationName,
			DosageAmount:    plan.DosageAmount,
			DosageFrequency: plan.DosageFrequency,
			Duration:        plan.Duration,
			Quantity:        plan.Quantity,
			UnitPrice:       plan.UnitPrice,
			StockItemID:     plan.StockItemID,
			External:        plan.External,
		})
	}

	rx := &prescription.Prescription{
		ID:           id,
		PatientID:    v.PatientID,
		PrescriberID: v.ProviderID,
		VisitID:      v.ID,
		Items:        items,
		Status:       prescription.StatusPending,
		CreatedBy:    actorID,
	}
	if err := s.prescriptions.Create(ctx, rx); err != nil {
		return nil, fmt.Errorf("creating prescription: %w", err)
	}

	v.PrescriptionIDs = append(v.PrescriptionIDs, rx.ID)
	v.MedicationPlan = nil
	if err := s.visits.Update(ctx, v); err != nil {
		return nil, fmt.Errorf("linking prescription to visit: %w", err)
	}

	s.log.Info("medication plan materialized",
		zap.String("visit_id", v.ID),
		zap.String("prescription_id", rx.ID),
		zap.Int("items", len(items)),
	)
	return rx, nil
}

func (s *CompletionService) reserveAll(ctx context.Context, v *visit.Visit, actorID uuid.UUID, ulog *undoLog) ([]ReservationOutcome, error) {
	linked, err := s.prescriptions.GetByVisit(ctx, v.ID)
	if err != nil {
		return nil, completionErr(KindPersistenceFailure, StageReserve, err)
	}

	outcomes := make([]ReservationOutcome, 0, len(linked))
	for _, rx := range linked {
		if rx.Status == prescription.StatusCancelled || rx.Status == prescription.StatusDispensed {
			continue
		}
		if rx.InventoryReserved {
			outcomes = append(outcomes, ReservationOutcome{PrescriptionID: rx.ID, Reserved: true})
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
		err := s.reserver.Reserve(rctx, rx, actorID)
		cancel()
		if err != nil {
			// Non-fatal: reported in the result, completion proceeds.
			if s.metrics != nil {
				s.metrics.ReservationFailures.Inc()
			}
			s.log.Warn("inventory reservation failed",
				zap.String("visit_id", v.ID),
				zap.String("prescription_id", rx.ID),
				zap.Error(err),
			)
			outcomes = append(outcomes, ReservationOutcome{
				PrescriptionID: rx.ID,
				Reserved:       false,
				FailureReason:  err.Error(),
			})
			continue
		}

		rxID := rx.ID
		ulog.push("release inventory reservation", rxID, undoExternal, func(ctx context.Context) error {
			return s.reserver.Release(ctx, rxID)
		})

		prevStatus := rx.Status
		now := s.now()
		rx.InventoryReserved = true
		rx.ReservedAt = &now
		rx.Status = prescription.StatusReady
		if err := s.prescriptions.Update(ctx, rx); err != nil {
			return nil, completionErr(KindPersistenceFailure, StageReserve, err)
		}
		ulog.push("revert prescription reservation fields", rxID, undoInternal, func(ctx context.Context) error {
			current, err := s.prescriptions.GetByID(ctx, rxID)
			if err != nil {
				return err
			}
			current.InventoryReserved = false
			current.ReservedAt = nil
			current.Status = prevStatus
			return s.prescriptions.Update(ctx, current)
		})

		outcomes = append(outcomes, ReservationOutcome{PrescriptionID: rx.ID, Reserved: true})
	}

	return outcomes, nil
}

func (s *CompletionService) syncAppointment(ctx context.Context, apptID uuid.UUID, ulog *undoLog) error {
	appt, err := s.appointments.GetByID(ctx, apptID)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			// A dangling reference is not worth failing the whole visit over.
			s.log.Warn("visit references a missing appointment", zap.String("appointment_id", apptID.String()))
			return nil
		}
		return completionErr(KindPersistenceFailure, StageAppointment, err)
	}
	if appt.IsCompleted() {
		return nil
	}

	prev := appt.MarkCompleted()
	if err := s.appointments.UpdateStatus(ctx, appt); err != nil {
		return completionErr(KindPersistenceFailure, StageAppointment, err)
	}
	ulog.push("revert appointment status", apptID.String(), undoInternal, func(ctx context.Context) error {
		appt.Revert(prev)
		return s.appointments.UpdateStatus(ctx, appt)
	})
	return nil
}

// compensate walks the undo log in reverse. A failing entry is logged and
// escalated as a must-acknowledge alert but does not stop the walk: the
// remaining entries still deserve their chance to undo.
func (s *CompletionService) compensate(ctx context.Context, ulog *undoLog, externalOnly bool) {
	// Compensation must run even when the original failure was the caller's
	// context expiring.
	ctx = context.WithoutCancel(ctx)

	if s.metrics != nil {
		s.metrics.CompensationRunsTotal.Inc()
	}
	s.log.Warn("walking compensation stack",
		zap.Int("ops", ulog.len()),
		zap.Bool("external_only", externalOnly),
	)

	ulog.unwind(ctx, externalOnly, func(op undoOp, err error) {
		if s.metrics != nil {
			s.metrics.CompensationFailures.Inc()
		}
		s.log.Error("compensation step failed; manual reconciliation required",
			zap.String("op", op.name),
			zap.String("resource", op.resource),
			zap.Error(err),
		)
		if s.alerts != nil {
			s.alerts.Raise(ctx, domain.SeverityCritical, "visit_completion", "visit", op.resource,
				fmt.Sprintf("compensation step %q failed: %v", op.name, err))
		}
	})
}
