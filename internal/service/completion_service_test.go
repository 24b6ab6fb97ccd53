package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careops/clinicflow/internal/config"
	"github.com/careops/clinicflow/internal/domain/appointment"
	"github.com/careops/clinicflow/internal/domain/invoice"
	"github.com/careops/clinicflow/internal/domain/patient"
	"github.com/careops/clinicflow/internal/domain/prescription"
	"github.com/careops/clinicflow/internal/domain/visit"
	"github.com/careops/clinicflow/internal/repository/memory"
)

type completionFixture struct {
	visits   *fakeVisitRepo
	rxs      *fakePrescriptionRepo
	invoices *fakeInvoiceRepo
	appts    *fakeAppointmentRepo
	patients *fakePatientRepo
	reserver *fakeReserver
	alerts   *fakeAlertRepo
	svc      *CompletionService

	actorID uuid.UUID
}

func newCompletionFixture(visits *fakeVisitRepo, rxs *fakePrescriptionRepo, appts *fakeAppointmentRepo, patients *fakePatientRepo) *completionFixture {
	log := zap.NewNop()
	f := &completionFixture{
		visits:   visits,
		rxs:      rxs,
		invoices: newFakeInvoiceRepo(),
		appts:    appts,
		patients: patients,
		reserver: newFakeReserver(),
		alerts:   &fakeAlertRepo{},
		actorID:  uuid.New(),
	}

	counters := memory.NewCounterRepository()
	billing := NewBillingService(
		f.invoices, visits, rxs, counters, &fakeFeeLookup{},
		config.BillingConfig{Currency: "TND", TaxRate: 0},
		time.Second, nil, log,
	)
	f.svc = NewCompletionService(
		visits, rxs, appts, patients,
		NewSequenceMinter(counters), billing, f.reserver,
		NewAlertService(f.alerts, log), nil, nil,
		nil, false, time.Second, log,
	)
	return f
}

func inProgressVisit(patientID uuid.UUID, apptID *uuid.UUID) *visit.Visit {
	stockItem := uuid.New()
	return &visit.Visit{
		ID:            "VIS202608240001",
		PatientID:     patientID,
		AppointmentID: apptID,
		ProviderID:    uuid.New(),
		Type:          visit.TypeConsultation,
		Status:        visit.StatusInProgress,
		Date:          time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC),
		Acts: []visit.ClinicalAct{
			{Code: "ACT-EXAM", Label: "Fundus examination", Completed: true},
			{Code: "ACT-SKIP", Label: "Not performed", Completed: false},
		},
		MedicationPlan: []visit.PlannedMedication{
			{
				MedicationName: "Timolol 0.5%",
				DosageAmount:   "1 drop",
				Quantity:       2,
				UnitPrice:      decimal.NewFromInt(12),
				StockItemID:    &stockItem,
			},
		},
		Billing:   visit.BillingState{Status: visit.BillingUnbilled},
		Version:   1,
		CreatedBy: uuid.New(),
	}
}

func TestCompleteVisitHappyPath(t *testing.T) {
	p := &patient.Patient{ID: uuid.New()}
	appt := &appointment.Appointment{ID: uuid.New(), Status: appointment.StatusArrived}
	v := inProgressVisit(p.ID, &appt.ID)

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(appt),
		newFakePatientRepo(p),
	)

	result, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.AlreadyCompleted)
	assert.True(t, result.InvoiceGenerated)

	// Visit is completed and stamped.
	stored := f.visits.stored(v.ID)
	assert.Equal(t, visit.StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.CompletedBy)
	assert.Equal(t, f.actorID, *stored.CompletedBy)

	// The medication plan became a real prescription linked to the visit.
	assert.Empty(t, stored.MedicationPlan)
	require.Len(t, stored.PrescriptionIDs, 1)
	rx := f.rxs.stored(stored.PrescriptionIDs[0])
	require.NotNil(t, rx)
	assert.Equal(t, prescription.StatusReady, rx.Status)
	assert.True(t, rx.InventoryReserved)
	require.Len(t, result.Reservations, 1)
	assert.True(t, result.Reservations[0].Reserved)

	// Invoice generated and stamped onto the visit.
	assert.Equal(t, visit.BillingInvoiced, stored.Billing.Status)
	inv := f.invoices.stored(stored.Billing.InvoiceID)
	require.NotNil(t, inv)
	assert.Equal(t, invoice.StatusDraft, inv.Status)
	assert.Equal(t, v.ID, inv.VisitID)

	// Appointment synced, patient pointer advanced.
	assert.Equal(t, appointment.StatusCompleted, f.appts.stored(appt.ID).Status)
	storedPatient := f.patients.stored(p.ID)
	require.NotNil(t, storedPatient.LastVisitID)
	assert.Equal(t, v.ID, *storedPatient.LastVisitID)

	assert.Empty(t, f.reserver.released)
	assert.Empty(t, f.alerts.raised)
}

func TestCompleteVisitIsIdempotent(t *testing.T) {
	p := &patient.Patient{ID: uuid.New()}
	v := inProgressVisit(p.ID, nil)

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(),
		newFakePatientRepo(p),
	)

	_, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.NoError(t, err)
	invoicesAfterFirst := f.invoices.creates

	result, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.NoError(t, err)
	assert.True(t, result.AlreadyCompleted)
	assert.False(t, result.InvoiceGenerated)
	assert.Equal(t, visit.StatusCompleted, result.Visit.Status)

	// Nothing ran a second time.
	assert.Equal(t, invoicesAfterFirst, f.invoices.creates)
	assert.Len(t, f.rxs.byVisit(v.ID), 1)
}

func TestCompleteVisitRejectsIllegalTransition(t *testing.T) {
	p := &patient.Patient{ID: uuid.New()}
	v := inProgressVisit(p.ID, nil)
	v.Status = visit.StatusScheduled

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(),
		newFakePatientRepo(p),
	)

	_, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.Error(t, err)

	var compErr *CompletionError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, KindIllegalTransition, compErr.Kind)
	assert.Equal(t, StageValidate, compErr.Stage)

	// Rejected before any side effect: no prescriptions, no invoices, visit
	// untouched.
	assert.Empty(t, f.rxs.byVisit(v.ID))
	assert.Zero(t, f.invoices.creates)
	stored := f.visits.stored(v.ID)
	assert.Equal(t, visit.StatusScheduled, stored.Status)
	assert.Len(t, stored.MedicationPlan, 1)
}

func TestCompleteVisitNotFound(t *testing.T) {
	f := newCompletionFixture(
		newFakeVisitRepo(),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(),
		newFakePatientRepo(),
	)

	_, err := f.svc.CompleteVisit(context.Background(), "VIS202608249999", f.actorID)
	require.ErrorIs(t, err, visit.ErrVisitNotFound)
}

func TestCompleteVisitCompensatesWhenInvoiceFails(t *testing.T) {
	p := &patient.Patient{ID: uuid.New()}
	v := inProgressVisit(p.ID, nil)
	originalPlan := v.MedicationPlan

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(),
		newFakePatientRepo(p),
	)
	f.invoices.createErr = assert.AnError

	_, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.Error(t, err)

	var compErr *CompletionError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, KindPersistenceFailure, compErr.Kind)
	assert.Equal(t, StageInvoice, compErr.Stage)

	// The materialized prescription was cancelled and its reservation released.
	rxs := f.rxs.byVisit(v.ID)
	require.Len(t, rxs, 1)
	assert.Equal(t, prescription.StatusCancelled, rxs[0].Status)
	assert.Equal(t, []string{rxs[0].ID}, f.reserver.released)

	// The visit got its plan back so a retry can materialize it again, and
	// never moved to completed.
	stored := f.visits.stored(v.ID)
	assert.Equal(t, visit.StatusInProgress, stored.Status)
	assert.Equal(t, originalPlan[0].MedicationName, stored.MedicationPlan[0].MedicationName)
	assert.Empty(t, stored.PrescriptionIDs)
	assert.Nil(t, stored.CompletedAt)

	// The patient pointer never moved.
	assert.Nil(t, f.patients.stored(p.ID).LastVisitID)
}

func TestCompleteVisitToleratesReservationFailure(t *testing.T) {
	p := &patient.Patient{ID: uuid.New()}
	v := inProgressVisit(p.ID, nil)

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(),
		newFakePatientRepo(p),
	)
	// The prescription ID is minted during the run, so fail every attempt.
	f.reserver.failAll = assert.AnError

	result, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.NoError(t, err, "a reservation failure must not fail completion")

	require.Len(t, result.Reservations, 1)
	assert.False(t, result.Reservations[0].Reserved)
	assert.NotEmpty(t, result.Reservations[0].FailureReason)

	// Visit still completed; prescription left pending and unreserved.
	stored := f.visits.stored(v.ID)
	assert.Equal(t, visit.StatusCompleted, stored.Status)
	rx := f.rxs.stored(result.Reservations[0].PrescriptionID)
	assert.Equal(t, prescription.StatusPending, rx.Status)
	assert.False(t, rx.InventoryReserved)
	assert.True(t, result.InvoiceGenerated)
}

func TestCompleteVisitToleratesMissingAppointment(t *testing.T) {
	p := &patient.Patient{ID: uuid.New()}
	dangling := uuid.New()
	v := inProgressVisit(p.ID, &dangling)

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(), // empty: the reference dangles
		newFakePatientRepo(p),
	)

	result, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusCompleted, result.Visit.Status)
}

func TestCompleteVisitDoesNotMovePatientPointerBackwards(t *testing.T) {
	laterVisitID := "VIS202608250003"
	laterDate := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	p := &patient.Patient{ID: uuid.New(), LastVisitID: &laterVisitID, LastVisitAt: &laterDate}
	v := inProgressVisit(p.ID, nil) // dated 2026-08-24, earlier

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(),
		newFakePatientRepo(p),
	)

	_, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.NoError(t, err)

	stored := f.patients.stored(p.ID)
	assert.Equal(t, laterVisitID, *stored.LastVisitID)
	assert.Equal(t, laterDate, *stored.LastVisitAt)
}

func TestCompleteVisitCompensatesOnFinalWriteConflict(t *testing.T) {
	p := &patient.Patient{ID: uuid.New()}
	v := inProgressVisit(p.ID, nil)

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(),
		newFakePatientRepo(p),
	)
	// Update calls during the run: materialize link (0), billing stamp (1),
	// final status write (2). Fail the final one.
	f.visits.failUpdateAt = 2

	_, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.Error(t, err)

	var compErr *CompletionError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, KindPersistenceFailure, compErr.Kind)
	assert.Equal(t, StageComplete, compErr.Stage)

	// Compensation cancelled the invoice, the prescription, and released stock.
	rxs := f.rxs.byVisit(v.ID)
	require.Len(t, rxs, 1)
	assert.Equal(t, prescription.StatusCancelled, rxs[0].Status)
	assert.Contains(t, f.reserver.released, rxs[0].ID)

	stored := f.visits.stored(v.ID)
	assert.Equal(t, visit.StatusInProgress, stored.Status)
	assert.Equal(t, visit.BillingUnbilled, stored.Billing.Status)
	assert.Empty(t, stored.Billing.InvoiceID)
	inv, invErr := f.invoices.GetByVisit(context.Background(), v.ID)
	require.NoError(t, invErr)
	assert.Equal(t, invoice.StatusCancelled, inv.Status)

	// A retry completes cleanly; the cancelled invoice left behind by the
	// compensation does not block regenerating a live one.
	result, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.NoError(t, err)
	assert.True(t, result.InvoiceGenerated)
	assert.Equal(t, 2, f.invoices.creates)
	assert.Equal(t, 1, f.invoices.liveCount(v.ID))

	retried := f.visits.stored(v.ID)
	assert.Equal(t, visit.StatusCompleted, retried.Status)
	assert.NotEqual(t, inv.ID, retried.Billing.InvoiceID)
	assert.Equal(t, invoice.StatusDraft, f.invoices.stored(retried.Billing.InvoiceID).Status)
}

func TestCompleteVisitRetryAfterBillingStampConflict(t *testing.T) {
	p := &patient.Patient{ID: uuid.New()}
	v := inProgressVisit(p.ID, nil)

	f := newCompletionFixture(
		newFakeVisitRepo(v),
		newFakePrescriptionRepo(),
		newFakeAppointmentRepo(),
		newFakePatientRepo(p),
	)
	// Update calls during the run: materialize link (0), billing stamp (1).
	// Fail the stamp, after the invoice row has been written.
	f.visits.failUpdateAt = 1

	_, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.Error(t, err)

	var compErr *CompletionError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, KindPersistenceFailure, compErr.Kind)
	assert.Equal(t, StageInvoice, compErr.Stage)

	// The invoice created before the failed stamp is cancelled rather than
	// left as an untracked draft.
	require.Equal(t, 1, f.invoices.creates)
	firstInv, invErr := f.invoices.GetByVisit(context.Background(), v.ID)
	require.NoError(t, invErr)
	assert.Equal(t, invoice.StatusCancelled, firstInv.Status)
	assert.Zero(t, f.invoices.liveCount(v.ID))

	// Compensation rewound the rest of the run.
	stored := f.visits.stored(v.ID)
	assert.Equal(t, visit.StatusInProgress, stored.Status)
	assert.Equal(t, visit.BillingUnbilled, stored.Billing.Status)
	assert.Len(t, stored.MedicationPlan, 1)

	// The retry completes with exactly one live invoice for the visit.
	result, err := f.svc.CompleteVisit(context.Background(), v.ID, f.actorID)
	require.NoError(t, err)
	assert.True(t, result.InvoiceGenerated)
	assert.Equal(t, 2, f.invoices.creates)
	assert.Equal(t, 1, f.invoices.liveCount(v.ID))

	retried := f.visits.stored(v.ID)
	assert.Equal(t, visit.StatusCompleted, retried.Status)
	assert.NotEqual(t, firstInv.ID, retried.Billing.InvoiceID)
	assert.Equal(t, invoice.StatusDraft, f.invoices.stored(retried.Billing.InvoiceID).Status)
}
