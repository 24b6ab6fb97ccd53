package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/careops/clinicflow/internal/domain"
	"github.com/careops/clinicflow/internal/domain/appointment"
	"github.com/careops/clinicflow/internal/domain/fee"
	"github.com/careops/clinicflow/internal/domain/invoice"
	"github.com/careops/clinicflow/internal/domain/patient"
	"github.com/careops/clinicflow/internal/domain/prescription"
	"github.com/careops/clinicflow/internal/domain/visit"
)

// In-memory collaborators mirroring the persistence contracts, including the
// optimistic version check on visit updates.

type fakeVisitRepo struct {
	mu     sync.Mutex
	visits map[string]*visit.Visit

	// failUpdateAt makes the Update call with that zero-based index return
	// ErrVersionConflict, once. -1 disables the injection.
	failUpdateAt int
	updateCalls  int
}

func newFakeVisitRepo(visits ...*visit.Visit) *fakeVisitRepo {
	r := &fakeVisitRepo{visits: make(map[string]*visit.Visit), failUpdateAt: -1}
	for _, v := range visits {
		r.visits[v.ID] = cloneVisit(v)
	}
	return r
}

func cloneVisit(v *visit.Visit) *visit.Visit {
	c := *v
	c.Acts = append([]visit.ClinicalAct(nil), v.Acts...)
	c.DeviceExams = append([]visit.DeviceExam(nil), v.DeviceExams...)
	c.Orders = append([]visit.CareOrder(nil), v.Orders...)
	c.MedicationPlan = append([]visit.PlannedMedication(nil), v.MedicationPlan...)
	c.PrescriptionIDs = append([]string(nil), v.PrescriptionIDs...)
	return &c
}

func (r *fakeVisitRepo) Create(_ context.Context, v *visit.Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visits[v.ID] = cloneVisit(v)
	return nil
}

func (r *fakeVisitRepo) GetByID(_ context.Context, id string) (*visit.Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visits[id]
	if !ok || v.DeletedAt != nil {
		return nil, visit.ErrVisitNotFound
	}
	return cloneVisit(v), nil
}

func (r *fakeVisitRepo) Update(_ context.Context, v *visit.Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.updateCalls
	r.updateCalls++
	if r.failUpdateAt >= 0 && call == r.failUpdateAt {
		r.failUpdateAt = -1
		return visit.ErrVersionConflict
	}
	stored, ok := r.visits[v.ID]
	if !ok {
		return visit.ErrVisitNotFound
	}
	if stored.Version != v.Version {
		return visit.ErrVersionConflict
	}
	v.Version++
	r.visits[v.ID] = cloneVisit(v)
	return nil
}

func (r *fakeVisitRepo) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visits[id]
	if !ok {
		return visit.ErrVisitNotFound
	}
	now := time.Now()
	v.DeletedAt = &now
	return nil
}

func (r *fakeVisitRepo) ClearExpiredLocks(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleared int64
	for _, v := range r.visits {
		if v.Lock.ExpiresAt != nil && !now.Before(*v.Lock.ExpiresAt) {
			v.Lock = visit.EditLock{}
			cleared++
		}
	}
	return cleared, nil
}

func (r *fakeVisitRepo) stored(id string) *visit.Visit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneVisit(r.visits[id])
}

type fakePrescriptionRepo struct {
	mu  sync.Mutex
	rxs map[string]*prescription.Prescription

	createErr error
}

func newFakePrescriptionRepo(rxs ...*prescription.Prescription) *fakePrescriptionRepo {
	r := &fakePrescriptionRepo{rxs: make(map[string]*prescription.Prescription)}
	for _, rx := range rxs {
		r.rxs[rx.ID] = cloneRx(rx)
	}
	return r
}

func cloneRx(p *prescription.Prescription) *prescription.Prescription {
	c := *p
	c.Items = append([]prescription.MedicationItem(nil), p.Items...)
	return &c
}

func (r *fakePrescriptionRepo) Create(_ context.Context, p *prescription.Prescription) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxs[p.ID] = cloneRx(p)
	return nil
}

func (r *fakePrescriptionRepo) GetByID(_ context.Context, id string) (*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rxs[id]
	if !ok {
		return nil, prescription.ErrPrescriptionNotFound
	}
	return cloneRx(p), nil
}

func (r *fakePrescriptionRepo) GetByVisit(_ context.Context, visitID string) ([]*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*prescription.Prescription
	for _, p := range r.rxs {
		if p.VisitID == visitID {
			list = append(list, cloneRx(p))
		}
	}
	return list, nil
}

func (r *fakePrescriptionRepo) Update(_ context.Context, p *prescription.Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rxs[p.ID]; !ok {
		return prescription.ErrPrescriptionNotFound
	}
	r.rxs[p.ID] = cloneRx(p)
	return nil
}

func (r *fakePrescriptionRepo) UpdateStatus(_ context.Context, id string, status prescription.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rxs[id]
	if !ok {
		return prescription.ErrPrescriptionNotFound
	}
	p.Status = status
	return nil
}

func (r *fakePrescriptionRepo) stored(id string) *prescription.Prescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rxs[id]
	if !ok {
		return nil
	}
	return cloneRx(p)
}

func (r *fakePrescriptionRepo) byVisit(visitID string) []*prescription.Prescription {
	list, _ := r.GetByVisit(context.Background(), visitID)
	return list
}

type fakeInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*invoice.Invoice

	createErr error
	creates   int
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{invoices: make(map[string]*invoice.Invoice)}
}

func cloneInvoice(i *invoice.Invoice) *invoice.Invoice {
	c := *i
	c.Items = append([]invoice.LineItem(nil), i.Items...)
	return &c
}

func (r *fakeInvoiceRepo) Create(_ context.Context, i *invoice.Invoice) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Mirrors the partial unique index on (visit_id) over non-cancelled rows.
	for _, ex := range r.invoices {
		if ex.VisitID == i.VisitID && ex.Status != invoice.StatusCancelled && ex.DeletedAt == nil {
			return errors.New(`duplicate key value violates unique constraint "idx_invoices_visit_live"`)
		}
	}
	r.invoices[i.ID] = cloneInvoice(i)
	r.creates++
	return nil
}

func (r *fakeInvoiceRepo) GetByID(_ context.Context, id string) (*invoice.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.invoices[id]
	if !ok {
		return nil, invoice.ErrInvoiceNotFound
	}
	return cloneInvoice(i), nil
}

func (r *fakeInvoiceRepo) GetByVisit(_ context.Context, visitID string) (*invoice.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.invoices {
		if i.VisitID == visitID {
			return cloneInvoice(i), nil
		}
	}
	return nil, invoice.ErrInvoiceNotFound
}

func (r *fakeInvoiceRepo) UpdateStatus(_ context.Context, id string, status invoice.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.invoices[id]
	if !ok {
		return invoice.ErrInvoiceNotFound
	}
	i.Status = status
	return nil
}

func (r *fakeInvoiceRepo) liveCount(visitID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.invoices {
		if i.VisitID == visitID && i.Status != invoice.StatusCancelled && i.DeletedAt == nil {
			n++
		}
	}
	return n
}

func (r *fakeInvoiceRepo) stored(id string) *invoice.Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.invoices[id]
	if !ok {
		return nil
	}
	return cloneInvoice(i)
}

type fakeAppointmentRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*appointment.Appointment
}

func newFakeAppointmentRepo(appts ...*appointment.Appointment) *fakeAppointmentRepo {
	r := &fakeAppointmentRepo{appts: make(map[uuid.UUID]*appointment.Appointment)}
	for _, a := range appts {
		c := *a
		r.appts[a.ID] = &c
	}
	return r
}

func (r *fakeAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	c := *a
	return &c, nil
}

func (r *fakeAppointmentRepo) UpdateStatus(_ context.Context, a *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.appts[a.ID]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	stored.Status = a.Status
	stored.CompletedAt = a.CompletedAt
	return nil
}

func (r *fakeAppointmentRepo) stored(id uuid.UUID) *appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := *r.appts[id]
	return &a
}

type fakePatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*patient.Patient
}

func newFakePatientRepo(patients ...*patient.Patient) *fakePatientRepo {
	r := &fakePatientRepo{patients: make(map[uuid.UUID]*patient.Patient)}
	for _, p := range patients {
		c := *p
		r.patients[p.ID] = &c
	}
	return r
}

func (r *fakePatientRepo) Create(_ context.Context, p *patient.Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	r.patients[p.ID] = &c
	return nil
}

func (r *fakePatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	c := *p
	return &c, nil
}

func (r *fakePatientRepo) SetLastVisitIfLater(_ context.Context, id uuid.UUID, visitID string, visitDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil
	}
	if p.LastVisitAt == nil || p.LastVisitAt.Before(visitDate) {
		p.LastVisitID = &visitID
		p.LastVisitAt = &visitDate
	}
	return nil
}

func (r *fakePatientRepo) stored(id uuid.UUID) *patient.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := *r.patients[id]
	return &p
}

type fakeFeeLookup struct {
	prices map[string]decimal.Decimal
}

func (f *fakeFeeLookup) ResolvePrice(_ context.Context, code string, _ time.Time) (decimal.Decimal, error) {
	if f.prices == nil {
		return decimal.Zero, fee.ErrPriceNotFound
	}
	p, ok := f.prices[code]
	if !ok {
		return decimal.Zero, fee.ErrPriceNotFound
	}
	return p, nil
}

// fakeReserver records reservation traffic and can be told to fail specific
// prescriptions.
type fakeReserver struct {
	mu         sync.Mutex
	reserveErr map[string]error
	failAll    error
	reserved   []string
	released   []string
}

func newFakeReserver() *fakeReserver {
	return &fakeReserver{reserveErr: make(map[string]error)}
}

func (f *fakeReserver) Reserve(_ context.Context, rx *prescription.Prescription, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	if err := f.reserveErr[rx.ID]; err != nil {
		return err
	}
	f.reserved = append(f.reserved, rx.ID)
	return nil
}

func (f *fakeReserver) Release(_ context.Context, prescriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, prescriptionID)
	return nil
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	raised []*domain.OperationalAlert
}

func (f *fakeAlertRepo) Create(_ context.Context, a *domain.OperationalAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, a)
	return nil
}

func (f *fakeAlertRepo) ListUnacknowledged(_ context.Context) ([]*domain.OperationalAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.OperationalAlert(nil), f.raised...), nil
}

func (f *fakeAlertRepo) Acknowledge(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}
