package visit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VisitType string

const (
	TypeConsultation VisitType = "consultation"
	TypeFollowUp     VisitType = "follow_up"
	TypeEmergency    VisitType = "emergency"
	TypeSurgery      VisitType = "surgery"
)

func (t VisitType) IsValid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeSurgery:
		return true
	}
	return false
}

// PriceSource records where a captured price came from, for billing audit.
type PriceSource string

const (
	PriceManual      PriceSource = "manual"
	PriceFeeSchedule PriceSource = "fee_schedule"
	PriceFallback    PriceSource = "fee_schedule_fallback"
)

// ClinicalAct is a billable procedure performed during the visit. Once a
// price is captured onto the act it is never silently re-priced; subsequent
// invoice runs reuse it.
type ClinicalAct struct {
	Code      string           `json:"code"`
	Label     string           `json:"label"`
	Completed bool             `json:"completed"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Source    PriceSource      `json:"price_source,omitempty"`
	PricedAt  *time.Time       `json:"priced_at,omitempty"`
}

// DeviceExam is a structured diagnostic sub-record (imaging, OCT, biometry).
// Billing charges at most one item per device code.
type DeviceExam struct {
	DeviceCode  string    `json:"device_code"`
	DeviceLabel string    `json:"device_label"`
	PerformedAt time.Time `json:"performed_at"`
}

type OrderKind string

const (
	OrderInjection   OrderKind = "injection"
	OrderLaboratory  OrderKind = "laboratory"
	OrderExamination OrderKind = "examination"
	OrderSurgery     OrderKind = "surgery"
)

// CareOrder is a laboratory/examination/surgery/injection order attached to
// the visit. Its clinical payload lives elsewhere; billing only needs the code.
type CareOrder struct {
	Kind  OrderKind `json:"kind"`
	Code  string    `json:"code"`
	Label string    `json:"label"`
}

// PlannedMedication is a medication-plan entry waiting to be materialized
// into a prescription when the visit completes.
type PlannedMedication struct {
	MedicationName  string          `json:"medication_name"`
	DosageAmount    string          `json:"dosage_amount"`
	DosageFrequency string          `json:"dosage_frequency"`
	Duration        string          `json:"duration"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	StockItemID     *uuid.UUID      `json:"stock_item_id,omitempty"`
	External        bool            `json:"external"`
}

// CoverageSnapshot freezes the patient's convention coverage at capture time.
// A point-in-time fact: it does not follow later changes to the live policy.
type CoverageSnapshot struct {
	Provider        string    `json:"provider"`
	PolicyNumber    string    `json:"policy_number"`
	CoveragePercent float64   `json:"coverage_percent"`
	CapturedAt      time.Time `json:"captured_at"`
}

type BillingStatus string

const (
	BillingUnbilled BillingStatus = "unbilled"
	BillingInvoiced BillingStatus = "invoiced"
	BillingPaid     BillingStatus = "paid"
)

type BillingState struct {
	Status    BillingStatus     `gorm:"column:billing_status;type:varchar(20);not null;default:'unbilled'"`
	InvoiceID string            `gorm:"column:billing_invoice_id;type:varchar(20);index"`
	Total     *decimal.Decimal  `gorm:"column:billing_total;type:numeric(12,3)"`
	Coverage  *CoverageSnapshot `gorm:"column:billing_coverage;serializer:json"`
}

type Visit struct {
	// ID is the human-readable code minted from the daily sequence,
	// e.g. VIS202608240007.
	ID        string     `gorm:"type:varchar(20);primaryKey"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"` // Soft delete

	PatientID     uuid.UUID  `gorm:"column:patient_id;type:uuid;not null;index"`
	AppointmentID *uuid.UUID `gorm:"column:appointment_id;type:uuid;index"`
	ProviderID    uuid.UUID  `gorm:"column:provider_id;type:uuid;not null;index"`

	Type   VisitType `gorm:"column:type;type:varchar(30);not null"`
	Status Status    `gorm:"column:status;type:varchar(30);not null;default:'scheduled';index"`
	Date   time.Time `gorm:"column:visit_date;not null;index"`

	Acts            []ClinicalAct       `gorm:"column:acts;serializer:json"`
	DeviceExams     []DeviceExam        `gorm:"column:device_exams;serializer:json"`
	Orders          []CareOrder         `gorm:"column:orders;serializer:json"`
	MedicationPlan  []PlannedMedication `gorm:"column:medication_plan;serializer:json"`
	PrescriptionIDs []string            `gorm:"column:prescription_ids;serializer:json"`

	Billing BillingState `gorm:"embedded"`
	Lock    EditLock     `gorm:"embedded"`

	// Version guards against lost updates; every repository write is
	// conditional on it.
	Version int `gorm:"column:version;not null;default:1"`

	CompletedAt *time.Time `gorm:"column:completed_at"`
	CompletedBy *uuid.UUID `gorm:"column:completed_by;type:uuid"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Visit) TableName() string {
	return "clinical.visits"
}

func (v *Visit) IsCompleted() bool {
	return v.Status == StatusCompleted
}

// CompletedActs returns the acts eligible for billing.
func (v *Visit) CompletedActs() []int {
	var idx []int
	for i := range v.Acts {
		if v.Acts[i].Completed {
			idx = append(idx, i)
		}
	}
	return idx
}

// TransitionTo applies a status change after consulting the state machine.
// The completed timestamp is set if and only if the target is completed.
func (v *Visit) TransitionTo(target Status) error {
	if !CanTransition(v.Status, target) {
		return &IllegalTransitionError{From: v.Status, To: target}
	}
	v.Status = target
	if target == StatusCompleted {
		now := time.Now().UTC()
		v.CompletedAt = &now
	} else {
		v.CompletedAt = nil
	}
	return nil
}
