package prescription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status flow: pending → ready (pharmacy review) → dispensed, or cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusDispensed Status = "dispensed"
	StatusCancelled Status = "cancelled"
)

// MedicationItem is one line of a prescription. UnitPrice is captured when
// the line is written; billing reuses it and never re-queries the pharmacy.
type MedicationItem struct {
	MedicationName  string          `json:"medication_name"`
	GenericName     string          `json:"generic_name,omitempty"`
	DosageAmount    string          `json:"dosage_amount"`
	DosageFrequency string          `json:"dosage_frequency"`
	Duration        string          `json:"duration,omitempty"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	StockItemID     *uuid.UUID      `json:"stock_item_id,omitempty"`
	// External marks a medication dispensed outside the clinic pharmacy;
	// no stock is reserved for it.
	External bool `json:"external"`
}

type Prescription struct {
	ID        string     `gorm:"type:varchar(20);primaryKey"` // RX<date><seq>
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	PatientID    uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	PrescriberID uuid.UUID `gorm:"column:prescriber_id;type:uuid;not null;index"`
	VisitID      string    `gorm:"column:visit_id;type:varchar(20);index"`

	Items  []MedicationItem `gorm:"column:items;serializer:json"`
	Status Status           `gorm:"column:status;type:varchar(20);not null;default:'pending';index"`

	// Reservation fields are written only by the completion orchestrator.
	InventoryReserved bool       `gorm:"column:inventory_reserved;default:false"`
	ReservedAt        *time.Time `gorm:"column:reserved_at"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Prescription) TableName() string {
	return "clinical.prescriptions"
}

// ReservableItems returns the lines backed by clinic stock.
func (p *Prescription) ReservableItems() []MedicationItem {
	var items []MedicationItem
	for _, it := range p.Items {
		if !it.External && it.StockItemID != nil {
			items = append(items, it)
		}
	}
	return items
}

func (p *Prescription) Cancel() error {
	if p.Status == StatusDispensed {
		return ErrAlreadyDispensed
	}
	p.Status = StatusCancelled
	return nil
}
