package invoice

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

type ItemCategory string

const (
	CategoryConsultation ItemCategory = "consultation"
	CategoryAct          ItemCategory = "act"
	CategoryDevice       ItemCategory = "device"
	CategoryInjection    ItemCategory = "injection"
	CategoryLaboratory   ItemCategory = "laboratory"
	CategoryExamination  ItemCategory = "examination"
	CategorySurgery      ItemCategory = "surgery"
	CategoryMedication   ItemCategory = "medication"
)

// LineItem is one billable row. Source carries the price provenance
// (manual, fee_schedule, fee_schedule_fallback) for audit.
type LineItem struct {
	Category  ItemCategory    `json:"category"`
	Code      string          `json:"code"`
	Label     string          `json:"label"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Source    string          `json:"price_source"`
}

type Invoice struct {
	ID        string     `gorm:"type:varchar(20);primaryKey"` // INV<date><seq>
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	// At most one live invoice per visit. Cancelled rows from compensated
	// completion runs stay behind, so uniqueness is a partial index over
	// non-cancelled rows (created in migrations), not a plain unique column.
	VisitID string `gorm:"column:visit_id;type:varchar(20);not null;index"`

	Items []LineItem `gorm:"column:items;serializer:json"`

	Subtotal decimal.Decimal `gorm:"column:subtotal;type:numeric(12,3);not null"`
	TaxRate  decimal.Decimal `gorm:"column:tax_rate;type:numeric(5,2);not null"`
	Tax      decimal.Decimal `gorm:"column:tax;type:numeric(12,3);not null"`
	Total    decimal.Decimal `gorm:"column:total;type:numeric(12,3);not null"`
	Currency string          `gorm:"column:currency;type:varchar(3);not null"`

	Status Status `gorm:"column:status;type:varchar(20);not null;default:'draft';index"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Invoice) TableName() string {
	return "clinical.invoices"
}

// ComputeTotals derives subtotal, tax and total from the line items.
// Total always equals the sum of item subtotals plus tax.
func (i *Invoice) ComputeTotals(taxRate decimal.Decimal) {
	subtotal := decimal.Zero
	for _, item := range i.Items {
		subtotal = subtotal.Add(item.Subtotal)
	}
	i.Subtotal = subtotal
	i.TaxRate = taxRate
	i.Tax = subtotal.Mul(taxRate).Div(decimal.NewFromInt(100)).Round(3)
	i.Total = subtotal.Add(i.Tax)
}

func (i *Invoice) Cancel() error {
	if i.Status == StatusPaid {
		return ErrAlreadyPaid
	}
	i.Status = StatusCancelled
	return nil
}

// NewLine builds a line item with its subtotal precomputed.
func NewLine(cat ItemCategory, code, label string, qty int, unit decimal.Decimal, source string) LineItem {
	return LineItem{
		Category:  cat,
		Code:      code,
		Label:     label,
		Quantity:  qty,
		UnitPrice: unit,
		Subtotal:  unit.Mul(decimal.NewFromInt(int64(qty))),
		Source:    source,
	}
}
