package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StockItem struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	Name        string          `gorm:"column:name;type:varchar(255);not null;index"`
	GenericName string          `gorm:"column:generic_name;type:varchar(255)"`
	Quantity    int             `gorm:"column:quantity;not null;default:0"`
	UnitCost    decimal.Decimal `gorm:"column:unit_cost;type:numeric(12,3);not null"`
}

func (StockItem) TableName() string {
	return "pharmacy.stock_items"
}

type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "held"
	ReservationReleased ReservationStatus = "released"
	ReservationConsumed ReservationStatus = "consumed"
)

// Reservation holds stock against one prescription line until the pharmacy
// dispenses or the saga rolls back.
type Reservation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	PrescriptionID string            `gorm:"column:prescription_id;type:varchar(20);not null;index"`
	StockItemID    uuid.UUID         `gorm:"column:stock_item_id;type:uuid;not null;index"`
	Quantity       int               `gorm:"column:quantity;not null"`
	Status         ReservationStatus `gorm:"column:status;type:varchar(20);not null;default:'held';index"`

	ReservedBy uuid.UUID `gorm:"column:reserved_by;type:uuid;not null"`
}

func (Reservation) TableName() string {
	return "pharmacy.reservations"
}
