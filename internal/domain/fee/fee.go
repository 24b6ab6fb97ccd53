package fee

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPriceNotFound = errors.New("no fee schedule entry for code")

// Entry is one row of the clinic's fee schedule: a service, act, device or
// medication code and its current price.
type Entry struct {
	Code          string          `gorm:"type:varchar(50);primaryKey"`
	Label         string          `gorm:"column:label;type:varchar(255);not null"`
	Category      string          `gorm:"column:category;type:varchar(30);not null;index"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(12,3);not null"`
	EffectiveFrom time.Time       `gorm:"column:effective_from;not null;index"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime"`
}

func (Entry) TableName() string {
	return "billing.fee_schedule"
}

// Lookup resolves a code to its price as of a date. Implementations must
// return ErrPriceNotFound on a miss; callers fall back to default prices
// rather than failing.
type Lookup interface {
	ResolvePrice(ctx context.Context, code string, asOf time.Time) (decimal.Decimal, error)
}
