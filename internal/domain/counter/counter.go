package counter

import (
	"context"
	"fmt"
	"time"
)

// Counter is a per-key monotonic sequence record. NextValue on the
// repository is the sole synchronization point for identifier assignment.
type Counter struct {
	Key       string    `gorm:"type:varchar(50);primaryKey"`
	Value     int64     `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Counter) TableName() string {
	return "clinical.counters"
}

type Repository interface {
	// NextValue atomically increments the counter for key (creating it at 1
	// on first use) and returns the new value. No two callers ever observe
	// the same value for the same key.
	NextValue(ctx context.Context, key string) (int64, error)
}

const dayFormat = "20060102"

func VisitKey(day time.Time) string        { return "visit-" + day.Format(dayFormat) }
func InvoiceKey(day time.Time) string      { return "invoice-" + day.Format(dayFormat) }
func PrescriptionKey(day time.Time) string { return "prescription-" + day.Format(dayFormat) }

// FormatVisitID mints the human-readable visit code, e.g. VIS202608240007.
func FormatVisitID(day time.Time, seq int64) string {
	return fmt.Sprintf("VIS%s%04d", day.Format(dayFormat), seq)
}

func FormatInvoiceID(day time.Time, seq int64) string {
	return fmt.Sprintf("INV%s%04d", day.Format(dayFormat), seq)
}

func FormatPrescriptionID(day time.Time, seq int64) string {
	return fmt.Sprintf("RX%s%04d", day.Format(dayFormat), seq)
}
