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
	"github.com/careops/clinicflow/internal/domain/invoice"
	"github.com/careops/clinicflow/internal/domain/prescription"
	"github.com/careops/clinicflow/internal/domain/visit"
	"github.com/careops/clinicflow/internal/repository/memory"
)

func newBillingService(visits *fakeVisitRepo, rxs *fakePrescriptionRepo, invoices *fakeInvoiceRepo, fees *fakeFeeLookup) *BillingService {
	return NewBillingService(
		invoices, visits, rxs, memory.NewCounterRepository(), fees,
		config.BillingConfig{Currency: "TND", TaxRate: 0},
		time.Second, nil, zap.NewNop(),
	)
}

func billableVisit() *visit.Visit {
	return &visit.Visit{
		ID:        "VIS202608240001",
		PatientID: uuid.New(),
		Type:      visit.TypeConsultation,
		Status:    visit.StatusInProgress,
		Date:      time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		Acts: []visit.ClinicalAct{
			{Code: "ACT-OCT", Label: "OCT scan", Completed: true},
			{Code: "ACT-NOT-DONE", Label: "Skipped", Completed: false},
		},
		DeviceExams: []visit.DeviceExam{
			{DeviceCode: "DEV-FUNDUS", DeviceLabel: "Fundus camera"},
			{DeviceCode: "DEV-FUNDUS", DeviceLabel: "Fundus camera (repeat)"},
			{DeviceCode: "DEV-BIOMETRY", DeviceLabel: "Biometry"},
		},
		Orders: []visit.CareOrder{
			{Kind: visit.OrderLaboratory, Code: "LAB-CBC", Label: "Blood count"},
			{Kind: visit.OrderInjection, Code: "INJ-AVASTIN", Label: "Intravitreal injection"},
		},
		Version: 1,
	}
}

func TestGenerateAssemblesItemsInOrder(t *testing.T) {
	v := billableVisit()
	visits := newFakeVisitRepo(v)
	rxs := newFakePrescriptionRepo(
		&prescription.Prescription{
			ID:      "RX202608240001",
			VisitID: v.ID,
			Status:  prescription.StatusPending,
			Items: []prescription.MedicationItem{
				{MedicationName: "Timolol 0.5%", Quantity: 2, UnitPrice: decimal.NewFromInt(12)},
			},
		},
		&prescription.Prescription{
			ID:      "RX202608240002",
			VisitID: v.ID,
			Status:  prescription.StatusCancelled,
			Items: []prescription.MedicationItem{
				{MedicationName: "Should not appear", Quantity: 1, UnitPrice: decimal.NewFromInt(99)},
			},
		},
	)
	invoices := newFakeInvoiceRepo()
	fees := &fakeFeeLookup{prices: map[string]decimal.Decimal{
		"CONS-CONSULTATION": decimal.NewFromInt(35),
		"ACT-OCT":           decimal.NewFromInt(80),
		"DEV-FUNDUS":        decimal.NewFromInt(45),
		"LAB-CBC":           decimal.NewFromInt(18),
	}}
	svc := newBillingService(visits, rxs, invoices, fees)

	current, err := visits.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	inv, created, err := svc.Generate(context.Background(), current, uuid.New())
	require.NoError(t, err)
	assert.True(t, created)

	categories := make([]invoice.ItemCategory, 0, len(inv.Items))
	for _, it := range inv.Items {
		categories = append(categories, it.Category)
	}
	assert.Equal(t, []invoice.ItemCategory{
		invoice.CategoryConsultation,
		invoice.CategoryAct,
		invoice.CategoryDevice,
		invoice.CategoryDevice,
		invoice.CategoryLaboratory,
		invoice.CategoryInjection,
		invoice.CategoryMedication,
	}, categories, "consultation, acts, devices, orders, medications, in that order")

	// Incomplete acts are not billed.
	for _, it := range inv.Items {
		assert.NotEqual(t, "ACT-NOT-DONE", it.Code)
	}

	// Devices deduplicated by code: one fundus line despite two exams.
	deviceCodes := map[string]int{}
	for _, it := range inv.Items {
		if it.Category == invoice.CategoryDevice {
			deviceCodes[it.Code]++
		}
	}
	assert.Equal(t, map[string]int{"DEV-FUNDUS": 1, "DEV-BIOMETRY": 1}, deviceCodes)

	// Medication line priced at the prescription's captured unit price.
	med := inv.Items[len(inv.Items)-1]
	assert.Equal(t, 2, med.Quantity)
	assert.True(t, med.UnitPrice.Equal(decimal.NewFromInt(12)))
	assert.True(t, med.Subtotal.Equal(decimal.NewFromInt(24)))

	// Resolved prices carry fee schedule provenance; the biometry miss fell
	// back to the category default.
	assert.Equal(t, string(visit.PriceFeeSchedule), inv.Items[0].Source)
	for _, it := range inv.Items {
		if it.Code == "DEV-BIOMETRY" {
			assert.Equal(t, string(visit.PriceFallback), it.Source)
			assert.True(t, it.UnitPrice.Equal(decimal.NewFromInt(40)))
		}
	}

	// Total is the sum of item subtotals (tax rate zero here).
	sum := decimal.Zero
	for _, it := range inv.Items {
		sum = sum.Add(it.Subtotal)
	}
	assert.True(t, inv.Total.Equal(sum))
	assert.Equal(t, "TND", inv.Currency)
}

func TestGenerateCapturesActPricesOnce(t *testing.T) {
	v := billableVisit()
	v.DeviceExams = nil
	v.Orders = nil
	visits := newFakeVisitRepo(v)
	rxs := newFakePrescriptionRepo()
	invoices := newFakeInvoiceRepo()
	svc := newBillingService(visits, rxs, invoices, &fakeFeeLookup{}) // everything misses

	current, err := visits.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	first, _, err := svc.Generate(context.Background(), current, uuid.New())
	require.NoError(t, err)

	// The fallback price was captured onto the act, with provenance, and
	// persisted with the visit.
	stored := visits.stored(v.ID)
	act := stored.Acts[0]
	require.NotNil(t, act.Price)
	assert.True(t, act.Price.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, visit.PriceFallback, act.Source)
	require.NotNil(t, act.PricedAt)

	// A captured price is reused, never re-resolved, even when the fee
	// schedule would now answer. Cancel and unstamp first, the way saga
	// compensation leaves a visit before a regeneration.
	svc.fees = &fakeFeeLookup{prices: map[string]decimal.Decimal{"ACT-OCT": decimal.NewFromInt(500)}}
	require.NoError(t, svc.CancelInvoice(context.Background(), first.ID))
	stored.Billing = visit.BillingState{}
	inv2, created, err := svc.Generate(context.Background(), stored, uuid.New())
	require.NoError(t, err)
	assert.True(t, created)
	for _, it := range inv2.Items {
		if it.Category == invoice.CategoryAct {
			assert.True(t, it.UnitPrice.Equal(decimal.NewFromInt(50)))
			assert.Equal(t, string(visit.PriceFallback), it.Source)
		}
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	v := billableVisit()
	visits := newFakeVisitRepo(v)
	rxs := newFakePrescriptionRepo()
	invoices := newFakeInvoiceRepo()
	svc := newBillingService(visits, rxs, invoices, &fakeFeeLookup{})

	current, err := visits.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	first, created, err := svc.Generate(context.Background(), current, uuid.New())
	require.NoError(t, err)
	require.True(t, created)

	// Re-running against the stamped visit resolves the same invoice.
	stamped := visits.stored(v.ID)
	second, created, err := svc.Generate(context.Background(), stamped, uuid.New())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, invoices.creates)
}

func TestGenerateCancelsInvoiceWhenStampFails(t *testing.T) {
	v := billableVisit()
	visits := newFakeVisitRepo(v)
	invoices := newFakeInvoiceRepo()
	svc := newBillingService(visits, newFakePrescriptionRepo(), invoices, &fakeFeeLookup{})

	// The billing stamp is the only visit write Generate makes.
	visits.failUpdateAt = 0

	current, err := visits.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	_, _, err = svc.Generate(context.Background(), current, uuid.New())
	require.Error(t, err)

	// The invoice row written before the stamp failed is cancelled, not left
	// as a dangling draft no record points to.
	require.Equal(t, 1, invoices.creates)
	orphan, invErr := invoices.GetByVisit(context.Background(), v.ID)
	require.NoError(t, invErr)
	assert.Equal(t, invoice.StatusCancelled, orphan.Status)

	// A retry mints a fresh invoice and stamps the visit; the cancelled row
	// does not collide with the live-invoice uniqueness rule.
	retry := visits.stored(v.ID)
	inv, created, err := svc.Generate(context.Background(), retry, uuid.New())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, invoices.creates)
	assert.NotEqual(t, orphan.ID, inv.ID)
	assert.Equal(t, inv.ID, visits.stored(v.ID).Billing.InvoiceID)
	assert.Equal(t, 1, invoices.liveCount(v.ID))
}

func TestGenerateAppliesTaxRate(t *testing.T) {
	v := billableVisit()
	v.Acts = nil
	v.DeviceExams = nil
	v.Orders = nil
	visits := newFakeVisitRepo(v)
	invoices := newFakeInvoiceRepo()
	fees := &fakeFeeLookup{prices: map[string]decimal.Decimal{
		"CONS-CONSULTATION": decimal.NewFromInt(100),
	}}

	svc := NewBillingService(
		invoices, visits, newFakePrescriptionRepo(), memory.NewCounterRepository(), fees,
		config.BillingConfig{Currency: "TND", TaxRate: 18},
		time.Second, nil, zap.NewNop(),
	)

	current, err := visits.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	inv, _, err := svc.Generate(context.Background(), current, uuid.New())
	require.NoError(t, err)

	assert.True(t, inv.Subtotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, inv.Tax.Equal(decimal.NewFromInt(18)))
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(118)))
}
