package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/careops/clinicflow/internal/config"
	"github.com/careops/clinicflow/internal/domain/counter"
	"github.com/careops/clinicflow/internal/domain/fee"
	"github.com/careops/clinicflow/internal/domain/invoice"
	"github.com/careops/clinicflow/internal/domain/prescription"
	"github.com/careops/clinicflow/internal/domain/visit"
	"github.com/careops/clinicflow/pkg/metrics"
)

// Fallback prices applied when the fee schedule cannot resolve a code.
// The resulting line is flagged fee_schedule_fallback so billing staff can
// reconcile it later.
var categoryFallbacks = map[invoice.ItemCategory]decimal.Decimal{
	invoice.CategoryAct:         decimal.NewFromInt(50),
	invoice.CategoryDevice:      decimal.NewFromInt(40),
	invoice.CategoryInjection:   decimal.NewFromInt(25),
	invoice.CategoryLaboratory:  decimal.NewFromInt(20),
	invoice.CategoryExamination: decimal.NewFromInt(35),
	invoice.CategorySurgery:     decimal.NewFromInt(200),
}

var consultationFallbacks = map[visit.VisitType]decimal.Decimal{
	visit.TypeConsultation: decimal.NewFromInt(30),
	visit.TypeFollowUp:     decimal.NewFromInt(20),
	visit.TypeEmergency:    decimal.NewFromInt(50),
	visit.TypeSurgery:      decimal.NewFromInt(30),
}

var orderCategories = map[visit.OrderKind]invoice.ItemCategory{
	visit.OrderInjection:   invoice.CategoryInjection,
	visit.OrderLaboratory:  invoice.CategoryLaboratory,
	visit.OrderExamination: invoice.CategoryExamination,
	visit.OrderSurgery:     invoice.CategorySurgery,
}

// BillingService assembles draft invoices for completed visits.
type BillingService struct {
	invoices      invoice.Repository
	visits        visit.Repository
	prescriptions prescription.Repository
	counters      counter.Repository
	fees          fee.Lookup
	cfg           config.BillingConfig
	lookupTimeout time.Duration
	metrics       *metrics.Collector
	log           *zap.Logger
	now           func() time.Time
}

func NewBillingService(
	invoices invoice.Repository,
	visits visit.Repository,
	prescriptions prescription.Repository,
	counters counter.Repository,
	fees fee.Lookup,
	cfg config.BillingConfig,
	lookupTimeout time.Duration,
	collector *metrics.Collector,
	log *zap.Logger,
) *BillingService {
	return &BillingService{
		invoices:      invoices,
		visits:        visits,
		prescriptions: prescriptions,
		counters:      counters,
		fees:          fees,
		cfg:           cfg,
		lookupTimeout: lookupTimeout,
		metrics:       collector,
		log:           log,
		now:           time.Now,
	}
}

// Generate builds and persists the invoice for a visit. Idempotent: when the
// visit's billing sub-document already references a resolvable invoice, that
// invoice is returned unchanged and created is false. A fee lookup miss never
// aborts generation; only a datastore write failure does.
func (s *BillingService) Generate(ctx context.Context, v *visit.Visit, actorID uuid.UUID) (inv *invoice.Invoice, created bool, err error) {
	if v.Billing.InvoiceID != "" {
		existing, err := s.invoices.GetByID(ctx, v.Billing.InvoiceID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, invoice.ErrInvoiceNotFound) {
			return nil, false, fmt.Errorf("resolving existing invoice: %w", err)
		}
		s.log.Warn("visit references a missing invoice, regenerating",
			zap.String("visit_id", v.ID),
			zap.String("invoice_id", v.Billing.InvoiceID),
		)
	}

	day := s.now()
	items := make([]invoice.LineItem, 0, 8)

	// (a) consultation fee, keyed by visit type
	consCode := "CONS-" + strings.ToUpper(string(v.Type))
	price, src := s.resolvePrice(ctx, consCode, invoice.CategoryConsultation, consultationFallbacks[v.Type])
	items = append(items, invoice.NewLine(invoice.CategoryConsultation, consCode, "Consultation ("+string(v.Type)+")", 1, price, string(src)))

	// (b) completed clinical acts; prices captured once and reused forever
	for i := range v.Acts {
		act := &v.Acts[i]
		if !act.Completed {
			continue
		}
		if act.Price == nil {
			p, source := s.resolvePrice(ctx, act.Code, invoice.CategoryAct, categoryFallbacks[invoice.CategoryAct])
			pricedAt := s.now()
			act.Price = &p
			act.Source = source
			act.PricedAt = &pricedAt
		}
		items = append(items, invoice.NewLine(invoice.CategoryAct, act.Code, act.Label, 1, *act.Price, string(act.Source)))
	}

	// (c) device diagnostics, at most one item per device code
	seenDevices := make(map[string]bool)
	for _, ex := range v.DeviceExams {
		if seenDevices[ex.DeviceCode] {
			continue
		}
		seenDevices[ex.DeviceCode] = true
		p, source := s.resolvePrice(ctx, ex.DeviceCode, invoice.CategoryDevice, categoryFallbacks[invoice.CategoryDevice])
		items = append(items, invoice.NewLine(invoice.CategoryDevice, ex.DeviceCode, ex.DeviceLabel, 1, p, string(source)))
	}

	// (d) injection, laboratory, examination and surgery orders
	for _, o := range v.Orders {
		cat, ok := orderCategories[o.Kind]
		if !ok {
			s.log.Warn("skipping order with unknown kind", zap.String("visit_id", v.ID), zap.String("kind", string(o.Kind)))
			continue
		}
		p, source := s.resolvePrice(ctx, o.Code, cat, categoryFallbacks[cat])
		items = append(items, invoice.NewLine(cat, o.Code, o.Label, 1, p, string(source)))
	}

	// (e) medication lines at the prescriptions' captured unit costs
	linked, err := s.prescriptions.GetByVisit(ctx, v.ID)
	if err != nil {
		return nil, false, fmt.Errorf("loading prescriptions: %w", err)
	}
	for _, rx := range linked {
		if rx.Status == prescription.StatusCancelled {
			continue
		}
		for _, it := range rx.Items {
			items = append(items, invoice.NewLine(invoice.CategoryMedication, rx.ID, it.MedicationName, it.Quantity, it.UnitPrice, string(visit.PriceManual)))
		}
	}

	seq, err := s.counters.NextValue(ctx, counter.InvoiceKey(day))
	if err != nil {
		return nil, false, fmt.Errorf("minting invoice id: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SequenceValuesTotal.WithLabelValues("invoice").Inc()
	}

	newInv := &invoice.Invoice{
		ID:        counter.FormatInvoiceID(day, seq),
		PatientID: v.PatientID,
		VisitID:   v.ID,
		Items:     items,
		Currency:  s.cfg.Currency,
		Status:    invoice.StatusDraft,
		CreatedBy: actorID,
	}
	newInv.ComputeTotals(decimal.NewFromFloat(s.cfg.TaxRate))

	if err := s.invoices.Create(ctx, newInv); err != nil {
		return nil, false, fmt.Errorf("persisting invoice: %w", err)
	}

	// Stamp the visit's billing sub-document, carrying any newly captured
	// act prices along.
	total := newInv.Total
	v.Billing.Status = visit.BillingInvoiced
	v.Billing.InvoiceID = newInv.ID
	v.Billing.Total = &total
	if err := s.visits.Update(ctx, v); err != nil {
		// The invoice row exists but nothing references it yet. Cancel it
		// before surfacing the error so a retried completion mints a fresh
		// invoice instead of leaving an orphaned draft behind.
		if cerr := s.invoices.UpdateStatus(context.WithoutCancel(ctx), newInv.ID, invoice.StatusCancelled); cerr != nil {
			s.log.Error("failed to cancel unstamped invoice",
				zap.String("invoice_id", newInv.ID),
				zap.String("visit_id", v.ID),
				zap.Error(cerr),
			)
		}
		return nil, false, fmt.Errorf("stamping visit billing: %w", err)
	}

	if s.metrics != nil {
		s.metrics.InvoicesGeneratedTotal.Inc()
	}
	s.log.Info("invoice generated",
		zap.String("invoice_id", newInv.ID),
		zap.String("visit_id", v.ID),
		zap.String("total", newInv.Total.String()),
		zap.Int("items", len(newInv.Items)),
	)

	return newInv, true, nil
}

// CancelInvoice marks an invoice cancelled; used by saga compensation.
func (s *BillingService) CancelInvoice(ctx context.Context, id string) error {
	return s.invoices.UpdateStatus(ctx, id, invoice.StatusCancelled)
}

// resolvePrice consults the fee schedule with a bounded timeout and degrades
// to the fallback price on a miss or a slow/unavailable lookup.
func (s *BillingService) resolvePrice(ctx context.Context, code string, cat invoice.ItemCategory, fallback decimal.Decimal) (decimal.Decimal, visit.PriceSource) {
	lctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	price, err := s.fees.ResolvePrice(lctx, code, s.now())
	if err == nil {
		return price, visit.PriceFeeSchedule
	}

	if errors.Is(err, fee.ErrPriceNotFound) {
		s.log.Warn("fee schedule miss, using fallback price",
			zap.String("code", code),
			zap.String("category", string(cat)),
			zap.String("fallback", fallback.String()),
		)
	} else {
		s.log.Warn("fee lookup failed, using fallback price",
			zap.String("code", code),
			zap.String("category", string(cat)),
			zap.Error(err),
		)
	}
	if s.metrics != nil {
		s.metrics.PriceFallbacksTotal.WithLabelValues(string(cat)).Inc()
	}
	return fallback, visit.PriceFallback
}
