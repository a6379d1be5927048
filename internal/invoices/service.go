// Package invoices generates and settles invoices for subscription
// periods, including metered overage charges.
package invoices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meterline/billing-engine/internal/billing"
	"github.com/meterline/billing-engine/internal/catalog"
	"github.com/meterline/billing-engine/internal/notifications"
	"github.com/meterline/billing-engine/internal/processor"
	"github.com/meterline/billing-engine/internal/tax"
	"github.com/meterline/billing-engine/internal/usage"
	"github.com/meterline/billing-engine/pkg/config"
	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
	"github.com/meterline/billing-engine/pkg/money"
	"github.com/meterline/billing-engine/pkg/pagination"
)

// Service defines invoice operations.
type Service interface {
	Generate(ctx context.Context, params GenerateParams) (*models.Invoice, error)
	GenerateUsageInvoice(ctx context.Context, tenantID uuid.UUID, at time.Time) (*models.Invoice, error)
	Finalize(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	Void(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	Get(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	ApplyProcessorInvoice(ctx context.Context, pinv *processor.Invoice, eventAt time.Time) (*models.Invoice, bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires invoice dependencies.
type ServiceParams struct {
	Repo        Repository
	BillingRepo billing.Repository
	UsageRepo   usage.Repository
	Catalog     *catalog.Catalog
	Tax         tax.Calculator
	Processor   processor.Client
	Notifier    notifications.Service
	Tx          txRunner
	Logger      *logger.Logger
	Billing     config.BillingConfig
	Usage       config.UsageConfig
}

type service struct {
	repo        Repository
	billingRepo billing.Repository
	usageRepo   usage.Repository
	catalog     *catalog.Catalog
	tax         tax.Calculator
	processor   processor.Client
	notifier    notifications.Service
	tx          txRunner
	logg        *logger.Logger
	billingCfg  config.BillingConfig
	usageCfg    config.UsageConfig
}

// NewService wires the invoice service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "invoice repository required")
	}
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing repository required")
	}
	if params.UsageRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage repository required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan catalog required")
	}
	if params.Tax == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "tax calculator required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "processor client required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification service required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:        params.Repo,
		billingRepo: params.BillingRepo,
		usageRepo:   params.UsageRepo,
		catalog:     params.Catalog,
		tax:         params.Tax,
		processor:   params.Processor,
		notifier:    params.Notifier,
		tx:          params.Tx,
		logg:        params.Logger,
		billingCfg:  params.Billing,
		usageCfg:    params.Usage,
	}, nil
}

// GenerateParams describes one billing period to invoice.
type GenerateParams struct {
	TenantID    uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
	// UsageOnly skips the base subscription line; used for out-of-band
	// overage invoices.
	UsageOnly bool
}

// ListParams configures invoice listing.
type ListParams struct {
	TenantID uuid.UUID
	Limit    int
	Cursor   string
}

// ListResult wraps returned invoices and the cursor for the next page.
type ListResult struct {
	Items  []models.Invoice `json:"items"`
	Cursor string           `json:"cursor"`
}

// Generate builds the invoice for a subscription period: the base plan
// charge, one overage line per metered type beyond its included limit,
// and tax. Generation is idempotent per (subscription, period start);
// a repeat call returns the invoice already on file.
func (s *service) Generate(ctx context.Context, params GenerateParams) (*models.Invoice, error) {
	if params.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}

	sub, err := s.billingRepo.FindSubscriptionByTenant(ctx, params.TenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	periodStart, periodEnd, err := s.resolvePeriod(sub, params)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindForPeriod(ctx, sub.ID, periodStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing invoice")
	}
	if existing != nil {
		return existing, nil
	}

	lines, err := s.buildLines(ctx, sub, periodStart, params.UsageOnly)
	if err != nil {
		return nil, err
	}
	if params.UsageOnly && len(lines) == 0 {
		return nil, nil
	}

	due := periodEnd.AddDate(0, 0, s.billingCfg.InvoiceGraceDays)
	inv := &models.Invoice{
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		Status:         enums.InvoiceStatusDraft,
		Currency:       sub.Currency,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		DueDate:        &due,
		LineItems:      lines,
	}
	Recompute(inv)

	taxLines, err := s.tax.Calculate(ctx, sub.TenantID.String(), inv.SubtotalCents-inv.DiscountCents, inv.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "calculate tax")
	}
	for _, line := range taxLines {
		inv.LineItems = append(inv.LineItems, models.InvoiceLineItem{
			Kind:            models.LineItemKindTax,
			Description:     line.Description,
			Quantity:        1,
			UnitAmountCents: line.AmountCents,
			AmountCents:     line.AmountCents,
		})
	}
	Recompute(inv)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, inv)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist invoice")
	}

	if s.billingCfg.AutoFinalize {
		return s.Finalize(ctx, inv.TenantID, inv.ID)
	}
	return inv, nil
}

// GenerateUsageInvoice invoices only metered overage for the bucket
// containing at. It returns nil when the tenant owes nothing.
func (s *service) GenerateUsageInvoice(ctx context.Context, tenantID uuid.UUID, at time.Time) (*models.Invoice, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	periodStart, periodEnd := usage.PeriodBounds(at, s.usageCfg.BucketInterval)
	return s.Generate(ctx, GenerateParams{
		TenantID:    tenantID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		UsageOnly:   true,
	})
}

// Finalize moves a draft invoice to open and registers it with the
// processor so the tenant can be charged. Finalizing an open or paid
// invoice is a no-op.
func (s *service) Finalize(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	inv, err := s.requireInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case enums.InvoiceStatusOpen, enums.InvoiceStatusPaid:
		return inv, nil
	case enums.InvoiceStatusDraft:
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict,
			"cannot finalize %s invoice", inv.Status)
	}

	if err := s.registerWithProcessor(ctx, inv); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv.Status = enums.InvoiceStatusOpen
	inv.FinalizedAt = &now
	if inv.DueDate == nil {
		// Payment terms are anchored to the billed period, not to when
		// finalization happens to run.
		due := inv.PeriodEnd.AddDate(0, 0, s.billingCfg.InvoiceGraceDays)
		inv.DueDate = &due
	}
	Recompute(inv)

	if err := s.save(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Void cancels an unpaid invoice. Paid invoices are immutable.
func (s *service) Void(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	inv, err := s.requireInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == enums.InvoiceStatusVoid {
		return inv, nil
	}
	if !inv.Status.CanTransitionTo(enums.InvoiceStatusVoid) {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict,
			"cannot void %s invoice", inv.Status)
	}

	if inv.ProcessorInvoiceID != nil && *inv.ProcessorInvoiceID != "" {
		if _, err := s.processor.VoidInvoice(ctx, *inv.ProcessorInvoiceID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	inv.Status = enums.InvoiceStatusVoid
	inv.VoidedAt = &now
	Recompute(inv)

	if err := s.save(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *service) Get(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	return s.requireInvoice(ctx, tenantID, invoiceID)
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	query := ListQuery{
		TenantID: params.TenantID,
		Limit:    params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListByTenant(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoices")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

// ApplyProcessorInvoice folds processor-side invoice state into the
// stored row. Transitions that the status machine forbids are treated as
// stale deliveries and skipped, which is what makes webhook replays and
// reordering safe. The bool reports whether anything was written.
func (s *service) ApplyProcessorInvoice(ctx context.Context, pinv *processor.Invoice, _ time.Time) (*models.Invoice, bool, error) {
	if pinv == nil || pinv.ID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "processor invoice required")
	}
	inv, err := s.repo.FindByProcessorID(ctx, pinv.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if inv == nil {
		return nil, false, pkgerrors.Newf(pkgerrors.CodeNotFound,
			"no invoice for processor id %s", pinv.ID)
	}

	status := mapProcessorInvoiceStatus(pinv.Status)
	if status == inv.Status {
		return inv, false, nil
	}
	if !inv.Status.CanTransitionTo(status) {
		return inv, false, nil
	}

	now := time.Now().UTC()
	wasPaid := inv.Status == enums.InvoiceStatusPaid
	inv.Status = status
	inv.AmountPaidCents = pinv.AmountPaidCents
	if pinv.HostedInvoiceURL != "" {
		inv.HostedInvoiceURL = &pinv.HostedInvoiceURL
	}
	if pinv.InvoicePDFURL != "" {
		inv.InvoicePDFURL = &pinv.InvoicePDFURL
	}
	switch status {
	case enums.InvoiceStatusPaid:
		if inv.PaidAt == nil {
			inv.PaidAt = &now
		}
		// Settlement closes the books on the invoice regardless of
		// rounding drift on the processor side.
		inv.AmountPaidCents = inv.TotalCents
	case enums.InvoiceStatusVoid:
		if inv.VoidedAt == nil {
			inv.VoidedAt = &now
		}
	case enums.InvoiceStatusOpen:
		if inv.FinalizedAt == nil {
			inv.FinalizedAt = &now
		}
	}
	Recompute(inv)

	if err := s.save(ctx, inv); err != nil {
		return nil, false, err
	}

	if !wasPaid && inv.Status == enums.InvoiceStatusPaid {
		s.notifyPaid(ctx, inv)
	}
	return inv, true, nil
}

// Recompute derives every total from the line items plus payments:
// subtotal is the sum of non-tax lines, total adds tax and subtracts the
// discount, and the balance is always total minus the amount paid.
func Recompute(inv *models.Invoice) {
	var subtotal, taxCents int64
	for _, line := range inv.LineItems {
		if line.Kind == models.LineItemKindTax {
			taxCents += line.AmountCents
			continue
		}
		subtotal += line.AmountCents
	}
	inv.SubtotalCents = subtotal
	inv.TaxCents = taxCents
	inv.TotalCents = subtotal + taxCents - inv.DiscountCents
	inv.AmountDueCents = inv.TotalCents - inv.AmountPaidCents
}

func (s *service) resolvePeriod(sub *models.Subscription, params GenerateParams) (time.Time, time.Time, error) {
	periodStart := params.PeriodStart
	periodEnd := params.PeriodEnd
	if periodStart.IsZero() {
		if sub.CurrentPeriodStart == nil {
			return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "period start required")
		}
		periodStart = *sub.CurrentPeriodStart
		periodEnd = sub.CurrentPeriodEnd
	}
	if !periodEnd.After(periodStart) {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "period end must follow period start")
	}
	return periodStart.UTC(), periodEnd.UTC(), nil
}

func (s *service) buildLines(ctx context.Context, sub *models.Subscription, periodStart time.Time, usageOnly bool) ([]models.InvoiceLineItem, error) {
	var lines []models.InvoiceLineItem

	if !usageOnly {
		planName := sub.PlanID
		if plan := s.catalog.Plan(sub.PlanID); plan != nil {
			planName = plan.Name
		}
		description := fmt.Sprintf("%s plan (%s)", planName, sub.BillingInterval)
		lines = append(lines, models.InvoiceLineItem{
			Kind:            models.LineItemKindBase,
			Description:     description,
			Quantity:        1,
			UnitAmountCents: sub.PriceCents,
			AmountCents:     sub.PriceCents,
		})
	}

	aggs, err := s.usageRepo.ListAggregatesForPeriod(ctx, sub.TenantID, periodStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list usage aggregates")
	}
	for _, agg := range aggs {
		limit := s.catalog.UsageLimit(sub.PlanID, agg.UsageType)
		if limit == nil || limit.Limit <= 0 {
			continue
		}
		over := usage.OverageQuantity(agg.Total, limit.Limit)
		if over == 0 {
			continue
		}
		usageType := agg.UsageType
		lines = append(lines, models.InvoiceLineItem{
			Kind:            models.LineItemKindOverage,
			Description:     fmt.Sprintf("%s overage (%d over %d included)", usageType, over, limit.Limit),
			UsageType:       &usageType,
			Quantity:        over,
			UnitAmountCents: money.MulRate(1, limit.OverageRate),
			AmountCents:     usage.OverageCost(agg.Total, limit),
		})
	}
	return lines, nil
}

// registerWithProcessor creates and finalizes the processor-side invoice
// once; repeat finalizations reuse the stored id.
func (s *service) registerWithProcessor(ctx context.Context, inv *models.Invoice) error {
	if inv.ProcessorInvoiceID != nil && *inv.ProcessorInvoiceID != "" {
		return nil
	}
	if inv.AmountDueCents <= 0 {
		return nil
	}
	sub, err := s.billingRepo.FindSubscriptionByTenant(ctx, inv.TenantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil || sub.ProcessorCustomerID == nil || *sub.ProcessorCustomerID == "" {
		return nil
	}

	created, err := s.processor.CreateInvoice(ctx, processor.CreateInvoiceParams{
		CustomerID:  *sub.ProcessorCustomerID,
		Description: fmt.Sprintf("Billing period %s to %s", inv.PeriodStart.Format("2006-01-02"), inv.PeriodEnd.Format("2006-01-02")),
		AmountCents: inv.AmountDueCents,
		Currency:    inv.Currency,
		Metadata:    map[string]string{"tenant_id": inv.TenantID.String()},
	})
	if err != nil {
		return err
	}
	finalized, err := s.processor.FinalizeInvoice(ctx, created.ID)
	if err != nil {
		return err
	}

	inv.ProcessorInvoiceID = &finalized.ID
	if finalized.HostedInvoiceURL != "" {
		inv.HostedInvoiceURL = &finalized.HostedInvoiceURL
	}
	if finalized.InvoicePDFURL != "" {
		inv.InvoicePDFURL = &finalized.InvoicePDFURL
	}
	return nil
}

func (s *service) requireInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	if tenantID == uuid.Nil || invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and invoice id required")
	}
	inv, err := s.repo.FindByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if inv == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return inv, nil
}

func (s *service) save(ctx context.Context, inv *models.Invoice) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Update(ctx, inv)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist invoice")
	}
	return nil
}

func (s *service) notifyPaid(ctx context.Context, inv *models.Invoice) {
	err := s.notifier.Send(ctx, notifications.Message{
		TenantID: inv.TenantID.String(),
		Type:     enums.NotificationInvoicePaid,
		Subject:  fmt.Sprintf("Invoice paid: %s", money.Format(inv.TotalCents, inv.Currency)),
		Data: map[string]string{
			"invoice_id":  inv.ID.String(),
			"total_cents": fmt.Sprintf("%d", inv.TotalCents),
		},
	})
	if err != nil {
		s.logg.Error(ctx, "send invoice notification", err)
	}
}

func mapProcessorInvoiceStatus(raw string) enums.InvoiceStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid":
		return enums.InvoiceStatusPaid
	case "open":
		return enums.InvoiceStatusOpen
	case "void":
		return enums.InvoiceStatusVoid
	case "uncollectible":
		return enums.InvoiceStatusUncollectible
	default:
		return enums.InvoiceStatusDraft
	}
}
