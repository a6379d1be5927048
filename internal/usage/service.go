// Package usage meters tenant consumption against plan limits.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meterline/billing-engine/internal/billing"
	"github.com/meterline/billing-engine/internal/catalog"
	"github.com/meterline/billing-engine/internal/notifications"
	"github.com/meterline/billing-engine/pkg/config"
	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
	"github.com/meterline/billing-engine/pkg/money"
)

// Service defines metering operations.
type Service interface {
	RecordUsage(ctx context.Context, params RecordParams) (*RecordResult, error)
	ValidateUsage(ctx context.Context, tenantID uuid.UUID, usageType string, quantity int64) (*Validation, error)
	GetUsageSummary(ctx context.Context, tenantID uuid.UUID, at time.Time) (*Summary, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires metering dependencies.
type ServiceParams struct {
	Repo        Repository
	BillingRepo billing.Repository
	Catalog     *catalog.Catalog
	Notifier    notifications.Service
	Tx          txRunner
	Logger      *logger.Logger
	Config      config.UsageConfig
}

type service struct {
	repo        Repository
	billingRepo billing.Repository
	catalog     *catalog.Catalog
	notifier    notifications.Service
	tx          txRunner
	logg        *logger.Logger
	cfg         config.UsageConfig
}

// NewService wires the metering service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage repository required")
	}
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing repository required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan catalog required")
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
		catalog:     params.Catalog,
		notifier:    params.Notifier,
		tx:          params.Tx,
		logg:        params.Logger,
		cfg:         params.Config,
	}, nil
}

// RecordParams describes one consumption fact.
type RecordParams struct {
	TenantID   uuid.UUID
	UsageType  string
	Quantity   int64
	OccurredAt time.Time
}

// RecordResult reports the bucket state after the record was applied.
type RecordResult struct {
	RecordID    uuid.UUID `json:"record_id"`
	UsageType   string    `json:"usage_type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Total       int64     `json:"total"`
	Limit       int64     `json:"limit,omitempty"`
	PctOfLimit  int       `json:"pct_of_limit,omitempty"`
}

// Validation is the read-only admission answer.
type Validation struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Current   int64  `json:"current"`
	Limit     int64  `json:"limit,omitempty"`
	HardLimit int64  `json:"hard_limit,omitempty"`
	Remaining int64  `json:"remaining,omitempty"`
}

// SummaryItem is one usage type's state for the period.
type SummaryItem struct {
	UsageType        string `json:"usage_type"`
	Total            int64  `json:"total"`
	Limit            int64  `json:"limit,omitempty"`
	PctOfLimit       int    `json:"pct_of_limit,omitempty"`
	OverageQuantity  int64  `json:"overage_quantity"`
	OverageCostCents int64  `json:"overage_cost_cents"`
}

// Summary is the tenant's consumption for one metering period.
type Summary struct {
	TenantID       uuid.UUID     `json:"tenant_id"`
	PlanID         string        `json:"plan_id"`
	PeriodStart    time.Time     `json:"period_start"`
	PeriodEnd      time.Time     `json:"period_end"`
	Items          []SummaryItem `json:"items"`
	TotalCostCents int64         `json:"total_cost_cents"`
}

func (s *service) RecordUsage(ctx context.Context, params RecordParams) (*RecordResult, error) {
	if params.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if params.UsageType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage type required")
	}
	if params.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	sub, err := s.meterableSubscription(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}

	limit := s.catalog.UsageLimit(sub.PlanID, params.UsageType)
	periodStart, periodEnd := PeriodBounds(occurredAt, s.cfg.BucketInterval)
	key := AggregateKey{
		TenantID:    params.TenantID,
		UsageType:   params.UsageType,
		PeriodStart: periodStart,
	}

	if limit != nil && s.cfg.EnforceHardLimits && limit.HardLimit > 0 {
		current, err := s.currentTotal(ctx, key)
		if err != nil {
			return nil, err
		}
		if current+params.Quantity > s.hardCeiling(limit) {
			return nil, pkgerrors.Newf(pkgerrors.CodeUsageLimit,
				"usage limit reached for %s", params.UsageType)
		}
	}

	record := &models.UsageRecord{
		TenantID:       params.TenantID,
		SubscriptionID: sub.ID,
		UsageType:      params.UsageType,
		Quantity:       params.Quantity,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		RecordedAt:     occurredAt,
	}

	var agg *models.UsageAggregate
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateRecord(ctx, record); err != nil {
			return err
		}
		updated, err := repo.AddToAggregate(ctx, key, periodEnd, params.Quantity)
		if err != nil {
			return err
		}
		agg = updated
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record usage")
	}

	result := &RecordResult{
		RecordID:    record.ID,
		UsageType:   params.UsageType,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Total:       agg.Total,
	}
	if limit != nil && limit.Limit > 0 {
		result.Limit = limit.Limit
		result.PctOfLimit = s.displayPct(agg.Total, limit.Limit)
		s.notifyThresholds(ctx, params.TenantID, params.UsageType, limit, agg)
	}
	return result, nil
}

func (s *service) ValidateUsage(ctx context.Context, tenantID uuid.UUID, usageType string, quantity int64) (*Validation, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if usageType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage type required")
	}
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}

	sub, err := s.meterableSubscription(ctx, tenantID)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeStateConflict || pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			return &Validation{Allowed: false, Reason: "no billable subscription"}, nil
		}
		return nil, err
	}

	limit := s.catalog.UsageLimit(sub.PlanID, usageType)
	if limit == nil || limit.HardLimit <= 0 || !s.cfg.EnforceHardLimits {
		return &Validation{Allowed: true}, nil
	}

	periodStart, _ := PeriodBounds(time.Now().UTC(), s.cfg.BucketInterval)
	current, err := s.currentTotal(ctx, AggregateKey{
		TenantID:    tenantID,
		UsageType:   usageType,
		PeriodStart: periodStart,
	})
	if err != nil {
		return nil, err
	}

	ceiling := s.hardCeiling(limit)
	remaining := ceiling - current
	if remaining < 0 {
		remaining = 0
	}
	v := &Validation{
		Current:   current,
		Limit:     limit.Limit,
		HardLimit: limit.HardLimit,
		Remaining: remaining,
	}
	if current+quantity > ceiling {
		v.Reason = "hard limit reached"
		return v, nil
	}
	v.Allowed = true
	return v, nil
}

func (s *service) GetUsageSummary(ctx context.Context, tenantID uuid.UUID, at time.Time) (*Summary, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	sub, err := s.billingRepo.FindSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	periodStart, periodEnd := PeriodBounds(at, s.cfg.BucketInterval)

	aggs, err := s.repo.ListAggregatesForPeriod(ctx, tenantID, periodStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list usage aggregates")
	}

	summary := &Summary{
		TenantID:    tenantID,
		PlanID:      sub.PlanID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	for _, agg := range aggs {
		item := SummaryItem{
			UsageType: agg.UsageType,
			Total:     agg.Total,
		}
		if limit := s.catalog.UsageLimit(sub.PlanID, agg.UsageType); limit != nil && limit.Limit > 0 {
			item.Limit = limit.Limit
			item.PctOfLimit = s.displayPct(agg.Total, limit.Limit)
			item.OverageQuantity = OverageQuantity(agg.Total, limit.Limit)
			item.OverageCostCents = OverageCost(agg.Total, limit)
		}
		summary.TotalCostCents += item.OverageCostCents
		summary.Items = append(summary.Items, item)
	}
	return summary, nil
}

// OverageQuantity returns the units consumed beyond the included limit.
func OverageQuantity(total, limit int64) int64 {
	if limit <= 0 || total <= limit {
		return 0
	}
	return total - limit
}

// OverageCost prices the units beyond the included limit at the plan's
// overage rate.
func OverageCost(total int64, limit *catalog.UsageLimit) int64 {
	if limit == nil {
		return 0
	}
	over := OverageQuantity(total, limit.Limit)
	if over == 0 {
		return 0
	}
	return money.MulRate(over, limit.OverageRate)
}

func (s *service) meterableSubscription(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.billingRepo.FindSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	switch sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing, enums.SubscriptionStatusPastDue:
		return sub, nil
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict,
			"subscription status %s does not allow metering", sub.Status)
	}
}

func (s *service) currentTotal(ctx context.Context, key AggregateKey) (int64, error) {
	agg, err := s.repo.FindAggregate(ctx, key)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage aggregate")
	}
	if agg == nil {
		return 0, nil
	}
	return agg.Total, nil
}

// displayPct reports consumption as a share of the included limit,
// clamped to the configured cap so overage never inflates the reading.
func (s *service) displayPct(total, limit int64) int {
	pct := int(total * 100 / limit)
	capPct := s.cfg.SummaryDisplayCapPct
	if capPct <= 0 {
		capPct = 100
	}
	if pct > capPct {
		return capPct
	}
	return pct
}

// hardCeiling is the hard limit plus the configured grace percentage.
func (s *service) hardCeiling(limit *catalog.UsageLimit) int64 {
	ceiling := limit.HardLimit
	if s.cfg.GracePeriodPercentage > 0 {
		ceiling += limit.HardLimit * int64(s.cfg.GracePeriodPercentage) / 100
	}
	return ceiling
}

// notifyThresholds sends at most one notification per crossed threshold
// per period. Delivery failures are logged, never surfaced to recorders.
func (s *service) notifyThresholds(ctx context.Context, tenantID uuid.UUID, usageType string, limit *catalog.UsageLimit, agg *models.UsageAggregate) {
	pct := int(agg.Total * 100 / limit.Limit)
	crossed := 0
	for _, threshold := range s.cfg.WarningThresholds() {
		if pct >= threshold && threshold > crossed {
			crossed = threshold
		}
	}
	if crossed == 0 || crossed <= agg.LastNotifiedPct {
		return
	}

	advanced, err := s.repo.AdvanceNotifiedPct(ctx, agg.ID, crossed)
	if err != nil {
		s.logg.Error(ctx, "advance usage notification mark", err)
		return
	}
	if !advanced {
		return
	}

	kind := enums.NotificationUsageWarning
	subject := fmt.Sprintf("Usage for %s reached %d%% of your plan limit", usageType, crossed)
	if crossed >= 100 {
		kind = enums.NotificationUsageLimitReached
		subject = fmt.Sprintf("Usage limit reached for %s", usageType)
	}
	err = s.notifier.Send(ctx, notifications.Message{
		TenantID: tenantID.String(),
		Type:     kind,
		Subject:  subject,
		Data: map[string]string{
			"recipient":  s.cfg.NotificationsRecipient,
			"usage_type": usageType,
			"total":      fmt.Sprintf("%d", agg.Total),
			"limit":      fmt.Sprintf("%d", limit.Limit),
			"pct":        fmt.Sprintf("%d", crossed),
		},
	})
	if err != nil {
		s.logg.Error(ctx, "send usage notification", err)
	}
}
