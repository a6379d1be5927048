// Package subscriptions manages the tenant subscription lifecycle against
// the payment processor.
package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meterline/billing-engine/internal/billing"
	"github.com/meterline/billing-engine/internal/catalog"
	"github.com/meterline/billing-engine/internal/notifications"
	"github.com/meterline/billing-engine/internal/processor"
	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

// Service defines subscription lifecycle operations.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*models.Subscription, bool, error)
	ChangePlan(ctx context.Context, params ChangePlanParams) (*models.Subscription, error)
	Cancel(ctx context.Context, tenantID uuid.UUID, immediately bool) (*models.Subscription, error)
	Reactivate(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error)
	Get(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error)
	ApplyProcessorUpdate(ctx context.Context, psub *processor.Subscription, eventAt time.Time) (*models.Subscription, bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires subscription dependencies.
type ServiceParams struct {
	Repo            billing.Repository
	Catalog         *catalog.Catalog
	Processor       processor.Client
	Notifier        notifications.Service
	Tx              txRunner
	Logger          *logger.Logger
	DefaultCurrency string
}

type service struct {
	repo      billing.Repository
	catalog   *catalog.Catalog
	processor processor.Client
	notifier  notifications.Service
	tx        txRunner
	logg      *logger.Logger
	currency  string
}

// NewService wires the subscription service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing repository required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan catalog required")
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
	currency := params.DefaultCurrency
	if currency == "" {
		currency = "usd"
	}
	return &service{
		repo:      params.Repo,
		catalog:   params.Catalog,
		processor: params.Processor,
		notifier:  params.Notifier,
		tx:        params.Tx,
		logg:      params.Logger,
		currency:  currency,
	}, nil
}

// CreateParams starts a subscription for a tenant.
type CreateParams struct {
	TenantID        uuid.UUID
	PlanID          string
	Interval        enums.BillingInterval
	PaymentMethodID string
	CustomerEmail   string
	CustomerName    string
	CouponCode      string
}

// ChangePlanParams moves a tenant to a different plan or interval.
// Quantity is the seat count on the new plan; zero keeps one seat.
type ChangePlanParams struct {
	TenantID uuid.UUID
	PlanID   string
	Interval enums.BillingInterval
	Quantity int64
	Prorate  bool
}

// Create provisions the processor subscription and persists the mirror
// row. A tenant with a live subscription gets it back unchanged; a tenant
// whose previous subscription ended gets the row replaced in place so the
// one-row-per-tenant invariant holds.
func (s *service) Create(ctx context.Context, params CreateParams) (*models.Subscription, bool, error) {
	if params.TenantID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	plan := s.catalog.Plan(params.PlanID)
	if plan == nil {
		return nil, false, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown plan %q", params.PlanID)
	}
	interval := params.Interval
	if interval == "" {
		interval = enums.BillingIntervalMonth
	}
	if !interval.IsValid() {
		return nil, false, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid billing interval %q", params.Interval)
	}

	existing, err := s.repo.FindSubscriptionByTenant(ctx, params.TenantID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return existing, false, nil
	}

	customerID, err := s.resolveCustomerID(ctx, existing, params)
	if err != nil {
		return nil, false, err
	}

	priceCents := plan.PriceCents(interval)
	psub, err := s.processor.CreateSubscription(ctx, processor.CreateSubscriptionParams{
		CustomerID:      customerID,
		PlanID:          plan.ID,
		Interval:        string(interval),
		UnitAmountCents: priceCents,
		Currency:        plan.Currency,
		TrialDays:       plan.TrialDays,
		PaymentMethodID: params.PaymentMethodID,
		CouponCode:      params.CouponCode,
		Metadata:        map[string]string{"tenant_id": params.TenantID.String()},
	})
	if err != nil {
		return nil, false, err
	}

	sub, err := BuildSubscriptionModel(psub, params.TenantID, plan.ID, interval, priceCents, plan.Currency)
	if err != nil {
		s.rollbackProcessorSubscription(ctx, psub.ID)
		return nil, false, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if existing != nil {
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
			return repo.UpdateSubscription(ctx, sub)
		}
		return repo.CreateSubscription(ctx, sub)
	})
	if err != nil {
		s.rollbackProcessorSubscription(ctx, psub.ID)
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
	}

	s.notifyChange(ctx, sub, fmt.Sprintf("Subscribed to %s", plan.Name))
	return sub, true, nil
}

func (s *service) ChangePlan(ctx context.Context, params ChangePlanParams) (*models.Subscription, error) {
	if params.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	plan := s.catalog.Plan(params.PlanID)
	if plan == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown plan %q", params.PlanID)
	}
	interval := params.Interval
	if interval == "" {
		interval = enums.BillingIntervalMonth
	}
	if !interval.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid billing interval %q", params.Interval)
	}
	if params.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}

	sub, err := s.requireLiveSubscription(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == plan.ID && sub.BillingInterval == interval {
		return sub, nil
	}

	priceCents := plan.PriceCents(interval)
	psub, err := s.processor.UpdateSubscription(ctx, sub.ProcessorSubscriptionID, processor.UpdateSubscriptionParams{
		PlanID:          plan.ID,
		Interval:        string(interval),
		UnitAmountCents: priceCents,
		Currency:        plan.Currency,
		Quantity:        params.Quantity,
		Prorate:         params.Prorate,
	})
	if err != nil {
		return nil, err
	}

	previousPlan := sub.PlanID
	sub.PlanID = plan.ID
	sub.BillingInterval = interval
	sub.PriceCents = priceCents
	sub.Currency = plan.Currency
	if _, err := ApplyProcessorState(sub, psub, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.saveSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.notifyChange(ctx, sub, fmt.Sprintf("Plan changed from %s to %s", previousPlan, plan.ID))
	return sub, nil
}

func (s *service) Cancel(ctx context.Context, tenantID uuid.UUID, immediately bool) (*models.Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	sub, err := s.requireLiveSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	psub, err := s.processor.CancelSubscription(ctx, sub.ProcessorSubscriptionID, immediately)
	if err != nil {
		return nil, err
	}
	if _, err := ApplyProcessorState(sub, psub, time.Now().UTC()); err != nil {
		return nil, err
	}
	if immediately && !sub.Status.IsTerminal() {
		now := time.Now().UTC()
		sub.Status = enums.SubscriptionStatusCanceled
		if sub.CanceledAt == nil {
			sub.CanceledAt = &now
		}
		if sub.EndedAt == nil {
			sub.EndedAt = &now
		}
	}
	if err := s.saveSubscription(ctx, sub); err != nil {
		return nil, err
	}

	subject := "Subscription will cancel at period end"
	if immediately {
		subject = "Subscription canceled"
	}
	s.notifyChange(ctx, sub, subject)
	return sub, nil
}

// Reactivate clears a pending period-end cancellation before it takes
// effect. Ended subscriptions need a new Create instead.
func (s *service) Reactivate(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	sub, err := s.requireLiveSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return sub, nil
	}

	psub, err := s.processor.ResumeSubscription(ctx, sub.ProcessorSubscriptionID)
	if err != nil {
		return nil, err
	}
	if _, err := ApplyProcessorState(sub, psub, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.saveSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.notifyChange(ctx, sub, "Subscription reactivated")
	return sub, nil
}

func (s *service) Get(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	sub, err := s.repo.FindSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

// ApplyProcessorUpdate is the webhook entry point: it folds processor
// state into the stored row, refusing stale or terminal-reversing
// updates. The bool reports whether anything was written.
func (s *service) ApplyProcessorUpdate(ctx context.Context, psub *processor.Subscription, eventAt time.Time) (*models.Subscription, bool, error) {
	if psub == nil || psub.ID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "processor subscription required")
	}
	sub, err := s.repo.FindSubscriptionByProcessorID(ctx, psub.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, false, pkgerrors.Newf(pkgerrors.CodeNotFound,
			"no subscription for processor id %s", psub.ID)
	}

	wasTerminal := sub.Status.IsTerminal()
	applied, err := ApplyProcessorState(sub, psub, eventAt)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return sub, false, nil
	}
	if err := s.saveSubscription(ctx, sub); err != nil {
		return nil, false, err
	}

	if !wasTerminal && sub.Status.IsTerminal() {
		s.notify(ctx, sub, enums.NotificationSubscriptionEnded, "Subscription ended")
	}
	return sub, true, nil
}

func (s *service) resolveCustomerID(ctx context.Context, existing *models.Subscription, params CreateParams) (string, error) {
	if existing != nil && existing.ProcessorCustomerID != nil && *existing.ProcessorCustomerID != "" {
		return *existing.ProcessorCustomerID, nil
	}
	customerID, err := s.processor.CreateCustomer(ctx, processor.CustomerParams{
		TenantID: params.TenantID.String(),
		Email:    params.CustomerEmail,
		Name:     params.CustomerName,
	})
	if err != nil {
		return "", err
	}
	if params.PaymentMethodID != "" {
		if err := s.processor.AttachPaymentMethod(ctx, customerID, params.PaymentMethodID); err != nil {
			return "", err
		}
	}
	return customerID, nil
}

func (s *service) requireLiveSubscription(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if sub.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already ended")
	}
	return sub, nil
}

func (s *service) saveSubscription(ctx context.Context, sub *models.Subscription) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
	}
	return nil
}

// rollbackProcessorSubscription undoes the remote create when the local
// write fails, so the tenant is never charged for a row we do not have.
func (s *service) rollbackProcessorSubscription(ctx context.Context, processorSubscriptionID string) {
	if processorSubscriptionID == "" {
		return
	}
	if _, err := s.processor.CancelSubscription(ctx, processorSubscriptionID, true); err != nil {
		s.logg.Error(ctx, "rollback processor subscription "+processorSubscriptionID, err)
	}
}

func (s *service) notifyChange(ctx context.Context, sub *models.Subscription, subject string) {
	s.notify(ctx, sub, enums.NotificationSubscriptionChange, subject)
}

func (s *service) notify(ctx context.Context, sub *models.Subscription, kind enums.NotificationType, subject string) {
	err := s.notifier.Send(ctx, notifications.Message{
		TenantID: sub.TenantID.String(),
		Type:     kind,
		Subject:  subject,
		Data: map[string]string{
			"plan_id": sub.PlanID,
			"status":  string(sub.Status),
		},
	})
	if err != nil {
		s.logg.Error(ctx, "send subscription notification", err)
	}
}
