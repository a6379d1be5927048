// Package reconciler applies payment-processor webhook deliveries to the
// engine's own records. Deliveries are verified, journaled, deduplicated,
// and dispatched to the owning service; failures stay on file for the
// retry sweep.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/meterline/billing-engine/internal/billing"
	"github.com/meterline/billing-engine/internal/invoices"
	"github.com/meterline/billing-engine/internal/notifications"
	"github.com/meterline/billing-engine/internal/processor"
	"github.com/meterline/billing-engine/internal/subscriptions"
	"github.com/meterline/billing-engine/pkg/config"
	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
	"github.com/meterline/billing-engine/pkg/metrics"
)

// Service ingests processor webhook deliveries.
type Service interface {
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (*Result, error)
	ProcessFailedEvents(ctx context.Context) (*SweepReport, error)
}

// Result reports what a delivery amounted to.
type Result struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Duplicate bool   `json:"duplicate"`
	Skipped   bool   `json:"skipped"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires reconciler dependencies.
type ServiceParams struct {
	Repo          billing.Repository
	Subscriptions subscriptions.Service
	Invoices      invoices.Service
	Processor     processor.Client
	Guard         *IdempotencyGuard
	Notifier      notifications.Service
	Metrics       *metrics.WebhookMetrics
	Tx            txRunner
	Logger        *logger.Logger
	Webhook       config.WebhookConfig
}

type service struct {
	repo     billing.Repository
	subs     subscriptions.Service
	invoices invoices.Service
	proc     processor.Client
	guard    *IdempotencyGuard
	notifier notifications.Service
	metrics  *metrics.WebhookMetrics
	tx       txRunner
	logg     *logger.Logger
	cfg      config.WebhookConfig
}

// NewService wires the reconciler.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing repository required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription service required")
	}
	if params.Invoices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "invoice service required")
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
		repo:     params.Repo,
		subs:     params.Subscriptions,
		invoices: params.Invoices,
		proc:     params.Processor,
		guard:    params.Guard,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		tx:       params.Tx,
		logg:     params.Logger,
		cfg:      params.Webhook,
	}, nil
}

// ProcessWebhook verifies a delivery, journals it, and applies it exactly
// once. The database row is the source of truth for whether an event has
// been applied; the redis guard is only a fast path in front of it.
func (s *service) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*Result, error) {
	event, err := s.proc.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithEventID(ctx, event.ID)

	kind, handled := ParseEventKind(event.Type)
	if !handled {
		s.metrics.IncSkipped()
		s.logg.Debug(ctx, "ignoring unhandled webhook type "+event.Type)
		return &Result{EventID: event.ID, Type: event.Type, Skipped: true}, nil
	}

	if s.cfg.IdempotencyCheck {
		duplicate, guardErr := s.guard.CheckAndMark(ctx, event.ID)
		if guardErr != nil {
			s.logg.Warn(ctx, "idempotency store unavailable, falling through to database")
		} else if duplicate {
			row, lookupErr := s.repo.FindBillingEventByExternalID(ctx, event.ID)
			if lookupErr == nil && (row == nil || row.Processed) {
				s.metrics.IncSkipped()
				return &Result{EventID: event.ID, Type: event.Type, Duplicate: true}, nil
			}
			// The previous attempt journaled the event but failed to
			// apply it; reprocess.
		}
	}

	row, err := s.repo.FindBillingEventByExternalID(ctx, event.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing event")
	}
	if row != nil && row.Processed {
		s.metrics.IncSkipped()
		return &Result{EventID: event.ID, Type: event.Type, Duplicate: true}, nil
	}
	if row == nil {
		row = &models.BillingEvent{
			ExternalEventID: event.ID,
			Type:            event.Type,
			Payload:         event.Data,
			EventCreatedAt:  time.Unix(event.Created, 0).UTC(),
		}
		if err := s.repo.CreateBillingEvent(ctx, row); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "journal billing event")
		}
	}

	if err := s.applyEvent(ctx, kind, row); err != nil {
		s.recordFailure(ctx, row, err)
		return nil, err
	}

	if err := s.repo.MarkBillingEventProcessed(ctx, row.ID, time.Now().UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark billing event processed")
	}
	s.metrics.IncProcessed(event.Type)
	return &Result{EventID: event.ID, Type: event.Type}, nil
}

// applyEvent dispatches a journaled event to the owning service. Handlers
// return nil for states that need no action (unknown subscription on a
// created event, already-applied transitions) so the event is marked
// processed instead of retried forever.
func (s *service) applyEvent(ctx context.Context, kind EventKind, row *models.BillingEvent) error {
	eventAt := row.EventCreatedAt
	switch kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return s.applySubscription(ctx, row.Payload, eventAt)
	case EventTrialWillEnd:
		return s.notifyTrialEnding(ctx, row.Payload)
	case EventInvoicePaid, EventInvoiceFinalized:
		return s.applyInvoice(ctx, row.Payload, eventAt)
	case EventInvoicePaymentFail:
		return s.applyPaymentFailure(ctx, row.Payload, eventAt)
	case EventPaymentMethodAttach:
		return s.attachPaymentMethod(ctx, row.Payload)
	case EventPaymentMethodDetach:
		return s.detachPaymentMethod(ctx, row.Payload)
	default:
		return pkgerrors.Newf(pkgerrors.CodeInternal, "no handler for event kind %s", kind)
	}
}

func (s *service) applySubscription(ctx context.Context, payload []byte, eventAt time.Time) error {
	psub, err := decodeSubscription(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription payload")
	}
	_, applied, err := s.subs.ApplyProcessorUpdate(ctx, psub, eventAt)
	if err != nil {
		// Subscriptions are provisioned through the API before the
		// processor confirms them, so an unknown id is a row created
		// out of band and not ours to track.
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			s.logg.Warn(ctx, "no local subscription for processor id "+psub.ID)
			return nil
		}
		return err
	}
	if !applied {
		s.logg.Debug(ctx, "subscription event was stale, nothing applied")
	}
	return nil
}

func (s *service) notifyTrialEnding(ctx context.Context, payload []byte) error {
	psub, err := decodeSubscription(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription payload")
	}
	sub, err := s.repo.FindSubscriptionByProcessorID(ctx, psub.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		s.logg.Warn(ctx, "no local subscription for processor id "+psub.ID)
		return nil
	}
	return s.notifier.Send(ctx, notifications.Message{
		TenantID: sub.TenantID.String(),
		Type:     enums.NotificationTrialEnding,
		Subject:  "Trial ending soon",
		Data: map[string]string{
			"plan_id":   sub.PlanID,
			"trial_end": fmt.Sprintf("%d", psub.TrialEnd),
		},
	})
}

func (s *service) applyInvoice(ctx context.Context, payload []byte, eventAt time.Time) error {
	_, pinv, err := decodeInvoice(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice payload")
	}
	_, _, err = s.invoices.ApplyProcessorInvoice(ctx, pinv, eventAt)
	if err != nil && pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
		s.logg.Warn(ctx, "no local invoice for processor id "+pinv.ID)
		return nil
	}
	return err
}

// applyPaymentFailure marks the subscription past due and tells the
// tenant. The invoice itself stays open; the processor keeps retrying
// and a later invoice.paid settles it.
func (s *service) applyPaymentFailure(ctx context.Context, payload []byte, eventAt time.Time) error {
	raw, _, err := decodeInvoice(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice payload")
	}
	if raw.Subscription == "" {
		return nil
	}

	sub, _, err := s.subs.ApplyProcessorUpdate(ctx, &processor.Subscription{
		ID:     raw.Subscription,
		Status: "past_due",
	}, eventAt)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			s.logg.Warn(ctx, "no local subscription for processor id "+raw.Subscription)
			return nil
		}
		return err
	}

	return s.notifier.Send(ctx, notifications.Message{
		TenantID: sub.TenantID.String(),
		Type:     enums.NotificationPaymentFailed,
		Subject:  "Payment failed",
		Data: map[string]string{
			"invoice_id": raw.ID,
			"plan_id":    sub.PlanID,
		},
	})
}

func (s *service) attachPaymentMethod(ctx context.Context, payload []byte) error {
	method, err := decodePaymentMethod(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment method payload")
	}
	existing, err := s.repo.FindPaymentMethodByProcessorID(ctx, method.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
	}
	if existing != nil {
		return nil
	}

	sub, err := s.repo.FindSubscriptionByProcessorCustomerID(ctx, method.Customer)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve tenant")
	}
	if sub == nil {
		s.logg.Warn(ctx, "no tenant for processor customer "+method.Customer)
		return nil
	}

	row := &models.PaymentMethod{
		TenantID:                 sub.TenantID,
		ProcessorPaymentMethodID: method.ID,
	}
	if method.Card.Brand != "" {
		row.Brand = &method.Card.Brand
	}
	if method.Card.Last4 != "" {
		row.Last4 = &method.Card.Last4
	}
	if method.Card.ExpMonth > 0 {
		row.ExpMonth = &method.Card.ExpMonth
	}
	if method.Card.ExpYear > 0 {
		row.ExpYear = &method.Card.ExpYear
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).CreatePaymentMethod(ctx, row)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment method")
	}
	return nil
}

func (s *service) detachPaymentMethod(ctx context.Context, payload []byte) error {
	method, err := decodePaymentMethod(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment method payload")
	}
	existing, err := s.repo.FindPaymentMethodByProcessorID(ctx, method.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
	}
	if existing == nil {
		return nil
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).DeletePaymentMethod(ctx, existing.ID)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete payment method")
	}
	return nil
}

// recordFailure keeps the event on file for the retry sweep and releases
// the redis claim so a processor redelivery is not swallowed.
func (s *service) recordFailure(ctx context.Context, row *models.BillingEvent, cause error) {
	if err := s.repo.RecordBillingEventFailure(ctx, row.ID, cause.Error()); err != nil {
		s.logg.Error(ctx, "record billing event failure", err)
	}
	if err := s.guard.Delete(ctx, row.ExternalEventID); err != nil {
		s.logg.Error(ctx, "release idempotency claim", err)
	}
	s.metrics.IncFailed(row.Type)
}
