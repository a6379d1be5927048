package subscriptions

import (
	"context"
	"errors"
	"testing"
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

type stubBillingRepo struct {
	billing.Repository

	existing  *models.Subscription
	created   []*models.Subscription
	updated   []*models.Subscription
	createErr error
}

func (r *stubBillingRepo) WithTx(*gorm.DB) billing.Repository { return r }

func (r *stubBillingRepo) FindSubscriptionByTenant(context.Context, uuid.UUID) (*models.Subscription, error) {
	return r.existing, nil
}

func (r *stubBillingRepo) FindSubscriptionByProcessorID(_ context.Context, id string) (*models.Subscription, error) {
	if r.existing != nil && r.existing.ProcessorSubscriptionID == id {
		return r.existing, nil
	}
	return nil, nil
}

func (r *stubBillingRepo) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	if r.createErr != nil {
		return r.createErr
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	r.created = append(r.created, sub)
	return nil
}

func (r *stubBillingRepo) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	r.updated = append(r.updated, sub)
	return nil
}

type stubProcessor struct {
	processor.Client

	createResp *processor.Subscription
	updateResp *processor.Subscription
	cancelResp *processor.Subscription
	resumeResp *processor.Subscription

	createdCustomer bool
	updateParams    *processor.UpdateSubscriptionParams
	canceledIDs     []string
	canceledNow     []bool
}

func (p *stubProcessor) CreateCustomer(context.Context, processor.CustomerParams) (string, error) {
	p.createdCustomer = true
	return "cus_test", nil
}

func (p *stubProcessor) AttachPaymentMethod(context.Context, string, string) error { return nil }

func (p *stubProcessor) CreateSubscription(_ context.Context, params processor.CreateSubscriptionParams) (*processor.Subscription, error) {
	if p.createResp == nil {
		return nil, errors.New("no create response configured")
	}
	resp := *p.createResp
	if resp.Metadata == nil {
		resp.Metadata = params.Metadata
	}
	return &resp, nil
}

func (p *stubProcessor) UpdateSubscription(_ context.Context, _ string, params processor.UpdateSubscriptionParams) (*processor.Subscription, error) {
	p.updateParams = &params
	if p.updateResp == nil {
		return nil, errors.New("no update response configured")
	}
	resp := *p.updateResp
	return &resp, nil
}

func (p *stubProcessor) CancelSubscription(_ context.Context, id string, immediately bool) (*processor.Subscription, error) {
	p.canceledIDs = append(p.canceledIDs, id)
	p.canceledNow = append(p.canceledNow, immediately)
	if p.cancelResp == nil {
		return &processor.Subscription{ID: id, Status: "canceled"}, nil
	}
	resp := *p.cancelResp
	return &resp, nil
}

func (p *stubProcessor) ResumeSubscription(_ context.Context, id string) (*processor.Subscription, error) {
	if p.resumeResp == nil {
		return &processor.Subscription{ID: id, Status: "active"}, nil
	}
	resp := *p.resumeResp
	return &resp, nil
}

type stubNotifier struct {
	sent []notifications.Message
}

func (n *stubNotifier) Send(_ context.Context, msg notifications.Message) error {
	n.sent = append(n.sent, msg)
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestService(t *testing.T, repo *stubBillingRepo, proc *stubProcessor, notifier *stubNotifier) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Catalog:   catalog.Default(),
		Processor: proc,
		Notifier:  notifier,
		Tx:        stubTxRunner{},
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func TestCreateReturnsExistingSubscription(t *testing.T) {
	tenantID := uuid.New()
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_existing",
			Status:                  enums.SubscriptionStatusActive,
		},
	}
	proc := &stubProcessor{}
	svc := newTestService(t, repo, proc, &stubNotifier{})

	sub, created, err := svc.Create(context.Background(), CreateParams{
		TenantID: tenantID,
		PlanID:   "starter",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if created {
		t.Fatalf("expected existing subscription, got create")
	}
	if sub.ProcessorSubscriptionID != "sub_existing" {
		t.Fatalf("expected existing subscription returned")
	}
	if proc.createdCustomer {
		t.Fatalf("processor must not be called for live subscriptions")
	}
}

func TestCreateStartsTrialForPlanWithTrialDays(t *testing.T) {
	tenantID := uuid.New()
	trialEnd := time.Now().UTC().AddDate(0, 0, 14)
	repo := &stubBillingRepo{}
	proc := &stubProcessor{
		createResp: &processor.Subscription{
			ID:                 "sub_trial",
			CustomerID:         "cus_test",
			Status:             "trialing",
			CurrentPeriodStart: time.Now().UTC().Unix(),
			CurrentPeriodEnd:   trialEnd.Unix(),
			TrialEnd:           trialEnd.Unix(),
		},
	}
	svc := newTestService(t, repo, proc, &stubNotifier{})

	sub, created, err := svc.Create(context.Background(), CreateParams{
		TenantID: tenantID,
		PlanID:   "pro",
		Interval: enums.BillingIntervalMonth,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !created {
		t.Fatalf("expected creation")
	}
	if sub.Status != enums.SubscriptionStatusTrialing {
		t.Fatalf("expected trialing, got %s", sub.Status)
	}
	if sub.TrialEnd == nil {
		t.Fatalf("expected trial end populated")
	}
	if sub.PriceCents != 2900 {
		t.Fatalf("expected pro monthly price, got %d", sub.PriceCents)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected subscription row created")
	}
}

func TestCreateRejectsUnknownPlan(t *testing.T) {
	svc := newTestService(t, &stubBillingRepo{}, &stubProcessor{}, &stubNotifier{})

	_, _, err := svc.Create(context.Background(), CreateParams{
		TenantID: uuid.New(),
		PlanID:   "enterprise",
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRollsBackProcessorOnPersistFailure(t *testing.T) {
	repo := &stubBillingRepo{createErr: errors.New("insert failed")}
	proc := &stubProcessor{
		createResp: &processor.Subscription{
			ID:               "sub_orphan",
			Status:           "active",
			CurrentPeriodEnd: time.Now().UTC().AddDate(0, 1, 0).Unix(),
		},
	}
	svc := newTestService(t, repo, proc, &stubNotifier{})

	_, _, err := svc.Create(context.Background(), CreateParams{
		TenantID: uuid.New(),
		PlanID:   "starter",
	})
	if err == nil {
		t.Fatalf("expected persistence failure")
	}
	if len(proc.canceledIDs) != 1 || proc.canceledIDs[0] != "sub_orphan" {
		t.Fatalf("expected processor subscription rolled back")
	}
	if !proc.canceledNow[0] {
		t.Fatalf("rollback must cancel immediately")
	}
}

func TestChangePlanUpgradesWithProration(t *testing.T) {
	tenantID := uuid.New()
	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_1",
			Status:                  enums.SubscriptionStatusActive,
			BillingInterval:         enums.BillingIntervalMonth,
			PriceCents:              900,
			CurrentPeriodEnd:        periodEnd,
		},
	}
	proc := &stubProcessor{
		updateResp: &processor.Subscription{
			ID:               "sub_1",
			Status:           "active",
			CurrentPeriodEnd: periodEnd.Unix(),
		},
	}
	notifier := &stubNotifier{}
	svc := newTestService(t, repo, proc, notifier)

	sub, err := svc.ChangePlan(context.Background(), ChangePlanParams{
		TenantID: tenantID,
		PlanID:   "pro",
		Interval: enums.BillingIntervalMonth,
		Prorate:  true,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if sub.PlanID != "pro" || sub.PriceCents != 2900 {
		t.Fatalf("expected pro plan at 2900, got %s at %d", sub.PlanID, sub.PriceCents)
	}
	if proc.updateParams == nil || !proc.updateParams.Prorate {
		t.Fatalf("expected prorated processor update")
	}
	if proc.updateParams.UnitAmountCents != 2900 {
		t.Fatalf("expected new unit amount sent to processor")
	}
	if len(repo.updated) != 1 {
		t.Fatalf("expected subscription row updated")
	}
}

func TestChangePlanForwardsQuantity(t *testing.T) {
	tenantID := uuid.New()
	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_1",
			Status:                  enums.SubscriptionStatusActive,
			BillingInterval:         enums.BillingIntervalMonth,
			PriceCents:              900,
			CurrentPeriodEnd:        periodEnd,
		},
	}
	proc := &stubProcessor{
		updateResp: &processor.Subscription{
			ID:               "sub_1",
			Status:           "active",
			CurrentPeriodEnd: periodEnd.Unix(),
		},
	}
	notifier := &stubNotifier{}
	svc := newTestService(t, repo, proc, notifier)

	if _, err := svc.ChangePlan(context.Background(), ChangePlanParams{
		TenantID: tenantID,
		PlanID:   "pro",
		Interval: enums.BillingIntervalMonth,
		Quantity: 5,
		Prorate:  true,
	}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if proc.updateParams == nil || proc.updateParams.Quantity != 5 {
		t.Fatalf("expected seat count forwarded to processor, got %+v", proc.updateParams)
	}

	if _, err := svc.ChangePlan(context.Background(), ChangePlanParams{
		TenantID: tenantID,
		PlanID:   "starter",
		Quantity: -1,
	}); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for negative quantity, got %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Type != enums.NotificationSubscriptionChange {
		t.Fatalf("expected plan change notification")
	}
}

func TestCancelAtPeriodEndKeepsSubscriptionLive(t *testing.T) {
	tenantID := uuid.New()
	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_1",
			Status:                  enums.SubscriptionStatusActive,
			CurrentPeriodEnd:        periodEnd,
		},
	}
	proc := &stubProcessor{
		cancelResp: &processor.Subscription{
			ID:                "sub_1",
			Status:            "active",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  periodEnd.Unix(),
		},
	}
	svc := newTestService(t, repo, proc, &stubNotifier{})

	sub, err := svc.Cancel(context.Background(), tenantID, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected still active, got %s", sub.Status)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatalf("expected cancel at period end flagged")
	}
	if len(proc.canceledNow) != 1 || proc.canceledNow[0] {
		t.Fatalf("expected period-end cancel, not immediate")
	}
}

func TestCancelImmediatelyEndsSubscription(t *testing.T) {
	tenantID := uuid.New()
	now := time.Now().UTC()
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_1",
			Status:                  enums.SubscriptionStatusActive,
			CurrentPeriodEnd:        now.AddDate(0, 1, 0),
		},
	}
	proc := &stubProcessor{
		cancelResp: &processor.Subscription{
			ID:         "sub_1",
			Status:     "canceled",
			CanceledAt: now.Unix(),
			EndedAt:    now.Unix(),
		},
	}
	svc := newTestService(t, repo, proc, &stubNotifier{})

	sub, err := svc.Cancel(context.Background(), tenantID, true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if sub.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
	if sub.CanceledAt == nil || sub.EndedAt == nil {
		t.Fatalf("expected cancellation timestamps")
	}
}

func TestReactivateClearsPendingCancellation(t *testing.T) {
	tenantID := uuid.New()
	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_1",
			Status:                  enums.SubscriptionStatusActive,
			CancelAtPeriodEnd:       true,
			CurrentPeriodEnd:        periodEnd,
		},
	}
	proc := &stubProcessor{
		resumeResp: &processor.Subscription{
			ID:               "sub_1",
			Status:           "active",
			CurrentPeriodEnd: periodEnd.Unix(),
		},
	}
	svc := newTestService(t, repo, proc, &stubNotifier{})

	sub, err := svc.Reactivate(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if sub.CancelAtPeriodEnd {
		t.Fatalf("expected pending cancellation cleared")
	}
}

func TestApplyProcessorUpdateSkipsStaleEvents(t *testing.T) {
	tenantID := uuid.New()
	appliedAt := time.Now().UTC()
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_1",
			Status:                  enums.SubscriptionStatusActive,
			ProcessorUpdatedAt:      &appliedAt,
		},
	}
	svc := newTestService(t, repo, &stubProcessor{}, &stubNotifier{})

	_, applied, err := svc.ApplyProcessorUpdate(context.Background(), &processor.Subscription{
		ID:     "sub_1",
		Status: "past_due",
	}, appliedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if applied {
		t.Fatalf("stale event must not be applied")
	}
	if len(repo.updated) != 0 {
		t.Fatalf("stale event must not write")
	}
	if repo.existing.Status != enums.SubscriptionStatusActive {
		t.Fatalf("status must be unchanged")
	}
}

func TestApplyProcessorUpdateRefusesResurrection(t *testing.T) {
	tenantID := uuid.New()
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_1",
			Status:                  enums.SubscriptionStatusCanceled,
		},
	}
	svc := newTestService(t, repo, &stubProcessor{}, &stubNotifier{})

	_, applied, err := svc.ApplyProcessorUpdate(context.Background(), &processor.Subscription{
		ID:     "sub_1",
		Status: "active",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if applied {
		t.Fatalf("canceled subscriptions must not be resurrected")
	}
}

func TestApplyProcessorUpdateNotifiesOnTermination(t *testing.T) {
	tenantID := uuid.New()
	now := time.Now().UTC()
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			ID:                      uuid.New(),
			TenantID:                tenantID,
			PlanID:                  "starter",
			ProcessorSubscriptionID: "sub_1",
			Status:                  enums.SubscriptionStatusActive,
		},
	}
	notifier := &stubNotifier{}
	svc := newTestService(t, repo, &stubProcessor{}, notifier)

	sub, applied, err := svc.ApplyProcessorUpdate(context.Background(), &processor.Subscription{
		ID:         "sub_1",
		Status:     "canceled",
		CanceledAt: now.Unix(),
		EndedAt:    now.Unix(),
	}, now)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !applied {
		t.Fatalf("expected update applied")
	}
	if sub.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Type != enums.NotificationSubscriptionEnded {
		t.Fatalf("expected subscription ended notification")
	}
}

func TestMapProcessorStatusAliases(t *testing.T) {
	cases := map[string]enums.SubscriptionStatus{
		"active":             enums.SubscriptionStatusActive,
		"trialing":           enums.SubscriptionStatusTrialing,
		"past_due":           enums.SubscriptionStatusPastDue,
		"incomplete_expired": enums.SubscriptionStatusCanceled,
		"paused":             enums.SubscriptionStatusUnpaid,
		"something_new":      enums.SubscriptionStatusIncomplete,
	}
	for raw, want := range cases {
		if got := MapProcessorStatus(raw); got != want {
			t.Fatalf("status %q: expected %s, got %s", raw, want, got)
		}
	}
}
