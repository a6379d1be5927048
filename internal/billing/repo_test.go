package billing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
)

func setupBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	subscriptions := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL UNIQUE,
  plan_id TEXT NOT NULL,
  processor_subscription_id TEXT NOT NULL UNIQUE,
  processor_customer_id TEXT,
  status TEXT NOT NULL DEFAULT 'incomplete',
  billing_interval TEXT NOT NULL DEFAULT 'month',
  price_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  current_period_start DATETIME,
  current_period_end DATETIME NOT NULL,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  canceled_at DATETIME,
  ended_at DATETIME,
  trial_end DATETIME,
  processor_updated_at DATETIME,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	paymentMethods := `
CREATE TABLE IF NOT EXISTS payment_methods (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  processor_payment_method_id TEXT NOT NULL UNIQUE,
  brand TEXT,
  last4 TEXT,
  exp_month INTEGER,
  exp_year INTEGER,
  is_default INTEGER NOT NULL DEFAULT 0,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	billingEvents := `
CREATE TABLE IF NOT EXISTS billing_events (
  id TEXT PRIMARY KEY,
  external_event_id TEXT NOT NULL UNIQUE,
  type TEXT NOT NULL,
  payload TEXT NOT NULL,
  processed INTEGER NOT NULL DEFAULT 0,
  processed_at DATETIME,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  event_created_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	for _, stmt := range []string{subscriptions, paymentMethods, billingEvents} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func seedSubscription(t *testing.T, repo Repository, tenantID uuid.UUID) *models.Subscription {
	t.Helper()
	now := time.Now().UTC()
	customer := "cus_" + tenantID.String()[:8]
	sub := &models.Subscription{
		ID:                      uuid.New(),
		TenantID:                tenantID,
		PlanID:                  "starter",
		ProcessorSubscriptionID: "sub_" + tenantID.String()[:8],
		ProcessorCustomerID:     &customer,
		Status:                  enums.SubscriptionStatusActive,
		BillingInterval:         enums.BillingIntervalMonth,
		PriceCents:              900,
		Currency:                "usd",
		CurrentPeriodEnd:        now.AddDate(0, 1, 0),
	}
	require.NoError(t, repo.CreateSubscription(context.Background(), sub))
	return sub
}

func TestSubscriptionLookups(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()
	tenantID := uuid.New()
	sub := seedSubscription(t, repo, tenantID)

	byTenant, err := repo.FindSubscriptionByTenant(ctx, tenantID)
	require.NoError(t, err)
	require.NotNil(t, byTenant)
	assert.Equal(t, sub.ID, byTenant.ID)

	byProcessor, err := repo.FindSubscriptionByProcessorID(ctx, sub.ProcessorSubscriptionID)
	require.NoError(t, err)
	require.NotNil(t, byProcessor)
	assert.Equal(t, sub.ID, byProcessor.ID)

	byCustomer, err := repo.FindSubscriptionByProcessorCustomerID(ctx, *sub.ProcessorCustomerID)
	require.NoError(t, err)
	require.NotNil(t, byCustomer)
	assert.Equal(t, tenantID, byCustomer.TenantID)

	missing, err := repo.FindSubscriptionByTenant(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := repo.FindSubscriptionByProcessorID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestPaymentMethodDefaultFlip(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()
	tenantID := uuid.New()

	first := &models.PaymentMethod{
		ID:                       uuid.New(),
		TenantID:                 tenantID,
		ProcessorPaymentMethodID: "pm_first",
		IsDefault:                true,
	}
	second := &models.PaymentMethod{
		ID:                       uuid.New(),
		TenantID:                 tenantID,
		ProcessorPaymentMethodID: "pm_second",
	}
	require.NoError(t, repo.CreatePaymentMethod(ctx, first))
	require.NoError(t, repo.CreatePaymentMethod(ctx, second))

	require.NoError(t, repo.ClearDefaultPaymentMethod(ctx, tenantID))
	require.NoError(t, repo.MarkDefaultPaymentMethod(ctx, second.ID))

	methods, err := repo.ListPaymentMethodsByTenant(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, methods, 2)

	defaults := 0
	for _, method := range methods {
		if method.IsDefault {
			defaults++
			assert.Equal(t, second.ID, method.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	// Default rows sort first.
	assert.Equal(t, second.ID, methods[0].ID)
}

func TestPaymentMethodFindAndDelete(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()
	tenantID := uuid.New()

	method := &models.PaymentMethod{
		ID:                       uuid.New(),
		TenantID:                 tenantID,
		ProcessorPaymentMethodID: "pm_1",
	}
	require.NoError(t, repo.CreatePaymentMethod(ctx, method))

	found, err := repo.FindPaymentMethodByProcessorID(ctx, "pm_1")
	require.NoError(t, err)
	require.NotNil(t, found)

	otherTenant, err := repo.FindPaymentMethodByID(ctx, uuid.New(), method.ID)
	require.NoError(t, err)
	assert.Nil(t, otherTenant, "lookup must be tenant scoped")

	require.NoError(t, repo.DeletePaymentMethod(ctx, method.ID))
	gone, err := repo.FindPaymentMethodByProcessorID(ctx, "pm_1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBillingEventLifecycle(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()

	event := &models.BillingEvent{
		ID:              uuid.New(),
		ExternalEventID: "evt_1",
		Type:            "invoice.paid",
		Payload:         json.RawMessage(`{"id":"in_1"}`),
		EventCreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.CreateBillingEvent(ctx, event))

	found, err := repo.FindBillingEventByExternalID(ctx, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.False(t, found.Processed)

	require.NoError(t, repo.RecordBillingEventFailure(ctx, event.ID, "boom"))
	failed, err := repo.FindBillingEventByExternalID(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "boom", *failed.LastError)

	require.NoError(t, repo.MarkBillingEventProcessed(ctx, event.ID, time.Now().UTC()))
	processed, err := repo.FindBillingEventByExternalID(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed.Processed)
	require.NotNil(t, processed.ProcessedAt)
	assert.Nil(t, processed.LastError)
}

func TestListUnprocessedBillingEvents(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, spec := range []struct {
		externalID string
		attempts   int
		processed  bool
	}{
		{"evt_old", 1, false},
		{"evt_new", 0, false},
		{"evt_done", 0, true},
		{"evt_exhausted", 5, false},
	} {
		event := &models.BillingEvent{
			ID:              uuid.New(),
			ExternalEventID: spec.externalID,
			Type:            "invoice.paid",
			Payload:         json.RawMessage(`{}`),
			Attempts:        spec.attempts,
			Processed:       spec.processed,
			EventCreatedAt:  base,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.CreateBillingEvent(ctx, event))
	}

	events, err := repo.ListUnprocessedBillingEvents(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt_old", events[0].ExternalEventID, "receipt order")
	assert.Equal(t, "evt_new", events[1].ExternalEventID)
}
