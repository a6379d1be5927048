package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meterline/billing-engine/api/middleware"
	"github.com/meterline/billing-engine/internal/subscriptions"
	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
)

type stubSubscriptionService struct {
	subscriptions.Service

	createParams subscriptions.CreateParams
	changeParams subscriptions.ChangePlanParams
	canceledNow  *bool
	sub          *models.Subscription
	created      bool
	err          error
}

func (s *stubSubscriptionService) Create(ctx context.Context, params subscriptions.CreateParams) (*models.Subscription, bool, error) {
	s.createParams = params
	return s.sub, s.created, s.err
}

func (s *stubSubscriptionService) ChangePlan(ctx context.Context, params subscriptions.ChangePlanParams) (*models.Subscription, error) {
	s.changeParams = params
	return s.sub, s.err
}

func (s *stubSubscriptionService) Cancel(ctx context.Context, tenantID uuid.UUID, immediately bool) (*models.Subscription, error) {
	s.canceledNow = &immediately
	return s.sub, s.err
}

func (s *stubSubscriptionService) Get(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	return s.sub, s.err
}

func testSubscription() *models.Subscription {
	now := time.Now().UTC()
	return &models.Subscription{
		ID:               uuid.New(),
		TenantID:         uuid.New(),
		PlanID:           "starter",
		Status:           enums.SubscriptionStatusActive,
		BillingInterval:  enums.BillingIntervalMonth,
		PriceCents:       900,
		Currency:         "usd",
		CurrentPeriodEnd: now.AddDate(0, 1, 0),
		CreatedAt:        now,
	}
}

func tenantRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := middleware.WithTenantID(req.Context(), uuid.New())
	return req.WithContext(ctx)
}

func TestSubscriptionCreateReturns201WhenNew(t *testing.T) {
	service := &stubSubscriptionService{sub: testSubscription(), created: true}
	handler := SubscriptionCreate(service, nil)

	req := tenantRequest(http.MethodPost, "/api/v1/billing/subscription", `{"plan_id":"starter","interval":"month"}`)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if service.createParams.PlanID != "starter" {
		t.Fatalf("expected plan starter, got %q", service.createParams.PlanID)
	}
	if service.createParams.Interval != enums.BillingIntervalMonth {
		t.Fatalf("expected monthly interval, got %q", service.createParams.Interval)
	}
}

func TestSubscriptionCreateReturns200WhenExisting(t *testing.T) {
	service := &stubSubscriptionService{sub: testSubscription(), created: false}
	handler := SubscriptionCreate(service, nil)

	req := tenantRequest(http.MethodPost, "/api/v1/billing/subscription", `{"plan_id":"starter"}`)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for idempotent create, got %d", resp.Code)
	}
}

func TestSubscriptionCreateRequiresTenant(t *testing.T) {
	handler := SubscriptionCreate(&stubSubscriptionService{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/subscription", strings.NewReader(`{"plan_id":"starter"}`))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without tenant context, got %d", resp.Code)
	}
}

func TestSubscriptionCreateValidatesPayload(t *testing.T) {
	handler := SubscriptionCreate(&stubSubscriptionService{}, nil)
	req := tenantRequest(http.MethodPost, "/api/v1/billing/subscription", `{"interval":"weekly"}`)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("expected %s, got %s", pkgerrors.CodeValidation, envelope.Error.Code)
	}
	if _, ok := envelope.Error.Details["plan_id"]; !ok {
		t.Fatalf("expected plan_id detail, got %v", envelope.Error.Details)
	}
}

func TestSubscriptionChangePlanProratesByDefault(t *testing.T) {
	service := &stubSubscriptionService{sub: testSubscription()}
	handler := SubscriptionChangePlan(service, nil)

	req := tenantRequest(http.MethodPatch, "/api/v1/billing/subscription", `{"plan_id":"pro"}`)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !service.changeParams.Prorate {
		t.Fatal("expected proration by default")
	}
}

func TestSubscriptionChangePlanHonorsProrateOptOut(t *testing.T) {
	service := &stubSubscriptionService{sub: testSubscription()}
	handler := SubscriptionChangePlan(service, nil)

	req := tenantRequest(http.MethodPatch, "/api/v1/billing/subscription", `{"plan_id":"pro","prorate":false}`)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if service.changeParams.Prorate {
		t.Fatal("expected proration disabled")
	}
}

func TestSubscriptionChangePlanForwardsQuantity(t *testing.T) {
	service := &stubSubscriptionService{sub: testSubscription()}
	handler := SubscriptionChangePlan(service, nil)

	req := tenantRequest(http.MethodPatch, "/api/v1/billing/subscription", `{"plan_id":"pro","quantity":5}`)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if service.changeParams.Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", service.changeParams.Quantity)
	}

	req = tenantRequest(http.MethodPatch, "/api/v1/billing/subscription", `{"plan_id":"pro","quantity":0}`)
	resp = httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected omitted quantity accepted, got %d", resp.Code)
	}
}

func TestSubscriptionCancelDefaultsToPeriodEnd(t *testing.T) {
	service := &stubSubscriptionService{sub: testSubscription()}
	handler := SubscriptionCancel(service, nil)

	req := tenantRequest(http.MethodPost, "/api/v1/billing/subscription/cancel", "")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if service.canceledNow == nil || *service.canceledNow {
		t.Fatal("expected cancel at period end without a body")
	}
}

func TestSubscriptionCancelImmediately(t *testing.T) {
	service := &stubSubscriptionService{sub: testSubscription()}
	handler := SubscriptionCancel(service, nil)

	req := tenantRequest(http.MethodPost, "/api/v1/billing/subscription/cancel", `{"immediately":true}`)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if service.canceledNow == nil || !*service.canceledNow {
		t.Fatal("expected immediate cancel")
	}
}

func TestSubscriptionFetchNotFound(t *testing.T) {
	service := &stubSubscriptionService{err: pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for tenant")}
	handler := SubscriptionFetch(service, nil)

	req := tenantRequest(http.MethodGet, "/api/v1/billing/subscription", "")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
