package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meterline/billing-engine/internal/invoices"
	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
)

type stubInvoiceAPIService struct {
	invoices.Service

	listParams     invoices.ListParams
	listResult     *invoices.ListResult
	generateParams invoices.GenerateParams
	generated      *models.Invoice
	finalized      *models.Invoice
	err            error
}

func (s *stubInvoiceAPIService) List(ctx context.Context, params invoices.ListParams) (*invoices.ListResult, error) {
	s.listParams = params
	return s.listResult, s.err
}

func (s *stubInvoiceAPIService) Generate(ctx context.Context, params invoices.GenerateParams) (*models.Invoice, error) {
	s.generateParams = params
	return s.generated, s.err
}

func (s *stubInvoiceAPIService) Finalize(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	return s.finalized, s.err
}

func testInvoice() *models.Invoice {
	now := time.Now().UTC()
	return &models.Invoice{
		ID:            uuid.New(),
		TenantID:      uuid.New(),
		Status:        enums.InvoiceStatusDraft,
		Currency:      "usd",
		SubtotalCents: 900,
		TotalCents:    900,
		PeriodStart:   now.AddDate(0, -1, 0),
		PeriodEnd:     now,
		CreatedAt:     now,
	}
}

func TestInvoiceListPassesPagination(t *testing.T) {
	service := &stubInvoiceAPIService{
		listResult: &invoices.ListResult{Items: []models.Invoice{*testInvoice()}, Cursor: "next"},
	}
	handler := InvoiceList(service, nil)

	req := tenantRequest(http.MethodGet, "/api/v1/billing/invoices?limit=10&cursor=abc", "")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if service.listParams.Limit != 10 || service.listParams.Cursor != "abc" {
		t.Fatalf("unexpected list params: %+v", service.listParams)
	}
	var envelope struct {
		Data invoiceListResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Invoices) != 1 || envelope.Data.Cursor != "next" {
		t.Fatalf("unexpected list response: %+v", envelope.Data)
	}
}

func TestInvoiceGenerateWithoutBodyUsesCurrentPeriod(t *testing.T) {
	service := &stubInvoiceAPIService{generated: testInvoice()}
	handler := InvoiceGenerate(service, nil)

	req := tenantRequest(http.MethodPost, "/api/v1/billing/invoices/generate", "")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if !service.generateParams.PeriodStart.IsZero() || !service.generateParams.PeriodEnd.IsZero() {
		t.Fatalf("expected zero period bounds, got %+v", service.generateParams)
	}
}

func TestInvoiceGenerateForwardsStatedPeriod(t *testing.T) {
	service := &stubInvoiceAPIService{generated: testInvoice()}
	handler := InvoiceGenerate(service, nil)

	body := `{"period_start":"2026-01-01T00:00:00Z","period_end":"2026-02-01T00:00:00Z","usage_only":true}`
	req := tenantRequest(http.MethodPost, "/api/v1/billing/invoices/generate", body)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !service.generateParams.PeriodStart.Equal(want) {
		t.Fatalf("expected period start %s, got %s", want, service.generateParams.PeriodStart)
	}
	if !service.generateParams.UsageOnly {
		t.Fatal("expected usage_only to pass through")
	}
}

func TestInvoiceDetailRejectsBadID(t *testing.T) {
	handler := InvoiceDetail(&stubInvoiceAPIService{}, nil)

	req := tenantRequest(http.MethodGet, "/api/v1/billing/invoices/not-a-uuid", "")
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("invoiceId", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestInvoiceFinalizeReturnsInvoice(t *testing.T) {
	finalized := testInvoice()
	finalized.Status = enums.InvoiceStatusOpen
	service := &stubInvoiceAPIService{finalized: finalized}
	handler := InvoiceFinalize(service, nil)

	req := tenantRequest(http.MethodPost, "/api/v1/billing/invoices/"+finalized.ID.String()+"/finalize", "")
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("invoiceId", finalized.ID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data invoiceResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Status != string(enums.InvoiceStatusOpen) {
		t.Fatalf("expected open status, got %s", envelope.Data.Status)
	}
}
