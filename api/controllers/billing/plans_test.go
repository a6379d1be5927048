package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/meterline/billing-engine/internal/catalog"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
)

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return envelope.Error.Code
}

func TestPlansListReturnsCatalog(t *testing.T) {
	handler := PlansList(catalog.Default(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans", nil)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data planListResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Plans) == 0 {
		t.Fatal("expected at least one plan")
	}
	for _, plan := range envelope.Data.Plans {
		if plan.ID == "" {
			t.Fatal("expected every plan to carry an id")
		}
	}
}

func TestPlanDetailUnknownPlan(t *testing.T) {
	handler := PlanDetail(catalog.Default(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans/nope", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("planId", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if code := decodeError(t, resp); code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("expected %s, got %s", pkgerrors.CodeNotFound, code)
	}
}

func TestPlansCompareRequiresBothPlans(t *testing.T) {
	handler := PlansCompare(catalog.Default(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans/compare?a=free", nil)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPlansCompareReportsDifferences(t *testing.T) {
	handler := PlansCompare(catalog.Default(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans/compare?a=free&b=pro", nil)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data catalog.Comparison `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Cheaper != "free" {
		t.Fatalf("expected free to be cheaper, got %q", envelope.Data.Cheaper)
	}
	if len(envelope.Data.Differences) == 0 {
		t.Fatal("expected differences between free and pro")
	}
}

func TestPlanRecommendFindsCheapestFit(t *testing.T) {
	handler := PlanRecommend(catalog.Default(), nil)
	body := `{"min_limits":{"messages":2000}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/plans/recommend", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data planResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ID == "free" || envelope.Data.ID == "" {
		t.Fatalf("expected a paid plan recommendation, got %q", envelope.Data.ID)
	}
}

func TestPlanRecommendNoFit(t *testing.T) {
	handler := PlanRecommend(catalog.Default(), nil)
	body := `{"features":["does_not_exist"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/plans/recommend", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPlanRecommendRejectsUnknownFields(t *testing.T) {
	handler := PlanRecommend(catalog.Default(), nil)
	body := `{"budget":"lots"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/plans/recommend", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
