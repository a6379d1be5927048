package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
)

func TestRecovererReturnsInternalEnvelope(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("expected %s, got %s", pkgerrors.CodeInternal, envelope.Error.Code)
	}
	if strings.Contains(envelope.Error.Message, "boom") {
		t.Fatalf("panic value must not leak to the caller: %q", envelope.Error.Message)
	}
}

func TestRequestIDEchoesInboundID(t *testing.T) {
	var nextRan bool
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextRan = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-abc-123")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if !nextRan {
		t.Fatal("expected next handler to run")
	}
	if got := resp.Header().Get(requestIDHeader); got != "req-abc-123" {
		t.Fatalf("expected inbound id echoed, got %q", got)
	}
}

func TestRequestIDMintsWhenMissingOrOversized(t *testing.T) {
	handler := RequestID(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a minted request id")
	}

	oversized := strings.Repeat("x", maxRequestIDLen+1)
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, oversized)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if got := resp.Header().Get(requestIDHeader); got == oversized || got == "" {
		t.Fatalf("oversized inbound id must be replaced, got %q", got)
	}
}
