package processor

import (
	"context"
	"testing"

	"github.com/meterline/billing-engine/pkg/config"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
)

func testStripeConfig() config.StripeConfig {
	return config.StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: "whsec_test",
		Env:           "test",
	}
}

func TestNewStripeClientValidatesKeyAgainstEnv(t *testing.T) {
	cfg := testStripeConfig()
	cfg.APIKey = "sk_live_123"
	if _, err := NewStripeClient(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected rejection of live key in test env")
	}

	cfg = testStripeConfig()
	cfg.Env = "staging"
	if _, err := NewStripeClient(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected rejection of unknown environment")
	}

	client, err := NewStripeClient(context.Background(), testStripeConfig(), nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if client.Environment() != "test" {
		t.Fatalf("expected test env, got %q", client.Environment())
	}
}

func TestVerifyWebhookBadSignatureIsValidationError(t *testing.T) {
	client, err := NewStripeClient(context.Background(), testStripeConfig(), nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// Deliveries that fail signature checks are the sender's problem;
	// they must map to a non-retryable 400, not an auth failure.
	_, err = client.VerifyWebhook([]byte(`{"id":"evt_1"}`), "t=1,v1=bad")
	if err == nil {
		t.Fatal("expected signature error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %s", pkgerrors.CodeOf(err))
	}
}
