package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meterline/billing-engine/pkg/enums"
)

func testPlans() []Plan {
	return []Plan{
		{
			ID:                "basic",
			Name:              "Basic",
			MonthlyPriceCents: 1000,
			YearlyPriceCents:  10000,
			Features:          []string{"api_access"},
			UsageLimits: []UsageLimit{
				{Type: "messages", Limit: 100, SoftLimit: 80, HardLimit: 120, OverageRate: decimal.RequireFromString("0.01")},
			},
		},
		{
			ID:                "plus",
			Name:              "Plus",
			MonthlyPriceCents: 3000,
			YearlyPriceCents:  30000,
			TrialDays:         14,
			Features:          []string{"api_access", "webhooks"},
			UsageLimits: []UsageLimit{
				{Type: "messages", Limit: 1000, SoftLimit: 800, HardLimit: 1200, OverageRate: decimal.RequireFromString("0.005")},
			},
		},
	}
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	plans := testPlans()
	plans[1].ID = plans[0].ID
	if _, err := New(plans); err == nil {
		t.Fatal("expected error for duplicate plan id")
	}
}

func TestNewRejectsSoftLimitAboveHard(t *testing.T) {
	plans := testPlans()
	plans[0].UsageLimits[0].SoftLimit = 500
	if _, err := New(plans); err == nil {
		t.Fatal("expected error for soft limit above hard limit")
	}
}

func TestNewDefaultsCurrency(t *testing.T) {
	cat, err := New(testPlans())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	if got := cat.Plan("basic").Currency; got != "usd" {
		t.Fatalf("expected usd default, got %q", got)
	}
}

func TestUnknownLookupsReturnNil(t *testing.T) {
	cat, err := New(testPlans())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	if cat.Plan("nope") != nil {
		t.Fatal("expected nil for unknown plan")
	}
	if cat.UsageLimit("basic", "gpu_hours") != nil {
		t.Fatal("expected nil for unmetered usage type")
	}
	if cat.UsageLimit("nope", "messages") != nil {
		t.Fatal("expected nil for unknown plan limit")
	}
	if cat.HasFeature("nope", "api_access") {
		t.Fatal("unknown plans have no features")
	}
}

func TestPlansReturnsACopy(t *testing.T) {
	cat, err := New(testPlans())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	plans := cat.Plans()
	plans[0].MonthlyPriceCents = 999999
	if cat.Plan("basic").MonthlyPriceCents != 1000 {
		t.Fatal("mutating the returned slice must not affect the catalog")
	}
}

func TestPriceCentsByInterval(t *testing.T) {
	cat, err := New(testPlans())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	plan := cat.Plan("plus")
	if got := plan.PriceCents(enums.BillingIntervalMonth); got != 3000 {
		t.Fatalf("expected 3000 monthly, got %d", got)
	}
	if got := plan.PriceCents(enums.BillingIntervalYear); got != 30000 {
		t.Fatalf("expected 30000 yearly, got %d", got)
	}
}

func TestHasFeatureIsCaseInsensitive(t *testing.T) {
	cat, err := New(testPlans())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	if !cat.HasFeature("plus", "Webhooks") {
		t.Fatal("expected case-insensitive feature match")
	}
}

func TestLoadFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	payload := `[
  {
    "id": "solo",
    "name": "Solo",
    "monthly_price_cents": 500,
    "yearly_price_cents": 5000,
    "features": ["api_access"],
    "usage_limits": [
      {"type": "messages", "limit": 50, "soft_limit": 40, "hard_limit": 60, "overage_rate": "0.02"}
    ]
  }
]`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write plan file: %v", err)
	}

	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	plan := cat.Plan("solo")
	if plan == nil {
		t.Fatal("expected solo plan")
	}
	limit := plan.UsageLimit("messages")
	if limit == nil || !limit.OverageRate.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("unexpected limit: %+v", limit)
	}
}

func TestRecommendedRespectsBudgetAndLimits(t *testing.T) {
	cat, err := New(testPlans())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}

	plan := cat.Recommended(Requirements{MinLimits: map[string]int64{"messages": 500}})
	if plan == nil || plan.ID != "plus" {
		t.Fatalf("expected plus, got %+v", plan)
	}

	plan = cat.Recommended(Requirements{
		MinLimits:            map[string]int64{"messages": 500},
		MaxMonthlyPriceCents: 2000,
	})
	if plan != nil {
		t.Fatalf("expected no plan under budget, got %s", plan.ID)
	}

	plan = cat.Recommended(Requirements{Features: []string{"api_access"}})
	if plan == nil || plan.ID != "basic" {
		t.Fatalf("expected cheapest fitting plan, got %+v", plan)
	}
}

func TestCompareIdentifiesCheaperAndRicher(t *testing.T) {
	cat, err := New(testPlans())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	cmp := Compare(cat.Plan("basic"), cat.Plan("plus"))
	if cmp.Cheaper != "basic" {
		t.Fatalf("expected basic cheaper, got %q", cmp.Cheaper)
	}
	if cmp.MoreFeatures != "plus" {
		t.Fatalf("expected plus richer, got %q", cmp.MoreFeatures)
	}
	if len(cmp.Differences) == 0 {
		t.Fatal("expected differences")
	}
}
