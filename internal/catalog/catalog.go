package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meterline/billing-engine/pkg/enums"
)

// UsageLimit defines the included quantity and overage policy for one
// usage type on a plan.
type UsageLimit struct {
	Type        string          `json:"type"`
	Limit       int64           `json:"limit"`
	SoftLimit   int64           `json:"soft_limit"`
	HardLimit   int64           `json:"hard_limit"`
	OverageRate decimal.Decimal `json:"overage_rate"`
}

// Plan is an immutable plan definition. Prices are minor units.
type Plan struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	MonthlyPriceCents int64        `json:"monthly_price_cents"`
	YearlyPriceCents  int64        `json:"yearly_price_cents"`
	Currency          string       `json:"currency"`
	TrialDays         int          `json:"trial_days"`
	Features          []string     `json:"features"`
	UsageLimits       []UsageLimit `json:"usage_limits"`
}

// PriceCents returns the plan price for the given interval.
func (p *Plan) PriceCents(interval enums.BillingInterval) int64 {
	if interval == enums.BillingIntervalYear {
		return p.YearlyPriceCents
	}
	return p.MonthlyPriceCents
}

// UsageLimit returns the limit for a usage type, or nil when unmetered.
func (p *Plan) UsageLimit(usageType string) *UsageLimit {
	for i := range p.UsageLimits {
		if p.UsageLimits[i].Type == usageType {
			return &p.UsageLimits[i]
		}
	}
	return nil
}

// HasFeature reports whether the plan includes the named feature flag.
func (p *Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if strings.EqualFold(f, feature) {
			return true
		}
	}
	return false
}

// Catalog is the read-only plan registry, built once at startup and shared
// across all concurrent operations without locking. Lookups for unknown
// ids return nil, never an error.
type Catalog struct {
	plans []Plan
	byID  map[string]*Plan
}

// New validates the plan set and builds the registry.
func New(plans []Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("at least one plan is required")
	}
	byID := make(map[string]*Plan, len(plans))
	stored := make([]Plan, len(plans))
	copy(stored, plans)
	for i := range stored {
		plan := &stored[i]
		if strings.TrimSpace(plan.ID) == "" {
			return nil, fmt.Errorf("plan at index %d has no id", i)
		}
		if _, dup := byID[plan.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", plan.ID)
		}
		if plan.Currency == "" {
			plan.Currency = "usd"
		}
		for _, limit := range plan.UsageLimits {
			if limit.Type == "" {
				return nil, fmt.Errorf("plan %q has a usage limit without a type", plan.ID)
			}
			if limit.SoftLimit > limit.HardLimit && limit.HardLimit != 0 {
				return nil, fmt.Errorf("plan %q limit %q: soft limit above hard limit", plan.ID, limit.Type)
			}
		}
		byID[plan.ID] = plan
	}
	return &Catalog{plans: stored, byID: byID}, nil
}

// LoadFile builds a catalog from a JSON plan definition file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	var plans []Plan
	if err := json.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	return New(plans)
}

// Plan returns the plan for the id, or nil when unknown.
func (c *Catalog) Plan(id string) *Plan {
	if c == nil {
		return nil
	}
	return c.byID[id]
}

// Plans returns every plan in catalog order.
func (c *Catalog) Plans() []Plan {
	if c == nil {
		return nil
	}
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// UsageLimit returns the limit for (plan, usage type), or nil.
func (c *Catalog) UsageLimit(planID, usageType string) *UsageLimit {
	plan := c.Plan(planID)
	if plan == nil {
		return nil
	}
	return plan.UsageLimit(usageType)
}

// HasFeature reports whether the plan includes the feature. Unknown plans
// have no features.
func (c *Catalog) HasFeature(planID, feature string) bool {
	plan := c.Plan(planID)
	if plan == nil {
		return false
	}
	return plan.HasFeature(feature)
}
