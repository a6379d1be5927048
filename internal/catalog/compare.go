package catalog

import "sort"

// Difference describes one field that differs between two plans.
type Difference struct {
	Field string `json:"field"`
	A     any    `json:"a"`
	B     any    `json:"b"`
}

// Comparison summarizes how two plans relate.
type Comparison struct {
	Cheaper      string       `json:"cheaper"`
	MoreFeatures string       `json:"more_features"`
	Differences  []Difference `json:"differences"`
}

// Compare reports which plan is cheaper (by monthly price), which carries
// more features, and the concrete differences between them.
func Compare(a, b *Plan) Comparison {
	cmp := Comparison{}
	if a == nil || b == nil {
		return cmp
	}

	switch {
	case a.MonthlyPriceCents < b.MonthlyPriceCents:
		cmp.Cheaper = a.ID
	case b.MonthlyPriceCents < a.MonthlyPriceCents:
		cmp.Cheaper = b.ID
	}

	switch {
	case len(a.Features) > len(b.Features):
		cmp.MoreFeatures = a.ID
	case len(b.Features) > len(a.Features):
		cmp.MoreFeatures = b.ID
	}

	if a.MonthlyPriceCents != b.MonthlyPriceCents {
		cmp.Differences = append(cmp.Differences, Difference{
			Field: "monthly_price_cents", A: a.MonthlyPriceCents, B: b.MonthlyPriceCents,
		})
	}
	if a.YearlyPriceCents != b.YearlyPriceCents {
		cmp.Differences = append(cmp.Differences, Difference{
			Field: "yearly_price_cents", A: a.YearlyPriceCents, B: b.YearlyPriceCents,
		})
	}
	if a.TrialDays != b.TrialDays {
		cmp.Differences = append(cmp.Differences, Difference{
			Field: "trial_days", A: a.TrialDays, B: b.TrialDays,
		})
	}

	for _, feature := range unionFeatures(a, b) {
		hasA, hasB := a.HasFeature(feature), b.HasFeature(feature)
		if hasA != hasB {
			cmp.Differences = append(cmp.Differences, Difference{
				Field: "feature:" + feature, A: hasA, B: hasB,
			})
		}
	}

	for _, usageType := range unionLimitTypes(a, b) {
		limitA, limitB := a.UsageLimit(usageType), b.UsageLimit(usageType)
		var qa, qb any
		if limitA != nil {
			qa = limitA.Limit
		}
		if limitB != nil {
			qb = limitB.Limit
		}
		if qa != qb {
			cmp.Differences = append(cmp.Differences, Difference{
				Field: "limit:" + usageType, A: qa, B: qb,
			})
		}
	}

	return cmp
}

// Requirements describes what a tenant needs from a plan.
type Requirements struct {
	Features             []string
	MinLimits            map[string]int64
	MaxMonthlyPriceCents int64
}

// Recommended returns the cheapest plan meeting every requirement, or nil.
func (c *Catalog) Recommended(req Requirements) *Plan {
	if c == nil {
		return nil
	}
	var best *Plan
	for i := range c.plans {
		plan := &c.plans[i]
		if !meets(plan, req) {
			continue
		}
		if best == nil || plan.MonthlyPriceCents < best.MonthlyPriceCents {
			best = plan
		}
	}
	return best
}

func meets(plan *Plan, req Requirements) bool {
	if req.MaxMonthlyPriceCents > 0 && plan.MonthlyPriceCents > req.MaxMonthlyPriceCents {
		return false
	}
	for _, feature := range req.Features {
		if !plan.HasFeature(feature) {
			return false
		}
	}
	for usageType, min := range req.MinLimits {
		limit := plan.UsageLimit(usageType)
		if limit == nil || limit.Limit < min {
			return false
		}
	}
	return true
}

func unionFeatures(a, b *Plan) []string {
	seen := map[string]struct{}{}
	for _, f := range a.Features {
		seen[f] = struct{}{}
	}
	for _, f := range b.Features {
		seen[f] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func unionLimitTypes(a, b *Plan) []string {
	seen := map[string]struct{}{}
	for _, l := range a.UsageLimits {
		seen[l.Type] = struct{}{}
	}
	for _, l := range b.UsageLimits {
		seen[l.Type] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
