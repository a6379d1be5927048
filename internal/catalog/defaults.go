package catalog

import "github.com/shopspring/decimal"

// Default returns the built-in catalog used when no plan file is
// configured. Limits use the same vocabulary the metering API accepts.
func Default() *Catalog {
	cat, err := New([]Plan{
		{
			ID:                "free",
			Name:              "Free",
			MonthlyPriceCents: 0,
			YearlyPriceCents:  0,
			Currency:          "usd",
			Features:          []string{"api_access"},
			UsageLimits: []UsageLimit{
				{
					Type:        "messages",
					Limit:       100,
					SoftLimit:   80,
					HardLimit:   100,
					OverageRate: decimal.RequireFromString("0.01"),
				},
				{
					Type:        "storage_mb",
					Limit:       500,
					SoftLimit:   400,
					HardLimit:   500,
					OverageRate: decimal.RequireFromString("0.002"),
				},
			},
		},
		{
			ID:                "starter",
			Name:              "Starter",
			MonthlyPriceCents: 900,
			YearlyPriceCents:  9000,
			Currency:          "usd",
			TrialDays:         7,
			Features:          []string{"api_access", "webhooks"},
			UsageLimits: []UsageLimit{
				{
					Type:        "messages",
					Limit:       5000,
					SoftLimit:   4000,
					HardLimit:   6000,
					OverageRate: decimal.RequireFromString("0.008"),
				},
				{
					Type:        "storage_mb",
					Limit:       10240,
					SoftLimit:   8192,
					HardLimit:   12288,
					OverageRate: decimal.RequireFromString("0.001"),
				},
			},
		},
		{
			ID:                "pro",
			Name:              "Pro",
			MonthlyPriceCents: 2900,
			YearlyPriceCents:  29000,
			Currency:          "usd",
			TrialDays:         14,
			Features:          []string{"api_access", "webhooks", "sso", "priority_support"},
			UsageLimits: []UsageLimit{
				{
					Type:        "messages",
					Limit:       50000,
					SoftLimit:   40000,
					HardLimit:   60000,
					OverageRate: decimal.RequireFromString("0.005"),
				},
				{
					Type:        "storage_mb",
					Limit:       102400,
					SoftLimit:   81920,
					HardLimit:   122880,
					OverageRate: decimal.RequireFromString("0.0005"),
				},
			},
		},
	})
	if err != nil {
		// The built-in set is static; a validation failure here is a bug.
		panic(err)
	}
	return cat
}
