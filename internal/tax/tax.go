// Package tax defines the tax calculation contract consumed by invoice
// generation.
package tax

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/meterline/billing-engine/pkg/config"
	"github.com/meterline/billing-engine/pkg/money"
)

// Line is one computed tax line.
type Line struct {
	Description string
	Rate        decimal.Decimal
	AmountCents int64
}

// Calculator computes tax for a taxable subtotal. Implementations must be
// safe for concurrent use.
type Calculator interface {
	Calculate(ctx context.Context, tenantID string, taxableCents int64, currency string) ([]Line, error)
}

// StaticCalculator applies one configured flat rate. It stands in for a
// jurisdiction-aware tax provider.
type StaticCalculator struct {
	rate        decimal.Decimal
	description string
	enabled     bool
}

// NewStaticCalculator builds the calculator from billing config. A zero or
// disabled rate yields no tax lines.
func NewStaticCalculator(cfg config.TaxConfig) (*StaticCalculator, error) {
	rate, err := decimal.NewFromString(cfg.DefaultRate)
	if err != nil {
		return nil, err
	}
	description := cfg.Description
	if description == "" {
		description = "Sales tax"
	}
	return &StaticCalculator{
		rate:        rate,
		description: description,
		enabled:     cfg.Enabled,
	}, nil
}

func (c *StaticCalculator) Calculate(_ context.Context, _ string, taxableCents int64, _ string) ([]Line, error) {
	if c == nil || !c.enabled || c.rate.IsZero() || taxableCents <= 0 {
		return nil, nil
	}
	return []Line{
		{
			Description: c.description,
			Rate:        c.rate,
			AmountCents: money.ApplyRate(taxableCents, c.rate),
		},
	}, nil
}
