package tax

import (
	"context"
	"testing"

	"github.com/meterline/billing-engine/pkg/config"
)

func TestCalculateAppliesFlatRate(t *testing.T) {
	calc, err := NewStaticCalculator(config.TaxConfig{
		Enabled:     true,
		DefaultRate: "0.0825",
		Description: "Sales tax",
	})
	if err != nil {
		t.Fatalf("build calculator: %v", err)
	}

	lines, err := calc.Calculate(context.Background(), "tenant", 10000, "usd")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one tax line, got %d", len(lines))
	}
	if lines[0].AmountCents != 825 {
		t.Fatalf("expected 825 cents, got %d", lines[0].AmountCents)
	}
	if lines[0].Description != "Sales tax" {
		t.Fatalf("unexpected description %q", lines[0].Description)
	}
}

func TestCalculateRoundsHalfUp(t *testing.T) {
	calc, err := NewStaticCalculator(config.TaxConfig{Enabled: true, DefaultRate: "0.0825"})
	if err != nil {
		t.Fatalf("build calculator: %v", err)
	}

	// 999 * 0.0825 = 82.4175 -> 82
	lines, err := calc.Calculate(context.Background(), "tenant", 999, "usd")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if lines[0].AmountCents != 82 {
		t.Fatalf("expected 82 cents, got %d", lines[0].AmountCents)
	}
}

func TestCalculateDisabledYieldsNoLines(t *testing.T) {
	calc, err := NewStaticCalculator(config.TaxConfig{Enabled: false, DefaultRate: "0.0825"})
	if err != nil {
		t.Fatalf("build calculator: %v", err)
	}
	lines, err := calc.Calculate(context.Background(), "tenant", 10000, "usd")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if lines != nil {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

func TestCalculateZeroRateYieldsNoLines(t *testing.T) {
	calc, err := NewStaticCalculator(config.TaxConfig{Enabled: true, DefaultRate: "0"})
	if err != nil {
		t.Fatalf("build calculator: %v", err)
	}
	lines, err := calc.Calculate(context.Background(), "tenant", 10000, "usd")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if lines != nil {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

func TestCalculateIgnoresNonPositiveSubtotal(t *testing.T) {
	calc, err := NewStaticCalculator(config.TaxConfig{Enabled: true, DefaultRate: "0.1"})
	if err != nil {
		t.Fatalf("build calculator: %v", err)
	}
	lines, err := calc.Calculate(context.Background(), "tenant", 0, "usd")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if lines != nil {
		t.Fatalf("expected no lines for zero subtotal, got %v", lines)
	}
}

func TestNewStaticCalculatorRejectsBadRate(t *testing.T) {
	if _, err := NewStaticCalculator(config.TaxConfig{DefaultRate: "lots"}); err == nil {
		t.Fatal("expected error for unparseable rate")
	}
}
