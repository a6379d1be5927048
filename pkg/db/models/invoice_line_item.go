package models

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceLineItem belongs to exactly one invoice.
// Quantity * UnitAmountCents == AmountCents, modulo the single rounding
// rule in pkg/money for fractional unit rates.
type InvoiceLineItem struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID       uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;index"`
	Kind            string    `gorm:"column:kind;not null"`
	Description     string    `gorm:"column:description;not null"`
	UsageType       *string   `gorm:"column:usage_type"`
	Quantity        int64     `gorm:"column:quantity;not null;default:1"`
	UnitAmountCents int64     `gorm:"column:unit_amount_cents;not null"`
	AmountCents     int64     `gorm:"column:amount_cents;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Line item kinds.
const (
	LineItemKindBase    = "base"
	LineItemKindOverage = "overage"
	LineItemKindTax     = "tax"
)
