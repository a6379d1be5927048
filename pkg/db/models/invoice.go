package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meterline/billing-engine/pkg/enums"
)

// Invoice is the billed statement for one subscription period. Invoices
// are never deleted; they are voided instead. AmountDueCents is always
// TotalCents - AmountPaidCents.
type Invoice struct {
	ID                 uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID           uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	SubscriptionID     uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	ProcessorInvoiceID *string             `gorm:"column:processor_invoice_id;uniqueIndex"`
	Status             enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'draft'"`
	Currency           string              `gorm:"column:currency;not null;default:'usd'"`
	SubtotalCents      int64               `gorm:"column:subtotal_cents;not null;default:0"`
	TaxCents           int64               `gorm:"column:tax_cents;not null;default:0"`
	DiscountCents      int64               `gorm:"column:discount_cents;not null;default:0"`
	TotalCents         int64               `gorm:"column:total_cents;not null;default:0"`
	AmountPaidCents    int64               `gorm:"column:amount_paid_cents;not null;default:0"`
	AmountDueCents     int64               `gorm:"column:amount_due_cents;not null;default:0"`
	PeriodStart        time.Time           `gorm:"column:period_start;not null"`
	PeriodEnd          time.Time           `gorm:"column:period_end;not null"`
	DueDate            *time.Time          `gorm:"column:due_date"`
	HostedInvoiceURL   *string             `gorm:"column:hosted_invoice_url"`
	InvoicePDFURL      *string             `gorm:"column:invoice_pdf_url"`
	FinalizedAt        *time.Time          `gorm:"column:finalized_at"`
	PaidAt             *time.Time          `gorm:"column:paid_at"`
	VoidedAt           *time.Time          `gorm:"column:voided_at"`
	Metadata           json.RawMessage     `gorm:"column:metadata;type:jsonb"`
	LineItems          []InvoiceLineItem   `gorm:"foreignKey:InvoiceID"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
