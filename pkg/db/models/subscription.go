package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meterline/billing-engine/pkg/enums"
)

// Subscription persists processor subscription state per tenant. Exactly
// one row exists per tenant; the unique index enforces it.
type Subscription struct {
	ID                      uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID                uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex"`
	PlanID                  string                   `gorm:"column:plan_id;not null"`
	ProcessorSubscriptionID string                   `gorm:"column:processor_subscription_id;not null;unique"`
	ProcessorCustomerID     *string                  `gorm:"column:processor_customer_id"`
	Status                  enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'incomplete'"`
	BillingInterval         enums.BillingInterval    `gorm:"column:billing_interval;type:billing_interval;not null;default:'month'"`
	PriceCents              int64                    `gorm:"column:price_cents;not null"`
	Currency                string                   `gorm:"column:currency;not null;default:'usd'"`
	CurrentPeriodStart      *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd        time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd       bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt              *time.Time               `gorm:"column:canceled_at"`
	EndedAt                 *time.Time               `gorm:"column:ended_at"`
	TrialEnd                *time.Time               `gorm:"column:trial_end"`
	// ProcessorUpdatedAt is the creation time of the most recent processor
	// event applied to this row. Older events must not overwrite it.
	ProcessorUpdatedAt *time.Time      `gorm:"column:processor_updated_at"`
	Metadata           json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
