package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentMethod mirrors processor payment methods per tenant. At most one
// row per tenant carries IsDefault, enforced by clear-then-set inside a
// single transaction on write.
type PaymentMethod struct {
	ID                       uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID                 uuid.UUID       `gorm:"column:tenant_id;type:uuid;not null;index"`
	ProcessorPaymentMethodID string          `gorm:"column:processor_payment_method_id;not null;unique"`
	Brand                    *string         `gorm:"column:brand"`
	Last4                    *string         `gorm:"column:last4"`
	ExpMonth                 *int            `gorm:"column:exp_month"`
	ExpYear                  *int            `gorm:"column:exp_year"`
	IsDefault                bool            `gorm:"column:is_default;not null;default:false"`
	Metadata                 json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt                time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
