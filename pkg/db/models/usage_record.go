package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is an append-only metering fact. Rows are never updated or
// deleted; they are the audit trail behind every aggregate.
type UsageRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index:idx_usage_records_tenant_type_period,priority:1"`
	SubscriptionID uuid.UUID `gorm:"column:subscription_id;type:uuid;not null"`
	UsageType      string    `gorm:"column:usage_type;not null;index:idx_usage_records_tenant_type_period,priority:2"`
	Quantity       int64     `gorm:"column:quantity;not null"`
	PeriodStart    time.Time `gorm:"column:period_start;not null;index:idx_usage_records_tenant_type_period,priority:3"`
	PeriodEnd      time.Time `gorm:"column:period_end;not null"`
	RecordedAt     time.Time `gorm:"column:recorded_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
