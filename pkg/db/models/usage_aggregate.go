package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageAggregate is the running total for a (tenant, usage type, period)
// key. Total is maintained with an atomic increment at the storage layer
// and must always equal the sum of the underlying UsageRecord rows.
type UsageAggregate struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID    uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_usage_aggregates_key,priority:1"`
	UsageType   string    `gorm:"column:usage_type;not null;uniqueIndex:ux_usage_aggregates_key,priority:2"`
	PeriodStart time.Time `gorm:"column:period_start;not null;uniqueIndex:ux_usage_aggregates_key,priority:3"`
	PeriodEnd   time.Time `gorm:"column:period_end;not null"`
	Total       int64     `gorm:"column:total;not null;default:0"`
	// LastNotifiedPct records the highest warning threshold already sent
	// for this period, so each crossing notifies exactly once.
	LastNotifiedPct int       `gorm:"column:last_notified_pct;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
