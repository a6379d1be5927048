package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BillingEvent mirrors a processor webhook delivery for idempotency and
// replay. Rows are written before processing and only ever mutated to
// flip Processed (plus retry bookkeeping).
type BillingEvent struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalEventID string          `gorm:"column:external_event_id;not null;uniqueIndex"`
	Type            string          `gorm:"column:type;not null;index"`
	Payload         json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Processed       bool            `gorm:"column:processed;not null;default:false;index"`
	ProcessedAt     *time.Time      `gorm:"column:processed_at"`
	Attempts        int             `gorm:"column:attempts;not null;default:0"`
	LastError       *string         `gorm:"column:last_error"`
	// EventCreatedAt is the processor-side creation timestamp, used by
	// handlers to refuse stale updates.
	EventCreatedAt time.Time `gorm:"column:event_created_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
