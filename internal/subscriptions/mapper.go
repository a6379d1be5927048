package subscriptions

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meterline/billing-engine/internal/processor"
	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
)

// BuildSubscriptionModel maps a freshly created processor subscription into
// the canonical model.
func BuildSubscriptionModel(psub *processor.Subscription, tenantID uuid.UUID, planID string, interval enums.BillingInterval, priceCents int64, currency string) (*models.Subscription, error) {
	if psub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "processor subscription is nil")
	}

	metadata, err := marshalMetadata(psub.Metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal metadata")
	}

	now := time.Now().UTC()
	return &models.Subscription{
		TenantID:                tenantID,
		PlanID:                  planID,
		ProcessorSubscriptionID: psub.ID,
		ProcessorCustomerID:     trimmedPtr(psub.CustomerID),
		Status:                  MapProcessorStatus(psub.Status),
		BillingInterval:         interval,
		PriceCents:              priceCents,
		Currency:                currency,
		CurrentPeriodStart:      toTimePtr(psub.CurrentPeriodStart),
		CurrentPeriodEnd:        toTime(psub.CurrentPeriodEnd),
		CancelAtPeriodEnd:       psub.CancelAtPeriodEnd,
		CanceledAt:              toTimePtr(psub.CanceledAt),
		EndedAt:                 toTimePtr(psub.EndedAt),
		TrialEnd:                toTimePtr(psub.TrialEnd),
		ProcessorUpdatedAt:      &now,
		Metadata:                metadata,
	}, nil
}

// ApplyProcessorState mutates target with processor data. It returns false
// without touching target when the event is older than the state already
// applied, or when the row is terminal; webhook retries and out-of-order
// deliveries both funnel through this guard.
func ApplyProcessorState(target *models.Subscription, psub *processor.Subscription, eventAt time.Time) (bool, error) {
	if target == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if psub == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "processor subscription is nil")
	}

	if target.ProcessorUpdatedAt != nil && eventAt.Before(*target.ProcessorUpdatedAt) {
		return false, nil
	}
	status := MapProcessorStatus(psub.Status)
	if target.Status.IsTerminal() && !status.IsTerminal() {
		return false, nil
	}

	metadata, err := marshalMetadata(psub.Metadata)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal metadata")
	}

	target.Status = status
	if start := toTimePtr(psub.CurrentPeriodStart); start != nil {
		target.CurrentPeriodStart = start
	}
	if end := toTime(psub.CurrentPeriodEnd); !end.IsZero() {
		target.CurrentPeriodEnd = end
	}
	target.CancelAtPeriodEnd = psub.CancelAtPeriodEnd
	target.CanceledAt = toTimePtr(psub.CanceledAt)
	target.EndedAt = toTimePtr(psub.EndedAt)
	target.TrialEnd = toTimePtr(psub.TrialEnd)
	if len(psub.Metadata) > 0 {
		target.Metadata = metadata
	}
	eventAt = eventAt.UTC()
	target.ProcessorUpdatedAt = &eventAt
	return true, nil
}

// TenantIDFromMetadata extracts the tenant ID attached to processor
// metadata at subscription creation.
func TenantIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	raw, ok := metadata["tenant_id"]
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id missing from metadata")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant_id metadata")
	}
	return id, nil
}

// MapProcessorStatus normalizes processor status strings into the closed
// status set. Unknown values degrade to incomplete rather than failing.
func MapProcessorStatus(raw string) enums.SubscriptionStatus {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := processorStatusAliases[normalized]; ok {
		return mapped
	}
	if parsed, err := enums.ParseSubscriptionStatus(normalized); err == nil {
		return parsed
	}
	return enums.SubscriptionStatusIncomplete
}

var processorStatusAliases = map[string]enums.SubscriptionStatus{
	"incomplete_expired": enums.SubscriptionStatusCanceled,
	"paused":             enums.SubscriptionStatusUnpaid,
}

func marshalMetadata(metadata map[string]string) (json.RawMessage, error) {
	if len(metadata) == 0 {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func trimmedPtr(value string) *string {
	if s := strings.TrimSpace(value); s != "" {
		return &s
	}
	return nil
}
