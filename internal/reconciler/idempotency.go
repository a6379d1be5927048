package reconciler

import (
	"context"
	"time"

	"github.com/meterline/billing-engine/pkg/redis"
)

const idempotencyScope = "webhook"

// IdempotencyGuard short-circuits duplicate webhook deliveries through a
// fast redis check before the database is consulted. Redis being down
// must never block processing, so callers treat guard errors as "not a
// duplicate" and fall through to the database.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyGuard builds a guard. A nil store disables the guard.
func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &IdempotencyGuard{store: store, ttl: ttl}
}

// CheckAndMark atomically claims the event id. It returns true when the
// id was already claimed by an earlier delivery.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if g == nil || g.store == nil || eventID == "" {
		return false, nil
	}
	key := g.store.IdempotencyKey(idempotencyScope, eventID)
	set, err := g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete releases the claim so a failed event can be retried by a
// redelivery.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if g == nil || g.store == nil || eventID == "" {
		return nil
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(idempotencyScope, eventID))
}
