package middleware

import (
	"context"

	"github.com/google/uuid"

	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
)

type contextKey string

const (
	ctxTenantID contextKey = "tenant_id"
	ctxSubject  contextKey = "subject"
)

// TenantIDFromContext returns the authenticated tenant id, or uuid.Nil.
func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxTenantID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// RequireTenantID returns the authenticated tenant id or an unauthorized
// error when the request carries none.
func RequireTenantID(ctx context.Context) (uuid.UUID, error) {
	tenantID := TenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant context missing")
	}
	return tenantID, nil
}

func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxSubject).(string); ok {
		return v
	}
	return ""
}

// WithTenantID injects the tenant identifier for downstream handlers.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxTenantID, tenantID)
}
