package billing

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meterline/billing-engine/api/middleware"
	"github.com/meterline/billing-engine/api/responses"
	"github.com/meterline/billing-engine/api/validators"
	"github.com/meterline/billing-engine/internal/usage"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

type usageRecordRequest struct {
	UsageType  string     `json:"usage_type" validate:"required"`
	Quantity   int64      `json:"quantity" validate:"required,gt=0"`
	OccurredAt *time.Time `json:"occurred_at"`
}

func UsageRecord(svc usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload usageRecordRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		params := usage.RecordParams{
			TenantID:  tenantID,
			UsageType: payload.UsageType,
			Quantity:  payload.Quantity,
		}
		if payload.OccurredAt != nil {
			params.OccurredAt = *payload.OccurredAt
		}

		result, err := svc.RecordUsage(ctx, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// UsageValidate answers whether a pending quantity would be admitted,
// without recording anything: ?usage_type=messages&quantity=5.
func UsageValidate(svc usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		usageType := strings.TrimSpace(r.URL.Query().Get("usage_type"))
		if usageType == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "usage_type is required"))
			return
		}
		quantity := int64(1)
		if raw := strings.TrimSpace(r.URL.Query().Get("quantity")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quantity"))
				return
			}
			quantity = parsed
		}

		validation, err := svc.ValidateUsage(ctx, tenantID, usageType, quantity)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, validation)
	}
}

func UsageSummary(svc usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		at := time.Time{}
		if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid at timestamp"))
				return
			}
			at = parsed
		}

		summary, err := svc.GetUsageSummary(ctx, tenantID, at)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
