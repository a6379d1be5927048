package billing

import (
	"net/http"
	"time"

	"github.com/meterline/billing-engine/api/middleware"
	"github.com/meterline/billing-engine/api/responses"
	"github.com/meterline/billing-engine/api/validators"
	"github.com/meterline/billing-engine/internal/subscriptions"
	"github.com/meterline/billing-engine/pkg/db/models"
	"github.com/meterline/billing-engine/pkg/enums"
	"github.com/meterline/billing-engine/pkg/logger"
)

type subscriptionResponse struct {
	ID                 string  `json:"id"`
	PlanID             string  `json:"plan_id"`
	Status             string  `json:"status"`
	BillingInterval    string  `json:"billing_interval"`
	PriceCents         int64   `json:"price_cents"`
	Currency           string  `json:"currency"`
	CurrentPeriodStart *string `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   string  `json:"current_period_end"`
	CancelAtPeriodEnd  bool    `json:"cancel_at_period_end"`
	CanceledAt         *string `json:"canceled_at,omitempty"`
	EndedAt            *string `json:"ended_at,omitempty"`
	TrialEnd           *string `json:"trial_end,omitempty"`
	CreatedAt          string  `json:"created_at"`
}

type subscriptionCreateRequest struct {
	PlanID          string `json:"plan_id" validate:"required"`
	Interval        string `json:"interval" validate:"omitempty,oneof=month year"`
	PaymentMethodID string `json:"payment_method_id"`
	CustomerEmail   string `json:"customer_email" validate:"omitempty,email"`
	CustomerName    string `json:"customer_name"`
	CouponCode      string `json:"coupon_code"`
}

type subscriptionChangeRequest struct {
	PlanID   string `json:"plan_id" validate:"required"`
	Interval string `json:"interval" validate:"omitempty,oneof=month year"`
	Quantity int64  `json:"quantity" validate:"omitempty,gt=0"`
	Prorate  *bool  `json:"prorate"`
}

type subscriptionCancelRequest struct {
	Immediately bool `json:"immediately"`
}

func SubscriptionCreate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload subscriptionCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, created, err := svc.Create(ctx, subscriptions.CreateParams{
			TenantID:        tenantID,
			PlanID:          payload.PlanID,
			Interval:        enums.BillingInterval(payload.Interval),
			PaymentMethodID: payload.PaymentMethodID,
			CustomerEmail:   payload.CustomerEmail,
			CustomerName:    payload.CustomerName,
			CouponCode:      payload.CouponCode,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, subscriptionToResponse(sub))
	}
}

func SubscriptionFetch(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sub, err := svc.Get(ctx, tenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func SubscriptionChangePlan(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload subscriptionChangeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// Plan moves prorate unless the caller opts out.
		prorate := true
		if payload.Prorate != nil {
			prorate = *payload.Prorate
		}

		sub, err := svc.ChangePlan(ctx, subscriptions.ChangePlanParams{
			TenantID: tenantID,
			PlanID:   payload.PlanID,
			Interval: enums.BillingInterval(payload.Interval),
			Quantity: payload.Quantity,
			Prorate:  prorate,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func SubscriptionCancel(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := subscriptionCancelRequest{}
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		sub, err := svc.Cancel(ctx, tenantID, payload.Immediately)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func SubscriptionReactivate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sub, err := svc.Reactivate(ctx, tenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func subscriptionToResponse(sub *models.Subscription) subscriptionResponse {
	if sub == nil {
		return subscriptionResponse{}
	}
	return subscriptionResponse{
		ID:                 sub.ID.String(),
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		BillingInterval:    string(sub.BillingInterval),
		PriceCents:         sub.PriceCents,
		Currency:           sub.Currency,
		CurrentPeriodStart: formatTimePtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         formatTimePtr(sub.CanceledAt),
		EndedAt:            formatTimePtr(sub.EndedAt),
		TrialEnd:           formatTimePtr(sub.TrialEnd),
		CreatedAt:          sub.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
