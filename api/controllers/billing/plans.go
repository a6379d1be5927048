// Package billing holds the tenant-facing billing HTTP handlers.
package billing

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/meterline/billing-engine/api/responses"
	"github.com/meterline/billing-engine/api/validators"
	"github.com/meterline/billing-engine/internal/catalog"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

type usageLimitResponse struct {
	Type        string `json:"type"`
	Limit       int64  `json:"limit"`
	SoftLimit   int64  `json:"soft_limit"`
	HardLimit   int64  `json:"hard_limit"`
	OverageRate string `json:"overage_rate"`
}

type planResponse struct {
	ID                string               `json:"id"`
	Name              string               `json:"name"`
	MonthlyPriceCents int64                `json:"monthly_price_cents"`
	YearlyPriceCents  int64                `json:"yearly_price_cents"`
	Currency          string               `json:"currency"`
	TrialDays         int                  `json:"trial_days"`
	Features          []string             `json:"features"`
	UsageLimits       []usageLimitResponse `json:"usage_limits"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

func PlansList(cat *catalog.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if cat == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}
		plans := cat.Plans()
		out := make([]planResponse, 0, len(plans))
		for i := range plans {
			out = append(out, planToResponse(&plans[i]))
		}
		responses.WriteSuccess(w, planListResponse{Plans: out})
	}
}

func PlanDetail(cat *catalog.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		planID := strings.TrimSpace(chi.URLParam(r, "planId"))
		if planID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required"))
			return
		}
		plan := cat.Plan(planID)
		if plan == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found"))
			return
		}
		responses.WriteSuccess(w, planToResponse(plan))
	}
}

// PlansCompare reports how two plans differ: ?a=free&b=pro.
func PlansCompare(cat *catalog.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		idA := strings.TrimSpace(r.URL.Query().Get("a"))
		idB := strings.TrimSpace(r.URL.Query().Get("b"))
		if idA == "" || idB == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "query parameters a and b are required"))
			return
		}
		planA, planB := cat.Plan(idA), cat.Plan(idB)
		if planA == nil || planB == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found"))
			return
		}
		responses.WriteSuccess(w, catalog.Compare(planA, planB))
	}
}

type recommendRequest struct {
	Features             []string         `json:"features"`
	MinLimits            map[string]int64 `json:"min_limits"`
	MaxMonthlyPriceCents int64            `json:"max_monthly_price_cents" validate:"gte=0"`
}

// PlanRecommend returns the cheapest plan meeting the stated needs.
func PlanRecommend(cat *catalog.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var payload recommendRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan := cat.Recommended(catalog.Requirements{
			Features:             payload.Features,
			MinLimits:            payload.MinLimits,
			MaxMonthlyPriceCents: payload.MaxMonthlyPriceCents,
		})
		if plan == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no plan meets the requirements"))
			return
		}
		responses.WriteSuccess(w, planToResponse(plan))
	}
}

func planToResponse(plan *catalog.Plan) planResponse {
	limits := make([]usageLimitResponse, 0, len(plan.UsageLimits))
	for _, limit := range plan.UsageLimits {
		limits = append(limits, usageLimitResponse{
			Type:        limit.Type,
			Limit:       limit.Limit,
			SoftLimit:   limit.SoftLimit,
			HardLimit:   limit.HardLimit,
			OverageRate: limit.OverageRate.String(),
		})
	}
	features := make([]string, len(plan.Features))
	copy(features, plan.Features)
	return planResponse{
		ID:                plan.ID,
		Name:              plan.Name,
		MonthlyPriceCents: plan.MonthlyPriceCents,
		YearlyPriceCents:  plan.YearlyPriceCents,
		Currency:          plan.Currency,
		TrialDays:         plan.TrialDays,
		Features:          features,
		UsageLimits:       limits,
	}
}
