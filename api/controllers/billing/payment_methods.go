package billing

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meterline/billing-engine/api/middleware"
	"github.com/meterline/billing-engine/api/responses"
	"github.com/meterline/billing-engine/api/validators"
	billingsvc "github.com/meterline/billing-engine/internal/billing"
	"github.com/meterline/billing-engine/pkg/db/models"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

type paymentMethodResponse struct {
	ID        string  `json:"id"`
	Brand     *string `json:"brand,omitempty"`
	Last4     *string `json:"last4,omitempty"`
	ExpMonth  *int    `json:"exp_month,omitempty"`
	ExpYear   *int    `json:"exp_year,omitempty"`
	IsDefault bool    `json:"is_default"`
	CreatedAt string  `json:"created_at"`
}

type paymentMethodListResponse struct {
	PaymentMethods []paymentMethodResponse `json:"payment_methods"`
}

type paymentMethodAttachRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
	MakeDefault     bool   `json:"make_default"`
}

func PaymentMethodList(svc billingsvc.PaymentMethodService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		methods, err := svc.List(ctx, tenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := paymentMethodListResponse{PaymentMethods: make([]paymentMethodResponse, 0, len(methods))}
		for i := range methods {
			out.PaymentMethods = append(out.PaymentMethods, paymentMethodToResponse(&methods[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func PaymentMethodAttach(svc billingsvc.PaymentMethodService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload paymentMethodAttachRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		method, err := svc.Attach(ctx, billingsvc.AttachParams{
			TenantID:                 tenantID,
			ProcessorPaymentMethodID: payload.PaymentMethodID,
			MakeDefault:              payload.MakeDefault,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, paymentMethodToResponse(method))
	}
}

func PaymentMethodSetDefault(svc billingsvc.PaymentMethodService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, methodID, err := paymentMethodIDs(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		method, err := svc.SetDefault(ctx, tenantID, methodID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentMethodToResponse(method))
	}
}

func PaymentMethodDetach(svc billingsvc.PaymentMethodService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, methodID, err := paymentMethodIDs(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Detach(ctx, tenantID, methodID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func paymentMethodIDs(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := middleware.RequireTenantID(r.Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	raw := strings.TrimSpace(chi.URLParam(r, "paymentMethodId"))
	methodID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method id")
	}
	return tenantID, methodID, nil
}

func paymentMethodToResponse(method *models.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:        method.ID.String(),
		Brand:     method.Brand,
		Last4:     method.Last4,
		ExpMonth:  method.ExpMonth,
		ExpYear:   method.ExpYear,
		IsDefault: method.IsDefault,
		CreatedAt: method.CreatedAt.UTC().Format(time.RFC3339),
	}
}
