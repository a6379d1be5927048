package billing

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meterline/billing-engine/api/middleware"
	"github.com/meterline/billing-engine/api/responses"
	"github.com/meterline/billing-engine/api/validators"
	"github.com/meterline/billing-engine/internal/invoices"
	"github.com/meterline/billing-engine/pkg/db/models"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

type invoiceLineResponse struct {
	Kind            string  `json:"kind"`
	Description     string  `json:"description"`
	UsageType       *string `json:"usage_type,omitempty"`
	Quantity        int64   `json:"quantity"`
	UnitAmountCents int64   `json:"unit_amount_cents"`
	AmountCents     int64   `json:"amount_cents"`
}

type invoiceResponse struct {
	ID               string                `json:"id"`
	Status           string                `json:"status"`
	Currency         string                `json:"currency"`
	SubtotalCents    int64                 `json:"subtotal_cents"`
	TaxCents         int64                 `json:"tax_cents"`
	DiscountCents    int64                 `json:"discount_cents"`
	TotalCents       int64                 `json:"total_cents"`
	AmountPaidCents  int64                 `json:"amount_paid_cents"`
	AmountDueCents   int64                 `json:"amount_due_cents"`
	PeriodStart      string                `json:"period_start"`
	PeriodEnd        string                `json:"period_end"`
	DueDate          *string               `json:"due_date,omitempty"`
	HostedInvoiceURL *string               `json:"hosted_invoice_url,omitempty"`
	InvoicePDFURL    *string               `json:"invoice_pdf_url,omitempty"`
	PaidAt           *string               `json:"paid_at,omitempty"`
	LineItems        []invoiceLineResponse `json:"line_items"`
	CreatedAt        string                `json:"created_at"`
}

type invoiceListResponse struct {
	Invoices []invoiceResponse `json:"invoices"`
	Cursor   string            `json:"cursor,omitempty"`
}

type invoiceGenerateRequest struct {
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
	UsageOnly   bool       `json:"usage_only"`
}

func InvoiceList(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			limit = parsed
		}

		result, err := svc.List(ctx, invoices.ListParams{
			TenantID: tenantID,
			Limit:    limit,
			Cursor:   strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := invoiceListResponse{
			Invoices: make([]invoiceResponse, 0, len(result.Items)),
			Cursor:   result.Cursor,
		}
		for i := range result.Items {
			out.Invoices = append(out.Invoices, invoiceToResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func InvoiceDetail(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, invoiceID, err := invoiceIDs(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		inv, err := svc.Get(ctx, tenantID, invoiceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoiceToResponse(inv))
	}
}

// InvoiceGenerate builds the invoice for the current or a stated period.
// Regenerating an already invoiced period returns the existing invoice.
func InvoiceGenerate(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := middleware.RequireTenantID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := invoiceGenerateRequest{}
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		params := invoices.GenerateParams{
			TenantID:  tenantID,
			UsageOnly: payload.UsageOnly,
		}
		if payload.PeriodStart != nil {
			params.PeriodStart = *payload.PeriodStart
		}
		if payload.PeriodEnd != nil {
			params.PeriodEnd = *payload.PeriodEnd
		}

		inv, err := svc.Generate(ctx, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if inv == nil {
			responses.WriteSuccess(w, nil)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, invoiceToResponse(inv))
	}
}

func InvoiceFinalize(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, invoiceID, err := invoiceIDs(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		inv, err := svc.Finalize(ctx, tenantID, invoiceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoiceToResponse(inv))
	}
}

func InvoiceVoid(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, invoiceID, err := invoiceIDs(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		inv, err := svc.Void(ctx, tenantID, invoiceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoiceToResponse(inv))
	}
}

func invoiceIDs(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := middleware.RequireTenantID(r.Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	raw := strings.TrimSpace(chi.URLParam(r, "invoiceId"))
	invoiceID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice id")
	}
	return tenantID, invoiceID, nil
}

func invoiceToResponse(inv *models.Invoice) invoiceResponse {
	lines := make([]invoiceLineResponse, 0, len(inv.LineItems))
	for _, line := range inv.LineItems {
		lines = append(lines, invoiceLineResponse{
			Kind:            line.Kind,
			Description:     line.Description,
			UsageType:       line.UsageType,
			Quantity:        line.Quantity,
			UnitAmountCents: line.UnitAmountCents,
			AmountCents:     line.AmountCents,
		})
	}
	return invoiceResponse{
		ID:               inv.ID.String(),
		Status:           string(inv.Status),
		Currency:         inv.Currency,
		SubtotalCents:    inv.SubtotalCents,
		TaxCents:         inv.TaxCents,
		DiscountCents:    inv.DiscountCents,
		TotalCents:       inv.TotalCents,
		AmountPaidCents:  inv.AmountPaidCents,
		AmountDueCents:   inv.AmountDueCents,
		PeriodStart:      inv.PeriodStart.UTC().Format(time.RFC3339),
		PeriodEnd:        inv.PeriodEnd.UTC().Format(time.RFC3339),
		DueDate:          formatTimePtr(inv.DueDate),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDFURL:    inv.InvoicePDFURL,
		PaidAt:           formatTimePtr(inv.PaidAt),
		LineItems:        lines,
		CreatedAt:        inv.CreatedAt.UTC().Format(time.RFC3339),
	}
}
