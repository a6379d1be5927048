// Package webhooks exposes the payment processor's callback endpoint.
package webhooks

import (
	"io"
	"net/http"

	"github.com/meterline/billing-engine/api/responses"
	"github.com/meterline/billing-engine/internal/reconciler"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

const signatureHeader = "Stripe-Signature"

// ProcessorWebhook receives raw processor deliveries. The body must reach
// the reconciler unparsed because signature verification covers the exact
// bytes sent.
func ProcessorWebhook(svc reconciler.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "processor signature missing"))
			return
		}

		result, err := svc.ProcessWebhook(ctx, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
