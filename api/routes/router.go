// Package routes wires every HTTP surface onto the chi router.
package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meterline/billing-engine/api/controllers"
	billingcontrollers "github.com/meterline/billing-engine/api/controllers/billing"
	webhookcontrollers "github.com/meterline/billing-engine/api/controllers/webhooks"
	"github.com/meterline/billing-engine/api/middleware"
	billingsvc "github.com/meterline/billing-engine/internal/billing"
	"github.com/meterline/billing-engine/internal/catalog"
	"github.com/meterline/billing-engine/internal/invoices"
	"github.com/meterline/billing-engine/internal/reconciler"
	"github.com/meterline/billing-engine/internal/subscriptions"
	"github.com/meterline/billing-engine/internal/usage"
	"github.com/meterline/billing-engine/pkg/config"
	"github.com/meterline/billing-engine/pkg/db"
	"github.com/meterline/billing-engine/pkg/logger"
	"github.com/meterline/billing-engine/pkg/redis"
)

// Params collects everything the router serves.
type Params struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          *redis.Client
	Catalog        *catalog.Catalog
	Subscriptions  subscriptions.Service
	Invoices       invoices.Service
	Usage          usage.Service
	PaymentMethods billingsvc.PaymentMethodService
	Reconciler     reconciler.Service
}

func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.DB, p.Redis))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/processor", webhookcontrollers.ProcessorWebhook(p.Reconciler, p.Logger))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(middleware.Auth(p.Config.Auth, p.Logger))

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", billingcontrollers.PlansList(p.Catalog, p.Logger))
			r.Get("/compare", billingcontrollers.PlansCompare(p.Catalog, p.Logger))
			r.Post("/recommend", billingcontrollers.PlanRecommend(p.Catalog, p.Logger))
			r.Get("/{planId}", billingcontrollers.PlanDetail(p.Catalog, p.Logger))
		})

		r.Route("/subscription", func(r chi.Router) {
			r.Post("/", billingcontrollers.SubscriptionCreate(p.Subscriptions, p.Logger))
			r.Get("/", billingcontrollers.SubscriptionFetch(p.Subscriptions, p.Logger))
			r.Patch("/", billingcontrollers.SubscriptionChangePlan(p.Subscriptions, p.Logger))
			r.Post("/cancel", billingcontrollers.SubscriptionCancel(p.Subscriptions, p.Logger))
			r.Post("/reactivate", billingcontrollers.SubscriptionReactivate(p.Subscriptions, p.Logger))
		})

		r.Route("/usage", func(r chi.Router) {
			r.Post("/", billingcontrollers.UsageRecord(p.Usage, p.Logger))
			r.Get("/validate", billingcontrollers.UsageValidate(p.Usage, p.Logger))
			r.Get("/summary", billingcontrollers.UsageSummary(p.Usage, p.Logger))
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", billingcontrollers.InvoiceList(p.Invoices, p.Logger))
			r.Post("/generate", billingcontrollers.InvoiceGenerate(p.Invoices, p.Logger))
			r.Get("/{invoiceId}", billingcontrollers.InvoiceDetail(p.Invoices, p.Logger))
			r.Post("/{invoiceId}/finalize", billingcontrollers.InvoiceFinalize(p.Invoices, p.Logger))
			r.Post("/{invoiceId}/void", billingcontrollers.InvoiceVoid(p.Invoices, p.Logger))
		})

		r.Route("/payment-methods", func(r chi.Router) {
			r.Get("/", billingcontrollers.PaymentMethodList(p.PaymentMethods, p.Logger))
			r.Post("/", billingcontrollers.PaymentMethodAttach(p.PaymentMethods, p.Logger))
			r.Post("/{paymentMethodId}/default", billingcontrollers.PaymentMethodSetDefault(p.PaymentMethods, p.Logger))
			r.Delete("/{paymentMethodId}", billingcontrollers.PaymentMethodDetach(p.PaymentMethods, p.Logger))
		})
	})

	return r
}
