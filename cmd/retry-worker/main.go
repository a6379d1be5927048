package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meterline/billing-engine/internal/billing"
	"github.com/meterline/billing-engine/internal/catalog"
	"github.com/meterline/billing-engine/internal/invoices"
	"github.com/meterline/billing-engine/internal/notifications"
	"github.com/meterline/billing-engine/internal/processor"
	"github.com/meterline/billing-engine/internal/reconciler"
	"github.com/meterline/billing-engine/internal/subscriptions"
	"github.com/meterline/billing-engine/internal/tax"
	"github.com/meterline/billing-engine/internal/usage"
	"github.com/meterline/billing-engine/pkg/config"
	"github.com/meterline/billing-engine/pkg/db"
	"github.com/meterline/billing-engine/pkg/logger"
	"github.com/meterline/billing-engine/pkg/metrics"
	"github.com/meterline/billing-engine/pkg/pubsub"
	"github.com/meterline/billing-engine/pkg/redis"
)

// The retry worker periodically re-dispatches webhook events whose first
// delivery failed. It shares the reconciler with the API process; only
// the trigger differs.
func main() {
	logg := logger.New(logger.Options{ServiceName: "retry-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "retry-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	planCatalog, err := loadCatalog(cfg)
	if err != nil {
		logg.Error(context.Background(), "failed to load plan catalog", err)
		os.Exit(1)
	}

	notifier, pubsubClient, err := buildNotifier(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification sender", err)
		os.Exit(1)
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
	}

	processorClient, err := processor.NewStripeClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create processor client", err)
		os.Exit(1)
	}

	taxCalc, err := tax.NewStaticCalculator(cfg.Tax)
	if err != nil {
		logg.Error(context.Background(), "failed to create tax calculator", err)
		os.Exit(1)
	}

	billingRepo := billing.NewRepository(dbClient.DB())
	usageRepo := usage.NewRepository(dbClient.DB())
	invoiceRepo := invoices.NewRepository(dbClient.DB())

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:            billingRepo,
		Catalog:         planCatalog,
		Processor:       processorClient,
		Notifier:        notifier,
		Tx:              dbClient,
		Logger:          logg,
		DefaultCurrency: cfg.Billing.DefaultCurrency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	invoiceService, err := invoices.NewService(invoices.ServiceParams{
		Repo:        invoiceRepo,
		BillingRepo: billingRepo,
		UsageRepo:   usageRepo,
		Catalog:     planCatalog,
		Tax:         taxCalc,
		Processor:   processorClient,
		Notifier:    notifier,
		Tx:          dbClient,
		Logger:      logg,
		Billing:     cfg.Billing,
		Usage:       cfg.Usage,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoice service", err)
		os.Exit(1)
	}

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		Repo:          billingRepo,
		Subscriptions: subscriptionService,
		Invoices:      invoiceService,
		Processor:     processorClient,
		Guard:         reconciler.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL),
		Notifier:      notifier,
		Metrics:       metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Tx:            dbClient,
		Logger:        logg,
		Webhook:       cfg.Webhook,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Webhook.RetryInterval.String(),
	})
	logg.Info(ctx, "starting retry worker")

	runSweep(ctx, logg, reconcilerService)

	ticker := time.NewTicker(cfg.Webhook.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logg.Info(ctx, "shutting down retry worker")
			return
		case <-ticker.C:
			runSweep(ctx, logg, reconcilerService)
		}
	}
}

func runSweep(ctx context.Context, logg *logger.Logger, svc reconciler.Service) {
	report, err := svc.ProcessFailedEvents(ctx)
	if err != nil {
		logg.Error(ctx, "retry sweep finished with errors", err)
	}
	if report == nil {
		return
	}
	if report.Scanned > 0 {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"scanned":   report.Scanned,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		}), "retry sweep complete")
	}
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Billing.PlanCatalogFile != "" {
		return catalog.LoadFile(cfg.Billing.PlanCatalogFile)
	}
	return catalog.Default(), nil
}

func buildNotifier(ctx context.Context, cfg *config.Config, logg *logger.Logger) (notifications.Service, *pubsub.Client, error) {
	if !cfg.Notifications.Enabled || cfg.Notifications.Topic == "" {
		svc, err := notifications.NewLogSender(logg)
		return svc, nil, err
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, logg)
	if err != nil {
		return nil, nil, err
	}
	svc, err := notifications.NewPublisher(notifications.PublisherParams{
		PubSub: client,
		Topic:  cfg.Notifications.Topic,
		Logger: logg,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return svc, client, nil
}
