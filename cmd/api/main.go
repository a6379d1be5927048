package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meterline/billing-engine/api/routes"
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
	"github.com/meterline/billing-engine/pkg/migrate"
	"github.com/meterline/billing-engine/pkg/pubsub"
	"github.com/meterline/billing-engine/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	if cfg.DB.AutoMigrate {
		sqlDB, err := dbClient.DB().DB()
		if err != nil {
			logg.Error(context.Background(), "failed to access sql connection", err)
			os.Exit(1)
		}
		if err := migrate.Up(context.Background(), sqlDB); err != nil {
			logg.Error(context.Background(), "failed to run migrations", err)
			os.Exit(1)
		}
	}

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

	usageService, err := usage.NewService(usage.ServiceParams{
		Repo:        usageRepo,
		BillingRepo: billingRepo,
		Catalog:     planCatalog,
		Notifier:    notifier,
		Tx:          dbClient,
		Logger:      logg,
		Config:      cfg.Usage,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

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

	paymentMethodService, err := billing.NewPaymentMethodService(billing.PaymentMethodServiceParams{
		Repo:      billingRepo,
		Processor: processorClient,
		Tx:        dbClient,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment method service", err)
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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Catalog:        planCatalog,
			Subscriptions:  subscriptionService,
			Invoices:       invoiceService,
			Usage:          usageService,
			PaymentMethods: paymentMethodService,
			Reconciler:     reconcilerService,
		}),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-stop:
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "error during shutdown", err)
		}
	}
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Billing.PlanCatalogFile != "" {
		return catalog.LoadFile(cfg.Billing.PlanCatalogFile)
	}
	return catalog.Default(), nil
}

// buildNotifier picks the Pub/Sub sender when notifications are enabled
// and a topic is configured, otherwise the log-only sender.
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
