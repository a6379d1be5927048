package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces all engine configuration variables.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Config aggregates every subsystem's configuration.
type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Stripe        StripeConfig
	Billing       BillingConfig
	Usage         UsageConfig
	Webhook       WebhookConfig
	Notifications NotificationsConfig
	Tax           TaxConfig
	GCP           GCPConfig
}

// Load parses the environment into a Config and normalizes derived values.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLING_APP_ENV" default:"dev"`
	Port         string `envconfig:"BILLING_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BILLING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILLING_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BILLING_DB_DSN"`
	Driver string `envconfig:"BILLING_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"BILLING_DB_HOST"`
	Port     int    `envconfig:"BILLING_DB_PORT" default:"5432"`
	User     string `envconfig:"BILLING_DB_USER"`
	Password string `envconfig:"BILLING_DB_PASSWORD"`
	Name     string `envconfig:"BILLING_DB_NAME"`
	SSLMode  string `envconfig:"BILLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"BILLING_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLING_REDIS_URL"`
	Address      string        `envconfig:"BILLING_REDIS_ADDR"`
	Password     string        `envconfig:"BILLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type AuthConfig struct {
	JWTSecret string `envconfig:"BILLING_JWT_SECRET"`
	JWTIssuer string `envconfig:"BILLING_JWT_ISSUER" default:"billing-engine"`
}

type StripeConfig struct {
	APIKey        string        `envconfig:"BILLING_STRIPE_API_KEY"`
	WebhookSecret string        `envconfig:"BILLING_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"BILLING_STRIPE_ENV" default:"test"`
	Timeout       time.Duration `envconfig:"BILLING_STRIPE_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	DefaultCurrency  string `envconfig:"BILLING_DEFAULT_CURRENCY" default:"usd"`
	InvoiceGraceDays int    `envconfig:"BILLING_INVOICE_GRACE_DAYS" default:"7"`
	AutoFinalize     bool   `envconfig:"BILLING_INVOICE_AUTO_FINALIZE" default:"false"`
	PlanCatalogFile  string `envconfig:"BILLING_PLAN_CATALOG_FILE"`
}

type UsageConfig struct {
	BucketInterval         string `envconfig:"BILLING_USAGE_BUCKET_INTERVAL" default:"month"`
	EnforceHardLimits      bool   `envconfig:"BILLING_USAGE_ENFORCE_HARD_LIMITS" default:"true"`
	GracePeriodPercentage  int    `envconfig:"BILLING_USAGE_GRACE_PCT" default:"10"`
	WarningThresholdsCSV   string `envconfig:"BILLING_USAGE_WARNING_THRESHOLDS" default:"80,90,100"`
	SummaryDisplayCapPct   int    `envconfig:"BILLING_USAGE_SUMMARY_CAP_PCT" default:"100"`
	NotificationsRecipient string `envconfig:"BILLING_USAGE_NOTIFY_RECIPIENT" default:"billing-owner"`
}

// WarningThresholds parses the configured soft-limit thresholds.
func (u UsageConfig) WarningThresholds() []int {
	parts := strings.Split(u.WarningThresholdsCSV, ",")
	thresholds := make([]int, 0, len(parts))
	for _, part := range parts {
		var pct int
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &pct); err == nil && pct > 0 {
			thresholds = append(thresholds, pct)
		}
	}
	return thresholds
}

type WebhookConfig struct {
	IdempotencyCheck bool          `envconfig:"BILLING_WEBHOOK_IDEMPOTENCY_CHECK" default:"true"`
	IdempotencyTTL   time.Duration `envconfig:"BILLING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	MaxRetryAttempts int           `envconfig:"BILLING_WEBHOOK_MAX_RETRY_ATTEMPTS" default:"5"`
	RetryInterval    time.Duration `envconfig:"BILLING_WEBHOOK_RETRY_INTERVAL" default:"1m"`
	RetryBatchSize   int           `envconfig:"BILLING_WEBHOOK_RETRY_BATCH_SIZE" default:"100"`
}

type NotificationsConfig struct {
	Topic   string `envconfig:"BILLING_NOTIFICATION_TOPIC"`
	Enabled bool   `envconfig:"BILLING_NOTIFICATIONS_ENABLED" default:"true"`
}

type TaxConfig struct {
	Enabled     bool   `envconfig:"BILLING_TAX_ENABLED" default:"false"`
	DefaultRate string `envconfig:"BILLING_TAX_DEFAULT_RATE" default:"0"`
	Description string `envconfig:"BILLING_TAX_DESCRIPTION" default:"Sales tax"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"BILLING_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"BILLING_GCP_CREDENTIALS_JSON"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := []struct {
		name  string
		value string
	}{
		{"BILLING_DB_HOST", db.Host},
		{"BILLING_DB_USER", db.User},
		{"BILLING_DB_NAME", db.Name},
	}
	for _, field := range required {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either BILLING_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
