package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Pricing      PricingConfig
	Payment      PaymentConfig
	Carrier      CarrierConfig
	Marketplace  MarketplaceConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Metrics      MetricsConfig
	RateLimit    RateLimitConfig
}

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
	Env          string `envconfig:"ORDERCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERCORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERCORE_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"ORDERCORE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERCORE_DB_DSN"`
	Driver string `envconfig:"ORDERCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERCORE_DB_USER"`
	LegacyPassword string `envconfig:"ORDERCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERCORE_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"ORDERCORE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ORDERCORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ORDERCORE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORDERCORE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"ORDERCORE_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

// PricingConfig holds the fee schedule. Amounts are whole currency units.
type PricingConfig struct {
	VirtualAccountFee int64  `envconfig:"ORDERCORE_PRICING_VA_FEE" default:"4000"`
	CardFixedFee      int64  `envconfig:"ORDERCORE_PRICING_CARD_FIXED_FEE" default:"2000"`
	TaxRate           string `envconfig:"ORDERCORE_PRICING_TAX_RATE" default:"0.11"`
	AppFeeRate        string `envconfig:"ORDERCORE_PRICING_APP_FEE_RATE" default:"0.01"`
	RoundingUnit      int64  `envconfig:"ORDERCORE_PRICING_ROUNDING_UNIT" default:"1000"`
}

type PaymentConfig struct {
	XenditAPIKey        string        `envconfig:"ORDERCORE_XENDIT_API_KEY" required:"true"`
	XenditBaseURL       string        `envconfig:"ORDERCORE_XENDIT_BASE_URL" default:"https://api.xendit.co"`
	CallbackToken       string        `envconfig:"ORDERCORE_XENDIT_CALLBACK_TOKEN"`
	SuccessRedirectURL  string        `envconfig:"ORDERCORE_PAYMENT_SUCCESS_URL"`
	FailureRedirectURL  string        `envconfig:"ORDERCORE_PAYMENT_FAILURE_URL"`
	InvoiceDuration     time.Duration `envconfig:"ORDERCORE_PAYMENT_INVOICE_DURATION" default:"24h"`
	EnabledChannels     []string      `envconfig:"ORDERCORE_PAYMENT_ENABLED_CHANNELS" default:"BCA,BNI,BRI,MANDIRI,PERMATA,CREDIT_CARD"`
	RequestTimeout      time.Duration `envconfig:"ORDERCORE_PAYMENT_TIMEOUT" default:"15s"`
	CheckoutMaxAttempts int           `envconfig:"ORDERCORE_CHECKOUT_MAX_ATTEMPTS" default:"3"`
}

type CarrierConfig struct {
	BaseURL        string        `envconfig:"ORDERCORE_CARRIER_BASE_URL" default:"https://apiv2.jne.co.id:10205"`
	Username       string        `envconfig:"ORDERCORE_CARRIER_USERNAME"`
	APIKey         string        `envconfig:"ORDERCORE_CARRIER_API_KEY"`
	CustomerCode   string        `envconfig:"ORDERCORE_CARRIER_CUSTOMER_CODE"`
	OriginCode     string        `envconfig:"ORDERCORE_CARRIER_ORIGIN_CODE" required:"true"`
	BranchCode     string        `envconfig:"ORDERCORE_CARRIER_BRANCH_CODE"`
	ShipperName    string        `envconfig:"ORDERCORE_CARRIER_SHIPPER_NAME"`
	ShipperPhone   string        `envconfig:"ORDERCORE_CARRIER_SHIPPER_PHONE"`
	ShipperAddress string        `envconfig:"ORDERCORE_CARRIER_SHIPPER_ADDRESS"`
	ShipperCity    string        `envconfig:"ORDERCORE_CARRIER_SHIPPER_CITY"`
	ShipperZip     string        `envconfig:"ORDERCORE_CARRIER_SHIPPER_ZIP"`
	MinWeightKg    int           `envconfig:"ORDERCORE_CARRIER_MIN_WEIGHT_KG" default:"1"`
	RequestTimeout time.Duration `envconfig:"ORDERCORE_CARRIER_TIMEOUT" default:"10s"`
}

type MarketplaceConfig struct {
	BaseURL           string        `envconfig:"ORDERCORE_MARKETPLACE_BASE_URL" default:"https://open-api.tiktokglobalshop.com"`
	AppKey            string        `envconfig:"ORDERCORE_MARKETPLACE_APP_KEY"`
	AppSecret         string        `envconfig:"ORDERCORE_MARKETPLACE_APP_SECRET"`
	AccessToken       string        `envconfig:"ORDERCORE_MARKETPLACE_ACCESS_TOKEN"`
	ShopCipher        string        `envconfig:"ORDERCORE_MARKETPLACE_SHOP_CIPHER"`
	PageSize          int           `envconfig:"ORDERCORE_MARKETPLACE_PAGE_SIZE" default:"50"`
	RequestsPerSecond float64       `envconfig:"ORDERCORE_MARKETPLACE_RPS" default:"5"`
	RequestTimeout    time.Duration `envconfig:"ORDERCORE_MARKETPLACE_TIMEOUT" default:"10s"`
}

// Enabled reports whether the marketplace integration is configured.
func (m MarketplaceConfig) Enabled() bool {
	return strings.TrimSpace(m.AppKey) != "" && strings.TrimSpace(m.AccessToken) != ""
}

type GCPConfig struct {
	ProjectID string `envconfig:"ORDERCORE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrderEventsTopic string `envconfig:"ORDERCORE_PUBSUB_ORDER_EVENTS_TOPIC" default:"order-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"ORDERCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"ORDERCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"ORDERCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Lease          time.Duration `envconfig:"ORDERCORE_OUTBOX_LEASE" default:"1m"`
	RetentionDays  int           `envconfig:"ORDERCORE_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"ORDERCORE_CRON_INTERVAL" default:"5m"`
	LockTTL               time.Duration `envconfig:"ORDERCORE_CRON_LOCK_TTL" default:"10m"`
	ReconciliationEnabled bool          `envconfig:"ORDERCORE_CRON_RECONCILIATION_ENABLED" default:"true"`
	TrackingEnabled       bool          `envconfig:"ORDERCORE_CRON_TRACKING_ENABLED" default:"true"`
	TrackingBatchSize     int           `envconfig:"ORDERCORE_CRON_TRACKING_BATCH_SIZE" default:"200"`
	WaybillRetryEnabled   bool          `envconfig:"ORDERCORE_CRON_WAYBILL_RETRY_ENABLED" default:"true"`
}

type MetricsConfig struct {
	Addr string `envconfig:"ORDERCORE_METRICS_ADDR" default:":9090"`
}

// RateLimitConfig throttles checkout attempts per customer.
type RateLimitConfig struct {
	CheckoutWindow time.Duration `envconfig:"ORDERCORE_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutLimit  int64         `envconfig:"ORDERCORE_RATE_LIMIT_CHECKOUT_LIMIT" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
