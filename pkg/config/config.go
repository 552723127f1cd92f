package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Fees         FeesConfig
	Scheduler    SchedulerConfig
	RoundUp      RoundUpConfig
	Rewards      RewardsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Fees.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DONATIONS_APP_ENV" required:"true"`
	Port         string `envconfig:"DONATIONS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DONATIONS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DONATIONS_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"DONATIONS_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DONATIONS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DONATIONS_DB_DSN"`
	Driver string `envconfig:"DONATIONS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DONATIONS_DB_HOST"`
	LegacyPort     int    `envconfig:"DONATIONS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DONATIONS_DB_USER"`
	LegacyPassword string `envconfig:"DONATIONS_DB_PASSWORD"`
	LegacyName     string `envconfig:"DONATIONS_DB_NAME"`
	LegacySSLMode  string `envconfig:"DONATIONS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DONATIONS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DONATIONS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DONATIONS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DONATIONS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"DONATIONS_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DONATIONS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DONATIONS_REDIS_ADDR"`
	Password     string        `envconfig:"DONATIONS_REDIS_PASSWORD"`
	DB           int           `envconfig:"DONATIONS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DONATIONS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DONATIONS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DONATIONS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DONATIONS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DONATIONS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DONATIONS_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DONATIONS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"DONATIONS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DONATIONS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DonationsTopic string `envconfig:"DONATIONS_PUBSUB_DONATIONS_TOPIC" default:"donation-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DONATIONS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DONATIONS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DONATIONS_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// Retention is how long published rows are kept before the prune job removes them.
	Retention      time.Duration `envconfig:"DONATIONS_OUTBOX_RETENTION" default:"720h"`
	PruneBatchSize int           `envconfig:"DONATIONS_OUTBOX_PRUNE_BATCH_SIZE" default:"500"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"DONATIONS_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"DONATIONS_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"DONATIONS_STRIPE_ENV" default:"test"`
	Currency      string `envconfig:"DONATIONS_STRIPE_CURRENCY" default:"aud"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// FeesConfig carries the jurisdiction-specific fee rates.
type FeesConfig struct {
	PlatformRate   decimal.Decimal `envconfig:"DONATIONS_FEE_PLATFORM_RATE" default:"0.05"`
	GSTRate        decimal.Decimal `envconfig:"DONATIONS_FEE_GST_RATE" default:"0.10"`
	ProcessorRate  decimal.Decimal `envconfig:"DONATIONS_FEE_PROCESSOR_RATE" default:"0.029"`
	ProcessorFixed decimal.Decimal `envconfig:"DONATIONS_FEE_PROCESSOR_FIXED" default:"0.30"`
}

func (f FeesConfig) validate() error {
	one := decimal.NewFromInt(1)
	for name, rate := range map[string]decimal.Decimal{
		EnvFeePlatformRate:  f.PlatformRate,
		EnvFeeGSTRate:       f.GSTRate,
		EnvFeeProcessorRate: f.ProcessorRate,
	} {
		if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
			return fmt.Errorf("%s must be in [0, 1), got %s", name, rate)
		}
	}
	if f.ProcessorFixed.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvFeeProcessorFixed)
	}
	return nil
}

type SchedulerConfig struct {
	Interval        time.Duration `envconfig:"DONATIONS_SCHEDULER_INTERVAL" default:"1m"`
	BatchSize       int           `envconfig:"DONATIONS_SCHEDULER_BATCH_SIZE" default:"50"`
	MaxAttempts     int           `envconfig:"DONATIONS_SCHEDULER_MAX_ATTEMPTS" default:"3"`
	BackoffBase     time.Duration `envconfig:"DONATIONS_SCHEDULER_BACKOFF_BASE" default:"1s"`
	StaleLockWindow time.Duration `envconfig:"DONATIONS_SCHEDULER_STALE_LOCK_WINDOW" default:"30m"`
	PipelineGrace   time.Duration `envconfig:"DONATIONS_SCHEDULER_PIPELINE_GRACE" default:"15m"`

	// RetryDelay is the wait before a template whose run failed transiently is
	// due again; it doubles with every consecutive failure.
	RetryDelay             time.Duration `envconfig:"DONATIONS_SCHEDULER_RETRY_DELAY" default:"15m"`
	MaxConsecutiveFailures int           `envconfig:"DONATIONS_SCHEDULER_MAX_CONSECUTIVE_FAILURES" default:"6"`
}

type RoundUpConfig struct {
	Threshold decimal.Decimal `envconfig:"DONATIONS_ROUNDUP_THRESHOLD" default:"10.00"`
	Cadence   time.Duration   `envconfig:"DONATIONS_ROUNDUP_CADENCE" default:"720h"`
	BatchSize int             `envconfig:"DONATIONS_ROUNDUP_BATCH_SIZE" default:"25"`

	StaleBatchWindow time.Duration `envconfig:"DONATIONS_ROUNDUP_STALE_BATCH_WINDOW" default:"1h"`
}

type RewardsConfig struct {
	PointsPerUnit int `envconfig:"DONATIONS_REWARDS_POINTS_PER_UNIT" default:"100"`
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
