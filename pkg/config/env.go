package config

// EnvPrefix is empty because every field carries its fully qualified name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "DONATIONS_APP_ENV"
	EnvPort     = "DONATIONS_APP_PORT"
	EnvDBDSN    = "DONATIONS_DB_DSN"
	EnvDBHost   = "DONATIONS_DB_HOST"
	EnvDBUser   = "DONATIONS_DB_USER"
	EnvDBName   = "DONATIONS_DB_NAME"
	EnvRedisURL = "DONATIONS_REDIS_URL"

	EnvStripeAPIKey        = "DONATIONS_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "DONATIONS_STRIPE_WEBHOOK_SECRET"

	EnvFeePlatformRate     = "DONATIONS_FEE_PLATFORM_RATE"
	EnvFeeGSTRate          = "DONATIONS_FEE_GST_RATE"
	EnvFeeProcessorRate    = "DONATIONS_FEE_PROCESSOR_RATE"
	EnvFeeProcessorFixed   = "DONATIONS_FEE_PROCESSOR_FIXED"
	EnvSchedulerMaxAttempt = "DONATIONS_SCHEDULER_MAX_ATTEMPTS"

	EnvGCPProjectID         = "DONATIONS_GCP_PROJECT_ID"
	EnvPubSubDonationsTopic = "DONATIONS_PUBSUB_DONATIONS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
