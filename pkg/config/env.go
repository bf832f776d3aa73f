package config

const (
	EnvPrefix = "ORDERCORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv           = "ORDERCORE_APP_ENV"
	EnvPort             = "ORDERCORE_APP_PORT"
	EnvDBDSN            = "ORDERCORE_DB_DSN"
	EnvDBHost           = "ORDERCORE_DB_HOST"
	EnvDBUser           = "ORDERCORE_DB_USER"
	EnvDBName           = "ORDERCORE_DB_NAME"
	EnvRedisURL         = "ORDERCORE_REDIS_URL"
	EnvJWTSecret        = "ORDERCORE_JWT_SECRET"
	EnvJWTIssuer        = "ORDERCORE_JWT_ISSUER"
	EnvXenditAPIKey     = "ORDERCORE_XENDIT_API_KEY"
	EnvCarrierOrigin    = "ORDERCORE_CARRIER_ORIGIN_CODE"
	EnvPaymentChannels  = "ORDERCORE_PAYMENT_ENABLED_CHANNELS"
	EnvPricingVAFee     = "ORDERCORE_PRICING_VA_FEE"
	EnvMarketplaceKey   = "ORDERCORE_MARKETPLACE_APP_KEY"
	EnvMarketplaceToken = "ORDERCORE_MARKETPLACE_ACCESS_TOKEN"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
