package config

const EnvPrefix = "PACTSIGN"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv     = "PACTSIGN_APP_ENV"
	EnvPort       = "PACTSIGN_APP_PORT"
	EnvLogLevel   = "PACTSIGN_LOG_LEVEL"
	EnvDBDSN      = "PACTSIGN_DB_DSN"
	EnvDBDriver   = "PACTSIGN_DB_DRIVER"
	EnvDBHost     = "PACTSIGN_DB_HOST"
	EnvDBUser     = "PACTSIGN_DB_USER"
	EnvDBPassword = "PACTSIGN_DB_PASSWORD"
	EnvDBName     = "PACTSIGN_DB_NAME"
	EnvRedisURL   = "PACTSIGN_REDIS_URL"
	EnvJWTSecret  = "PACTSIGN_JWT_SECRET"
	EnvJWTIssuer  = "PACTSIGN_JWT_ISSUER"
	EnvUseSQLite  = "PACTSIGN_USE_SQLITE"

	EnvHTTPCORSOrigins = "PACTSIGN_HTTP_CORS_ORIGINS"

	EnvOutboxBatchSize   = "PACTSIGN_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxRetries  = "PACTSIGN_OUTBOX_MAX_RETRIES"
	EnvOutboxBackoffBase = "PACTSIGN_OUTBOX_BACKOFF_BASE"

	EnvMailTransport = "PACTSIGN_MAIL_TRANSPORT"
	EnvMailFrom      = "PACTSIGN_MAIL_FROM_EMAIL"

	EnvContractsSigningBaseURL    = "PACTSIGN_CONTRACTS_SIGNING_BASE_URL"
	EnvContractsNotifyPartialSign = "PACTSIGN_CONTRACTS_NOTIFY_ON_PARTIAL_SIGN"
	EnvContractsSignedDocumentKey = "PACTSIGN_CONTRACTS_SIGNED_DOCUMENT_KEY"
	EnvCronWarningWindow          = "PACTSIGN_CRON_WARNING_WINDOW"
	EnvCronOutboxRetentionDays    = "PACTSIGN_CRON_OUTBOX_RETENTION_DAYS"
)

const (
	MailTransportSES = "ses"
	MailTransportLog = "log"
)

// legacyDBEnvVars must all be set when no DSN is provided.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
