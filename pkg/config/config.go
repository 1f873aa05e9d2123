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
	HTTP         HTTPConfig
	FeatureFlags FeatureFlagsConfig
	Outbox       OutboxConfig
	Mail         MailConfig
	AWS          AWSConfig
	Contracts    ContractsConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
		if cfg.DB.DSN == "" {
			cfg.DB.DSN = "file:pactsign.db?cache=shared"
		}
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Mail.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PACTSIGN_APP_ENV" required:"true"`
	Port         string `envconfig:"PACTSIGN_APP_PORT" default:"8080"`
	MetricsPort  string `envconfig:"PACTSIGN_METRICS_PORT" default:"9090"`
	LogLevel     string `envconfig:"PACTSIGN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PACTSIGN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PACTSIGN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PACTSIGN_DB_DSN"`
	Driver string `envconfig:"PACTSIGN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PACTSIGN_DB_HOST"`
	LegacyPort     int    `envconfig:"PACTSIGN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PACTSIGN_DB_USER"`
	LegacyPassword string `envconfig:"PACTSIGN_DB_PASSWORD"`
	LegacyName     string `envconfig:"PACTSIGN_DB_NAME"`
	LegacySSLMode  string `envconfig:"PACTSIGN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PACTSIGN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PACTSIGN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PACTSIGN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PACTSIGN_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PACTSIGN_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PACTSIGN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PACTSIGN_REDIS_ADDR"`
	Password     string        `envconfig:"PACTSIGN_REDIS_PASSWORD"`
	DB           int           `envconfig:"PACTSIGN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PACTSIGN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PACTSIGN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PACTSIGN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PACTSIGN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PACTSIGN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"PACTSIGN_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PACTSIGN_JWT_ISSUER" required:"true"`
}

// HTTPConfig covers the API edge: allowed browser origins and the
// throttling applied to the public signing endpoints.
type HTTPConfig struct {
	CORSOrigins        []string      `envconfig:"PACTSIGN_HTTP_CORS_ORIGINS" default:"http://localhost:3000"`
	SignRateWindow     time.Duration `envconfig:"PACTSIGN_HTTP_SIGN_RATE_WINDOW" default:"1m"`
	SignRateIPLimit    int           `envconfig:"PACTSIGN_HTTP_SIGN_RATE_IP_LIMIT" default:"30"`
	SignRateTokenLimit int           `envconfig:"PACTSIGN_HTTP_SIGN_RATE_TOKEN_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PACTSIGN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PACTSIGN_AUTO_MIGRATE" default:"false"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"PACTSIGN_OUTBOX_BATCH_SIZE" default:"10"`
	PollInterval    time.Duration `envconfig:"PACTSIGN_OUTBOX_POLL_INTERVAL" default:"10s"`
	MaxRetries      int           `envconfig:"PACTSIGN_OUTBOX_MAX_RETRIES" default:"5"`
	BackoffBase     time.Duration `envconfig:"PACTSIGN_OUTBOX_BACKOFF_BASE" default:"30s"`
	BackoffMax      time.Duration `envconfig:"PACTSIGN_OUTBOX_BACKOFF_MAX" default:"30m"`
	BackoffJitter   time.Duration `envconfig:"PACTSIGN_OUTBOX_BACKOFF_JITTER" default:"5s"`
	StaleClaimAfter time.Duration `envconfig:"PACTSIGN_OUTBOX_STALE_CLAIM_AFTER" default:"5m"`
	SendTimeout     time.Duration `envconfig:"PACTSIGN_OUTBOX_SEND_TIMEOUT" default:"30s"`
	WakeChannel     string        `envconfig:"PACTSIGN_OUTBOX_WAKE_CHANNEL" default:"ps:email-outbox:wake"`
}

type MailConfig struct {
	Transport string `envconfig:"PACTSIGN_MAIL_TRANSPORT" default:"log"`
	FromEmail string `envconfig:"PACTSIGN_MAIL_FROM_EMAIL" default:"no-reply@pactsign.local"`
	FromName  string `envconfig:"PACTSIGN_MAIL_FROM_NAME" default:"PactSign"`
	ReplyTo   string `envconfig:"PACTSIGN_MAIL_REPLY_TO"`
}

func (m MailConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(m.Transport)) {
	case MailTransportSES, MailTransportLog:
	default:
		return fmt.Errorf("%s must be one of %q, %q", EnvMailTransport, MailTransportSES, MailTransportLog)
	}
	if strings.TrimSpace(m.FromEmail) == "" {
		return fmt.Errorf("%s is required", EnvMailFrom)
	}
	return nil
}

type AWSConfig struct {
	Region          string `envconfig:"PACTSIGN_AWS_REGION" default:"us-east-1"`
	AccessKeyID     string `envconfig:"PACTSIGN_AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"PACTSIGN_AWS_SECRET_ACCESS_KEY"`
	DocumentsBucket string `envconfig:"PACTSIGN_AWS_DOCUMENTS_BUCKET"`
}

type ContractsConfig struct {
	SigningBaseURL      string        `envconfig:"PACTSIGN_CONTRACTS_SIGNING_BASE_URL" default:"http://localhost:3000/sign"`
	CompanyName         string        `envconfig:"PACTSIGN_CONTRACTS_COMPANY_NAME" default:"PactSign"`
	MinExpiryLead       time.Duration `envconfig:"PACTSIGN_CONTRACTS_MIN_EXPIRY_LEAD" default:"1h"`
	NotifyOnPartialSign bool          `envconfig:"PACTSIGN_CONTRACTS_NOTIFY_ON_PARTIAL_SIGN" default:"false"`
	SignedDocumentKey   string        `envconfig:"PACTSIGN_CONTRACTS_SIGNED_DOCUMENT_KEY"`
}

type CronConfig struct {
	TickInterval        time.Duration `envconfig:"PACTSIGN_CRON_TICK_INTERVAL" default:"1m"`
	LockTTL             time.Duration `envconfig:"PACTSIGN_CRON_LOCK_TTL" default:"10m"`
	ExpirationEvery     time.Duration `envconfig:"PACTSIGN_CRON_EXPIRATION_EVERY" default:"1h"`
	WarningEvery        time.Duration `envconfig:"PACTSIGN_CRON_WARNING_EVERY" default:"15m"`
	WarningWindow       time.Duration `envconfig:"PACTSIGN_CRON_WARNING_WINDOW" default:"48h"`
	RetentionEvery      time.Duration `envconfig:"PACTSIGN_CRON_RETENTION_EVERY" default:"24h"`
	OutboxRetentionDays int           `envconfig:"PACTSIGN_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	BatchSize           int           `envconfig:"PACTSIGN_CRON_BATCH_SIZE" default:"100"`
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
