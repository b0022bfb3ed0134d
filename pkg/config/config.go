package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Paygate  PaygateConfig
	Checkout CheckoutConfig
	Escrow   EscrowConfig
	Wallet   WalletConfig
	Sweep    SweepConfig
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
	Env          string `envconfig:"SOKONI_APP_ENV" required:"true"`
	Port         string `envconfig:"SOKONI_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SOKONI_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SOKONI_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"SOKONI_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SOKONI_DB_DSN"`
	Driver string `envconfig:"SOKONI_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SOKONI_DB_HOST"`
	LegacyPort     int    `envconfig:"SOKONI_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SOKONI_DB_USER"`
	LegacyPassword string `envconfig:"SOKONI_DB_PASSWORD"`
	LegacyName     string `envconfig:"SOKONI_DB_NAME"`
	LegacySSLMode  string `envconfig:"SOKONI_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SOKONI_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SOKONI_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SOKONI_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SOKONI_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SOKONI_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SOKONI_REDIS_ADDR"`
	Password     string        `envconfig:"SOKONI_REDIS_PASSWORD"`
	DB           int           `envconfig:"SOKONI_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SOKONI_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SOKONI_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SOKONI_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SOKONI_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SOKONI_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type PaygateConfig struct {
	BaseURL       string        `envconfig:"SOKONI_PAYGATE_BASE_URL" default:"https://api.paygate.example"`
	SecretKey     string        `envconfig:"SOKONI_PAYGATE_SECRET_KEY" required:"true"`
	WebhookSecret string        `envconfig:"SOKONI_PAYGATE_WEBHOOK_SECRET" required:"true"`
	CallbackURL   string        `envconfig:"SOKONI_PAYGATE_CALLBACK_URL" required:"true"`
	ReturnURL     string        `envconfig:"SOKONI_PAYGATE_RETURN_URL" required:"true"`
	Timeout       time.Duration `envconfig:"SOKONI_PAYGATE_TIMEOUT" default:"30s"`
	Currency      string        `envconfig:"SOKONI_PAYGATE_CURRENCY" default:"TZS"`
}

type CheckoutConfig struct {
	PaymentTTL time.Duration `envconfig:"SOKONI_CHECKOUT_PAYMENT_TTL" default:"30m"`
}

type EscrowConfig struct {
	CodeLength int           `envconfig:"SOKONI_ESCROW_CODE_LENGTH" default:"8"`
	CodeTTL    time.Duration `envconfig:"SOKONI_ESCROW_CODE_TTL" default:"720h"`
	// CommissionPercent is the platform cut of the sell/base price spread.
	CommissionPercent string `envconfig:"SOKONI_ESCROW_COMMISSION_PERCENT" default:"10"`
}

type WalletConfig struct {
	WithdrawalMinCents int64  `envconfig:"SOKONI_WITHDRAWAL_MIN_CENTS" default:"100000"`
	WithdrawalMaxCents int64  `envconfig:"SOKONI_WITHDRAWAL_MAX_CENTS" default:"500000000"`
	PlatformFeePercent string `envconfig:"SOKONI_WITHDRAWAL_PLATFORM_FEE_PERCENT" default:"1"`
	GatewayFeePercent  string `envconfig:"SOKONI_WITHDRAWAL_GATEWAY_FEE_PERCENT" default:"1.5"`
}

type SweepConfig struct {
	Interval time.Duration `envconfig:"SOKONI_SWEEP_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"SOKONI_SWEEP_LOCK_TTL" default:"5m"`
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
