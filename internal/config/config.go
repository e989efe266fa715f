// Package config загружает настройки сервиса из переменных окружения.
// Необязательный файл .env читается до разбора окружения и не перекрывает уже заданные переменные.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Допустимые значения переключателей.
const (
	StorageInMemory = "in-memory"
	StoragePostgres = "postgres"

	BrokerMemory   = "memory"
	BrokerRedis    = "redis"
	BrokerNATS     = "nats"
	BrokerPostgres = "postgres"

	RevocationMemory = "memory"
	RevocationRedis  = "redis"
)

// Config - все настройки сервиса.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   int    `env:"PORT" envDefault:"8080"`

	Storage     string `env:"STORAGE" envDefault:"in-memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	Broker      string `env:"BROKER" envDefault:"memory"`
	RedisURL    string `env:"REDIS_URL"`
	NATSURL     string `env:"NATS_URL"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	GormLogLevel string `env:"GORM_LOG_LEVEL" envDefault:"warn"`

	// Сессии и сброс пароля
	TokenSecret   string        `env:"TOKEN_SECRET"`
	TokenIssuer   string        `env:"TOKEN_ISSUER" envDefault:"fexora"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	ResetURL      string        `env:"RESET_URL" envDefault:"http://localhost:5173/reset-password"`
	Revocation    string        `env:"REVOCATION" envDefault:"memory"`

	// Федеративный вход; пустой OIDC_ISSUER_URL отключает его
	OIDCIssuerURL    string `env:"OIDC_ISSUER_URL"`
	OIDCClientID     string `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string `env:"OIDC_REDIRECT_URL"`
	OIDCProviderName string `env:"OIDC_PROVIDER_NAME" envDefault:"google"`

	StoreOpTimeout   time.Duration `env:"STORE_OP_TIMEOUT" envDefault:"10s"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"100ms"`

	FeedProfileCacheSize int           `env:"FEED_PROFILE_CACHE_SIZE" envDefault:"1024"`
	FeedProfileCacheTTL  time.Duration `env:"FEED_PROFILE_CACHE_TTL" envDefault:"30s"`

	CORSAllowedOrigins   []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	AuthRateLimitPerMin  int           `env:"AUTH_RATE_LIMIT_PER_MIN" envDefault:"10"`
	WSPingInterval       time.Duration `env:"WS_PING_INTERVAL" envDefault:"10s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	SeedDemoData         bool          `env:"SEED_DEMO_DATA" envDefault:"true"`
}

// devTokenSecret используется только в режиме разработки, если TOKEN_SECRET не задан.
const devTokenSecret = "fexora-development-secret"

// IsDevelopment сообщает, запущен ли сервис в режиме разработки.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// AllowedOrigins возвращает список разрешенных CORS-источников без пустых значений.
func (c *Config) AllowedOrigins() []string {
	out := make([]string, 0, len(c.CORSAllowedOrigins))
	for _, origin := range c.CORSAllowedOrigins {
		if o := strings.TrimSpace(origin); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// Load читает файлы .env (по умолчанию ./.env) и разбирает окружение.
func Load(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.TokenSecret == "" && cfg.IsDevelopment() {
		cfg.TokenSecret = devTokenSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage {
	case StorageInMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}

	switch c.Broker {
	case BrokerMemory:
	case BrokerRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for redis broker"))
		}
	case BrokerNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for nats broker"))
		}
	case BrokerPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker %q", c.Broker))
	}

	switch c.Revocation {
	case RevocationMemory:
	case RevocationRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for redis revocation"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown revocation store %q", c.Revocation))
	}

	if c.TokenSecret == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required outside development"))
	}
	if c.OIDCIssuerURL != "" && (c.OIDCClientID == "" || c.OIDCRedirectURL == "") {
		errs = append(errs, errors.New("OIDC_CLIENT_ID and OIDC_REDIRECT_URL are required when OIDC_ISSUER_URL is set"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}

	return errors.Join(errs...)
}
