package config // package config loads application configuration from environment variables

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Config holds all runtime configuration values. Every field is filled from
// an environment variable named in its envconfig tag; a .env file in the
// working directory is loaded first when present.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Auth         AuthConfig
	Redis        RedisConfig
	RabbitMQ     RabbitMQConfig
	Stripe       StripeConfig
	Mail         MailConfig
	Storage      StorageConfig
	Pricing      PricingConfig
	Reservation  ReservationConfig
	PaymentLinks PaymentLinkConfig
	EarlyAccess  EarlyAccessConfig
	RateLimit    RateLimitConfig
	Cache        CacheConfig
	Jobs         JobsConfig
}

// AppConfig covers process-level settings.
type AppConfig struct {
	Env         string `envconfig:"APP_ENV" required:"true"`
	Port        string `envconfig:"APP_PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	WarnStack   bool   `envconfig:"LOG_WARN_STACK" default:"false"`
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	// Empty means the socket address is the client address.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
}

func (a AppConfig) IsDev() bool  { return strings.EqualFold(a.Env, AppEnvDev) }
func (a AppConfig) IsProd() bool { return strings.EqualFold(a.Env, AppEnvProd) }

// ConsoleLogs reports whether logs should be human-readable instead of JSON.
func (a AppConfig) ConsoleLogs() bool { return strings.EqualFold(a.LogFormat, "console") }

// DBConfig holds the MySQL connection parameters and pool sizing.
type DBConfig struct {
	User            string        `envconfig:"DB_USER" required:"true"`
	Pass            string        `envconfig:"DB_PASS"`
	Host            string        `envconfig:"DB_HOST" required:"true"`
	Port            string        `envconfig:"DB_PORT" default:"3306"`
	Name            string        `envconfig:"DB_NAME" required:"true"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"25"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
}

// AuthConfig drives token issuance and password hashing.
type AuthConfig struct {
	JWTSecret      string `envconfig:"JWT_SECRET" required:"true"`
	AccessTTLMin   int    `envconfig:"ACCESS_TOKEN_TTL_MIN" default:"15"`
	RefreshTTLDays int    `envconfig:"REFRESH_TOKEN_TTL_DAYS" default:"30"`
	BcryptCost     int    `envconfig:"BCRYPT_COST" default:"12"`
	// ResetTTL is how long a forgot-password mail stays usable.
	ResetTTL time.Duration `envconfig:"PASSWORD_RESET_TTL" default:"24h"`
}

// Load reads the optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.RateLimit.normalize()
	cfg.Cache.normalize()
	if err := cfg.Pricing.validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.EarlyAccess.validate(); err != nil {
		return Config{}, err
	}
	if cfg.Reservation.Window <= 0 {
		return Config{}, fmt.Errorf("SEAT_RESERVATION_WINDOW must be positive")
	}
	return cfg, nil
}
