package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends. The backend is picked once, at startup, from DB_DRIVER.
const (
	DriverLibSQL   = "libsql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Gateway     GatewayConfig
	Telegram    TelegramConfig
	Admin       AdminConfig
	RateLimit   RateLimitConfig
	Reservation ReservationConfig
	CORSOrigins []string
}

type ServerConfig struct {
	Port string
	Env  string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only set it behind a reverse proxy that overwrites those headers.
	TrustProxy bool
}

type DatabaseConfig struct {
	Driver    string
	URL       string
	AuthToken string // Turso only
}

type GatewayConfig struct {
	AccessToken     string // empty runs the stub gateway
	BaseURL         string
	NotificationURL string
	Timeout         time.Duration
}

func (g GatewayConfig) Live() bool {
	return g.AccessToken != ""
}

type TelegramConfig struct {
	Token    string
	AdminIDs []int64
}

type AdminConfig struct {
	Username string
	Password string
}

type RateLimitConfig struct {
	PaymentRPS   float64
	PaymentBurst int
	WebhookRPS   float64
	WebhookBurst int
	AdminRPS     float64
	AdminBurst   int
}

type ReservationConfig struct {
	DefaultReserveHours int
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:       getEnv("PORT", "8080"),
			Env:        getEnv("ENVIRONMENT", "development"),
			TrustProxy: getEnvBool("TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		},
		Gateway: GatewayConfig{
			AccessToken:     getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
			BaseURL:         getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			NotificationURL: getEnv("MERCADOPAGO_NOTIFICATION_URL", ""),
			Timeout:         getEnvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		},
		Telegram: TelegramConfig{
			Token: getEnv("TELEGRAM_TOKEN", ""),
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			PaymentRPS:   getEnvFloat("PAYMENT_RATE_LIMIT_RPS", 5.0/60.0),
			PaymentBurst: getEnvInt("PAYMENT_RATE_LIMIT_BURST", 5),
			WebhookRPS:   getEnvFloat("WEBHOOK_RATE_LIMIT_RPS", 50.0/60.0),
			WebhookBurst: getEnvInt("WEBHOOK_RATE_LIMIT_BURST", 50),
			AdminRPS:     getEnvFloat("ADMIN_RATE_LIMIT_RPS", 30.0/60.0),
			AdminBurst:   getEnvInt("ADMIN_RATE_LIMIT_BURST", 10),
		},
		Reservation: ReservationConfig{
			DefaultReserveHours: getEnvInt("DEFAULT_RESERVE_HOURS", 0),
		},
		CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	ids, err := parseIDs(getEnv("ADMIN_TELEGRAM_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_IDS: %w", err)
	}
	cfg.Telegram.AdminIDs = ids

	switch cfg.Database.Driver {
	case DriverLibSQL:
		cfg.Database.URL = getEnv("TURSO_DATABASE_URL", "")
		cfg.Database.AuthToken = getEnv("TURSO_AUTH_TOKEN", "")
		if cfg.Database.URL == "" || cfg.Database.AuthToken == "" {
			return nil, fmt.Errorf("TURSO_DATABASE_URL and TURSO_AUTH_TOKEN must be set for DB_DRIVER=%s", DriverLibSQL)
		}
	case DriverSQLite:
		cfg.Database.URL = getEnv("DATABASE_URL", "file:raffles.db?_foreign_keys=on")
	case DriverPostgres:
		cfg.Database.URL = getEnv("DATABASE_URL", "")
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set for DB_DRIVER=%s", DriverPostgres)
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Database.Driver)
	}

	if cfg.Gateway.Timeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if cfg.Reservation.DefaultReserveHours < 0 {
		return nil, fmt.Errorf("DEFAULT_RESERVE_HOURS must not be negative")
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
