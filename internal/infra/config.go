package infra

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is read once at startup and handed out through fx.
type Config struct {
	Port      string
	LogLevel  string
	JWTSecret string

	// LedgerStore is "postgres" or "memory".
	LedgerStore string
	PostgresURL string
	RedisAddr   string
	ServiceName string

	GatewayTimeout    time.Duration
	LeaseTTL          time.Duration
	StaleWriteRetries int
	Currency          string

	StripeEnabled       bool
	PayPalEnabled       bool
	BankTransferEnabled bool
	GatewayLatency      time.Duration
	GatewaySeed         int64

	BillingInterval  time.Duration
	ReminderWindow   time.Duration
	SchedulerWorkers int
	SchedulerEnabled bool

	SuspiciousAmount decimal.Decimal

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPUseSSL   bool
	AppName      string
}

// LoadConfig reads .env when present and then the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not read .env", "error", err)
	}

	return &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		LedgerStore: strings.ToLower(getEnv("LEDGER_STORE", "postgres")),
		PostgresURL: getEnv("POSTGRES_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		ServiceName: getEnv("SERVICE_NAME", "payledger"),

		GatewayTimeout:    getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		LeaseTTL:          getDuration("LEASE_TTL", time.Minute),
		StaleWriteRetries: getInt("STALE_WRITE_RETRIES", 3),
		Currency:          strings.ToUpper(getEnv("CURRENCY", "USD")),

		StripeEnabled:       getBool("GATEWAY_STRIPE_ENABLED", true),
		PayPalEnabled:       getBool("GATEWAY_PAYPAL_ENABLED", true),
		BankTransferEnabled: getBool("GATEWAY_BANK_TRANSFER_ENABLED", true),
		GatewayLatency:      getDuration("GATEWAY_LATENCY", 0),
		GatewaySeed:         int64(getInt("GATEWAY_SEED", int(time.Now().UnixNano()%1_000_000))),

		BillingInterval:  getDuration("BILLING_INTERVAL", 24*time.Hour),
		ReminderWindow:   getDuration("REMINDER_WINDOW", 24*time.Hour),
		SchedulerWorkers: getInt("SCHEDULER_WORKERS", 4),
		SchedulerEnabled: getBool("SCHEDULER_ENABLED", true),

		SuspiciousAmount: getDecimal("SUSPICIOUS_AMOUNT", decimal.NewFromInt(1000)),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Billing"),
		SMTPUseSSL:   getBool("SMTP_USE_SSL", false),
		AppName:      getEnv("APP_NAME", "PayLedger"),
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key)
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key)
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key)
		return def
	}
	return d
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("invalid decimal in environment, using default", "key", key)
		return def
	}
	return d
}
