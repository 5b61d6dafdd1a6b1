package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/simcorehq/admission/internal/core/domain/tier"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Quota     QuotaConfig
	Ledger    LedgerConfig
	Alert     AlertConfig
	Tiers     map[tier.Tier]tier.Limits
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	DSN      string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Pool and timeout settings
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

type AuthConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	Window       time.Duration
	QueryTimeout time.Duration
	Endpoint     string
}

// TierChangePolicy values for QuotaConfig.TierChange: whether a mid-period
// tier change re-seeds the limit of an already-open quota period.
const (
	TierChangeImmediate  = "immediate"
	TierChangeNextPeriod = "nextPeriod"
)

type QuotaConfig struct {
	Platform     string
	TierChange   string
	QueryTimeout time.Duration
	// FailOpenResources lists resource types whose quota check permits the
	// request when the quota store is unreachable. Everything else fails
	// closed with a retryable error.
	FailOpenResources []string
}

// LedgerConfig selects the usage ledger backend. The Postgres ledger shares
// the business database; the Redis ledger keeps the sliding window in a
// sorted set.
type LedgerConfig struct {
	Backend      string // postgres or redis
	ReapInterval time.Duration
}

type AlertConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	OpsEmail       string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			TLSCertFile:  getEnv("TLS_CERT_FILE", ""),
			TLSKeyFile:   getEnv("TLS_KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "simcore_db"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolTimeout:  getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			IdleTimeout:  getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvRequired("JWT_SECRET"),
		},
		RateLimit: RateLimitConfig{
			Window:       getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			QueryTimeout: getDurationEnv("RATE_LIMIT_QUERY_TIMEOUT", 2*time.Second),
			Endpoint:     getEnv("RATE_LIMIT_ENDPOINT", "simcore-api"),
		},
		Quota: QuotaConfig{
			Platform:          getEnv("QUOTA_PLATFORM", "simcore"),
			TierChange:        getEnv("QUOTA_TIER_CHANGE", TierChangeNextPeriod),
			QueryTimeout:      getDurationEnv("QUOTA_QUERY_TIMEOUT", 3*time.Second),
			FailOpenResources: getListEnv("QUOTA_FAIL_OPEN", nil),
		},
		Ledger: LedgerConfig{
			Backend:      getEnv("LEDGER_BACKEND", "postgres"),
			ReapInterval: getDurationEnv("LEDGER_REAP_INTERVAL", 5*time.Minute),
		},
		Alert: AlertConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromEmail:      getEnv("ALERT_FROM_EMAIL", "alerts@simcore.dev"),
			FromName:       getEnv("ALERT_FROM_NAME", "simcore admission"),
			OpsEmail:       getEnv("ALERT_OPS_EMAIL", ""),
		},
		Tiers: loadTierLimits(),
	}

	if cfg.Quota.TierChange != TierChangeImmediate && cfg.Quota.TierChange != TierChangeNextPeriod {
		return nil, fmt.Errorf("invalid QUOTA_TIER_CHANGE %q (want %q or %q)",
			cfg.Quota.TierChange, TierChangeImmediate, TierChangeNextPeriod)
	}
	if cfg.Ledger.Backend != "postgres" && cfg.Ledger.Backend != "redis" {
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q (want postgres or redis)", cfg.Ledger.Backend)
	}

	// Build database DSN
	cfg.Database.DSN = fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)

	return cfg, nil
}

// loadTierLimits starts from the built-in tier table and applies per-tier
// env overrides, e.g. TIER_FREE_REQUESTS_PER_MINUTE=20 or
// TIER_PRO_MONTHLY_SIMULATION=100.
func loadTierLimits() map[tier.Tier]tier.Limits {
	limits := tier.DefaultLimits()
	for t, l := range limits {
		prefix := "TIER_" + strings.ToUpper(string(t)) + "_"
		l.RequestsPerMinute = getIntEnv(prefix+"REQUESTS_PER_MINUTE", l.RequestsPerMinute)
		l.RequestsPerHour = getIntEnv(prefix+"REQUESTS_PER_HOUR", l.RequestsPerHour)
		l.RequestsPerDay = getIntEnv(prefix+"REQUESTS_PER_DAY", l.RequestsPerDay)
		for resource, quota := range l.MonthlyQuotas {
			key := prefix + "MONTHLY_" + strings.ToUpper(resource)
			l.MonthlyQuotas[resource] = getIntEnv(key, quota)
		}
		limits[t] = l
	}
	return limits
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
