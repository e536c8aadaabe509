package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendLevelDB  = "leveldb"
	BackendMemory   = "memory"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Env      string
	Port     string
	AppURL   string
	LogLevel string
	LogFile  string

	StoreBackend string
	DatabaseURL  string
	LevelDBPath  string

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	RedisAddr    string
	MailProvider string

	BonusAmount          int64
	EngagementRangesFile string

	AttributionAttempts int
	AttributionBackoff  time.Duration

	SignupRatePerSecond float64
	ReconcileSchedule   string
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		Env:                  fallback(os.Getenv("APP_ENV"), "development"),
		Port:                 fallback(os.Getenv("PORT"), "8080"),
		AppURL:               strings.TrimRight(fallback(os.Getenv("APP_URL"), "http://localhost:3000"), "/"),
		LogLevel:             fallback(os.Getenv("LOG_LEVEL"), "info"),
		LogFile:              strings.TrimSpace(os.Getenv("LOG_FILE")),
		StoreBackend:         strings.ToLower(fallback(os.Getenv("STORE_BACKEND"), BackendPostgres)),
		DatabaseURL:          databaseURL(),
		LevelDBPath:          fallback(os.Getenv("LEVELDB_PATH"), "data/channelhub"),
		JWTSecret:            strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:            fallback(os.Getenv("JWT_ISSUER"), "channelhub"),
		RedisAddr:            redisAddr(),
		MailProvider:         strings.TrimSpace(os.Getenv("MAIL_PROVIDER")),
		EngagementRangesFile: strings.TrimSpace(os.Getenv("ENGAGEMENT_RANGES_FILE")),
		ReconcileSchedule:    fallback(os.Getenv("RECONCILE_SCHEDULE"), "@every 1h"),
	}

	var err error
	if cfg.JWTTTL, err = minutes("JWT_TTL_MINUTES", 60); err != nil {
		return Config{}, err
	}
	if cfg.BonusAmount, err = strconv.ParseInt(fallback(os.Getenv("BONUS_AMOUNT"), "10"), 10, 64); err != nil {
		return Config{}, fmt.Errorf("BONUS_AMOUNT: %w", err)
	}
	if cfg.AttributionAttempts, err = strconv.Atoi(fallback(os.Getenv("ATTRIBUTION_ATTEMPTS"), "3")); err != nil {
		return Config{}, fmt.Errorf("ATTRIBUTION_ATTEMPTS: %w", err)
	}
	if cfg.AttributionBackoff, err = time.ParseDuration(fallback(os.Getenv("ATTRIBUTION_BACKOFF"), "200ms")); err != nil {
		return Config{}, fmt.Errorf("ATTRIBUTION_BACKOFF: %w", err)
	}
	if cfg.SignupRatePerSecond, err = strconv.ParseFloat(fallback(os.Getenv("SIGNUP_RATE_PER_SECOND"), "5"), 64); err != nil {
		return Config{}, fmt.Errorf("SIGNUP_RATE_PER_SECOND: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL (or DB_HOST/DB_NAME) is required for the postgres backend")
		}
	case BackendLevelDB:
		if c.LevelDBPath == "" {
			return errors.New("LEVELDB_PATH is required for the leveldb backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND %q: want postgres, leveldb or memory", c.StoreBackend)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.BonusAmount <= 0 {
		return fmt.Errorf("BONUS_AMOUNT must be positive, got %d", c.BonusAmount)
	}
	if c.AttributionAttempts < 1 {
		return fmt.Errorf("ATTRIBUTION_ATTEMPTS must be at least 1, got %d", c.AttributionAttempts)
	}
	if c.SignupRatePerSecond <= 0 {
		return fmt.Errorf("SIGNUP_RATE_PER_SECOND must be positive, got %v", c.SignupRatePerSecond)
	}
	return nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Production reports whether the service runs with APP_ENV=production.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// DB_* variables.
func databaseURL() string {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}
	host, name := os.Getenv("DB_HOST"), os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		host,
		fallback(os.Getenv("DB_PORT"), "5432"),
		name,
	)
}

// redisAddr resolves REDIS_ADDR, then REDIS_HOST/REDIS_PORT. Empty disables
// the task queue.
func redisAddr() string {
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		return addr
	}
	if host := strings.TrimSpace(os.Getenv("REDIS_HOST")); host != "" {
		return host + ":" + fallback(os.Getenv("REDIS_PORT"), "6379")
	}
	return ""
}

func minutes(key string, def int) (time.Duration, error) {
	n, err := strconv.Atoi(fallback(os.Getenv(key), strconv.Itoa(def)))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive number of minutes", key)
	}
	return time.Duration(n) * time.Minute, nil
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}
