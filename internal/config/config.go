package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	envProduction  = "production"
	envDevelopment = "development"
)

// Config aggregates all runtime settings required by the application.
type Config struct {
	AppName     string
	Environment string
	Storage     StorageConfig
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Auth        AuthConfig
	OAuth       OAuthConfig
	RateLimit   RateLimitConfig
	Outbox      OutboxConfig
	Sweep       SweepConfig
	Context     ContextConfig
	Logger      LoggerConfig
	Migrations  MigrationsConfig
}

type StorageConfig struct {
	Driver string
	// SeedTenants are "id:slug" pairs created at boot by the memory driver.
	SeedTenants []string
}

type HTTPConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxConn      int
	EnablePprof  bool
	// TrustProxy makes the rate limiter key callers by X-Forwarded-For.
	TrustProxy bool
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret           string
	Issuer           string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	MaxRefreshTokens int
}

type AuthConfig struct {
	BcryptCost      int
	ResetTTL        time.Duration
	VerificationTTL time.Duration
	StoreTimeout    time.Duration
	LinkBaseURL     string
}

// OAuthConfig lists userinfo endpoints keyed by provider name, configured as
// OAUTH_PROVIDERS="google=https://...,github=https://...".
type OAuthConfig struct {
	Providers map[string]string
	Timeout   time.Duration
}

type RateLimitConfig struct {
	Enabled     bool
	AuthLimit   int
	AuthWindow  time.Duration
	APILimit    int
	APIWindow   time.Duration
	FailClosed  bool
	KeyPrefix   string
	MemoryLimit int
}

type OutboxConfig struct {
	Path         string
	MaxSize      int
	SyncInterval time.Duration
	MaxRetry     int
	BatchSize    int
	MaxAge       time.Duration
}

type SweepConfig struct {
	Enabled bool
	Spec    string
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables (optionally .env)
// and applies sane defaults so the service can boot in any environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "tenantauth"),
		Environment: getString("APP_ENV", envDevelopment),
		Storage: StorageConfig{
			Driver:      strings.ToLower(getString("STORAGE_DRIVER", StoragePostgres)),
			SeedTenants: getList("SEED_TENANTS"),
		},
		HTTP: HTTPConfig{
			Host:         getString("SERVER_HOST", "0.0.0.0"),
			Port:         getString("SERVER_PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:      getInt("SERVER_MAX_CONN", 0),
			EnablePprof:  getBool("SERVER_ENABLE_PPROF", false),
			TrustProxy:   getBool("SERVER_TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "tenantauth"),
			User:            getString("DB_USER", "tenantauth"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getBool("REDIS_ENABLED", true),
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:           os.Getenv("JWT_SECRET"),
			Issuer:           getString("JWT_ISSUER", "tenantauth"),
			AccessTTL:        getDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:       getDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
			MaxRefreshTokens: getInt("JWT_MAX_REFRESH_TOKENS", 5),
		},
		Auth: AuthConfig{
			BcryptCost:      getInt("AUTH_BCRYPT_COST", 12),
			ResetTTL:        getDuration("AUTH_RESET_TTL", 30*time.Minute),
			VerificationTTL: getDuration("AUTH_VERIFICATION_TTL", 24*time.Hour),
			StoreTimeout:    getDuration("AUTH_STORE_TIMEOUT", 3*time.Second),
			LinkBaseURL:     getString("AUTH_LINK_BASE_URL", "http://localhost:3000"),
		},
		OAuth: OAuthConfig{
			Providers: getMap("OAUTH_PROVIDERS"),
			Timeout:   getDuration("OAUTH_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBool("RATE_LIMIT_ENABLED", true),
			AuthLimit:   getInt("RATE_LIMIT_AUTH_MAX", 10),
			AuthWindow:  getDuration("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
			APILimit:    getInt("RATE_LIMIT_API_MAX", 300),
			APIWindow:   getDuration("RATE_LIMIT_API_WINDOW", time.Minute),
			FailClosed:  getBool("RATE_LIMIT_FAIL_CLOSED", false),
			KeyPrefix:   getString("RATE_LIMIT_KEY_PREFIX", "tenantauth:"),
			MemoryLimit: getInt("RATE_LIMIT_MEMORY_MAX_KEYS", 100_000),
		},
		Outbox: OutboxConfig{
			Path:         getString("OUTBOX_PATH", "./data/outbox.db"),
			MaxSize:      getInt("OUTBOX_MAX_SIZE", 100_000),
			SyncInterval: getDuration("OUTBOX_SYNC_INTERVAL", 10*time.Second),
			MaxRetry:     getInt("OUTBOX_MAX_RETRY", 5),
			BatchSize:    getInt("OUTBOX_BATCH_SIZE", 100),
			MaxAge:       getDuration("OUTBOX_MAX_AGE", 72*time.Hour),
		},
		Sweep: SweepConfig{
			Enabled: getBool("SWEEP_ENABLED", true),
			Spec:    getString("SWEEP_SPEC", "@every 1h"),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 5*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", true),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}
	if cfg.JWT.Secret == "" && cfg.Environment == envDevelopment {
		cfg.JWT.Secret = "development-only-secret"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects settings the service cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() && len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters in production"))
	}
	for name, ttl := range map[string]time.Duration{
		"JWT_ACCESS_TTL":        c.JWT.AccessTTL,
		"JWT_REFRESH_TTL":       c.JWT.RefreshTTL,
		"AUTH_RESET_TTL":        c.Auth.ResetTTL,
		"AUTH_VERIFICATION_TTL": c.Auth.VerificationTTL,
		"AUTH_STORE_TIMEOUT":    c.Auth.StoreTimeout,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.JWT.MaxRefreshTokens <= 0 {
		errs = append(errs, errors.New("JWT_MAX_REFRESH_TOKENS must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, errors.New("AUTH_BCRYPT_COST must be between 4 and 31"))
	}
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == envProduction
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range getList(key) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return out
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
