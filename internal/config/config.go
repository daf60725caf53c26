// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers understood by the blob store factory.
const (
	StorageMinio = "minio"
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port    string
	AppEnv  string
	BaseURL string // public origin used to compose retrieval links, e.g. "https://drop-lite.app"

	// DatabaseURL selects the metadata store by scheme: postgres:// or sqlite3://
	DatabaseURL string

	// Object storage (S3-compatible via MinIO or the AWS SDK, or a local directory)
	StorageDriver     string
	StorageEndpoint   string
	StorageAccessKey  string
	StorageSecretKey  string
	StorageBucket     string
	StorageRegion     string
	StorageUseSSL     bool
	StoragePublicBase string // browser-accessible base URL for stored objects
	StoragePrefix     string // top-level folder; namespaces live under it
	StorageLocalDir   string

	// Upload admission
	UploadTempDir     string
	MaxFileSize       int64
	MaxBodySize       int64
	MaxImages         int
	MaxVideos         int
	UploadConcurrency int
	UploadTimeout     time.Duration
	FileRetention     time.Duration

	// Per-client request budgets
	RateGlobal       int
	RateGlobalWindow time.Duration
	RateUpload       int
	RateUploadWindow time.Duration
	RateVerify       int
	RateVerifyWindow time.Duration
	RateClients      int // tracked client addresses per limiter

	CacheSize int
	CacheTTL  time.Duration

	SweepInterval    time.Duration
	SweepGrace       time.Duration
	SweepBatch       int
	ReconcileMinAge  time.Duration
	ReconcileOnSweep bool

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	// TrustProxyHeaders lets X-Forwarded-For / X-Real-IP replace the socket
	// address. Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading from environment")
	}

	const mib = 1 << 20

	cfg := &Config{
		Port:    getEnv("PORT", "5000"),
		AppEnv:  getEnv("APP_ENV", "development"),
		BaseURL: strings.TrimRight(getEnv("BASE_URL", "http://localhost:5173"), "/"),

		DatabaseURL: getEnv("DATABASE_URL", "sqlite3://files.db"),

		StorageDriver:     getEnv("STORAGE_DRIVER", StorageLocal),
		StorageEndpoint:   getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey:  getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey:  getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:     getEnv("STORAGE_BUCKET", "drop-lite"),
		StorageRegion:     getEnv("STORAGE_REGION", "auto"),
		StorageUseSSL:     getEnv("STORAGE_USE_SSL", "false") == "true",
		StoragePublicBase: getEnv("STORAGE_PUBLIC_BASE", "http://localhost:5000/media"),
		StoragePrefix:     strings.Trim(getEnv("STORAGE_PREFIX", "drop-lite"), "/"),
		StorageLocalDir:   getEnv("STORAGE_LOCAL_DIR", "uploads/store"),

		UploadTempDir: getEnv("UPLOAD_TEMP_DIR", "uploads/tempStorage"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.MaxFileSize, err = getInt64("MAX_FILE_SIZE", 100*mib); err != nil {
		return nil, err
	}
	if cfg.MaxBodySize, err = getInt64("MAX_BODY_SIZE", 11*100*mib+mib); err != nil {
		return nil, err
	}
	if cfg.MaxImages, err = getInt("MAX_IMAGES", 10); err != nil {
		return nil, err
	}
	if cfg.MaxVideos, err = getInt("MAX_VIDEOS", 1); err != nil {
		return nil, err
	}
	if cfg.UploadConcurrency, err = getInt("UPLOAD_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.UploadTimeout, err = getDuration("UPLOAD_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FileRetention, err = getDuration("FILE_RETENTION", 7*24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.RateGlobal, err = getInt("RATE_LIMIT_GLOBAL", 100); err != nil {
		return nil, err
	}
	if cfg.RateGlobalWindow, err = getDuration("RATE_LIMIT_GLOBAL_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateUpload, err = getInt("RATE_LIMIT_UPLOAD", 5); err != nil {
		return nil, err
	}
	if cfg.RateUploadWindow, err = getDuration("RATE_LIMIT_UPLOAD_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateVerify, err = getInt("RATE_LIMIT_VERIFY", 20); err != nil {
		return nil, err
	}
	if cfg.RateVerifyWindow, err = getDuration("RATE_LIMIT_VERIFY_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateClients, err = getInt("RATE_LIMIT_CLIENTS", 10000); err != nil {
		return nil, err
	}

	if cfg.CacheSize, err = getInt("CACHE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepGrace, err = getDuration("SWEEP_GRACE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepBatch, err = getInt("SWEEP_BATCH", 200); err != nil {
		return nil, err
	}
	if cfg.ReconcileMinAge, err = getDuration("RECONCILE_MIN_AGE", time.Hour); err != nil {
		return nil, err
	}
	cfg.ReconcileOnSweep = getEnv("RECONCILE_ON_SWEEP", "false") == "true"
	cfg.TrustProxyHeaders = getEnv("TRUST_PROXY_HEADERS", "false") == "true"

	if cfg.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that env parsing alone cannot catch.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageMinio, StorageS3, StorageLocal:
	default:
		return fmt.Errorf("STORAGE_DRIVER: unsupported driver %q", c.StorageDriver)
	}
	if !c.UsesPostgres() && !c.UsesSQLite() {
		return fmt.Errorf("DATABASE_URL: expected postgres:// or sqlite3:// scheme")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.MaxImages < 0 || c.MaxVideos < 0 || c.MaxImages+c.MaxVideos == 0 {
		return fmt.Errorf("MAX_IMAGES and MAX_VIDEOS must allow at least one file")
	}
	if c.UploadConcurrency < 1 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1")
	}
	if c.FileRetention <= 0 {
		return fmt.Errorf("FILE_RETENTION must be positive")
	}
	return nil
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesPostgres reports whether the metadata store is PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// UsesSQLite reports whether the metadata store is an SQLite file.
func (c *Config) UsesSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, "sqlite3://")
}

// SQLitePath returns the database file path of a sqlite3:// URL.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite3://")
}

// SetupLogger builds the process-wide structured logger.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
