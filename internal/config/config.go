package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppEnv string
	Port   string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Security
	JWTSecret string
	JWTExpiry time.Duration

	// Observability (optional)
	SentryDSN string

	// Uploads
	UploadRoot         string // Originals (and local artifacts) live here
	UploadTempDir      string // Chunk sessions and partial files, never served
	UploadPublicPrefix string // URL prefix replacing UploadRoot in public URLs
	MaxFileSize        int64
	MaxChunkSize       int64
	UploadRateLimit    int
	UploadRateWindow   time.Duration

	// Derivation
	DeriveWorkers      int
	DeriveQueueSize    int
	BackfillTimeout    time.Duration
	ArtifactCacheSize  int
	ArtifactCacheTTL   time.Duration
	ArtifactStorage    string // "local" or "s3"
	ChunkSessionStore  string // "fs" or "redis"
	ChunkSessionTTL    time.Duration
	RedisURL           string
	CleanupSchedule    string // cron spec for the janitor
	ShutdownTimeout    time.Duration
	HTTPReadTimeout    time.Duration
	HTTPIdleTimeout    time.Duration
	DeriveJobTimeout   time.Duration // 0 = no deadline on background derivation
	ArtifactCacheOff   bool

	// Storage (S3-compatible: MinIO, AWS S3, Cloudflare R2, DigitalOcean Spaces, etc.)
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional: for S3-compatible services (MinIO, DO Spaces, R2, etc.)
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppEnv: envString("APP_ENV", "development"),
		Port:   envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/media.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),

		// Security
		JWTSecret: envRequired("JWT_SECRET"),
		JWTExpiry: envDuration("JWT_EXPIRY", 7*24*time.Hour),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Uploads
		UploadRoot:         envString("UPLOAD_ROOT", "./data/uploads"),
		UploadTempDir:      envString("UPLOAD_TEMP_DIR", "./data/tmp"),
		UploadPublicPrefix: envString("UPLOAD_PUBLIC_PREFIX", "/uploads"),
		MaxFileSize:        envInt64("UPLOAD_MAX_FILE_SIZE", 100<<20), // 100MB
		MaxChunkSize:       envInt64("UPLOAD_MAX_CHUNK_SIZE", 10<<20), // 10MB
		UploadRateLimit:    envInt("UPLOAD_RATE_LIMIT", 120),
		UploadRateWindow:   envDuration("UPLOAD_RATE_WINDOW", time.Minute),

		// Derivation
		DeriveWorkers:     envInt("DERIVE_WORKERS", 4),
		DeriveQueueSize:   envInt("DERIVE_QUEUE_SIZE", 256),
		BackfillTimeout:   envDuration("BACKFILL_TIMEOUT", 2*time.Second),
		ArtifactCacheSize: envInt("ARTIFACT_CACHE_SIZE", 4096),
		ArtifactCacheTTL:  envDuration("ARTIFACT_CACHE_TTL", 10*time.Minute),
		ArtifactCacheOff:  envBool("ARTIFACT_CACHE_DISABLED", false),
		ArtifactStorage:   envString("ARTIFACT_STORAGE", "local"),
		ChunkSessionStore: envString("CHUNK_SESSION_BACKEND", "fs"),
		ChunkSessionTTL:   envDuration("CHUNK_SESSION_TTL", 24*time.Hour),
		RedisURL:          envString("REDIS_URL", "redis://localhost:6379/0"),
		CleanupSchedule:   envString("CLEANUP_SCHEDULE", "@every 1h"),
		ShutdownTimeout:   envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		HTTPReadTimeout:   envDuration("HTTP_READ_TIMEOUT", 5*time.Minute),
		HTTPIdleTimeout:   envDuration("HTTP_IDLE_TIMEOUT", 2*time.Minute),
		DeriveJobTimeout:  envDuration("DERIVE_JOB_TIMEOUT", 0),

		// Storage (only read when ARTIFACT_STORAGE=s3)
		S3Region:    envString("S3_REGION", "us-east-1"),
		S3Bucket:    envString("S3_BUCKET", ""),
		S3AccessKey: envString("S3_ACCESS_KEY", ""),
		S3SecretKey: envString("S3_SECRET_KEY", ""),
		S3Endpoint:  envString("S3_ENDPOINT", ""), // Optional: for non-AWS providers
	}

	if cfg.ArtifactStorage == "s3" {
		validateS3(cfg)
	}

	return cfg
}

// validateS3 ensures the bucket settings exist before the S3 artifact store is built.
func validateS3(cfg *Config) {
	if cfg.S3Bucket == "" {
		slog.Error("ARTIFACT_STORAGE=s3 requires S3_BUCKET",
			"hint", "set ARTIFACT_STORAGE=local to keep derivatives next to the originals")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return i
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("config invalid int64, using default", "key", key, "value", v, "default", def)
		return def
	}
	return i
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
