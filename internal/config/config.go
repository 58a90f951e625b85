package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionMaxAge int // 秒
	FreeDownloads int

	// Image generation
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	GenerationTimeout time.Duration

	// Payment
	PaystackSecretKey  string
	PaystackBaseURL    string
	GatewayTimeout     time.Duration
	CreditPackPrice    int64
	CreditPackCredits  int
	PaymentCurrency    string
	PaymentCallbackURL string

	// Object storage（S3Bucketが空の場合はPostgreSQLに保存する）
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3PresignExpiry time.Duration

	// Download
	DownloadEnforceOwnership bool

	// Rate Limit（req/min）
	RateLimitGeneral  int
	RateLimitGenerate int

	// Worker
	ReconcileInterval      time.Duration
	ReconcileMinAge        time.Duration
	ReconcileMaxConcurrent int
	PendingPaymentTTL      time.Duration
	PendingRetentionDays   int
	CleanupSchedule        string
	WorkerMetricsPort      string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（デフォルト: .env）が存在する場合は先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}

	cfg.PaystackSecretKey = os.Getenv("PAYSTACK_SECRET_KEY")
	if cfg.PaystackSecretKey == "" {
		missing = append(missing, "PAYSTACK_SECRET_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	// 0は無料枠なしとして有効。負の値はデフォルトに戻す
	cfg.FreeDownloads = getEnvInt("FREE_DOWNLOADS", 5)
	if cfg.FreeDownloads < 0 {
		cfg.FreeDownloads = 5
	}

	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "")
	cfg.GeminiBaseURL = getEnvString("GEMINI_BASE_URL", "")
	cfg.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", 60*time.Second)

	cfg.PaystackBaseURL = getEnvString("PAYSTACK_BASE_URL", "")
	cfg.GatewayTimeout = getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second)
	cfg.CreditPackPrice = getEnvInt64("CREDIT_PACK_PRICE", 100)
	cfg.CreditPackCredits = getEnvInt("CREDIT_PACK_CREDITS", 10)
	cfg.PaymentCurrency = strings.ToUpper(getEnvString("PAYMENT_CURRENCY", "USD"))
	cfg.PaymentCallbackURL = getEnvString("PAYMENT_CALLBACK_URL", strings.TrimRight(cfg.BaseURL, "/")+"/payment/callback")

	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3PresignExpiry = getEnvDuration("S3_PRESIGN_EXPIRY", 15*time.Minute)

	cfg.DownloadEnforceOwnership = getEnvBool("DOWNLOAD_ENFORCE_OWNERSHIP", true)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitGenerate = getEnvInt("RATE_LIMIT_GENERATE", 10)

	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute)
	cfg.ReconcileMinAge = getEnvDuration("RECONCILE_MIN_AGE", time.Minute)
	cfg.ReconcileMaxConcurrent = getEnvInt("RECONCILE_MAX_CONCURRENT", 4)
	cfg.PendingPaymentTTL = getEnvDuration("PENDING_PAYMENT_TTL", 24*time.Hour)
	cfg.PendingRetentionDays = getEnvInt("PENDING_RETENTION_DAYS", 30)
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "@daily")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "")

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// SessionMaxAgeDuration はセッション有効期間をtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// loadEnvFile は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
