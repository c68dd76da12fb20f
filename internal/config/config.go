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

const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session / Token
	SessionSecret string
	SessionMaxAge int

	// Rate Limit
	RateLimitGeneral     int
	RateLimitLogin       int
	RateLimitLoginWindow time.Duration

	// Feature flags
	FlagCacheTTL time.Duration

	// Audit / Worker
	AuditRetentionDays int
	CleanupInterval    time.Duration

	// Export
	ExportS3Bucket    string
	ExportS3Region    string
	ExportS3Endpoint  string
	ExportS3AccessKey string
	ExportS3SecretKey string
	ExportURLTTL      time.Duration

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

	// X-Forwarded-Forを信頼するか。リバースプロキシを介さず公開する場合はfalseにする
	TrustProxy bool

	// 起動時にadminへ昇格させるユーザーのメールアドレス
	BootstrapAdminEmail string
}

// LoadEnvFile は.envファイルの値を環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルがなければ何もしない。
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 5)
	cfg.RateLimitLoginWindow = getEnvDuration("RATE_LIMIT_LOGIN_WINDOW", time.Minute)
	cfg.FlagCacheTTL = getEnvDuration("FLAG_CACHE_TTL", 30*time.Second)
	cfg.AuditRetentionDays = getEnvInt("AUDIT_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ExportS3Bucket = getEnvString("EXPORT_S3_BUCKET", "")
	cfg.ExportS3Region = getEnvString("EXPORT_S3_REGION", "us-east-1")
	cfg.ExportS3Endpoint = getEnvString("EXPORT_S3_ENDPOINT", "")
	cfg.ExportS3AccessKey = getEnvString("EXPORT_S3_ACCESS_KEY", "")
	cfg.ExportS3SecretKey = getEnvString("EXPORT_S3_SECRET_KEY", "")
	cfg.ExportURLTTL = getEnvDuration("EXPORT_URL_TTL", 15*time.Minute)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", true)
	cfg.BootstrapAdminEmail = strings.ToLower(getEnvString("BOOTSTRAP_ADMIN_EMAIL", ""))

	return cfg, nil
}

// AuditRetention は監査ログの保持期間を返す。0以下なら削除しない。
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

// ExportToS3Enabled はオブジェクトストレージへのエクスポートが設定されているかを返す。
func (c *Config) ExportToS3Enabled() bool {
	return c.ExportS3Bucket != ""
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
