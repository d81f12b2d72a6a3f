package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Credential
	CredentialEncryptionKey string

	// API
	APIToken string

	// Platform
	PlatformBaseURL         string
	PlatformName            string
	PlatformSessionCookie   string
	PlatformTimeout         time.Duration
	PlatformRequestInterval time.Duration
	PlatformBreakerFailures int
	PlatformBreakerTimeout  time.Duration

	// Sync
	SyncInterval       time.Duration
	SyncLockPath       string
	FuzzyMatchStrategy string

	// Cleanup
	ConflictRetentionDays int

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitSync    int

	// Logging
	LogLevel string

	// Server
	ServerPort  string
	MetricsPort string // workerモードの/metrics公開ポート
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

	cfg.CredentialEncryptionKey = os.Getenv("CREDENTIAL_ENCRYPTION_KEY")
	if cfg.CredentialEncryptionKey == "" {
		missing = append(missing, "CREDENTIAL_ENCRYPTION_KEY")
	}

	cfg.APIToken = os.Getenv("API_TOKEN")
	if cfg.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PlatformBaseURL = getEnvString("PLATFORM_BASE_URL", "https://www.gradescope.com")
	cfg.PlatformName = getEnvString("PLATFORM_NAME", "Gradescope")
	cfg.PlatformSessionCookie = getEnvString("PLATFORM_SESSION_COOKIE", "_gradescope_session")
	cfg.PlatformTimeout = getEnvDuration("PLATFORM_TIMEOUT", 15*time.Second)
	cfg.PlatformRequestInterval = getEnvDuration("PLATFORM_REQUEST_INTERVAL", 500*time.Millisecond)
	cfg.PlatformBreakerFailures = getEnvInt("PLATFORM_BREAKER_FAILURES", 5)
	cfg.PlatformBreakerTimeout = getEnvDuration("PLATFORM_BREAKER_TIMEOUT", time.Minute)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 30*time.Minute)
	cfg.SyncLockPath = getEnvString("SYNC_LOCK_PATH", filepath.Join(os.TempDir(), "coursesync.lock"))
	cfg.FuzzyMatchStrategy = getEnvString("FUZZY_MATCH_STRATEGY", "first")
	cfg.ConflictRetentionDays = getEnvInt("CONFLICT_RETENTION_DAYS", 30)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 60)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 1)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9091")

	return cfg, nil
}

// loadEnvFile は.envファイルを環境変数に読み込む。ファイルが存在しない場合は何もしない。
func loadEnvFile(path string) error {
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
