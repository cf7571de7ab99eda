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

// DefaultUserAgent はクロール時に送るWeChat内蔵ブラウザ相当のUser-Agent。
const DefaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 MicroMessenger/8.0.44(0x18002c2f) NetType/WIFI Language/zh_CN"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	MetricsPort       string
	CORSAllowedOrigin string
	ReadOnlyMode      bool

	// Logging
	LogLevel         string
	LogRetentionDays int

	// Fetch
	FetchTimeout   time.Duration
	FetchMaxSize   int64
	FetchUserAgent string
	SSRFProtection bool

	// Crawl
	CrawlInterval    time.Duration
	CrawlCron        string
	CrawlMaxArticles int

	// Rate Limit
	RateLimitGeneral int
	RateLimitHeavy   int

	// Redis（未設定の場合クローラー状態はPostgresに保存する）
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Buzz（エンドポイント未設定の場合バッチは無効）
	BuzzEndpoint         string
	BuzzBatchInterval    time.Duration
	BuzzAPIInterval      time.Duration
	BuzzMaxCallsPerCycle int
	BuzzTTL              time.Duration
	BuzzSaturation       int
}

// LoadDotEnv はpathの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
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

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9091")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.ReadOnlyMode = getEnvBool("READ_ONLY_MODE", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 30)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchUserAgent = getEnvString("FETCH_USER_AGENT", DefaultUserAgent)
	cfg.SSRFProtection = getEnvBool("SSRF_PROTECTION", true)
	cfg.CrawlInterval = getEnvDuration("CRAWL_INTERVAL", time.Hour)
	cfg.CrawlCron = strings.TrimSpace(os.Getenv("CRAWL_CRON"))
	cfg.CrawlMaxArticles = getEnvInt("CRAWL_MAX_ARTICLES", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitHeavy = getEnvInt("RATE_LIMIT_HEAVY", 10)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.BuzzEndpoint = os.Getenv("BUZZ_ENDPOINT")
	cfg.BuzzBatchInterval = getEnvDuration("BUZZ_BATCH_INTERVAL", 30*time.Minute)
	cfg.BuzzAPIInterval = getEnvDuration("BUZZ_API_INTERVAL", 5*time.Second)
	cfg.BuzzMaxCallsPerCycle = getEnvInt("BUZZ_MAX_CALLS_PER_CYCLE", 20)
	cfg.BuzzTTL = getEnvDuration("BUZZ_TTL", 24*time.Hour)
	cfg.BuzzSaturation = getEnvInt("BUZZ_SATURATION", 10000)

	return cfg, nil
}

// UseRedis はクローラー状態をRedisに保存するかを返す。
func (c *Config) UseRedis() bool {
	return c.RedisAddr != ""
}

// BuzzEnabled は拡散シグナルのバッチが有効かを返す。
func (c *Config) BuzzEnabled() bool {
	return c.BuzzEndpoint != ""
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
