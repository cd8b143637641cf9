// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// バックエンド種別
const (
	BackendMemory   = "memory"
	BackendCookie   = "cookie"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// minSessionSecretLength はリリースモードで要求するセッション鍵の最小長です。
const minSessionSecretLength = 32

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // HTTPサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// セッション設定
	SessionSecret   string // セッション署名用の秘密鍵
	SessionBackend  string // cookie または redis
	SessionRedisURL string // セッション保存用Redis接続URL

	// ユーザーストア設定
	StoreBackend  string // memory, redis, postgres
	StoreRedisURL string // ユーザードキュメント保存用Redis接続URL
	DatabaseURL   string // PostgreSQL接続URL

	// ジョブ/キュー設定
	QueueRedisURL string // Asynq用Redis接続URL（空ならキューを使わない）

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 信頼するリバースプロキシ（IP または CIDR、カンマ区切り。空なら X-Forwarded-For を無視）
	TrustedProxies string

	// 認証設定
	BcryptCost         int     // bcryptのコスト
	LoginRatePerMinute float64 // IPごとのログイン/登録試行レート（回/分）
	LoginBurst         int     // 試行のバーストサイズ

	// ログ設定
	LogLevel string // debug, info, warn, error
	LogFile  string // ローテーション付きログファイル（空なら標準出力のみ）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		SessionSecret:   getEnv("SESSION_SECRET", ""),
		SessionBackend:  strings.ToLower(getEnv("SESSION_BACKEND", BackendCookie)),
		SessionRedisURL: getEnv("SESSION_REDIS_URL", "redis://127.0.0.1:6379/1"),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		StoreRedisURL: getEnv("STORE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		QueueRedisURL: getEnv("QUEUE_REDIS_URL", ""),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:8080"),
		TrustedProxies:     getEnv("TRUSTED_PROXIES", ""),

		BcryptCost:         getEnvAsInt("BCRYPT_COST", 10),
		LoginRatePerMinute: getEnvAsFloat("LOGIN_RATE_PER_MINUTE", 10),
		LoginBurst:         getEnvAsInt("LOGIN_BURST", 5),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// IsRelease はリリースモードかどうかを返します。
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// TrustedProxyList は信頼するプロキシを配列で返します。
func (c *Config) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.SessionBackend {
	case BackendCookie, BackendRedis:
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND: %q", c.SessionBackend)
	}

	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND: %q", c.StoreBackend)
	}

	if c.StoreBackend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
	}
	if c.StoreBackend == BackendRedis && c.StoreRedisURL == "" {
		return fmt.Errorf("STORE_REDIS_URL is required when STORE_BACKEND=redis")
	}
	if c.SessionBackend == BackendRedis && c.SessionRedisURL == "" {
		return fmt.Errorf("SESSION_REDIS_URL is required when SESSION_BACKEND=redis")
	}

	for _, proxy := range c.TrustedProxyList() {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry: %q", proxy)
		}
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}

	// ローカル開発ではセッション鍵は任意（起動時に一時鍵を生成する）
	if c.IsRelease() {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < minSessionSecretLength {
			return fmt.Errorf("SESSION_SECRET must be at least %d bytes in release mode", minSessionSecretLength)
		}
		if c.StoreBackend == BackendMemory {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します。
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
