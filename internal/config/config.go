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

// 接続先環境
const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// セッション保存先
const (
	SessionBackendMemory   = "memory"
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// 既定のOAuthスコープ（Accounting + Project Management）
var DefaultScopes = []string{
	"com.intuit.quickbooks.accounting",
	"project-management.project",
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	QuickBooks QuickBooksConfig

	// Session
	SessionBackend         string
	SessionMaxAge          int
	SessionCleanupInterval time.Duration
	DatabaseURL            string
	RedisURL               string

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitWrite   int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// QuickBooksConfig はQuickBooks Online連携の設定。
// OAuthクライアント情報は起動時には検証せず、認可URL生成時に検証する。
type QuickBooksConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Environment  string
	Scopes       []string

	DiscoveryURL     string
	BaseURL          string
	GraphQLURL       string
	MinorVersion     string
	DeepLinkTemplate string

	APIRateLimit float64
	RetryBackoff time.Duration
	HTTPTimeout  time.Duration
}

// NormalizedEnvironment は小文字化した環境名を返す。
func (q QuickBooksConfig) NormalizedEnvironment() string {
	return strings.ToLower(strings.TrimSpace(q.Environment))
}

// IsSandbox はsandbox環境かを返す。
func (q QuickBooksConfig) IsSandbox() bool {
	return q.NormalizedEnvironment() != EnvironmentProduction
}

// RequestedScopes は設定済みスコープを返す。未設定の場合は既定の2スコープ。
func (q QuickBooksConfig) RequestedScopes() []string {
	if len(q.Scopes) == 0 {
		return append([]string(nil), DefaultScopes...)
	}
	return append([]string(nil), q.Scopes...)
}

// InvoiceDeepLink はQuickBooks UIで請求書を直接開くURLを返す。
func (q QuickBooksConfig) InvoiceDeepLink(invoiceID, realmID string) string {
	return fmt.Sprintf(q.DeepLinkTemplate, invoiceID, realmID)
}

// TransactionDeepLink は取引種別（salesreceipt, bill など）の画面URLを返す。
func (q QuickBooksConfig) TransactionDeepLink(kind, txnID string) string {
	host := "https://app.qbo.intuit.com"
	if q.IsSandbox() {
		host = "https://app.sandbox.qbo.intuit.com"
	}
	return fmt.Sprintf("%s/app/%s?txnId=%s", host, kind, txnID)
}

// LoadDotEnv は .env ファイルが存在すれば環境変数として読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが無い場合はエラーにしない。
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 選択したセッション保存先に必要な環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.SessionBackend = strings.ToLower(getEnvString("SESSION_BACKEND", SessionBackendMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	// Required fields
	var missing []string

	switch cfg.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case SessionBackendRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported SESSION_BACKEND: %q", cfg.SessionBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// QuickBooks
	qb := QuickBooksConfig{
		ClientID:     os.Getenv("QBO_CLIENT_ID"),
		ClientSecret: os.Getenv("QBO_CLIENT_SECRET"),
		RedirectURI:  os.Getenv("QBO_REDIRECT_URI"),
		Environment:  getEnvString("QBO_ENVIRONMENT", EnvironmentSandbox),
		Scopes:       splitScopes(os.Getenv("QBO_SCOPES")),
		MinorVersion: getEnvString("QBO_MINOR_VERSION", "75"),
		APIRateLimit: getEnvFloat("QBO_API_RATE_LIMIT", 8),
		RetryBackoff: getEnvDuration("QBO_RETRY_BACKOFF", 500*time.Millisecond),
		HTTPTimeout:  getEnvDuration("QBO_HTTP_TIMEOUT", 30*time.Second),
	}
	if qb.IsSandbox() {
		qb.DiscoveryURL = getEnvString("QBO_DISCOVERY_URL", "https://developer.api.intuit.com/.well-known/openid_sandbox_configuration")
		qb.BaseURL = getEnvString("QBO_BASE_URL", "https://sandbox-quickbooks.api.intuit.com")
		qb.GraphQLURL = getEnvString("QBO_GRAPHQL_URL", "https://qb-sandbox.api.intuit.com/graphql")
		qb.DeepLinkTemplate = getEnvString("QBO_DEEP_LINK_TEMPLATE", "https://app.sandbox.qbo.intuit.com/app/invoice?txnId=%s&companyId=%s")
	} else {
		qb.DiscoveryURL = getEnvString("QBO_DISCOVERY_URL", "https://developer.api.intuit.com/.well-known/openid_configuration")
		qb.BaseURL = getEnvString("QBO_BASE_URL", "https://quickbooks.api.intuit.com")
		qb.GraphQLURL = getEnvString("QBO_GRAPHQL_URL", "https://qb.api.intuit.com/graphql")
		qb.DeepLinkTemplate = getEnvString("QBO_DEEP_LINK_TEMPLATE", "https://app.qbo.intuit.com/app/invoice?txnId=%s&companyId=%s")
	}
	qb.BaseURL = strings.TrimRight(qb.BaseURL, "/")
	cfg.QuickBooks = qb

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 3600)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// splitScopes はカンマまたは空白区切りのスコープ文字列を分割する。
func splitScopes(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
