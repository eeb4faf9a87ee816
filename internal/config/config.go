// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DispatchRetryPolicy は一次キューのリトライ方針を表す。
type DispatchRetryPolicy string

const (
	// RetryPolicyFireAndForget はステージ呼び出し結果を待たず、
	// メッセージをアーカイブしない（再配送もされない）。
	RetryPolicyFireAndForget DispatchRetryPolicy = "fire_and_forget"
	// RetryPolicyArchiveOnAccept はステージの受理（HTTP 200）を確認してから
	// アーカイブする。仕上げキューと同じコミット規則。
	RetryPolicyArchiveOnAccept DispatchRetryPolicy = "archive_on_accept"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Internal API
	InternalAPIKey string
	BaseURL        string

	// Upstream backends
	ScreenshotAPIURL    string
	PDFScreenshotAPIURL string
	OCRAPIURL           string
	CaptionAPIURL       string
	FaviconServiceURL   string

	// Object storage
	StorageEndpoint  string
	StorageBucket    string
	StoragePublicURL string
	StorageAccessKey string

	// Fetch
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Queues
	PrimaryQueue  string
	FinalizeQueue string
	EmbedQueue    string

	// Dispatcher
	DispatchInterval    time.Duration
	DispatchBatchSize   int
	DispatchVisibility  int
	DispatchRetryPolicy DispatchRetryPolicy

	// Consumer
	ConsumeInterval   time.Duration
	ConsumeBatchSize  int
	ConsumeVisibility int
	MaxRetries        int

	// Ingestion
	DedupCheckBatchSize int

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string
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

	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")
	if cfg.InternalAPIKey == "" {
		missing = append(missing, "INTERNAL_API_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.ScreenshotAPIURL = os.Getenv("SCREENSHOT_API_URL")
	if cfg.ScreenshotAPIURL == "" {
		missing = append(missing, "SCREENSHOT_API_URL")
	}

	cfg.StorageEndpoint = os.Getenv("STORAGE_ENDPOINT")
	if cfg.StorageEndpoint == "" {
		missing = append(missing, "STORAGE_ENDPOINT")
	}

	cfg.StorageBucket = os.Getenv("STORAGE_BUCKET")
	if cfg.StorageBucket == "" {
		missing = append(missing, "STORAGE_BUCKET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PDFScreenshotAPIURL = getEnvString("PDF_SCREENSHOT_API_URL", cfg.ScreenshotAPIURL+"/pdf")
	cfg.OCRAPIURL = getEnvString("OCR_API_URL", "")
	cfg.CaptionAPIURL = getEnvString("CAPTION_API_URL", "")
	cfg.FaviconServiceURL = getEnvString("FAVICON_SERVICE_URL", "https://www.google.com/s2/favicons")
	cfg.StoragePublicURL = getEnvString("STORAGE_PUBLIC_URL", cfg.StorageEndpoint)
	cfg.StorageAccessKey = getEnvString("STORAGE_ACCESS_KEY", "")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 10485760)
	cfg.PrimaryQueue = getEnvString("PRIMARY_QUEUE", "bookmark-enrichment")
	cfg.FinalizeQueue = getEnvString("FINALIZE_QUEUE", "bookmark-finalize")
	cfg.EmbedQueue = getEnvString("EMBED_QUEUE", "ai-embeddings")
	cfg.DispatchInterval = getEnvDuration("DISPATCH_INTERVAL", 1*time.Minute)
	cfg.DispatchBatchSize = getEnvInt("DISPATCH_BATCH_SIZE", 10)
	cfg.DispatchVisibility = getEnvInt("DISPATCH_VISIBILITY_SECONDS", 30)
	cfg.DispatchRetryPolicy = parseRetryPolicy(os.Getenv("DISPATCH_RETRY_POLICY"))
	cfg.ConsumeInterval = getEnvDuration("CONSUME_INTERVAL", 1*time.Minute)
	cfg.ConsumeBatchSize = getEnvInt("CONSUME_BATCH_SIZE", 10)
	cfg.ConsumeVisibility = getEnvInt("CONSUME_VISIBILITY_SECONDS", 60)
	cfg.MaxRetries = getEnvInt("QUEUE_MAX_RETRIES", 3)
	cfg.DedupCheckBatchSize = getEnvInt("DEDUP_CHECK_BATCH_SIZE", 120)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// parseRetryPolicy は環境変数値をDispatchRetryPolicyに変換する。
// 未設定・不正値はオリジナルの挙動であるfire_and_forgetにフォールバックする。
func parseRetryPolicy(v string) DispatchRetryPolicy {
	if v == string(RetryPolicyArchiveOnAccept) {
		return RetryPolicyArchiveOnAccept
	}
	return RetryPolicyFireAndForget
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
