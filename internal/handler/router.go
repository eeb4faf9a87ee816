package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/timelessco/recollect-pipeline/internal/metrics"
	"github.com/timelessco/recollect-pipeline/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
	APIKey      string

	// サービス
	IngestService     IngestServiceInterface
	ScreenshotService ScreenshotServiceInterface
	FinalizeService   FinalizeServiceInterface
	Dispatcher        DispatcherInterface
	Consumer          ConsumerInterface

	// ヘルスチェックとメトリクス
	DB       *sql.DB
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを
// 構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging →（/api/v1のみ）APIKey → RateLimit
//
// /healthzと/metricsは認証の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	bookmarkHandler := NewBookmarkHandler(deps.IngestService)
	taskHandler := NewTaskHandler(deps.ScreenshotService, deps.FinalizeService, deps.Dispatcher, deps.Consumer)

	// --- 認証不要のルート ---

	r.Get("/healthz", healthzHandler(deps.DB))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 内部APIキーが必要なルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAPIKeyMiddleware(deps.APIKey))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/v1", func(r chi.Router) {
			// インポートは重い処理のため専用レート制限を追加
			r.With(deps.RateLimiter.ImportMiddleware()).Post("/bookmarks/import", bookmarkHandler.Import)

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/screenshot", taskHandler.Screenshot)
				r.Post("/finalize", taskHandler.Finalize)
				r.Post("/dispatch", taskHandler.Dispatch)
				r.Post("/consume", taskHandler.Consume)
			})
		})
	})

	return r
}

// healthzHandler はデータベース到達性を含むヘルスチェックを返す。
func healthzHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				status = "database unavailable"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
