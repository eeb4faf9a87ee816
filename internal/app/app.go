package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/timelessco/recollect-pipeline/internal/config"
	"github.com/timelessco/recollect-pipeline/internal/database"
	"github.com/timelessco/recollect-pipeline/internal/finalize"
	"github.com/timelessco/recollect-pipeline/internal/handler"
	"github.com/timelessco/recollect-pipeline/internal/ingest"
	"github.com/timelessco/recollect-pipeline/internal/logger"
	"github.com/timelessco/recollect-pipeline/internal/metrics"
	"github.com/timelessco/recollect-pipeline/internal/middleware"
	"github.com/timelessco/recollect-pipeline/internal/queue"
	"github.com/timelessco/recollect-pipeline/internal/repository"
	"github.com/timelessco/recollect-pipeline/internal/screenshot"
	"github.com/timelessco/recollect-pipeline/internal/security"
	"github.com/timelessco/recollect-pipeline/internal/storage"
	"github.com/timelessco/recollect-pipeline/internal/worker"
	"github.com/timelessco/recollect-pipeline/internal/worker/cleanup"
	"github.com/timelessco/recollect-pipeline/internal/worker/consume"
	"github.com/timelessco/recollect-pipeline/internal/worker/dispatch"
)

// backendTimeout はスクリーンショットAPIやストレージなど、信頼できる
// バックエンドへのHTTP呼び出しに許すタイムアウト。ページレンダリングは
// 遅いことがあるため長めに取る。
const backendTimeout = 2 * time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリとキューの初期化
	bookmarkRepo := repository.NewPostgresBookmarkRepo(db)
	categoryRepo := repository.NewPostgresCategoryRepo(db)
	relationRepo := repository.NewPostgresBookmarkCategoryRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	q := queue.NewPostgresQueue(db)

	// 3. メトリクスとセキュリティサービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	ssrfGuard := security.NewSSRFGuard()
	scrubber := security.NewTextScrubber()

	// 外部サイトへのフェッチ（og:image、ファビコン、リホスト元画像）は
	// SSRF防止付きクライアントを通す。自前バックエンドへの呼び出しは
	// プライベートネットワーク上にあるため通常のクライアントを使う。
	safeClient := ssrfGuard.NewSafeClient(cfg.FetchTimeout)
	backendClient := &http.Client{Timeout: backendTimeout}

	// 4. 取り込みサービスの初期化
	sanitizer := ingest.NewHTTPSanitizer(ssrfGuard, slog.Default(), cfg.FaviconServiceURL)
	ingestService := ingest.NewService(
		bookmarkRepo, categoryRepo, relationRepo, profileRepo,
		q, sanitizer, collector, slog.Default(),
		ingest.Config{
			PrimaryQueue:        cfg.PrimaryQueue,
			EmbedQueue:          cfg.EmbedQueue,
			DedupCheckBatchSize: cfg.DedupCheckBatchSize,
		},
	)

	// 5. スクリーンショットステージの初期化
	objectStorage := storage.NewHTTPStorage(
		backendClient, slog.Default(),
		cfg.StorageEndpoint, cfg.StorageBucket, cfg.StoragePublicURL, cfg.StorageAccessKey,
	)
	renderer := screenshot.NewHTTPRenderer(
		backendClient, slog.Default(), cfg.ScreenshotAPIURL, cfg.PDFScreenshotAPIURL,
	)
	screenshotService := screenshot.NewService(
		bookmarkRepo, renderer, objectStorage, q, scrubber, collector,
		slog.Default(), cfg.FinalizeQueue,
	)

	// 6. 仕上げステージの初期化
	rehoster := finalize.NewRehoster(safeClient, objectStorage, slog.Default())
	blurhashEncoder := finalize.NewBlurhashEncoder(safeClient, slog.Default())
	ocrAnalyzer := finalize.NewOCRAnalyzer(backendClient, slog.Default(), cfg.OCRAPIURL)
	captionAnalyzer := finalize.NewCaptionAnalyzer(backendClient, slog.Default(), cfg.CaptionAPIURL)
	faviconResolver := finalize.NewFaviconResolver(safeClient, slog.Default(), cfg.FaviconServiceURL)
	finalizeService := finalize.NewService(
		bookmarkRepo, rehoster, blurhashEncoder, ocrAnalyzer, captionAnalyzer,
		faviconResolver, collector, slog.Default(),
	)

	// 7. ワーカーの初期化（手動ティック用のエンドポイントから呼ばれる）
	dispatcher, consumer := newStageWorkers(cfg, q, collector)

	// 8. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,
		APIKey:      cfg.InternalAPIKey,

		IngestService:     ingestService,
		ScreenshotService: screenshotService,
		FinalizeService:   finalizeService,
		Dispatcher:        dispatcher,
		Consumer:          consumer,

		DB:       db,
		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、ディスパッチャとコンシューマをティッカーで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. ワーカーの初期化
	// ワーカーはステージ処理を自分では実行せず、APIサーバーの
	// ステージエンドポイントをHTTPで呼び出す。
	q := queue.NewPostgresQueue(db)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	dispatcher, consumer := newStageWorkers(cfg, q, collector)

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.String("primary_queue", cfg.PrimaryQueue),
		slog.String("finalize_queue", cfg.FinalizeQueue),
		slog.Duration("dispatch_interval", cfg.DispatchInterval),
		slog.Duration("consume_interval", cfg.ConsumeInterval),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// ディスパッチャをバックグラウンドで起動
	go dispatcher.Start(ctx, cfg.DispatchInterval)

	// コンシューマをメインgoroutineで実行（ブロッキング）
	consumer.Start(ctx, cfg.ConsumeInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newStageWorkers はディスパッチャとコンシューマを構築する。
// serveモードでは手動ティック用エンドポイントの背後で、workerモードでは
// ティッカー駆動で使われる。両者は同じキューを同じ規則で処理する。
func newStageWorkers(cfg *config.Config, q queue.Queue, collector metrics.MetricsCollector) (*dispatch.Dispatcher, *consume.Consumer) {
	stageClient := worker.NewStageClient(
		&http.Client{Timeout: backendTimeout}, slog.Default(),
		cfg.BaseURL, cfg.InternalAPIKey,
	)

	dispatcher := dispatch.NewDispatcher(q, stageClient, collector, slog.Default(), dispatch.Config{
		QueueName:         cfg.PrimaryQueue,
		BatchSize:         cfg.DispatchBatchSize,
		VisibilitySeconds: cfg.DispatchVisibility,
		MaxRetries:        cfg.MaxRetries,
		Policy:            dispatch.RetryPolicy(cfg.DispatchRetryPolicy),
	})

	consumer := consume.NewConsumer(q, stageClient, collector, slog.Default(), consume.Config{
		QueueName:         cfg.FinalizeQueue,
		BatchSize:         cfg.ConsumeBatchSize,
		VisibilitySeconds: cfg.ConsumeVisibility,
		MaxRetries:        cfg.MaxRetries,
	})

	return dispatcher, consumer
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
