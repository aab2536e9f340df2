// Package app はアプリケーションの起動モードと依存関係のワイヤリングを提供する。
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

	"github.com/hitoshi/ytindexer/internal/config"
	"github.com/hitoshi/ytindexer/internal/database"
	"github.com/hitoshi/ytindexer/internal/handler"
	"github.com/hitoshi/ytindexer/internal/hub"
	"github.com/hitoshi/ytindexer/internal/indexer"
	"github.com/hitoshi/ytindexer/internal/logger"
	"github.com/hitoshi/ytindexer/internal/metrics"
	"github.com/hitoshi/ytindexer/internal/middleware"
	"github.com/hitoshi/ytindexer/internal/notification"
	"github.com/hitoshi/ytindexer/internal/queue"
	"github.com/hitoshi/ytindexer/internal/security"
	"github.com/hitoshi/ytindexer/internal/worker"
)

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
		slog.String("queue", cfg.QueueName),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSubscribe:
		return runSubscribe(cfg)
	default:
		return runServe(cfg)
	}
}

// retryConfigFrom は設定からシンク共通のリトライ設定を組み立てる。
func retryConfigFrom(cfg *config.Config) indexer.RetryConfig {
	return indexer.RetryConfig{
		MaxAttempts:     cfg.RetryMaxAttempts,
		BaseDelay:       cfg.RetryBaseDelay,
		MaxDelay:        cfg.RetryMaxDelay,
		ExponentialBase: cfg.RetryExponentialBase,
	}
}

// sinkHealthReporter はサーバーモード用のヘルスレポーター。
// プロセッサを持たないため、シンクのヘルスのみで全体の健全性を判定する。
type sinkHealthReporter struct {
	checkers []indexer.HealthChecker
}

// HealthCheck は全シンクのヘルスを収集し、すべて健全な場合にtrueを返す。
func (r *sinkHealthReporter) HealthCheck(ctx context.Context) (bool, []indexer.HealthStatus) {
	statuses := make([]indexer.HealthStatus, 0, len(r.checkers))
	healthy := true
	for _, c := range r.checkers {
		status := c.HealthCheck(ctx)
		if !status.IsHealthy {
			healthy = false
		}
		statuses = append(statuses, status)
	}
	return healthy, statuses
}

// runServe はWebhookレシーバと読み取りAPIのサーバーモードで起動する。
// DBとValkeyへの接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
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

	// 2. Valkey接続
	valkey := database.OpenValkey(cfg.ValkeyAddr, cfg.ValkeyPassword, cfg.ValkeyDB)
	defer valkey.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	err = database.PingValkey(ctx, valkey)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to valkey: %w", err)
	}

	slog.Info("valkey connection established")

	// 3. キューとシンクの初期化
	notifQueue := queue.NewNotificationQueue(valkey, cfg.QueueName, slog.Default())

	retryCfg := retryConfigFrom(cfg)
	storageSvc := indexer.NewVideoStorageService(db, retryCfg, slog.Default())
	indexingSvc := indexer.NewSearchIndexingService(db, retryCfg, slog.Default())
	statsSvc := indexer.NewChannelStatsService(db, retryCfg, slog.Default())

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(float64(cfg.RateLimitPerMin) / 60.0),
		Burst:           cfg.RateLimitBurst,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,

		Queue:       notifQueue,
		Metrics:     collector,
		MaxBodySize: cfg.MaxBodySize,

		Videos:   storageSvc,
		Search:   indexingSvc,
		Channels: statsSvc,

		Health: &sinkHealthReporter{checkers: []indexer.HealthChecker{
			storageSvc, indexingSvc, statsSvc,
		}},

		MetricsHandler: metrics.Handler(registry),
	})

	// 6. HTTPサーバーの起動
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
		slog.Info("webhook server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down webhook server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("webhook server stopped gracefully")
	return nil
}

// runWorker はキュー消費ワーカーモードで起動する。
// DBとValkeyへの接続を開き、シンクのスキーマを確認してからプロセッサを起動する。
// SIGINTまたはSIGTERMシグナルを受信すると実行中タスクをドレインして停止する。
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

	// 2. Valkey接続
	valkey := database.OpenValkey(cfg.ValkeyAddr, cfg.ValkeyPassword, cfg.ValkeyDB)
	defer valkey.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	err = database.PingValkey(pingCtx, valkey)
	pingCancel()
	if err != nil {
		return fmt.Errorf("failed to connect to valkey: %w", err)
	}

	slog.Info("valkey connection established (worker)")

	// 3. キューとシンクの初期化
	notifQueue := queue.NewNotificationQueue(valkey, cfg.QueueName, slog.Default())

	retryCfg := retryConfigFrom(cfg)
	storageSvc := indexer.NewVideoStorageService(db, retryCfg, slog.Default())
	indexingSvc := indexer.NewSearchIndexingService(db, retryCfg, slog.Default())
	statsSvc := indexer.NewChannelStatsService(db, retryCfg, slog.Default())

	// 4. スキーマの確認
	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer schemaCancel()
	for _, result := range []indexer.OperationResult{
		storageSvc.EnsureSchema(schemaCtx),
		indexingSvc.EnsureSchema(schemaCtx),
		statsSvc.EnsureSchema(schemaCtx),
	} {
		if result.IsFailure() {
			return fmt.Errorf("schema setup failed: %s", result.Message)
		}
	}

	// 5. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. プロセッサの初期化
	parser := notification.NewParser(slog.Default())
	sanitizer := security.NewMetadataSanitizer()

	processor := worker.NewProcessor(
		notifQueue, parser, sanitizer,
		storageSvc, indexingSvc, statsSvc,
		collector, slog.Default(),
		worker.Config{
			DequeueTimeout:     cfg.DequeueTimeout,
			BatchSize:          cfg.BatchSize,
			MaxConcurrentTasks: cfg.MaxConcurrentTasks,
			PollInterval:       cfg.PollInterval,
			DrainGracePeriod:   cfg.DrainGracePeriod,
		},
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		processor.Stop()
	}()

	slog.Info("worker starting",
		slog.Int("max_concurrent_tasks", cfg.MaxConcurrentTasks),
		slog.Int("batch_size", cfg.BatchSize),
	)

	// プロセッサをメインgoroutineで実行（ブロッキング）
	processor.Run(context.Background())

	slog.Info("worker stopped gracefully")
	return nil
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

// runSubscribe は設定されたチャンネルすべてのハブ購読を申請する。
// 1件でも失敗した場合は残りのチャンネルを処理した上でエラーを返す。
func runSubscribe(cfg *config.Config) error {
	if cfg.CallbackURL == "" {
		return fmt.Errorf("CALLBACK_URL is required for subscribe")
	}
	if len(cfg.ChannelIDs) == 0 {
		return fmt.Errorf("CHANNEL_IDS is empty")
	}

	guard := security.NewURLGuard()
	client := hub.NewSubscriptionClient(
		cfg.HubURL, cfg.CallbackURL,
		guard.NewSafeClient(cfg.HubTimeout), guard,
		slog.Default(),
	)

	ctx, cancel := context.WithTimeout(context.Background(),
		cfg.HubTimeout*time.Duration(len(cfg.ChannelIDs)))
	defer cancel()

	var failed int
	for _, channelID := range cfg.ChannelIDs {
		if err := client.Subscribe(ctx, channelID); err != nil {
			slog.Error("チャンネル購読の申請に失敗しました",
				slog.String("channel_id", channelID),
				slog.String("error", err.Error()),
			)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d subscriptions failed", failed, len(cfg.ChannelIDs))
	}

	slog.Info("全チャンネルの購読申請が受理されました",
		slog.Int("channel_count", len(cfg.ChannelIDs)),
	)
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
