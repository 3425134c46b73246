package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/wallrank/internal/config"
	"github.com/hitoshi/wallrank/internal/database"
	"github.com/hitoshi/wallrank/internal/events"
	"github.com/hitoshi/wallrank/internal/handler"
	"github.com/hitoshi/wallrank/internal/logger"
	"github.com/hitoshi/wallrank/internal/metrics"
	"github.com/hitoshi/wallrank/internal/middleware"
	"github.com/hitoshi/wallrank/internal/security"
	"github.com/hitoshi/wallrank/internal/supervisor"
	"github.com/hitoshi/wallrank/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .env と環境変数（および CONFIG_PATH の設定ファイル）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .env を環境変数に読み込む（既存の環境変数が優先）
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. ログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
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
		slog.String("log_level", cfg.LogLevel),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandRecompute:
		return runRecompute(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、監視ツリー上でHTTPサーバーとバックグラウンド処理を起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. スコアリング部品の構築
	c, err := newCore(cfg, db, log)
	if err != nil {
		return err
	}
	defer c.Close()

	// 3. イベントバスと購読者
	bus := events.NewBus(log)
	defer bus.Close()
	consumer := events.NewConsumer(bus.Subscriber(), c.recalculator, c.listCache, log, c.collector)

	// 4. キャッシュGCジョブ
	gcJob := cleanup.NewCacheGCJob(c.badger, log, c.collector, cfg.CacheGCInterval)

	// 5. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.AdminRate = rate.Limit(float64(cfg.RateLimitAdmin) / 60.0)
	rateLimiterCfg.AdminBurst = cfg.RateLimitAdmin
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN is not set; admin API is disabled")
	}

	deps := &handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		AdminToken:        cfg.AdminToken,
		RateLimiter:       rateLimiter,
		StatusObserver:    c.collector.RecordHTTPStatus,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(c.registry),

		Recommendations: c.selector,
		Excerpter:       security.NewContentSanitizer(),
		ExcerptLength:   cfg.ExcerptLength,

		Settings:     c.settings,
		Recalculator: c.recalculator,
		Stats:        c.posts,
		Events:       bus,
	}

	router := handler.NewRouter(deps)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RecomputeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 6. 監視ツリーの構築
	tree := supervisor.NewTree(log, supervisor.TreeConfig{ShutdownTimeout: cfg.ShutdownTimeout})
	tree.AddWorker(consumer)
	tree.AddWorker(gcJob)
	if cfg.RecomputeSchedulerEnabled {
		tree.AddWorker(c.scheduler)
	}
	tree.AddAPI(supervisor.NewHTTPService(server, cfg.ShutdownTimeout))

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("API server starting",
		slog.String("addr", server.Addr),
		slog.Bool("recompute_scheduler", cfg.RecomputeSchedulerEnabled),
	)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、定期再計算スケジューラを監視ツリー上で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. スコアリング部品の構築
	c, err := newCore(cfg, db, log)
	if err != nil {
		return err
	}
	defer c.Close()

	// 3. 監視ツリーの構築
	tree := supervisor.NewTree(log, supervisor.TreeConfig{ShutdownTimeout: cfg.ShutdownTimeout})
	tree.AddWorker(c.scheduler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Bool("run_on_startup", cfg.RecomputeOnStartup),
		slog.Duration("recompute_timeout", cfg.RecomputeTimeout),
	)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runRecompute は一括再計算を1回実行して終了する。
// cronなど外部スケジューラから起動する用途。
func runRecompute(cfg *config.Config) error {
	log := slog.Default()

	db, err := database.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	c, err := newCore(cfg, db, log)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RecomputeTimeout)
	defer cancel()

	result, err := c.recalculator.RecomputeAll(ctx)
	if err != nil {
		return fmt.Errorf("recompute failed: %w", err)
	}

	slog.Info("recompute completed",
		slog.String("run_id", result.RunID),
		slog.String("status", string(result.Status)),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
		slog.Int("aged_out", result.AgedOut),
		slog.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
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

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration status check failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
