package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/mpheat/internal/buzz"
	"github.com/hitoshi/mpheat/internal/config"
	"github.com/hitoshi/mpheat/internal/database"
	"github.com/hitoshi/mpheat/internal/handler"
	"github.com/hitoshi/mpheat/internal/logger"
	"github.com/hitoshi/mpheat/internal/metrics"
	"github.com/hitoshi/mpheat/internal/middleware"
	"github.com/hitoshi/mpheat/internal/worker/cleanup"
)

// dbPingTimeout は起動時のDB接続確認のタイムアウト。
const dbPingTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを設定値に合わせる
	level, ok := logger.ParseLevel(cfg.LogLevel)
	if !ok {
		slog.Warn("不明なログレベルのためinfoを使用します", slog.String("log_level", cfg.LogLevel))
	}
	logger.SetLevel(level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。crawl-onceの結果はwに出力する。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if !cmd.NeedsInit() {
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
		slog.Bool("read_only", cfg.ReadOnlyMode),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCrawlOnce:
		return runCrawlOnce(cfg, w)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 依存関係の構築
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitHeavy),
		slog.Default(),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     db,
		MetricsHandler:    c.metricsHandler(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		ReadOnly:          cfg.ReadOnlyMode,

		AccountService:  c.accounts,
		ArticleService:  c.articles,
		SettingsService: c.settings,
		Refresher:       c.scheduler,
	})

	// 4. HTTPサーバーの起動
	// 手動リフレッシュはページ間の待機を含むため書き込みタイムアウトを長めに取る
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
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
// クロールスケジューラ、拡散シグナルのバッチ、フェッチログのクリーンアップを起動し、
// メトリクスをMETRICS_PORTで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. 依存関係の構築
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(c.fetchLogRepo, cfg.LogRetentionDays, slog.Default())

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

	// 4. メトリクスサーバー
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(c.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("crawl_interval", cfg.CrawlInterval),
		slog.String("crawl_cron", cfg.CrawlCron),
		slog.Int("max_articles", cfg.CrawlMaxArticles),
		slog.Bool("buzz_enabled", cfg.BuzzEnabled()),
	)

	// 5. 拡散シグナルのバッチジョブ（エンドポイント設定時のみ）
	if cfg.BuzzEnabled() {
		client := buzz.NewClient(
			&http.Client{Timeout: buzzHTTPTimeout},
			cfg.BuzzEndpoint, cfg.FetchUserAgent, slog.Default(),
		)
		batch := buzz.NewBatchJob(c.articleRepo, client, c.articles, c.metrics, slog.Default(), buzz.BatchConfig{
			BatchInterval:    cfg.BuzzBatchInterval,
			APIInterval:      cfg.BuzzAPIInterval,
			MaxCallsPerCycle: cfg.BuzzMaxCallsPerCycle,
			TTL:              cfg.BuzzTTL,
			Saturation:       cfg.BuzzSaturation,
		})
		go batch.Start(ctx)
	}

	// 6. クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx)

	// 7. クロールスケジューラをメインgoroutineで実行（ブロッキング）
	if cfg.CrawlCron != "" {
		if err := c.scheduler.StartCron(ctx, cfg.CrawlCron); err != nil {
			return fmt.Errorf("failed to start cron scheduler: %w", err)
		}
	} else {
		c.scheduler.Start(ctx, cfg.CrawlInterval)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runCrawlOnce はアカウント一覧を1回クロールし、結果をJSONでwに書き出す。
// 運用時の手動実行用。
func runCrawlOnce(cfg *config.Config, w io.Writer) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := c.scheduler.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("crawl run failed: %w", err)
	}

	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
