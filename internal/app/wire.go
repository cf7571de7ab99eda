package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/mpheat/internal/account"
	"github.com/hitoshi/mpheat/internal/article"
	"github.com/hitoshi/mpheat/internal/config"
	"github.com/hitoshi/mpheat/internal/metrics"
	"github.com/hitoshi/mpheat/internal/pacing"
	"github.com/hitoshi/mpheat/internal/repository"
	"github.com/hitoshi/mpheat/internal/security"
	"github.com/hitoshi/mpheat/internal/settings"
	"github.com/hitoshi/mpheat/internal/worker/crawl"
)

// components はserve/worker/crawl-onceで共有する依存関係の集合。
type components struct {
	registry *prometheus.Registry
	metrics  *metrics.Collector

	accountRepo  *repository.PostgresAccountRepo
	articleRepo  *repository.PostgresArticleRepo
	fetchLogRepo *repository.PostgresFetchLogRepo

	settings  *settings.Manager
	pacer     *pacing.Pacer
	fetcher   *crawl.HTTPFetcher
	accounts  *account.Service
	articles  *article.Service
	scheduler *crawl.Scheduler

	redis *redis.Client
}

// buildComponents はDB接続と設定から全依存関係をワイヤリングする。
// REDIS_ADDRが設定されている場合、クローラー状態はRedisに保存する。
func buildComponents(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*components, error) {
	c := &components{}

	// 1. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)

	// 2. リポジトリ
	c.accountRepo = repository.NewPostgresAccountRepo(db)
	c.articleRepo = repository.NewPostgresArticleRepo(db)
	c.fetchLogRepo = repository.NewPostgresFetchLogRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)
	historyRepo := repository.NewPostgresSettingsHistoryRepo(db)

	var stateStore repository.CrawlerStateRepository = repository.NewPostgresCrawlerStateRepo(db)
	if cfg.UseRedis() {
		client, err := repository.NewRedisClient(repository.RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.redis = client
		stateStore = repository.NewRedisCrawlerStateRepo(client)
		logger.Info("クローラー状態の保存先にRedisを使用します", slog.String("addr", cfg.RedisAddr))
	}

	// 3. 設定とペーシング
	c.settings = settings.NewManager(settingsRepo, historyRepo, c.articleRepo, logger)
	c.pacer = pacing.NewPacer(c.settings, stateStore, c.fetchLogRepo, logger)

	// 4. クロール
	guard := security.NewSSRFGuard(cfg.SSRFProtection)
	c.fetcher = crawl.NewHTTPFetcher(guard, crawl.FetcherConfig{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		UserAgent:   cfg.FetchUserAgent,
	}, logger)
	ingester := article.NewIngester(c.articleRepo, c.settings, logger)
	pipeline := crawl.NewPipeline(c.fetcher, ingester, c.pacer, c.metrics, logger, cfg.CrawlMaxArticles)
	c.scheduler = crawl.NewScheduler(
		c.accountRepo, c.fetchLogRepo, repository.NewPostgresRunLocker(db),
		c.pacer, pipeline, c.metrics, logger, cfg.ReadOnlyMode,
	)

	// 5. ドメインサービス
	c.accounts = account.NewService(c.accountRepo, c.fetcher, logger)
	c.articles = article.NewService(c.articleRepo, c.settings, logger)

	return c, nil
}

// metricsHandler は/metricsのハンドラーを返す。
func (c *components) metricsHandler() http.Handler {
	return metrics.Handler(c.registry)
}

// Close は外部接続を閉じる。
func (c *components) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Warn("Redis接続のクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
}

// buzzHTTPTimeout は拡散シグナルAPI呼び出しのタイムアウト。
const buzzHTTPTimeout = 10 * time.Second
