package buzz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mpheat/internal/metrics"
	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/repository"
)

// Counter は件数取得のインターフェース。Clientが満たす。
type Counter interface {
	GetCounts(ctx context.Context, urls []string) (map[string]int, error)
}

// Rescorer は拡散シグナルを更新した記事のヒートを再計算する。article.Serviceが満たす。
type Rescorer interface {
	Recompute(ctx context.Context, articleIDs []string, windows []model.TimeWindow) (int, error)
}

// BatchConfig はバッチジョブの設定パラメータ。
type BatchConfig struct {
	// BatchInterval はバッチジョブの実行間隔（デフォルト: 30分）。
	BatchInterval time.Duration
	// APIInterval はAPI呼び出しの最低間隔（デフォルト: 5秒）。
	APIInterval time.Duration
	// MaxCallsPerCycle は1サイクルあたりの最大API呼び出し回数（デフォルト: 20）。
	MaxCallsPerCycle int
	// TTL は拡散シグナルの再取得間隔（デフォルト: 24時間）。
	TTL time.Duration
	// Saturation は拡散シグナルが1.0になる件数（デフォルト: 10000）。
	Saturation int
}

// DefaultBatchConfig はデフォルトのバッチジョブ設定を返す。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchInterval:    30 * time.Minute,
		APIInterval:      5 * time.Second,
		MaxCallsPerCycle: 20,
		TTL:              24 * time.Hour,
		Saturation:       DefaultSaturation,
	}
}

// BatchJob は拡散シグナルのバッチ取得ジョブ。
// 未取得またはTTLを過ぎた記事の件数を取得して正規化し、保存した後にヒートを再計算する。
type BatchJob struct {
	articleRepo       repository.ArticleRepository
	counter           Counter
	rescorer          Rescorer
	metrics           metrics.MetricsCollector
	logger            *slog.Logger
	config            BatchConfig
	consecutiveErrors int
	backoffUntil      time.Time
	now               func() time.Time
	sleep             func(ctx context.Context, d time.Duration) error
}

// NewBatchJob はBatchJobの新しいインスタンスを生成する。
func NewBatchJob(
	articleRepo repository.ArticleRepository,
	counter Counter,
	rescorer Rescorer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config BatchConfig,
) *BatchJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &BatchJob{
		articleRepo: articleRepo,
		counter:     counter,
		rescorer:    rescorer,
		metrics:     collector,
		logger:      logger,
		config:      config,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Start はバッチジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (b *BatchJob) Start(ctx context.Context) {
	ticker := time.NewTicker(b.config.BatchInterval)
	defer ticker.Stop()

	b.logger.Info("拡散シグナルのバッチジョブを開始しました",
		slog.Duration("batch_interval", b.config.BatchInterval),
		slog.Duration("api_interval", b.config.APIInterval),
		slog.Int("max_calls_per_cycle", b.config.MaxCallsPerCycle),
	)

	b.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("拡散シグナルのバッチジョブを停止しました")
			return
		case <-ticker.C:
			b.runAndLog(ctx)
		}
	}
}

func (b *BatchJob) runAndLog(ctx context.Context) {
	if _, err := b.RunOnce(ctx); err != nil {
		b.logger.Error("拡散シグナルのバッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は1回のバッチサイクルを実行し、拡散シグナルを更新した記事数を返す。
// API呼び出しの失敗したチャンクは前回値を維持する。連続して失敗した場合はバックオフする。
func (b *BatchJob) RunOnce(ctx context.Context) (int, error) {
	start := b.now()

	if !b.backoffUntil.IsZero() && start.Before(b.backoffUntil) {
		b.logger.Info("拡散シグナルのバッチジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", b.backoffUntil),
		)
		return 0, nil
	}

	fetchLimit := b.config.MaxCallsPerCycle * maxURLsPerRequest
	articles, err := b.articleRepo.ListNeedingBuzzFetch(ctx, b.config.TTL, fetchLimit)
	if err != nil {
		return 0, fmt.Errorf("拡散シグナル取得対象記事の取得に失敗しました: %w", err)
	}
	if len(articles) == 0 {
		b.logger.Debug("拡散シグナルの取得対象の記事はありません")
		return 0, nil
	}

	// 同じURLの記事が複数あっても1回だけ問い合わせる
	urlToIDs := make(map[string][]string)
	var uniqueURLs []string
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		if _, ok := urlToIDs[a.URL]; !ok {
			uniqueURLs = append(uniqueURLs, a.URL)
		}
		urlToIDs[a.URL] = append(urlToIDs[a.URL], a.ID)
	}

	var (
		apiCalls   int
		updatedIDs []string
		hadError   bool
	)
	for i := 0; i < len(uniqueURLs); i += maxURLsPerRequest {
		if apiCalls >= b.config.MaxCallsPerCycle {
			b.logger.Info("1サイクルあたりの最大API呼び出し回数に達しました",
				slog.Int("api_call_count", apiCalls),
			)
			break
		}
		if apiCalls > 0 {
			if err := b.sleep(ctx, b.config.APIInterval); err != nil {
				return len(updatedIDs), err
			}
		}

		end := min(i+maxURLsPerRequest, len(uniqueURLs))
		chunk := uniqueURLs[i:end]
		apiCalls++

		counts, err := b.counter.GetCounts(ctx, chunk)
		if err != nil {
			b.logger.Error("件数APIの呼び出しに失敗しました",
				slog.String("error", err.Error()),
				slog.Int("chunk_size", len(chunk)),
			)
			hadError = true
			b.consecutiveErrors++
			if backoff := errorBackoff(b.consecutiveErrors); backoff > 0 {
				b.backoffUntil = b.now().Add(backoff)
				b.logger.Warn("連続エラーによりバックオフを適用します",
					slog.Int("consecutive_errors", b.consecutiveErrors),
					slog.Duration("backoff_duration", backoff),
				)
				break
			}
			continue
		}

		fetchedAt := b.now().UTC()
		for _, u := range chunk {
			value := Normalize(counts[u], b.config.Saturation)
			for _, id := range urlToIDs[u] {
				if err := b.articleRepo.UpdateBuzz(ctx, id, value, fetchedAt); err != nil {
					b.logger.Error("拡散シグナルの更新に失敗しました",
						slog.String("article_id", id),
						slog.String("error", err.Error()),
					)
					continue
				}
				updatedIDs = append(updatedIDs, id)
			}
		}
	}

	if !hadError {
		b.consecutiveErrors = 0
		b.backoffUntil = time.Time{}
	}

	if len(updatedIDs) > 0 {
		b.metrics.RecordBuzzUpdated(len(updatedIDs))
		if _, err := b.rescorer.Recompute(ctx, updatedIDs, nil); err != nil {
			return len(updatedIDs), fmt.Errorf("拡散シグナル更新後の再計算に失敗しました: %w", err)
		}
	}

	b.logger.Info("拡散シグナルのバッチサイクルが完了しました",
		slog.Int("api_call_count", apiCalls),
		slog.Int("updated_articles", len(updatedIDs)),
		slog.Int("target_articles", len(articles)),
		slog.Float64("duration_ms", float64(b.now().Sub(start).Milliseconds())),
	)
	return len(updatedIDs), nil
}

// errorBackoff は連続エラー回数に基づくバックオフ時間を返す。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func errorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
