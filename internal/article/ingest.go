// Package article は記事の取り込み（分類・保存・スコア計算）、一覧・エクスポート、
// 再計算・再分類を提供する。
package article

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mpheat/internal/classifier"
	"github.com/hitoshi/mpheat/internal/heat"
	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/parser"
	"github.com/hitoshi/mpheat/internal/repository"
)

// ConfigSource はスコア計算と分類に使う現在の設定を提供する。
// settings.Managerが満たす。
type ConfigSource interface {
	HeatConfig(ctx context.Context) (heat.Config, error)
	CategoryRules(ctx context.Context) (classifier.Rules, error)
}

// Ingester は解析済みの記事を分類・保存し、全時間窓のスコアを書き込む。
type Ingester struct {
	articleRepo repository.ArticleRepository
	config      ConfigSource
	logger      *slog.Logger
	now         func() time.Time
}

// NewIngester はIngesterを生成する。
func NewIngester(articleRepo repository.ArticleRepository, config ConfigSource, logger *slog.Logger) *Ingester {
	return &Ingester{
		articleRepo: articleRepo,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Batch は1アカウント分の取り込みで共有するスコア計算器と分類器。
// 設定は Begin の時点で1回だけ読み込む。
type Batch struct {
	ingester    *Ingester
	account     *model.Account
	scorer      *heat.Scorer
	classifier  *classifier.Classifier
	evaluatedAt time.Time

	Inserted int
	Updated  int
}

// Begin はアカウントの取り込みを開始する。
func (i *Ingester) Begin(ctx context.Context, account *model.Account) (*Batch, error) {
	cfg, err := i.config.HeatConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("ヒート設定の読み込みに失敗しました: %w", err)
	}
	rules, err := i.config.CategoryRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("分類ルールの読み込みに失敗しました: %w", err)
	}
	return &Batch{
		ingester:    i,
		account:     account,
		scorer:      heat.NewScorer(cfg),
		classifier:  classifier.New(rules),
		evaluatedAt: i.now().UTC(),
	}, nil
}

// Ingest は解析済みの記事を分類して保存し、全時間窓のスコアを同じ評価時刻で書き込む。
// 新規作成の場合はtrueを返す。
func (b *Batch) Ingest(ctx context.Context, articleURL string, parsed *parser.Article) (bool, error) {
	a := &model.Article{
		ID:          uuid.New().String(),
		AccountID:   b.account.ID,
		Title:       parsed.Title,
		Cover:       parsed.Cover,
		PublishedAt: parsed.PublishedAt.UTC(),
		URL:         articleURL,
		Summary:     parsed.Summary,
		Tags:        b.classifier.Classify(parsed.Title, parsed.Summary),
		Buzz:        model.DefaultBuzz,
	}

	inserted, err := b.ingester.articleRepo.Upsert(ctx, a)
	if err != nil {
		return false, err
	}

	in := heat.NewInput(a.PublishedAt, b.account.Star, a.Title, a.Buzz, b.evaluatedAt)
	scores := WindowScores(a.ID, b.scorer.Compute(in), b.evaluatedAt, model.AllTimeWindows())
	if err := b.ingester.articleRepo.UpsertScores(ctx, scores); err != nil {
		return inserted, err
	}

	if inserted {
		b.Inserted++
	} else {
		b.Updated++
	}
	b.ingester.logger.Debug("記事を取り込みました",
		slog.String("account_id", b.account.ID),
		slog.String("article_id", a.ID),
		slog.Bool("inserted", inserted),
		slog.Any("tags", a.Tags),
	)
	return inserted, nil
}

// WindowScores は同じヒートを指定時間窓ぶんのScoreに展開する。
// 時間窓の違いは一覧取得時の公開日時の範囲で表現する。
func WindowScores(articleID string, proxyHeat float64, at time.Time, windows []model.TimeWindow) []model.Score {
	scores := make([]model.Score, 0, len(windows))
	for _, w := range windows {
		scores = append(scores, model.Score{
			ArticleID:      articleID,
			Window:         w,
			ProxyHeat:      proxyHeat,
			RecalculatedAt: at,
		})
	}
	return scores
}
