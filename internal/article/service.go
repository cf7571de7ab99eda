package article

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mpheat/internal/classifier"
	"github.com/hitoshi/mpheat/internal/heat"
	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/repository"
)

// Service は記事の一覧・エクスポート・再計算・再分類のサービス層。
type Service struct {
	articleRepo repository.ArticleRepository
	config      ConfigSource
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(articleRepo repository.ArticleRepository, config ConfigSource, logger *slog.Logger) *Service {
	return &Service{
		articleRepo: articleRepo,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Now はサービスの評価時刻を返す。クエリのSince計算に使用する。
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// List は検索条件に一致する記事を返す。
func (s *Service) List(ctx context.Context, q model.ArticleQuery) (*model.ArticlePage, error) {
	page, err := s.articleRepo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	return page, nil
}

// Export はエクスポート対象の記事を最大MaxExportRecords件返す。
func (s *Service) Export(ctx context.Context, q model.ArticleQuery) ([]model.ScoredArticle, error) {
	if q.Limit <= 0 || q.Limit > MaxExportRecords {
		q.Limit = MaxExportRecords
	}
	items, err := s.articleRepo.Export(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("エクスポート対象記事の取得に失敗しました: %w", err)
	}
	return items, nil
}

// ParseWindows は時間窓のラベル一覧を検証する。空の場合は全時間窓。
func ParseWindows(labels []string) ([]model.TimeWindow, error) {
	if len(labels) == 0 {
		return model.AllTimeWindows(), nil
	}
	seen := make(map[model.TimeWindow]bool, len(labels))
	windows := make([]model.TimeWindow, 0, len(labels))
	for _, l := range labels {
		w, err := model.ParseTimeWindow(l)
		if err != nil {
			return nil, model.NewInvalidRequestError(err.Error())
		}
		if !seen[w] {
			seen[w] = true
			windows = append(windows, w)
		}
	}
	return windows, nil
}

// Recompute は現在の設定で記事のヒートを再計算し、指定時間窓のスコアを上書きする。
// articleIDsが空の場合は全記事が対象。更新した記事数を返す。
func (s *Service) Recompute(ctx context.Context, articleIDs []string, windows []model.TimeWindow) (int, error) {
	if len(windows) == 0 {
		windows = model.AllTimeWindows()
	}

	cfg, err := s.config.HeatConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("ヒート設定の読み込みに失敗しました: %w", err)
	}
	inputs, err := s.articleRepo.ListScoringInputs(ctx, articleIDs)
	if err != nil {
		return 0, fmt.Errorf("再計算対象記事の取得に失敗しました: %w", err)
	}

	scorer := heat.NewScorer(cfg)
	at := s.now().UTC()
	updated := 0
	for _, in := range inputs {
		h := scorer.Compute(heat.NewInput(in.PublishedAt, in.Star, in.Title, in.Buzz, at))
		if err := s.articleRepo.UpsertScores(ctx, WindowScores(in.ArticleID, h, at, windows)); err != nil {
			return updated, fmt.Errorf("スコアの更新に失敗しました: %w", err)
		}
		updated++
	}

	s.logger.Info("ヒートを再計算しました",
		slog.Int("articles", updated),
		slog.Int("windows", len(windows)),
	)
	return updated, nil
}

// Relabel は現在の分類ルールで記事のタグを付け直す。
// articleIDsが空の場合は全記事が対象。更新した記事数を返す。
func (s *Service) Relabel(ctx context.Context, articleIDs []string) (int, error) {
	rules, err := s.config.CategoryRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("分類ルールの読み込みに失敗しました: %w", err)
	}
	inputs, err := s.articleRepo.ListScoringInputs(ctx, articleIDs)
	if err != nil {
		return 0, fmt.Errorf("再分類対象記事の取得に失敗しました: %w", err)
	}

	c := classifier.New(rules)
	updated := 0
	for _, in := range inputs {
		if err := s.articleRepo.UpdateTags(ctx, in.ArticleID, c.Classify(in.Title, in.Summary)); err != nil {
			return updated, fmt.Errorf("タグの更新に失敗しました: %w", err)
		}
		updated++
	}

	s.logger.Info("記事を再分類しました", slog.Int("articles", updated))
	return updated, nil
}
