// Package settings はキー単位のJSON設定の読み書き、履歴、ロールバック、
// ヒート重み変更のプレビューを提供する。
//
// 値はキーごとの規則（codec）で検証され、未知のキーは整形式のJSONとして保存される。
// 型付きの読み込み（HeatConfig、CategoryRules、RateLimits）は保存値を既定値の上に重ねる。
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mpheat/internal/classifier"
	"github.com/hitoshi/mpheat/internal/heat"
	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/pacing"
	"github.com/hitoshi/mpheat/internal/repository"
)

const (
	// PreviewWindow はプレビューで参照する時間窓。
	PreviewWindow = model.Window7d
	// PreviewLimit はプレビューで比較する上位記事数。
	PreviewLimit = 20
	// historyLimit は履歴の取得件数の上限。
	historyLimit = 100
)

// RankingReader はプレビュー用に保存済みスコアの上位記事を読む。
type RankingReader interface {
	TopByScore(ctx context.Context, window model.TimeWindow, since time.Time, limit int) ([]model.ScoredArticle, error)
}

// PreviewItem はプレビューの1行を表す。
type PreviewItem struct {
	ArticleID    string
	Title        string
	ProxyHeat    float64
	Rank         int
	PreviousRank int // afterのみ。beforeでの順位
}

// PreviewResult は重み変更前後の上位記事の比較結果。
type PreviewResult struct {
	Window  model.TimeWindow
	Weights heat.Weights
	Before  []PreviewItem
	After   []PreviewItem
}

// Manager は設定の読み書きと履歴管理のサービス層。
type Manager struct {
	settingsRepo repository.SettingsRepository
	historyRepo  repository.SettingsHistoryRepository
	ranking      RankingReader
	logger       *slog.Logger
	now          func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(
	settingsRepo repository.SettingsRepository,
	historyRepo repository.SettingsHistoryRepository,
	ranking RankingReader,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		settingsRepo: settingsRepo,
		historyRepo:  historyRepo,
		ranking:      ranking,
		logger:       logger,
		now:          time.Now,
	}
}

// Get は指定キーの保存済み設定を返す。未保存の場合はSettingNotFoundエラー。
func (m *Manager) Get(ctx context.Context, key string) (*model.Setting, error) {
	s, err := m.settingsRepo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("設定の取得に失敗しました: %w", err)
	}
	if s == nil {
		return nil, model.NewSettingNotFoundError(key)
	}
	return s, nil
}

// GetAll は保存済みの全設定を返す。
func (m *Manager) GetAll(ctx context.Context) ([]model.Setting, error) {
	list, err := m.settingsRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("設定一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}

// Defaults は既知キーの既定値を返す。
func (m *Manager) Defaults() map[string]any {
	return Defaults()
}

// Save は値を検証して保存する。履歴は作成しない。
func (m *Manager) Save(ctx context.Context, key string, value json.RawMessage) error {
	if err := Validate(key, value); err != nil {
		return model.NewInvalidSettingError(key, err.Error())
	}
	if err := m.settingsRepo.Upsert(ctx, key, value); err != nil {
		return fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	m.logger.Info("設定を保存しました", slog.String("key", key))
	return nil
}

// SaveWithHistory は値を保存し、続けて履歴スナップショットを追加する。
// 設定の保存失敗はエラーとして返すが、履歴の追加失敗は警告文として返し、
// 保存自体は成功とみなす。
func (m *Manager) SaveWithHistory(ctx context.Context, key string, value json.RawMessage) (warning string, err error) {
	if err := m.Save(ctx, key, value); err != nil {
		return "", err
	}

	h := &model.SettingsHistory{Key: key, Value: value}
	if err := m.historyRepo.Insert(ctx, h); err != nil {
		m.logger.Warn("設定履歴の保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("History save failed: %v", err), nil
	}
	return "", nil
}

// GetHistory は指定キーの履歴を新しい順に返す。
func (m *Manager) GetHistory(ctx context.Context, key string) ([]model.SettingsHistory, error) {
	list, err := m.historyRepo.ListByKey(ctx, key, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("設定履歴の取得に失敗しました: %w", err)
	}
	return list, nil
}

// Rollback は履歴の値を現在の設定として再適用する。
// 履歴IDが存在しない場合はHistoryNotFoundエラー。ロールバック自体は履歴を作成しない。
func (m *Manager) Rollback(ctx context.Context, historyID string) (*model.SettingsHistory, error) {
	if _, err := uuid.Parse(historyID); err != nil {
		return nil, model.NewHistoryNotFoundError(historyID)
	}

	h, err := m.historyRepo.FindByID(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("設定履歴の取得に失敗しました: %w", err)
	}
	if h == nil {
		return nil, model.NewHistoryNotFoundError(historyID)
	}

	if err := m.Save(ctx, h.Key, h.Value); err != nil {
		return nil, err
	}
	m.logger.Info("設定をロールバックしました",
		slog.String("key", h.Key),
		slog.String("history_id", h.ID),
	)
	return h, nil
}

// PreviewWeightChange は候補の重みを適用した場合の上位記事の並びを予測する。
// 7d窓の保存済みスコア上位20件について、同一時刻で現在の設定と候補の重みで
// ヒートを計算し、その比で保存済みスコアを補正する（現在のヒートが0なら候補のヒートを使う）。
// 何も永続化しない。
func (m *Manager) PreviewWeightChange(ctx context.Context, candidate map[string]any) (*PreviewResult, error) {
	weights, err := WeightsFromAny(candidate, WeightTolerance)
	if err != nil {
		return nil, model.NewInvalidSettingError(KeyHeatWeights, err.Error())
	}

	if err := heat.ValidateWeights(candidate); err != nil {
		m.warnLooseWeights("candidate", err)
	}

	current, err := m.HeatConfig(ctx)
	if err != nil {
		return nil, err
	}
	proposed := current
	proposed.Weights = weights

	now := m.now().UTC()
	top, err := m.ranking.TopByScore(ctx, PreviewWindow, now.Add(-PreviewWindow.Duration()), PreviewLimit)
	if err != nil {
		return nil, fmt.Errorf("上位記事の取得に失敗しました: %w", err)
	}

	currentScorer := heat.NewScorer(current)
	proposedScorer := heat.NewScorer(proposed)

	before := make([]PreviewItem, len(top))
	after := make([]PreviewItem, len(top))
	for i, a := range top {
		before[i] = PreviewItem{
			ArticleID: a.ID,
			Title:     a.Title,
			ProxyHeat: a.ProxyHeat,
			Rank:      i + 1,
		}

		in := heat.NewInput(a.PublishedAt, a.AccountStar, a.Title, a.Buzz, now)
		curHeat := currentScorer.Compute(in)
		newHeat := proposedScorer.Compute(in)

		projected := newHeat
		if curHeat > 0 {
			projected = a.ProxyHeat * newHeat / curHeat
		}
		after[i] = PreviewItem{
			ArticleID:    a.ID,
			Title:        a.Title,
			ProxyHeat:    roundHeat(projected),
			PreviousRank: i + 1,
		}
	}

	sort.SliceStable(after, func(i, j int) bool {
		return after[i].ProxyHeat > after[j].ProxyHeat
	})
	for i := range after {
		after[i].Rank = i + 1
	}

	return &PreviewResult{
		Window:  PreviewWindow,
		Weights: weights,
		Before:  before,
		After:   after,
	}, nil
}

// HeatConfig は保存済み設定を既定値の上に重ねたヒート計算パラメータを返す。
// 不正な保存値は警告を記録して既定値を使う。
func (m *Manager) HeatConfig(ctx context.Context) (heat.Config, error) {
	stored, err := m.storedValues(ctx)
	if err != nil {
		return heat.Config{}, err
	}

	cfg := heat.DefaultConfig()
	if raw, ok := stored[KeyHeatWeights]; ok {
		if w, err := DecodeWeights(raw, WeightTolerance); err == nil {
			cfg.Weights = w
			if err := w.Validate(); err != nil {
				m.warnLooseWeights("stored", err)
			}
		} else {
			m.warnInvalid(KeyHeatWeights, err)
		}
	}
	if raw, ok := stored[KeyTitleRules]; ok {
		if r, err := heat.DecodeTitleRules(raw); err == nil {
			cfg.TitleRules = r
		} else {
			m.warnInvalid(KeyTitleRules, err)
		}
	}
	if raw, ok := stored[KeyTimeDecayHours]; ok {
		if h, err := DecodeHours(raw); err == nil {
			cfg.DecayHours = h
		} else {
			m.warnInvalid(KeyTimeDecayHours, err)
		}
	}
	if raw, ok := stored[KeyFreshnessHours]; ok {
		if h, err := DecodeHours(raw); err == nil {
			cfg.FreshnessHours = h
		} else {
			m.warnInvalid(KeyFreshnessHours, err)
		}
	}
	return cfg, nil
}

// CategoryRules は保存済みの分類ルールを返す。未保存または不正な場合は既定ルール。
func (m *Manager) CategoryRules(ctx context.Context) (classifier.Rules, error) {
	s, err := m.settingsRepo.Get(ctx, KeyCategoryRules)
	if err != nil {
		return nil, fmt.Errorf("分類ルールの取得に失敗しました: %w", err)
	}
	if s == nil {
		return classifier.DefaultRules(), nil
	}

	var rules classifier.Rules
	if err := json.Unmarshal(s.Value, &rules); err != nil {
		m.warnInvalid(KeyCategoryRules, err)
		return classifier.DefaultRules(), nil
	}
	if err := rules.Validate(); err != nil {
		m.warnInvalid(KeyCategoryRules, err)
		return classifier.DefaultRules(), nil
	}
	return rules, nil
}

// RateLimits は保存済みのレート制限を既定値の上にフィールド単位で重ねて返す。
// pacing.LimitsSourceを満たす。
func (m *Manager) RateLimits(ctx context.Context) (pacing.Limits, error) {
	s, err := m.settingsRepo.Get(ctx, KeyRateLimits)
	if err != nil {
		return pacing.Limits{}, fmt.Errorf("レート制限設定の取得に失敗しました: %w", err)
	}
	if s == nil {
		return pacing.DefaultLimits(), nil
	}

	limits, err := pacing.MergeLimits(s.Value)
	if err != nil {
		m.warnInvalid(KeyRateLimits, err)
		return pacing.DefaultLimits(), nil
	}
	return limits, nil
}

func (m *Manager) storedValues(ctx context.Context) (map[string]json.RawMessage, error) {
	list, err := m.settingsRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("設定一覧の取得に失敗しました: %w", err)
	}
	out := make(map[string]json.RawMessage, len(list))
	for _, s := range list {
		out[s.Key] = s.Value
	}
	return out, nil
}

func (m *Manager) warnInvalid(key string, err error) {
	m.logger.Warn("保存済みの設定値が不正なため既定値を使用します",
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// warnLooseWeights は保存境界の許容誤差（0.01）は満たすが、
// スコアリングの厳密な許容誤差（0.001）を超える重みを警告する。重みはそのまま使う。
func (m *Manager) warnLooseWeights(source string, err error) {
	m.logger.Warn("ヒート重みが厳密な許容誤差を超えています",
		slog.String("key", KeyHeatWeights),
		slog.String("source", source),
		slog.String("error", err.Error()),
	)
}

func roundHeat(v float64) float64 {
	v = math.Round(v*10) / 10
	return math.Max(0, math.Min(100, v))
}

var _ pacing.LimitsSource = (*Manager)(nil)
