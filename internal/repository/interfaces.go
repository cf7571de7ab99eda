// Package repository はデータ永続化のインターフェースとPostgreSQL/Redis実装を提供する。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hitoshi/mpheat/internal/model"
)

// ErrDuplicate は一意制約違反を表す。呼び出し側はerrors.Isで判定する。
var ErrDuplicate = errors.New("repository: duplicate key")

// AccountRepository は公式アカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByBizID はbiz_idでアカウントを検索する。見つからない場合はnilを返す。
	FindByBizID(ctx context.Context, bizID string) (*model.Account, error)

	// ExistingBizIDs は指定biz_idのうち登録済みのものを返す。
	ExistingBizIDs(ctx context.Context, bizIDs []string) (map[string]bool, error)

	// Create はアカウントを作成する。biz_idが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, account *model.Account) error

	// List は全アカウントを作成日時の降順で返す。
	List(ctx context.Context) ([]*model.Account, error)

	// ListActive はアクティブなアカウントを作成日時の昇順で返す。
	ListActive(ctx context.Context) ([]*model.Account, error)

	// Update はスター評価・有効フラグ・表示名・フィードURLを更新する。
	Update(ctx context.Context, account *model.Account) error

	// RecordFetch はフェッチ後の記録を更新する。
	// last_fetched_atとarticle_countを更新し、表示名がプレースホルダの場合のみnameで置き換える。
	RecordFetch(ctx context.Context, id, name string, fetchedAt time.Time) error
}

// ArticleRepository は記事とスコアの永続化インターフェース。
type ArticleRepository interface {
	// Upsert はURLをキーに記事を作成または更新し、a.IDを設定する。
	// 新規作成の場合はtrueを返す。
	Upsert(ctx context.Context, a *model.Article) (bool, error)

	// UpsertScores は記事×時間窓のスコアを作成または更新する。
	UpsertScores(ctx context.Context, scores []model.Score) error

	// List は検索条件に一致する記事を時間窓のスコア付きで返す。
	List(ctx context.Context, q model.ArticleQuery) (*model.ArticlePage, error)

	// Export はエクスポート用に検索条件に一致する記事を返す。件数はq.Limitで制限する。
	Export(ctx context.Context, q model.ArticleQuery) ([]model.ScoredArticle, error)

	// TopByScore は時間窓の保存済みスコアの上位記事を返す。
	TopByScore(ctx context.Context, window model.TimeWindow, since time.Time, limit int) ([]model.ScoredArticle, error)

	// ListScoringInputs はヒート再計算の入力を返す。articleIDsが空の場合は全記事が対象。
	ListScoringInputs(ctx context.Context, articleIDs []string) ([]model.ScoringInput, error)

	// UpdateTags は記事のカテゴリタグを上書きする。
	UpdateTags(ctx context.Context, id string, tags []string) error

	// ListNeedingBuzzFetch は拡散シグナルが未取得またはttl経過の記事を返す。
	ListNeedingBuzzFetch(ctx context.Context, ttl time.Duration, limit int) ([]*model.Article, error)

	// UpdateBuzz は記事の拡散シグナルと取得日時を更新する。
	UpdateBuzz(ctx context.Context, id string, buzz float64, fetchedAt time.Time) error
}

// SettingsRepository は設定の永続化インターフェース。
type SettingsRepository interface {
	// Get は指定キーの設定を取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, key string) (*model.Setting, error)

	// List は保存済みの全設定をキー順で返す。
	List(ctx context.Context) ([]model.Setting, error)

	// Upsert は設定を作成または更新する。
	Upsert(ctx context.Context, key string, value json.RawMessage) error
}

// SettingsHistoryRepository は設定履歴の永続化インターフェース。追記専用。
type SettingsHistoryRepository interface {
	// Insert は履歴を追加し、h.IDとh.CreatedAtを設定する。
	Insert(ctx context.Context, h *model.SettingsHistory) error

	// ListByKey は指定キーの履歴を新しい順に最大limit件返す。
	ListByKey(ctx context.Context, key string, limit int) ([]model.SettingsHistory, error)

	// FindByID は指定IDの履歴を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SettingsHistory, error)
}

// FetchLogRepository はフェッチログの永続化インターフェース。追記専用。
type FetchLogRepository interface {
	// Insert はフェッチログを追加し、log.IDを設定する。
	Insert(ctx context.Context, log *model.FetchLog) error

	// CountStartedBetween は[from, to)に開始されたフェッチログの件数を返す。
	CountStartedBetween(ctx context.Context, from, to time.Time) (int, error)

	// DeleteStartedBefore はcutoffより前に開始されたフェッチログを削除し、削除件数を返す。
	DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CrawlerStateRepository はクローラー状態の永続化インターフェース。
type CrawlerStateRepository interface {
	// Load は保存済みの状態を返す。未保存の場合は初期状態を返す。
	Load(ctx context.Context) (model.CrawlerState, error)

	// Save は状態を保存する。
	Save(ctx context.Context, state model.CrawlerState) error
}

// RunLocker はクロール実行の排他制御インターフェース。
type RunLocker interface {
	// TryLock はロックの取得を試みる。取得できなかった場合はok=falseを返す。
	// 取得できた場合は返されたunlockで解放する。
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}
