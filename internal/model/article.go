package model

import (
	"fmt"
	"time"
)

// DefaultBuzz は外部拡散シグナル未取得時の既定値。
const DefaultBuzz = 0.5

// Article は公式アカウントの記事を表す。
// URLが再フェッチ時の重複排除キーとなる。
type Article struct {
	ID            string
	AccountID     string
	Title         string
	Cover         string
	PublishedAt   time.Time
	URL           string
	Summary       string
	Tags          []string
	Buzz          float64
	BuzzFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TimeWindow はヒートを評価する時間窓を表す。
type TimeWindow string

const (
	Window24h TimeWindow = "24h"
	Window3d  TimeWindow = "3d"
	Window7d  TimeWindow = "7d"
	Window30d TimeWindow = "30d"
)

// AllTimeWindows はすべての時間窓を短い順に返す。
func AllTimeWindows() []TimeWindow {
	return []TimeWindow{Window24h, Window3d, Window7d, Window30d}
}

// Duration は時間窓の長さを返す。
func (w TimeWindow) Duration() time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window3d:
		return 3 * 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseTimeWindow は文字列を時間窓に変換する。未知の値はエラー。
func ParseTimeWindow(s string) (TimeWindow, error) {
	switch w := TimeWindow(s); w {
	case Window24h, Window3d, Window7d, Window30d:
		return w, nil
	default:
		return "", fmt.Errorf("unknown time window %q (want 24h, 3d, 7d or 30d)", s)
	}
}

// Score は記事の時間窓ごとのプロキシヒートを表す。
type Score struct {
	ArticleID      string
	Window         TimeWindow
	ProxyHeat      float64
	RecalculatedAt time.Time
}

// ArticleSort は記事一覧の並び順を表す。
type ArticleSort string

const (
	// SortHeatDesc はヒート降順（同点は公開日時降順）。
	SortHeatDesc ArticleSort = "heat_desc"
	// SortPubDesc は公開日時降順。
	SortPubDesc ArticleSort = "pub_desc"
)

// ArticleQuery は記事一覧・エクスポートの検索条件を表す。
type ArticleQuery struct {
	Window        TimeWindow
	Since         time.Time // pub_timeの下限（評価時刻 - 時間窓）
	Tags          []string  // すべて含む記事のみ
	Sort          ArticleSort
	Search        string
	MinHeat       *float64
	AccountBizIDs []string
	Limit         int
	Offset        int
}

// ScoredArticle は記事にアカウント情報と時間窓のスコアを結合したモデル。
type ScoredArticle struct {
	Article
	AccountName  string
	AccountStar  int
	AccountBizID string
	ProxyHeat    float64
}

// ArticlePage は記事一覧の1ページ分の結果を表す。
type ArticlePage struct {
	Items []ScoredArticle
	Total int
}

// HasMore は後続ページが存在するかを返す。
func (p *ArticlePage) HasMore(offset, limit int) bool {
	return offset+limit < p.Total
}

// ScoringInput はヒート再計算に必要な記事属性を表す。
type ScoringInput struct {
	ArticleID   string
	Title       string
	Summary     string
	PublishedAt time.Time
	Buzz        float64
	Star        int
}
