// Package model はドメインモデルを定義する。
package model

import "time"

// PlaceholderAccountName は初回クロール前のアカウント表示名。
const PlaceholderAccountName = "待解析"

// Account は追跡対象の公式アカウントを表す。
// biz_idはプラットフォーム上の不変IDで、全体で一意。
type Account struct {
	ID            string
	BizID         string
	Name          string
	SeedURL       string
	FeedURL       string // 任意: 記事発見用のRSSフィードURL
	Star          int    // 1〜5
	IsActive      bool
	LastFetchedAt *time.Time
	ArticleCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPlaceholderName は表示名が未解決のままかを返す。
func (a *Account) HasPlaceholderName() bool {
	return a.Name == "" || a.Name == PlaceholderAccountName
}

// AccountPatch はアカウントの部分更新内容を表す。
// nilのフィールドは変更しない。
type AccountPatch struct {
	Star     *int
	IsActive *bool
	Name     *string
	FeedURL  *string
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (p AccountPatch) IsEmpty() bool {
	return p.Star == nil && p.IsActive == nil && p.Name == nil && p.FeedURL == nil
}
