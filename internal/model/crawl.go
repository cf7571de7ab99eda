package model

import "time"

// FetchLog はアカウント単位のクロール試行の監査ログを表す。
// 日次クォータの計数にも使用する。
type FetchLog struct {
	ID         string
	AccountID  string
	StartedAt  time.Time
	FinishedAt time.Time
	OK         bool
	HTTPStatus int // 0はステータス未取得（通信エラー）
	Retries    int
	Message    string
	DurationMs int64
}

// CrawlerMode はクロールペーシングのモードを表す。
type CrawlerMode string

const (
	// CrawlerModeNormal は通常間隔でクロールするモード。
	CrawlerModeNormal CrawlerMode = "normal"
	// CrawlerModeSlow は429/403検知後に間隔を広げたモード。
	CrawlerModeSlow CrawlerMode = "slow"
)

// CrawlerState はレートリミッターが制御する状態を表す。
type CrawlerState struct {
	Mode          CrawlerMode
	SuccessStreak int
	SlowSince     *time.Time
}

// NewCrawlerState は初期状態（normal、連続成功0、slow開始時刻なし）を返す。
func NewCrawlerState() CrawlerState {
	return CrawlerState{Mode: CrawlerModeNormal}
}

// IsSlow はslowモードかを返す。
func (s CrawlerState) IsSlow() bool {
	return s.Mode == CrawlerModeSlow
}
