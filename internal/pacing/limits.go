// Package pacing はクローラーの送出間隔を制御する2モード（normal/slow）の
// 状態機械と日次クォータ判定を提供する。
//
// 状態遷移と遅延計算は model.CrawlerState を受け取り新しい値を返す純粋関数で、
// Pacer がそれらに設定の読み込み・状態の永続化・クォータ計数を組み合わせる。
package pacing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Limits はペーシングの調整パラメータ。rate_limits 設定キーのJSON形式と対応する。
type Limits struct {
	Daily           int `json:"daily"`
	IntervalMs      int `json:"interval_ms"`
	JitterMs        int `json:"jitter_ms"`
	SlowMinMs       int `json:"slow_min_ms"`
	SlowMaxMs       int `json:"slow_max_ms"`
	SlowHoldMinutes int `json:"slow_hold_minutes"`
	SuccessRestore  int `json:"success_restore"`
	No429Minutes    int `json:"no_429_minutes"`
}

// DefaultLimits は既定のパラメータを返す。
func DefaultLimits() Limits {
	return Limits{
		Daily:           3000,
		IntervalMs:      2500,
		JitterMs:        800,
		SlowMinMs:       10000,
		SlowMaxMs:       20000,
		SlowHoldMinutes: 60,
		SuccessRestore:  10,
		No429Minutes:    30,
	}
}

// MergeLimits は保存済みのJSONを既定値の上に重ねて読み込む。
// JSONにあるフィールドが優先され、ないフィールドは既定値で埋まる。
func MergeLimits(raw []byte) (Limits, error) {
	limits := DefaultLimits()
	if len(raw) == 0 {
		return limits, nil
	}
	if err := json.Unmarshal(raw, &limits); err != nil {
		return DefaultLimits(), fmt.Errorf("rate_limitsの解析に失敗しました: %w", err)
	}
	return limits, nil
}

// Validate はパラメータの範囲を検証する。
func (l Limits) Validate() error {
	switch {
	case l.Daily < 0:
		return fmt.Errorf("daily must be >= 0, got %d", l.Daily)
	case l.IntervalMs < 0:
		return fmt.Errorf("interval_ms must be >= 0, got %d", l.IntervalMs)
	case l.JitterMs < 0:
		return fmt.Errorf("jitter_ms must be >= 0, got %d", l.JitterMs)
	case l.SlowMinMs < 0:
		return fmt.Errorf("slow_min_ms must be >= 0, got %d", l.SlowMinMs)
	case l.SlowMaxMs < l.SlowMinMs:
		return fmt.Errorf("slow_max_ms (%d) must be >= slow_min_ms (%d)", l.SlowMaxMs, l.SlowMinMs)
	case l.SlowHoldMinutes < 0:
		return fmt.Errorf("slow_hold_minutes must be >= 0, got %d", l.SlowHoldMinutes)
	case l.SuccessRestore < 1:
		return fmt.Errorf("success_restore must be >= 1, got %d", l.SuccessRestore)
	case l.No429Minutes < 0:
		return fmt.Errorf("no_429_minutes must be >= 0, got %d", l.No429Minutes)
	}
	return nil
}

// Interval は通常モードの基準間隔を返す。
func (l Limits) Interval() time.Duration {
	return time.Duration(l.IntervalMs) * time.Millisecond
}
