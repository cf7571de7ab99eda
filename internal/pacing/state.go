package pacing

import (
	"net/http"
	"time"

	"github.com/hitoshi/mpheat/internal/model"
)

// Rand は遅延計算に使う乱数源。math/rand/v2 の *rand.Rand が満たす。
type Rand interface {
	Int64N(n int64) int64
}

// IsThrottleStatus は応答がアンチボットによる制限（429/403）かを返す。
func IsThrottleStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusForbidden
}

// NextDelay は次のリクエストまでの待機時間を返す。
// normalでは interval_ms ± jitter_ms、slowでは [slow_min_ms, slow_max_ms] の一様乱数。
// 負にはならない。
func NextDelay(state model.CrawlerState, limits Limits, rng Rand) time.Duration {
	var ms int64
	if state.IsSlow() {
		ms = randomBetween(rng, int64(limits.SlowMinMs), int64(limits.SlowMaxMs))
	} else {
		jitter := int64(limits.JitterMs)
		ms = int64(limits.IntervalMs) + randomBetween(rng, -jitter, jitter)
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Transition はHTTPステータスを受けた後の状態を返す。入力の state は変更しない。
//
// 429/403 ではslowに入り（または留まり）、連続成功数を0に戻す。
// slow開始時刻は未設定の場合のみ記録する。
// それ以外の応答は成功とみなし、slow中なら連続成功数を加算したうえで、
// 連続成功数が success_restore 以上、またはslow開始から no_429_minutes か
// slow_hold_minutes 以上経過していればnormalに戻す。
// slow開始時刻が失われている場合は経過時間を無限大として扱い、即座に回復する。
func Transition(state model.CrawlerState, status int, limits Limits, now time.Time) model.CrawlerState {
	next := state
	if next.Mode == "" {
		next.Mode = model.CrawlerModeNormal
	}

	if IsThrottleStatus(status) {
		next.Mode = model.CrawlerModeSlow
		next.SuccessStreak = 0
		if next.SlowSince == nil {
			t := now.UTC()
			next.SlowSince = &t
		}
		return next
	}

	if !next.IsSlow() {
		return next
	}

	next.SuccessStreak++
	if next.SuccessStreak >= limits.SuccessRestore || slowElapsedAtLeast(next.SlowSince, now, limits.No429Minutes) ||
		slowElapsedAtLeast(next.SlowSince, now, limits.SlowHoldMinutes) {
		return model.NewCrawlerState()
	}
	return next
}

func slowElapsedAtLeast(since *time.Time, now time.Time, minutes int) bool {
	if since == nil {
		return true
	}
	return now.Sub(*since) >= time.Duration(minutes)*time.Minute
}

// randomBetween は [lo, hi] の一様な整数を返す。hi < lo の場合は入れ替える。
func randomBetween(rng Rand, lo, hi int64) int64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + rng.Int64N(hi-lo+1)
}
