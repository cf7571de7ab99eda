package crawl

import "github.com/hitoshi/mpheat/internal/pacing"

// Outcome はHTTPステータスコードに基づくフェッチ結果の分類。
type Outcome int

const (
	// OutcomeNone はステータス未取得（通信エラー）。
	OutcomeNone Outcome = iota
	// OutcomeOK は取得成功（2xx）。
	OutcomeOK
	// OutcomeFailed はスロットリング以外の失敗（3xx/4xx/5xx）。
	OutcomeFailed
	// OutcomeThrottled はアンチボット応答（429/403）。アカウントの処理を打ち切る。
	OutcomeThrottled
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) Outcome {
	switch {
	case statusCode == 0:
		return OutcomeNone
	case pacing.IsThrottleStatus(statusCode):
		return OutcomeThrottled
	case statusCode >= 200 && statusCode < 300:
		return OutcomeOK
	default:
		return OutcomeFailed
	}
}

// WorseStatus は2つのステータスのうち、より悪い結果を表す方を返す。
// 同じ分類の場合は先に観測されたaを残す。
func WorseStatus(a, b int) int {
	if ClassifyHTTPStatus(b) > ClassifyHTTPStatus(a) {
		return b
	}
	return a
}

// FailureReason はメトリクス・フェッチログ用の失敗理由ラベルを返す。
func FailureReason(statusCode int) string {
	switch ClassifyHTTPStatus(statusCode) {
	case OutcomeNone:
		return "transport"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeFailed:
		return "http_status"
	default:
		return ""
	}
}
