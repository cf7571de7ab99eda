// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, account, article, settings, crawl, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeInvalidStar      = "INVALID_STAR"
	ErrCodeDuplicateAccount = "DUPLICATE_ACCOUNT"
	ErrCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	ErrCodeAccountInactive  = "ACCOUNT_INACTIVE"
	ErrCodeInvalidCSV       = "INVALID_CSV"
	ErrCodeInvalidQuery     = "INVALID_QUERY"
	ErrCodeInvalidSetting   = "INVALID_SETTING"
	ErrCodeSettingNotFound  = "SETTING_NOT_FOUND"
	ErrCodeHistoryNotFound  = "HISTORY_NOT_FOUND"
	ErrCodeReadOnlyMode     = "READ_ONLY_MODE"
	ErrCodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	ErrCodeBizNotResolved   = "BIZ_NOT_RESOLVED"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエストボディ不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request body and try again.",
	}
}

// NewInvalidWeChatURLError は公式アカウント記事URLとして不正な場合のエラーを生成する。
func NewInvalidWeChatURLError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  "Invalid WeChat article URL",
		Category: "validation",
		Action:   "Use an article URL on mp.weixin.qq.com that carries the __biz parameter.",
	}
}

// NewInvalidStarError はスター評価が範囲外の場合のエラーを生成する。
func NewInvalidStarError(star int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStar,
		Message:  fmt.Sprintf("Star rating must be between 1 and 5, got %d", star),
		Category: "validation",
		Action:   "Choose a star rating from 1 to 5.",
	}
}

// NewDuplicateAccountError は同一biz_idのアカウントが既に存在する場合のエラーを生成する。
func NewDuplicateAccountError(bizID string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  fmt.Sprintf("Account already exists: %s", bizID),
		Category: "account",
		Action:   "The account is already tracked. Edit it from the account list instead.",
	}
}

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("Account not found: %s", accountID),
		Category: "account",
		Action:   "Check the account id.",
	}
}

// NewAccountInactiveError は非アクティブなアカウントへの操作エラーを生成する。
func NewAccountInactiveError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountInactive,
		Message:  fmt.Sprintf("Account is not active: %s", accountID),
		Category: "account",
		Action:   "Activate the account before refreshing it.",
	}
}

// NewInvalidCSVError はCSVファイル全体が不正な場合のエラーを生成する。
func NewInvalidCSVError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCSV,
		Message:  reason,
		Category: "validation",
		Action:   "Upload a .csv file whose header is name,seed_url,star.",
	}
}

// NewInvalidQueryError はクエリパラメータ不正エラーを生成する。
func NewInvalidQueryError(param, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("Invalid %s: %s", param, reason),
		Category: "validation",
		Action:   "Fix the query parameter and try again.",
	}
}

// NewInvalidSettingError は設定値の検証エラーを生成する。
func NewInvalidSettingError(key, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSetting,
		Message:  fmt.Sprintf("Invalid value for %s: %s", key, reason),
		Category: "settings",
		Action:   "Fix the setting value and save again.",
	}
}

// NewSettingNotFoundError は設定キー未検出エラーを生成する。
func NewSettingNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeSettingNotFound,
		Message:  fmt.Sprintf("Setting not found: %s", key),
		Category: "settings",
		Action:   "The default value is in effect. Save the key to override it.",
	}
}

// NewHistoryNotFoundError は設定履歴未検出エラーを生成する。
func NewHistoryNotFoundError(historyID string) *APIError {
	return &APIError{
		Code:     ErrCodeHistoryNotFound,
		Message:  fmt.Sprintf("Settings history not found: %s", historyID),
		Category: "settings",
		Action:   "Reload the history list and pick an existing entry.",
	}
}

// NewReadOnlyModeError は読み取り専用モード中の書き込みエラーを生成する。
func NewReadOnlyModeError() *APIError {
	return &APIError{
		Code:     ErrCodeReadOnlyMode,
		Message:  "Service is in read-only mode",
		Category: "system",
		Action:   "Writes are disabled during maintenance. Try again later.",
	}
}

// NewRateLimitedError はクライアント単位のレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewBizNotResolvedError は短縮URLなどからbiz_idを解決できなかった場合のエラーを生成する。
func NewBizNotResolvedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeBizNotResolved,
		Message:  fmt.Sprintf("Cannot extract biz_id from %s", url),
		Category: "account",
		Action:   "Open the article in WeChat, copy the full link and try again.",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("Fetch failed: %s", reason),
		Category: "crawl",
		Action:   "Wait a while and retry. The crawler may be throttled.",
	}
}

// NewInternalError は内部エラーの統一レスポンスを生成する。
// 詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "Wait a while and try again.",
	}
}
