package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/mpheat/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// ダッシュボードは原因カテゴリと対処方法をそのまま表示する。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteRetryableErrorResponse はRetry-Afterヘッダー付きでエラーレスポンスを書き込む。
// retryAfterは秒単位に切り上げ、最小1秒とする。
func WriteRetryableErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError, retryAfter time.Duration) {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(max(1, secs)))
	WriteErrorResponse(w, statusCode, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
