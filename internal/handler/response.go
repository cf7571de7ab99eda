package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mpheat/internal/middleware"
	"github.com/hitoshi/mpheat/internal/model"
)

// maxJSONBodySize はJSONリクエストボディの上限。
const maxJSONBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSONBody はリクエストボディをvにデコードする。
// allowEmptyがtrueの場合、空のボディはエラーにしない。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) *model.APIError {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewInvalidRequestError("Invalid JSON body")
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外のエラーはログに記録し、詳細を隠した500を返す。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidURL, model.ErrCodeInvalidStar,
		model.ErrCodeInvalidCSV, model.ErrCodeInvalidQuery, model.ErrCodeInvalidSetting:
		return http.StatusBadRequest
	case model.ErrCodeAccountNotFound, model.ErrCodeSettingNotFound, model.ErrCodeHistoryNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateAccount, model.ErrCodeAccountInactive:
		return http.StatusConflict
	case model.ErrCodeBizNotResolved:
		return http.StatusUnprocessableEntity
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeReadOnlyMode:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
