package middleware

import (
	"net/http"

	"github.com/hitoshi/mpheat/internal/model"
)

// NewReadOnlyMiddleware は読み取り専用モードの場合に書き込み系メソッドを503で拒否するミドルウェアを返す。
// GET・HEAD・OPTIONSは常に通す。
func NewReadOnlyMiddleware(readOnly bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !readOnly {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewReadOnlyModeError())
			}
		})
	}
}
