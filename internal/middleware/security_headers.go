package middleware

import "net/http"

// NewSecurityHeadersMiddleware はセキュリティ関連のレスポンスヘッダーを付与する。
// APIはJSONとCSVしか返さないため、CSPは全リソースを拒否する。
// Cache-Controlは既定でno-storeとし、ハンドラー側で上書きできる。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
