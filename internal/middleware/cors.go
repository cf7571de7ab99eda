package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PATCH, OPTIONS"
	corsAllowHeaders = "Content-Type, X-Request-Id"
	// エクスポートのファイル名と相関IDをブラウザから読めるようにする
	corsExposeHeaders = "Content-Disposition, X-Request-Id"
)

// NewCORSMiddleware はCORSミドルウェアを返す。
// allowedOriginはカンマ区切りで複数指定できる。1件のみの場合は常にそのオリジンを返し、
// 複数の場合はリクエストのOriginが一覧に含まれるときだけそれを返す。
// OPTIONSプリフライトには204で応答し、後続のハンドラーは呼ばない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	origins := splitOrigins(allowedOrigin)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if origin := matchOrigin(origins, r.Header.Get("Origin")); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func matchOrigin(allowed []string, origin string) string {
	if len(allowed) == 1 {
		return allowed[0]
	}
	for _, a := range allowed {
		if a == origin {
			return origin
		}
	}
	return ""
}
