package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/mpheat/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	ReadOnly          bool

	AccountService  AccountServiceInterface
	ArticleService  ArticleServiceInterface
	SettingsService SettingsServiceInterface
	Refresher       Refresher
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS → RateLimit(General) → ReadOnly
//
// インポート・リフレッシュ・再計算・再分類は重い操作用のレート制限を追加で適用する。
// /health と /metrics はレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	accountHandler := NewAccountHandler(deps.AccountService, logger)
	articleHandler := NewArticleHandler(deps.ArticleService, logger)
	settingsHandler := NewSettingsHandler(deps.SettingsService, logger)
	refreshHandler := NewRefreshHandler(deps.Refresher, logger)

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewReadOnlyMiddleware(deps.ReadOnly))
		heavy := deps.RateLimiter.HeavyMiddleware()

		// アカウント管理
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.ListAccounts)
			r.Post("/", accountHandler.CreateAccount)
			r.Post("/resolve", accountHandler.ResolveBizID)
			r.Patch("/{id}", accountHandler.UpdateAccount)
		})
		r.With(heavy).Post("/import", accountHandler.ImportAccounts)
		r.With(heavy).Post("/refresh/{accountId}", refreshHandler.RefreshAccount)

		// 記事
		r.Get("/articles", articleHandler.ListArticles)
		r.Get("/export.csv", articleHandler.ExportCSV)
		r.With(heavy).Post("/recompute", articleHandler.Recompute)
		r.With(heavy).Post("/relabel", articleHandler.Relabel)

		// 設定
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.ListSettings)
			r.Post("/", settingsHandler.SaveSetting)
			r.Get("/defaults", settingsHandler.GetDefaults)
			r.Post("/save-with-history", settingsHandler.SaveWithHistory)
			r.Post("/preview", settingsHandler.Preview)
			r.Post("/rollback", settingsHandler.Rollback)
			r.Get("/{key}", settingsHandler.GetSetting)
			r.Get("/{key}/history", settingsHandler.GetHistory)
		})
	})

	return r
}
