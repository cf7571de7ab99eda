package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/mpheat/internal/middleware"
	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/worker/crawl"
)

type stubHealthChecker struct {
	err error
}

func (s *stubHealthChecker) PingContext(ctx context.Context) error {
	return s.err
}

type routerFixture struct {
	accounts  *mockAccountService
	articles  *mockArticleService
	settings  *mockSettingsService
	refresher *mockRefresher
	health    *stubHealthChecker
	limiter   *middleware.RateLimiter
	readOnly  bool
	metrics   http.Handler
	logBuf    bytes.Buffer
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		accounts: &mockAccountService{},
		articles: &mockArticleService{now: testNow},
		settings: &mockSettingsService{},
		refresher: &mockRefresher{fn: func(ctx context.Context, id string) (*crawl.RefreshResult, error) {
			return &crawl.RefreshResult{Success: true, AccountID: id}, nil
		}},
		health: &stubHealthChecker{},
	}
	f.limiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), newTestLogger(&f.logBuf))
	t.Cleanup(f.limiter.Stop)
	return f
}

func (f *routerFixture) router() http.Handler {
	return NewRouter(&RouterDeps{
		Logger:            newTestLogger(&f.logBuf),
		HealthChecker:     f.health,
		MetricsHandler:    f.metrics,
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       f.limiter,
		ReadOnly:          f.readOnly,
		AccountService:    f.accounts,
		ArticleService:    f.articles,
		SettingsService:   f.settings,
		Refresher:         f.refresher,
	})
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	f := newRouterFixture(t)
	r := f.router()

	tests := []struct {
		method string
		target string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/accounts", "", http.StatusOK},
		{http.MethodPost, "/accounts/resolve", `{"url":"x"}`, http.StatusOK},
		{http.MethodPatch, "/accounts/acc-1", `{"star":3}`, http.StatusOK},
		{http.MethodGet, "/articles", "", http.StatusOK},
		{http.MethodGet, "/export.csv", "", http.StatusOK},
		{http.MethodPost, "/recompute", "", http.StatusOK},
		{http.MethodPost, "/relabel", "", http.StatusOK},
		{http.MethodPost, "/refresh/acc-1", "", http.StatusOK},
		{http.MethodGet, "/settings", "", http.StatusOK},
		{http.MethodGet, "/settings/defaults", "", http.StatusOK},
		{http.MethodGet, "/settings/heat_weights", "", http.StatusNotFound},
		{http.MethodGet, "/settings/heat_weights/history", "", http.StatusOK},
		{http.MethodPost, "/settings", `{"key":"k","value":1}`, http.StatusOK},
		{http.MethodPost, "/settings/save-with-history", `{"key":"k","value":1}`, http.StatusOK},
		{http.MethodPost, "/settings/preview", `{"weights":{}}`, http.StatusOK},
		{http.MethodPost, "/settings/rollback", `{"historyId":"x"}`, http.StatusNotFound},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
		{http.MethodDelete, "/accounts", "", http.StatusMethodNotAllowed},
	}

	f.accounts.updateFn = func(ctx context.Context, id string, patch model.AccountPatch) (*model.Account, error) {
		if id != "acc-1" {
			t.Errorf("id = %q, want acc-1", id)
		}
		return newTestAccount(), nil
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := serve(r, tt.method, tt.target, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body=%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_HealthUnavailable(t *testing.T) {
	f := newRouterFixture(t)
	f.health.err = errors.New("connection refused")

	w := serve(f.router(), http.MethodGet, "/health", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_SecurityHeadersAndRequestID(t *testing.T) {
	f := newRouterFixture(t)

	w := serve(f.router(), http.MethodGet, "/accounts", "")

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if !strings.Contains(f.logBuf.String(), `"request_id"`) {
		t.Errorf("access log should contain request_id, got %s", f.logBuf.String())
	}
}

func TestRouter_ReadOnlyBlocksWrites(t *testing.T) {
	f := newRouterFixture(t)
	f.readOnly = true
	r := f.router()

	w := serve(r, http.MethodPost, "/accounts", `{"seed_url":"x","star":3}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("POST status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(w.Body.String(), model.ErrCodeReadOnlyMode) {
		t.Errorf("body = %s, want READ_ONLY_MODE", w.Body.String())
	}

	if w := serve(r, http.MethodGet, "/articles", ""); w.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := serve(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_HeavyRateLimit(t *testing.T) {
	f := newRouterFixture(t)
	f.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		HeavyRate:       0.001,
		HeavyBurst:      1,
		CleanupInterval: time.Minute,
	}, newTestLogger(&f.logBuf))
	t.Cleanup(f.limiter.Stop)
	r := f.router()

	if w := serve(r, http.MethodPost, "/relabel", ""); w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want %d", w.Code, http.StatusOK)
	}
	w := serve(r, http.MethodPost, "/relabel", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w := serve(r, http.MethodGet, "/articles", ""); w.Code != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_Metrics(t *testing.T) {
	f := newRouterFixture(t)
	f.metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mpheat_up 1\n"))
	})

	w := serve(f.router(), http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "mpheat_up") {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}
