package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mpheat/internal/worker/crawl"
)

// Refresher は単一アカウントの手動クロールを行う。crawl.Schedulerが満たす。
type Refresher interface {
	RefreshAccount(ctx context.Context, accountID string) (*crawl.RefreshResult, error)
}

// RefreshHandler は手動リフレッシュのHTTPハンドラー。
type RefreshHandler struct {
	refresher Refresher
	logger    *slog.Logger
}

// NewRefreshHandler はRefreshHandlerを生成する。
func NewRefreshHandler(refresher Refresher, logger *slog.Logger) *RefreshHandler {
	return &RefreshHandler{refresher: refresher, logger: logger}
}

// RefreshAccount は指定アカウントを1件だけクロールする。
// クォータ到達や実行中の場合は200で {success:false, reason} を返す。
// POST /refresh/{accountId}
func (h *RefreshHandler) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	result, err := h.refresher.RefreshAccount(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
