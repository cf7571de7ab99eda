package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mpheat/internal/article"
	"github.com/hitoshi/mpheat/internal/model"
)

// ArticleServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type ArticleServiceInterface interface {
	Now() time.Time
	List(ctx context.Context, q model.ArticleQuery) (*model.ArticlePage, error)
	Export(ctx context.Context, q model.ArticleQuery) ([]model.ScoredArticle, error)
	Recompute(ctx context.Context, articleIDs []string, windows []model.TimeWindow) (int, error)
	Relabel(ctx context.Context, articleIDs []string) (int, error)
}

// ArticleHandler は記事一覧・エクスポート・再計算のHTTPハンドラー。
type ArticleHandler struct {
	service ArticleServiceInterface
	logger  *slog.Logger
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(service ArticleServiceInterface, logger *slog.Logger) *ArticleHandler {
	return &ArticleHandler{service: service, logger: logger}
}

type articleAccount struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	BizID string `json:"biz_id"`
	Star  int    `json:"star"`
}

type articleResponse struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Cover     *string        `json:"cover"`
	PubTime   time.Time      `json:"pub_time"`
	URL       string         `json:"url"`
	Summary   string         `json:"summary"`
	Tags      []string       `json:"tags"`
	Account   articleAccount `json:"account"`
	ProxyHeat float64        `json:"proxy_heat"`
}

type articleListResponse struct {
	Items   []articleResponse `json:"items"`
	Total   int               `json:"total"`
	HasMore bool              `json:"hasMore"`
}

type recomputeRequest struct {
	ArticleIDs []string `json:"article_ids"`
	Windows    []string `json:"windows"`
}

type relabelRequest struct {
	ArticleIDs []string `json:"article_ids"`
}

// ListArticles は時間窓のヒート付きで記事一覧を返す。
// GET /articles?window=&tags=&sort=&search=&limit=&offset=
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	q, err := article.ListParamsFromValues(r.URL.Query(), h.service.Now())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	page, err := h.service.List(r.Context(), q)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	items := make([]articleResponse, len(page.Items))
	for i := range page.Items {
		items[i] = toArticleResponse(&page.Items[i])
	}
	writeJSON(w, http.StatusOK, articleListResponse{
		Items:   items,
		Total:   page.Total,
		HasMore: page.HasMore(q.Offset, q.Limit),
	})
}

// ExportCSV は検索条件に一致する記事をCSVで返す。
// GET /export.csv?window=&tags=&search=&min_heat=&accounts=
func (h *ArticleHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	now := h.service.Now()
	q, err := article.ExportParamsFromValues(r.URL.Query(), now)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	items, err := h.service.Export(r.Context(), q)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+article.ExportFilename(now)+`"`)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	if err := article.WriteExportCSV(w, items); err != nil {
		h.logger.Warn("CSVの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// Recompute は現在の設定で記事のヒートを再計算する。
// POST /recompute {article_ids?, windows?}
func (h *ArticleHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if apiErr := decodeJSONBody(w, r, &req, true); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	windows, err := article.ParseWindows(req.Windows)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	updated, err := h.service.Recompute(r.Context(), req.ArticleIDs, windows)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// Relabel は現在の分類ルールで記事のタグを付け直す。
// POST /relabel {article_ids?}
func (h *ArticleHandler) Relabel(w http.ResponseWriter, r *http.Request) {
	var req relabelRequest
	if apiErr := decodeJSONBody(w, r, &req, true); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	updated, err := h.service.Relabel(r.Context(), req.ArticleIDs)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func toArticleResponse(a *model.ScoredArticle) articleResponse {
	resp := articleResponse{
		ID:      a.ID,
		Title:   a.Title,
		PubTime: a.PublishedAt.UTC(),
		URL:     a.URL,
		Summary: a.Summary,
		Tags:    a.Tags,
		Account: articleAccount{
			ID:    a.AccountID,
			Name:  a.AccountName,
			BizID: a.AccountBizID,
			Star:  a.AccountStar,
		},
		ProxyHeat: a.ProxyHeat,
	}
	if a.Cover != "" {
		cover := a.Cover
		resp.Cover = &cover
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	return resp
}
