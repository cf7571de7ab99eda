package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mpheat/internal/account"
	"github.com/hitoshi/mpheat/internal/model"
)

// maxImportSize はCSVインポートのアップロード上限。
const maxImportSize = 5 << 20

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Create(ctx context.Context, seedURL string, star int) (*model.Account, error)
	List(ctx context.Context) ([]*model.Account, error)
	Update(ctx context.Context, id string, patch model.AccountPatch) (*model.Account, error)
	ResolveBizID(ctx context.Context, rawURL string) (string, error)
	Import(ctx context.Context, r io.Reader) (*account.ImportResult, error)
}

// AccountHandler はアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
	logger  *slog.Logger
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{service: service, logger: logger}
}

type createAccountRequest struct {
	SeedURL string `json:"seed_url"`
	Star    int    `json:"star"`
}

type updateAccountRequest struct {
	Star     *int    `json:"star"`
	IsActive *bool   `json:"is_active"`
	Name     *string `json:"name"`
	FeedURL  *string `json:"feed_url"`
}

type resolveRequest struct {
	URL string `json:"url"`
}

// accountResponse はアカウント情報のAPIレスポンス。
type accountResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	BizID        string     `json:"biz_id"`
	SeedURL      string     `json:"seed_url"`
	FeedURL      string     `json:"feed_url,omitempty"`
	Star         int        `json:"star"`
	IsActive     bool       `json:"is_active"`
	LastFetched  *time.Time `json:"last_fetched"`
	ArticleCount int        `json:"article_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ListAccounts はアカウント一覧を返す。
// GET /accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]accountResponse, len(accounts))
	for i, a := range accounts {
		resp[i] = toAccountResponse(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": resp})
}

// CreateAccount はシード記事URLからアカウントを登録する。
// POST /accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if apiErr := decodeJSONBody(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if strings.TrimSpace(req.SeedURL) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("seed_url is required"))
		return
	}

	a, err := h.service.Create(r.Context(), strings.TrimSpace(req.SeedURL), req.Star)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(a))
}

// UpdateAccount はアカウントを部分更新する。
// PATCH /accounts/{id}
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if apiErr := decodeJSONBody(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	a, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), model.AccountPatch{
		Star:     req.Star,
		IsActive: req.IsActive,
		Name:     req.Name,
		FeedURL:  req.FeedURL,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// ResolveBizID は記事URLや短縮URLからbiz_idを解決する。
// POST /accounts/resolve
func (h *AccountHandler) ResolveBizID(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if apiErr := decodeJSONBody(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("url is required"))
		return
	}

	bizID, err := h.service.ResolveBizID(r.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"biz_id": bizID})
}

// ImportAccounts はCSVファイルからアカウントを一括登録する。
// POST /import （multipart/form-data、フィールド名 file）
func (h *AccountHandler) ImportAccounts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidCSVError("Multipart form with a CSV file is required"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidCSVError("No file uploaded"))
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidCSVError("File must be a CSV"))
		return
	}

	result, err := h.service.Import(r.Context(), file)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		Name:         a.Name,
		BizID:        a.BizID,
		SeedURL:      a.SeedURL,
		FeedURL:      a.FeedURL,
		Star:         a.Star,
		IsActive:     a.IsActive,
		LastFetched:  a.LastFetchedAt,
		ArticleCount: a.ArticleCount,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}
