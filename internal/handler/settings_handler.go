package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/settings"
)

// SettingsServiceInterface は設定ハンドラーが必要とするサービスインターフェース。
type SettingsServiceInterface interface {
	Get(ctx context.Context, key string) (*model.Setting, error)
	GetAll(ctx context.Context) ([]model.Setting, error)
	Defaults() map[string]any
	Save(ctx context.Context, key string, value json.RawMessage) error
	SaveWithHistory(ctx context.Context, key string, value json.RawMessage) (string, error)
	GetHistory(ctx context.Context, key string) ([]model.SettingsHistory, error)
	Rollback(ctx context.Context, historyID string) (*model.SettingsHistory, error)
	PreviewWeightChange(ctx context.Context, candidate map[string]any) (*settings.PreviewResult, error)
}

// SettingsHandler は設定管理のHTTPハンドラー。
type SettingsHandler struct {
	service SettingsServiceInterface
	logger  *slog.Logger
}

// NewSettingsHandler はSettingsHandlerを生成する。
func NewSettingsHandler(service SettingsServiceInterface, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{service: service, logger: logger}
}

type saveSettingRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type previewRequest struct {
	Weights map[string]any `json:"weights"`
}

type rollbackRequest struct {
	HistoryID string `json:"historyId"`
}

type settingResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type historyResponse struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

type previewItemResponse struct {
	ArticleID    string  `json:"article_id"`
	Title        string  `json:"title"`
	ProxyHeat    float64 `json:"proxy_heat"`
	Rank         int     `json:"rank"`
	PreviousRank int     `json:"previous_rank,omitempty"`
}

type previewResponse struct {
	Window  model.TimeWindow      `json:"window"`
	Weights map[string]float64    `json:"weights"`
	Before  []previewItemResponse `json:"before"`
	After   []previewItemResponse `json:"after"`
}

// ListSettings は保存済みの全設定を返す。
// GET /settings
func (h *SettingsHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.GetAll(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	resp := make([]settingResponse, len(list))
	for i, s := range list {
		resp[i] = toSettingResponse(&s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": resp})
}

// GetSetting は指定キーの設定を返す。
// GET /settings/{key}
func (h *SettingsHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingResponse(s))
}

// GetDefaults は既知キーの既定値を返す。
// GET /settings/defaults
func (h *SettingsHandler) GetDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"defaults": h.service.Defaults()})
}

// SaveSetting は設定を保存する。履歴は作成しない。
// POST /settings {key, value}
func (h *SettingsHandler) SaveSetting(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSaveRequest(w, r)
	if !ok {
		return
	}
	if err := h.service.Save(r.Context(), req.Key, req.Value); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// SaveWithHistory は設定を保存し、履歴スナップショットを追加する。
// 履歴の保存に失敗した場合もsuccessはtrueで、warningに理由を返す。
// POST /settings/save-with-history {key, value}
func (h *SettingsHandler) SaveWithHistory(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSaveRequest(w, r)
	if !ok {
		return
	}
	warning, err := h.service.SaveWithHistory(r.Context(), req.Key, req.Value)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := map[string]any{"success": true}
	if warning != "" {
		resp["warning"] = warning
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory は指定キーの履歴を新しい順に返す。
// GET /settings/{key}/history
func (h *SettingsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.GetHistory(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	resp := make([]historyResponse, len(list))
	for i, e := range list {
		resp[i] = toHistoryResponse(&e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": resp})
}

// Rollback は履歴の値を現在の設定として再適用する。
// POST /settings/rollback {historyId}
func (h *SettingsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if apiErr := decodeJSONBody(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if strings.TrimSpace(req.HistoryID) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("historyId is required"))
		return
	}

	entry, err := h.service.Rollback(r.Context(), strings.TrimSpace(req.HistoryID))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"rolled_back_to": toHistoryResponse(entry),
	})
}

// Preview はヒート重みを変更した場合の上位記事の並びを返す。何も保存しない。
// POST /settings/preview {weights}
func (h *SettingsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if apiErr := decodeJSONBody(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if req.Weights == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("weights is required"))
		return
	}

	result, err := h.service.PreviewWeightChange(r.Context(), req.Weights)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Window:  result.Window,
		Weights: result.Weights.Map(),
		Before:  toPreviewItems(result.Before),
		After:   toPreviewItems(result.After),
	})
}

func (h *SettingsHandler) decodeSaveRequest(w http.ResponseWriter, r *http.Request) (saveSettingRequest, bool) {
	var req saveSettingRequest
	if apiErr := decodeJSONBody(w, r, &req, false); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return req, false
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" || len(req.Value) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("key and value are required"))
		return req, false
	}
	return req, true
}

func toSettingResponse(s *model.Setting) settingResponse {
	return settingResponse{Key: s.Key, Value: s.Value, UpdatedAt: s.UpdatedAt}
}

func toHistoryResponse(h *model.SettingsHistory) historyResponse {
	return historyResponse{ID: h.ID, Key: h.Key, Value: h.Value, CreatedAt: h.CreatedAt}
}

func toPreviewItems(items []settings.PreviewItem) []previewItemResponse {
	out := make([]previewItemResponse, len(items))
	for i, it := range items {
		out[i] = previewItemResponse{
			ArticleID:    it.ArticleID,
			Title:        it.Title,
			ProxyHeat:    it.ProxyHeat,
			Rank:         it.Rank,
			PreviousRank: it.PreviousRank,
		}
	}
	return out
}
