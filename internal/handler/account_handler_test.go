package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/mpheat/internal/account"
	"github.com/hitoshi/mpheat/internal/model"
)

// --- モック定義 ---

// mockAccountService はAccountServiceInterfaceのモック実装。
type mockAccountService struct {
	createFn  func(ctx context.Context, seedURL string, star int) (*model.Account, error)
	listFn    func(ctx context.Context) ([]*model.Account, error)
	updateFn  func(ctx context.Context, id string, patch model.AccountPatch) (*model.Account, error)
	resolveFn func(ctx context.Context, rawURL string) (string, error)
	importFn  func(ctx context.Context, r io.Reader) (*account.ImportResult, error)
}

func (m *mockAccountService) Create(ctx context.Context, seedURL string, star int) (*model.Account, error) {
	if m.createFn != nil {
		return m.createFn(ctx, seedURL, star)
	}
	return nil, nil
}

func (m *mockAccountService) List(ctx context.Context) ([]*model.Account, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockAccountService) Update(ctx context.Context, id string, patch model.AccountPatch) (*model.Account, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, nil
}

func (m *mockAccountService) ResolveBizID(ctx context.Context, rawURL string) (string, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, rawURL)
	}
	return "", nil
}

func (m *mockAccountService) Import(ctx context.Context, r io.Reader) (*account.ImportResult, error) {
	if m.importFn != nil {
		return m.importFn(ctx, r)
	}
	return &account.ImportResult{Errors: []account.RowError{}}, nil
}

const testSeedURL = "https://mp.weixin.qq.com/s?__biz=MzA1MjM1ODk2MA==&mid=1&idx=1&sn=abc"

func newTestAccount() *model.Account {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return &model.Account{
		ID:        "acc-1",
		BizID:     "MzA1MjM1ODk2MA==",
		Name:      "科技早知道",
		SeedURL:   testSeedURL,
		Star:      4,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newAccountHandlerForTest(svc *mockAccountService) *AccountHandler {
	var buf bytes.Buffer
	return NewAccountHandler(svc, newTestLogger(&buf))
}

// --- GET /accounts ---

func TestAccountHandler_ListAccounts(t *testing.T) {
	last := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	a := newTestAccount()
	a.LastFetchedAt = &last
	a.ArticleCount = 12
	h := newAccountHandlerForTest(&mockAccountService{
		listFn: func(ctx context.Context) ([]*model.Account, error) {
			return []*model.Account{a}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListAccounts(w, httptest.NewRequest(http.MethodGet, "/accounts", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	list, ok := body["accounts"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("accounts = %v, want 1 element", body["accounts"])
	}
	got := list[0].(map[string]any)
	if got["biz_id"] != "MzA1MjM1ODk2MA==" {
		t.Errorf("biz_id = %v", got["biz_id"])
	}
	if got["star"].(float64) != 4 {
		t.Errorf("star = %v, want 4", got["star"])
	}
	if got["article_count"].(float64) != 12 {
		t.Errorf("article_count = %v, want 12", got["article_count"])
	}
	if got["last_fetched"] != "2025-01-16T00:00:00Z" {
		t.Errorf("last_fetched = %v", got["last_fetched"])
	}
	if _, ok := got["feed_url"]; ok {
		t.Error("empty feed_url should be omitted")
	}
}

func TestAccountHandler_ListAccounts_Empty(t *testing.T) {
	h := newAccountHandlerForTest(&mockAccountService{})

	w := httptest.NewRecorder()
	h.ListAccounts(w, httptest.NewRequest(http.MethodGet, "/accounts", nil))

	if !strings.Contains(w.Body.String(), `"accounts":[]`) {
		t.Errorf("body = %s, want empty array", w.Body.String())
	}
}

// --- POST /accounts ---

func TestAccountHandler_CreateAccount(t *testing.T) {
	h := newAccountHandlerForTest(&mockAccountService{
		createFn: func(ctx context.Context, seedURL string, star int) (*model.Account, error) {
			if seedURL != testSeedURL {
				t.Errorf("seedURL = %q", seedURL)
			}
			if star != 4 {
				t.Errorf("star = %d, want 4", star)
			}
			return newTestAccount(), nil
		},
	})

	body := `{"seed_url":"  ` + testSeedURL + `  ","star":4}`
	w := httptest.NewRecorder()
	h.CreateAccount(w, httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if got := decodeBody(t, w); got["id"] != "acc-1" {
		t.Errorf("id = %v, want acc-1", got["id"])
	}
}

func TestAccountHandler_CreateAccount_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{"malformed json", `{"seed_url":`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"missing url", `{"star":3}`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"invalid url", `{"seed_url":"https://example.com","star":3}`, model.NewInvalidWeChatURLError(), http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"invalid star", `{"seed_url":"x","star":7}`, model.NewInvalidStarError(7), http.StatusBadRequest, model.ErrCodeInvalidStar},
		{"duplicate", `{"seed_url":"x","star":3}`, model.NewDuplicateAccountError("biz"), http.StatusConflict, model.ErrCodeDuplicateAccount},
		{"unresolved", `{"seed_url":"x","star":3}`, model.NewBizNotResolvedError("x"), http.StatusUnprocessableEntity, model.ErrCodeBizNotResolved},
		{"internal", `{"seed_url":"x","star":3}`, errors.New("db down"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAccountHandlerForTest(&mockAccountService{
				createFn: func(ctx context.Context, seedURL string, star int) (*model.Account, error) {
					return nil, tt.svcErr
				},
			})
			w := httptest.NewRecorder()
			h.CreateAccount(w, httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(tt.body)))
			assertErrorCode(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

// --- PATCH /accounts/{id} ---

func TestAccountHandler_UpdateAccount(t *testing.T) {
	h := newAccountHandlerForTest(&mockAccountService{
		updateFn: func(ctx context.Context, id string, patch model.AccountPatch) (*model.Account, error) {
			if id != "acc-1" {
				t.Errorf("id = %q, want acc-1", id)
			}
			if patch.Star == nil || *patch.Star != 5 {
				t.Errorf("patch.Star = %v, want 5", patch.Star)
			}
			if patch.IsActive == nil || *patch.IsActive {
				t.Errorf("patch.IsActive = %v, want false", patch.IsActive)
			}
			if patch.Name != nil || patch.FeedURL != nil {
				t.Error("unset fields should be nil")
			}
			a := newTestAccount()
			a.Star = 5
			a.IsActive = false
			return a, nil
		},
	})

	req := httptest.NewRequest(http.MethodPatch, "/accounts/acc-1", strings.NewReader(`{"star":5,"is_active":false}`))
	req = withURLParam(req, "id", "acc-1")
	w := httptest.NewRecorder()
	h.UpdateAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decodeBody(t, w)
	if got["is_active"] != false {
		t.Errorf("is_active = %v, want false", got["is_active"])
	}
}

func TestAccountHandler_UpdateAccount_NotFound(t *testing.T) {
	h := newAccountHandlerForTest(&mockAccountService{
		updateFn: func(ctx context.Context, id string, patch model.AccountPatch) (*model.Account, error) {
			return nil, model.NewAccountNotFoundError(id)
		},
	})

	req := withURLParam(httptest.NewRequest(http.MethodPatch, "/accounts/x", strings.NewReader(`{"star":2}`)), "id", "x")
	w := httptest.NewRecorder()
	h.UpdateAccount(w, req)

	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeAccountNotFound)
}

// --- POST /accounts/resolve ---

func TestAccountHandler_ResolveBizID(t *testing.T) {
	h := newAccountHandlerForTest(&mockAccountService{
		resolveFn: func(ctx context.Context, rawURL string) (string, error) {
			return "MzA1MjM1ODk2MA==", nil
		},
	})

	w := httptest.NewRecorder()
	h.ResolveBizID(w, httptest.NewRequest(http.MethodPost, "/accounts/resolve", strings.NewReader(`{"url":"https://mp.weixin.qq.com/s/abc"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeBody(t, w); got["biz_id"] != "MzA1MjM1ODk2MA==" {
		t.Errorf("biz_id = %v", got["biz_id"])
	}
}

func TestAccountHandler_ResolveBizID_MissingURL(t *testing.T) {
	h := newAccountHandlerForTest(&mockAccountService{})

	w := httptest.NewRecorder()
	h.ResolveBizID(w, httptest.NewRequest(http.MethodPost, "/accounts/resolve", strings.NewReader(`{"url":"  "}`)))

	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
}

// --- POST /import ---

func newMultipartRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAccountHandler_ImportAccounts(t *testing.T) {
	csvBody := "url,star\n" + testSeedURL + ",3\n"
	h := newAccountHandlerForTest(&mockAccountService{
		importFn: func(ctx context.Context, r io.Reader) (*account.ImportResult, error) {
			data, _ := io.ReadAll(r)
			if string(data) != csvBody {
				t.Errorf("uploaded content = %q", data)
			}
			return &account.ImportResult{
				Inserted: 1,
				Skipped:  1,
				Errors:   []account.RowError{{Row: 3, Reason: "invalid star"}},
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ImportAccounts(w, newMultipartRequest(t, "file", "accounts.CSV", csvBody))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}
	got := decodeBody(t, w)
	if got["inserted"].(float64) != 1 || got["skipped"].(float64) != 1 {
		t.Errorf("result = %v", got)
	}
	errs := got["errors"].([]any)
	if len(errs) != 1 || errs[0].(map[string]any)["row"].(float64) != 3 {
		t.Errorf("errors = %v", errs)
	}
}

func TestAccountHandler_ImportAccounts_Rejects(t *testing.T) {
	t.Run("not multipart", func(t *testing.T) {
		h := newAccountHandlerForTest(&mockAccountService{})
		w := httptest.NewRecorder()
		h.ImportAccounts(w, httptest.NewRequest(http.MethodPost, "/import", strings.NewReader("url,star")))
		assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidCSV)
	})

	t.Run("wrong field", func(t *testing.T) {
		h := newAccountHandlerForTest(&mockAccountService{})
		w := httptest.NewRecorder()
		h.ImportAccounts(w, newMultipartRequest(t, "upload", "a.csv", "url,star\n"))
		assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidCSV)
	})

	t.Run("wrong extension", func(t *testing.T) {
		h := newAccountHandlerForTest(&mockAccountService{
			importFn: func(ctx context.Context, r io.Reader) (*account.ImportResult, error) {
				t.Error("Import should not be called")
				return nil, nil
			},
		})
		w := httptest.NewRecorder()
		h.ImportAccounts(w, newMultipartRequest(t, "file", "a.txt", "url,star\n"))
		assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidCSV)
	})

	t.Run("service rejects header", func(t *testing.T) {
		h := newAccountHandlerForTest(&mockAccountService{
			importFn: func(ctx context.Context, r io.Reader) (*account.ImportResult, error) {
				return nil, model.NewInvalidCSVError("missing url column")
			},
		})
		w := httptest.NewRecorder()
		h.ImportAccounts(w, newMultipartRequest(t, "file", "a.csv", "name\n"))
		assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidCSV)
	})
}
