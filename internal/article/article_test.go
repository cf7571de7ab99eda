package article

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/mpheat/internal/classifier"
	"github.com/hitoshi/mpheat/internal/heat"
	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/parser"
)

// --- モック ---

type mockArticleRepo struct {
	upsertFn       func(ctx context.Context, a *model.Article) (bool, error)
	upsertScoresFn func(ctx context.Context, scores []model.Score) error
	listFn         func(ctx context.Context, q model.ArticleQuery) (*model.ArticlePage, error)
	exportFn       func(ctx context.Context, q model.ArticleQuery) ([]model.ScoredArticle, error)
	inputs         []model.ScoringInput
	inputIDs       []string

	upserted []*model.Article
	scores   []model.Score
	tags     map[string][]string
}

func (m *mockArticleRepo) Upsert(ctx context.Context, a *model.Article) (bool, error) {
	m.upserted = append(m.upserted, a)
	if m.upsertFn != nil {
		return m.upsertFn(ctx, a)
	}
	return true, nil
}

func (m *mockArticleRepo) UpsertScores(ctx context.Context, scores []model.Score) error {
	if m.upsertScoresFn != nil {
		return m.upsertScoresFn(ctx, scores)
	}
	m.scores = append(m.scores, scores...)
	return nil
}

func (m *mockArticleRepo) List(ctx context.Context, q model.ArticleQuery) (*model.ArticlePage, error) {
	return m.listFn(ctx, q)
}

func (m *mockArticleRepo) Export(ctx context.Context, q model.ArticleQuery) ([]model.ScoredArticle, error) {
	return m.exportFn(ctx, q)
}

func (m *mockArticleRepo) TopByScore(ctx context.Context, window model.TimeWindow, since time.Time, limit int) ([]model.ScoredArticle, error) {
	return nil, nil
}

func (m *mockArticleRepo) ListScoringInputs(ctx context.Context, ids []string) ([]model.ScoringInput, error) {
	m.inputIDs = ids
	return m.inputs, nil
}

func (m *mockArticleRepo) UpdateTags(ctx context.Context, id string, tags []string) error {
	if m.tags == nil {
		m.tags = make(map[string][]string)
	}
	m.tags[id] = tags
	return nil
}

func (m *mockArticleRepo) ListNeedingBuzzFetch(ctx context.Context, ttl time.Duration, limit int) ([]*model.Article, error) {
	return nil, nil
}

func (m *mockArticleRepo) UpdateBuzz(ctx context.Context, id string, buzz float64, fetchedAt time.Time) error {
	return nil
}

type mockConfig struct {
	cfg   heat.Config
	rules classifier.Rules
	err   error
}

func (m *mockConfig) HeatConfig(ctx context.Context) (heat.Config, error) {
	return m.cfg, m.err
}

func (m *mockConfig) CategoryRules(ctx context.Context) (classifier.Rules, error) {
	return m.rules, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var fixedNow = time.Date(2025, 1, 15, 18, 30, 0, 0, time.UTC)

// --- Ingester ---

func TestIngester_IngestScoresAllWindows(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockArticleRepo{}
	ing := NewIngester(repo, &mockConfig{cfg: heat.DefaultConfig(), rules: classifier.DefaultRules()}, newTestLogger(&buf))
	ing.now = func() time.Time { return fixedNow }

	account := &model.Account{ID: "acc-1", Star: 4}
	batch, err := ing.Begin(context.Background(), account)
	if err != nil {
		t.Fatalf("Begin error = %v", err)
	}

	parsed := &parser.Article{
		Title:       "5个AI效率工具对比",
		Summary:     "ChatGPT 提示词模板",
		PublishedAt: fixedNow.Add(-3 * time.Hour),
	}
	inserted, err := batch.Ingest(context.Background(), "https://mp.weixin.qq.com/s/abc", parsed)
	if err != nil || !inserted {
		t.Fatalf("Ingest = (%v, %v)", inserted, err)
	}

	a := repo.upserted[0]
	if a.AccountID != "acc-1" || a.URL != "https://mp.weixin.qq.com/s/abc" || a.Buzz != model.DefaultBuzz {
		t.Errorf("article = %+v", a)
	}
	wantTags := []string{"AIGC", "提示词", "效率"}
	if strings.Join(a.Tags, ",") != strings.Join(wantTags, ",") {
		t.Errorf("tags = %v, want %v", a.Tags, wantTags)
	}

	if len(repo.scores) != 4 {
		t.Fatalf("スコアは4つの時間窓ぶん書き込まれるべき: %d", len(repo.scores))
	}
	first := repo.scores[0]
	if first.ProxyHeat <= 0 || first.ProxyHeat > 100 {
		t.Errorf("ProxyHeat = %v, want (0,100]", first.ProxyHeat)
	}
	for _, s := range repo.scores {
		if s.ProxyHeat != first.ProxyHeat || !s.RecalculatedAt.Equal(fixedNow) || s.ArticleID != a.ID {
			t.Errorf("全時間窓で同じ評価時刻・ヒートであるべき: %+v", s)
		}
	}
	if batch.Inserted != 1 || batch.Updated != 0 {
		t.Errorf("counts = (%d, %d), want (1, 0)", batch.Inserted, batch.Updated)
	}
}

func TestIngester_CountsUpdates(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockArticleRepo{upsertFn: func(ctx context.Context, a *model.Article) (bool, error) { return false, nil }}
	ing := NewIngester(repo, &mockConfig{cfg: heat.DefaultConfig()}, newTestLogger(&buf))

	batch, _ := ing.Begin(context.Background(), &model.Account{ID: "acc-1", Star: 3})
	parsed := &parser.Article{Title: "t", Summary: "s", PublishedAt: time.Now()}
	if _, err := batch.Ingest(context.Background(), "u", parsed); err != nil {
		t.Fatalf("Ingest error = %v", err)
	}
	if batch.Inserted != 0 || batch.Updated != 1 {
		t.Errorf("counts = (%d, %d), want (0, 1)", batch.Inserted, batch.Updated)
	}
}

func TestIngester_ErrorsPropagate(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("db down")

	ing := NewIngester(&mockArticleRepo{}, &mockConfig{err: dbErr}, newTestLogger(&buf))
	if _, err := ing.Begin(context.Background(), &model.Account{}); !errors.Is(err, dbErr) {
		t.Errorf("Begin error = %v, want %v", err, dbErr)
	}

	repo := &mockArticleRepo{upsertScoresFn: func(ctx context.Context, s []model.Score) error { return dbErr }}
	ing = NewIngester(repo, &mockConfig{cfg: heat.DefaultConfig()}, newTestLogger(&buf))
	batch, _ := ing.Begin(context.Background(), &model.Account{ID: "acc-1", Star: 3})
	_, err := batch.Ingest(context.Background(), "u", &parser.Article{Title: "t", Summary: "s", PublishedAt: time.Now()})
	if !errors.Is(err, dbErr) {
		t.Errorf("Ingest error = %v, want %v", err, dbErr)
	}
}

// --- クエリ ---

func TestListParamsFromValues(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
		check   func(t *testing.T, q model.ArticleQuery)
	}{
		{
			name:  "既定値",
			query: "",
			check: func(t *testing.T, q model.ArticleQuery) {
				if q.Window != model.Window7d || q.Sort != model.SortHeatDesc || q.Limit != 50 || q.Offset != 0 {
					t.Errorf("q = %+v", q)
				}
				if !q.Since.Equal(fixedNow.Add(-7 * 24 * time.Hour)) {
					t.Errorf("Since = %v", q.Since)
				}
			},
		},
		{
			name:  "全パラメータ",
			query: "window=24h&tags=AIGC,%20效率,&sort=pub_desc&search=%20Claude%20&limit=100&offset=20",
			check: func(t *testing.T, q model.ArticleQuery) {
				if q.Window != model.Window24h || q.Sort != model.SortPubDesc || q.Limit != 100 || q.Offset != 20 {
					t.Errorf("q = %+v", q)
				}
				if len(q.Tags) != 2 || q.Tags[0] != "AIGC" || q.Tags[1] != "效率" {
					t.Errorf("Tags = %v", q.Tags)
				}
				if q.Search != "Claude" {
					t.Errorf("Search = %q", q.Search)
				}
			},
		},
		{name: "不正な時間窓", query: "window=1y", wantErr: true},
		{name: "不正な並び順", query: "sort=random", wantErr: true},
		{name: "limit 0", query: "limit=0", wantErr: true},
		{name: "limit 上限超過", query: "limit=101", wantErr: true},
		{name: "limit 非数値", query: "limit=abc", wantErr: true},
		{name: "負のoffset", query: "offset=-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := url.ParseQuery(tt.query)
			q, err := ListParamsFromValues(v, fixedNow)
			if tt.wantErr {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidQuery {
					t.Errorf("error = %v, want INVALID_QUERY", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, q)
		})
	}
}

func TestListParamsFromValues_WindowMembership(t *testing.T) {
	twoDaysOld := fixedNow.Add(-48 * time.Hour)

	tests := []struct {
		window string
		want   bool
	}{
		{"24h", false},
		{"3d", true},
		{"7d", true},
	}
	for _, tt := range tests {
		t.Run(tt.window, func(t *testing.T) {
			q, err := ListParamsFromValues(url.Values{"window": {tt.window}}, fixedNow)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := !twoDaysOld.Before(q.Since); got != tt.want {
				t.Errorf("2日前の記事が%sに含まれる = %v, want %v (since %v)", tt.window, got, tt.want, q.Since)
			}
		})
	}
}

func TestExportParamsFromValues(t *testing.T) {
	v, _ := url.ParseQuery("window=3d&min_heat=40.5&accounts=MzA1,MzA2&tags=AIGC")
	q, err := ExportParamsFromValues(v, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Window != model.Window3d || q.MinHeat == nil || *q.MinHeat != 40.5 || q.Limit != MaxExportRecords {
		t.Errorf("q = %+v", q)
	}
	if len(q.AccountBizIDs) != 2 || !q.Since.Equal(fixedNow.Add(-72*time.Hour)) {
		t.Errorf("q = %+v", q)
	}

	q, _ = ExportParamsFromValues(url.Values{}, fixedNow)
	if !q.Since.IsZero() || q.Window != DefaultWindow {
		t.Errorf("window未指定では公開日時で絞り込まない: %+v", q)
	}

	for _, bad := range []string{"min_heat=abc", "min_heat=101", "window=2d"} {
		v, _ := url.ParseQuery(bad)
		if _, err := ExportParamsFromValues(v, fixedNow); err == nil {
			t.Errorf("%s はエラーになるべき", bad)
		}
	}
}

// --- CSV ---

func TestEscapeCSVField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a,b", `"a,b"`},
		{`say "hi"`, `"say ""hi"""`},
		{"line1\nline2", "\"line1\nline2\""},
		{"cr\rhere", "\"cr\rhere\""},
		{"", ""},
		{" leading space", " leading space"},
	}
	for _, tt := range tests {
		if got := EscapeCSVField(tt.in); got != tt.want {
			t.Errorf("EscapeCSVField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCSVFieldRoundTrip(t *testing.T) {
	for _, s := range []string{`a,b"c`, "plain", `""`, "多行\n文本, 含\"引号\""} {
		if got := UnescapeCSVField(EscapeCSVField(s)); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestWriteExportCSV(t *testing.T) {
	items := []model.ScoredArticle{
		{
			Article: model.Article{
				Title:       `AI工具, "实测"`,
				Summary:     "摘要",
				PublishedAt: time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
				Tags:        []string{"AIGC", "效率"},
				URL:         "https://mp.weixin.qq.com/s/abc",
			},
			AccountName: "科技早知道",
			ProxyHeat:   72.4,
		},
	}

	var buf bytes.Buffer
	if err := WriteExportCSV(&buf, items); err != nil {
		t.Fatalf("WriteExportCSV error = %v", err)
	}
	want := "title,summary,pub_time,author_name,heat,tags,url,read_count,like_count\n" +
		`"AI工具, ""实测""",摘要,2025-01-15T10:30:00Z,科技早知道,72.4,AIGC;效率,https://mp.weixin.qq.com/s/abc,0,0`
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteExportCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteExportCSV(&buf, nil); err != nil {
		t.Fatalf("WriteExportCSV error = %v", err)
	}
	if buf.String() != strings.Join(ExportHeader, ",") {
		t.Errorf("空の場合はヘッダのみ: %q", buf.String())
	}
}

func TestExportFilename(t *testing.T) {
	cst := time.FixedZone("CST", 8*3600)
	got := ExportFilename(time.Date(2025, 1, 16, 2, 0, 0, 0, cst))
	if got != "articles_2025-01-15.csv" {
		t.Errorf("ExportFilename = %q, want UTC日付のファイル名", got)
	}
}

// --- Service ---

func TestService_ExportCapsLimit(t *testing.T) {
	var buf bytes.Buffer
	var gotLimit int
	repo := &mockArticleRepo{exportFn: func(ctx context.Context, q model.ArticleQuery) ([]model.ScoredArticle, error) {
		gotLimit = q.Limit
		return nil, nil
	}}
	svc := NewService(repo, &mockConfig{}, newTestLogger(&buf))

	svc.Export(context.Background(), model.ArticleQuery{Limit: 5000})
	if gotLimit != MaxExportRecords {
		t.Errorf("limit = %d, want %d", gotLimit, MaxExportRecords)
	}
}

func TestService_Recompute(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockArticleRepo{inputs: []model.ScoringInput{
		{ArticleID: "a1", Title: "标题", PublishedAt: fixedNow.Add(-time.Hour), Buzz: 0.5, Star: 5},
		{ArticleID: "a2", Title: "另一个标题", PublishedAt: fixedNow.Add(-48 * time.Hour), Buzz: 0.5, Star: 1},
	}}
	svc := NewService(repo, &mockConfig{cfg: heat.DefaultConfig()}, newTestLogger(&buf))
	svc.now = func() time.Time { return fixedNow }

	n, err := svc.Recompute(context.Background(), []string{"a1", "a2"}, []model.TimeWindow{model.Window24h})
	if err != nil || n != 2 {
		t.Fatalf("Recompute = (%d, %v), want (2, nil)", n, err)
	}
	if len(repo.inputIDs) != 2 {
		t.Errorf("指定IDで絞り込むべき: %v", repo.inputIDs)
	}
	if len(repo.scores) != 2 || repo.scores[0].Window != model.Window24h {
		t.Fatalf("scores = %+v", repo.scores)
	}
	if repo.scores[0].ProxyHeat <= repo.scores[1].ProxyHeat {
		t.Errorf("新しい高評価アカウントの記事が高いヒートであるべき: %v <= %v", repo.scores[0].ProxyHeat, repo.scores[1].ProxyHeat)
	}
}

func TestService_Relabel(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockArticleRepo{inputs: []model.ScoringInput{
		{ArticleID: "a1", Title: "比特币行情", Summary: ""},
		{ArticleID: "a2", Title: "今天天气", Summary: ""},
	}}
	svc := NewService(repo, &mockConfig{rules: classifier.Rules{"Crypto": {"比特币"}}}, newTestLogger(&buf))

	n, err := svc.Relabel(context.Background(), nil)
	if err != nil || n != 2 {
		t.Fatalf("Relabel = (%d, %v), want (2, nil)", n, err)
	}
	if got := repo.tags["a1"]; len(got) != 1 || got[0] != "Crypto" {
		t.Errorf("a1 tags = %v", got)
	}
	if got := repo.tags["a2"]; len(got) != 1 || got[0] != classifier.CategoryOther {
		t.Errorf("a2 tags = %v", got)
	}
}

func TestParseWindows(t *testing.T) {
	got, err := ParseWindows(nil)
	if err != nil || len(got) != 4 {
		t.Errorf("ParseWindows(nil) = (%v, %v)", got, err)
	}
	got, err = ParseWindows([]string{"7d", "24h", "7d"})
	if err != nil || len(got) != 2 || got[0] != model.Window7d {
		t.Errorf("ParseWindows = (%v, %v)", got, err)
	}
	if _, err := ParseWindows([]string{"90d"}); err == nil {
		t.Error("未知の時間窓はエラーになるべき")
	}
}
