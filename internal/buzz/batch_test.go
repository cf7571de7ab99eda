package buzz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/mpheat/internal/model"
)

// --- モック ---

type mockArticleRepo struct {
	needing  []*model.Article
	listErr  error
	updated  map[string]float64
	lastTTL  time.Duration
	lastSize int
}

func (m *mockArticleRepo) Upsert(ctx context.Context, a *model.Article) (bool, error) {
	return true, nil
}

func (m *mockArticleRepo) UpsertScores(ctx context.Context, scores []model.Score) error {
	return nil
}

func (m *mockArticleRepo) List(ctx context.Context, q model.ArticleQuery) (*model.ArticlePage, error) {
	return &model.ArticlePage{}, nil
}

func (m *mockArticleRepo) Export(ctx context.Context, q model.ArticleQuery) ([]model.ScoredArticle, error) {
	return nil, nil
}

func (m *mockArticleRepo) TopByScore(ctx context.Context, w model.TimeWindow, since time.Time, limit int) ([]model.ScoredArticle, error) {
	return nil, nil
}

func (m *mockArticleRepo) ListScoringInputs(ctx context.Context, ids []string) ([]model.ScoringInput, error) {
	return nil, nil
}

func (m *mockArticleRepo) UpdateTags(ctx context.Context, id string, tags []string) error {
	return nil
}

func (m *mockArticleRepo) ListNeedingBuzzFetch(ctx context.Context, ttl time.Duration, limit int) ([]*model.Article, error) {
	m.lastTTL = ttl
	m.lastSize = limit
	return m.needing, m.listErr
}

func (m *mockArticleRepo) UpdateBuzz(ctx context.Context, id string, buzz float64, fetchedAt time.Time) error {
	if m.updated == nil {
		m.updated = make(map[string]float64)
	}
	m.updated[id] = buzz
	return nil
}

type mockCounter struct {
	counts map[string]int
	err    error
	calls  [][]string
}

func (m *mockCounter) GetCounts(ctx context.Context, urls []string) (map[string]int, error) {
	m.calls = append(m.calls, urls)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]int, len(urls))
	for _, u := range urls {
		out[u] = m.counts[u]
	}
	return out, nil
}

type mockRescorer struct {
	ids []string
	err error
}

func (m *mockRescorer) Recompute(ctx context.Context, ids []string, windows []model.TimeWindow) (int, error) {
	m.ids = ids
	return len(ids), m.err
}

func newTestBatchJob(repo *mockArticleRepo, counter *mockCounter, rescorer *mockRescorer, cfg BatchConfig) (*BatchJob, *int) {
	var buf bytes.Buffer
	job := NewBatchJob(repo, counter, rescorer, nil, newTestLogger(&buf), cfg)
	sleeps := new(int)
	job.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps++
		return ctx.Err()
	}
	return job, sleeps
}

func articlesFor(n int) []*model.Article {
	out := make([]*model.Article, n)
	for i := range out {
		out[i] = &model.Article{
			ID:  fmt.Sprintf("a%d", i),
			URL: fmt.Sprintf("https://mp.weixin.qq.com/s?__biz=MzA&mid=%d", i),
		}
	}
	return out
}

// --- テスト ---

func TestBatchJob_RunOnceUpdatesAndRescores(t *testing.T) {
	articles := articlesFor(2)
	// 同じURLの記事は1回だけ問い合わせて両方を更新する
	articles = append(articles, &model.Article{ID: "dup", URL: articles[0].URL}, &model.Article{ID: "nourl"})
	repo := &mockArticleRepo{needing: articles}
	counter := &mockCounter{counts: map[string]int{articles[0].URL: 10000}}
	rescorer := &mockRescorer{}

	job, sleeps := newTestBatchJob(repo, counter, rescorer, DefaultBatchConfig())
	n, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}
	if n != 3 {
		t.Errorf("更新件数 = %d, want 3", n)
	}
	if len(counter.calls) != 1 || len(counter.calls[0]) != 2 {
		t.Errorf("API呼び出し = %v", counter.calls)
	}
	if *sleeps != 0 {
		t.Errorf("初回の呼び出し前は待機しないべき: %d", *sleeps)
	}
	if repo.updated["a0"] != 1 || repo.updated["dup"] != 1 || repo.updated["a1"] != 0 {
		t.Errorf("拡散シグナル = %v", repo.updated)
	}
	if len(rescorer.ids) != 3 {
		t.Errorf("更新した記事を再計算するべき: %v", rescorer.ids)
	}
	if repo.lastTTL != 24*time.Hour || repo.lastSize != 20*maxURLsPerRequest {
		t.Errorf("ListNeedingBuzzFetch(ttl=%v, limit=%d)", repo.lastTTL, repo.lastSize)
	}
}

func TestBatchJob_RunOnceChunksAndCapsCalls(t *testing.T) {
	repo := &mockArticleRepo{needing: articlesFor(3*maxURLsPerRequest + 1)}
	counter := &mockCounter{}
	cfg := DefaultBatchConfig()
	cfg.MaxCallsPerCycle = 2

	job, sleeps := newTestBatchJob(repo, counter, &mockRescorer{}, cfg)
	n, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}
	if len(counter.calls) != 2 || n != 2*maxURLsPerRequest {
		t.Errorf("calls = %d, updated = %d", len(counter.calls), n)
	}
	if *sleeps != 1 {
		t.Errorf("API呼び出しの間に1回待機するべき: %d", *sleeps)
	}
}

func TestBatchJob_RunOnceBacksOffAfterRepeatedErrors(t *testing.T) {
	repo := &mockArticleRepo{needing: articlesFor(1)}
	counter := &mockCounter{err: errors.New("503")}
	rescorer := &mockRescorer{}
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	job, _ := newTestBatchJob(repo, counter, rescorer, DefaultBatchConfig())
	job.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := job.RunOnce(context.Background()); err != nil {
			t.Fatalf("API失敗はサイクルのエラーにしないべき: %v", err)
		}
	}
	if !job.backoffUntil.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("backoffUntil = %v", job.backoffUntil)
	}
	if len(repo.updated) != 0 || rescorer.ids != nil {
		t.Error("失敗したチャンクは前回値を維持するべき")
	}

	// バックオフ中は呼び出さない
	job.RunOnce(context.Background())
	if len(counter.calls) != 3 {
		t.Errorf("calls = %d, want 3", len(counter.calls))
	}

	// バックオフ明けに成功すればリセットされる
	now = now.Add(31 * time.Minute)
	counter.err = nil
	if _, err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}
	if job.consecutiveErrors != 0 || !job.backoffUntil.IsZero() {
		t.Errorf("consecutiveErrors = %d, backoffUntil = %v", job.consecutiveErrors, job.backoffUntil)
	}
}

func TestBatchJob_RunOnceErrors(t *testing.T) {
	repo := &mockArticleRepo{listErr: errors.New("db down")}
	job, _ := newTestBatchJob(repo, &mockCounter{}, &mockRescorer{}, DefaultBatchConfig())
	if _, err := job.RunOnce(context.Background()); err == nil {
		t.Error("対象記事の取得失敗はエラーになるべき")
	}

	repo = &mockArticleRepo{needing: articlesFor(1)}
	job, _ = newTestBatchJob(repo, &mockCounter{}, &mockRescorer{err: errors.New("boom")}, DefaultBatchConfig())
	if _, err := job.RunOnce(context.Background()); err == nil {
		t.Error("再計算の失敗はエラーになるべき")
	}
}

func TestErrorBackoff(t *testing.T) {
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{1, 0},
		{2, 0},
		{3, 30 * time.Minute},
		{5, time.Hour},
		{10, 6 * time.Hour},
	}
	for _, tt := range tests {
		if got := errorBackoff(tt.errors); got != tt.want {
			t.Errorf("errorBackoff(%d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}
