package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/hitoshi/mpheat/internal/model"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの生成に失敗: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("未達の期待値: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var accountRowColumns = []string{
	"id", "biz_id", "name", "seed_url", "feed_url", "star", "is_active",
	"last_fetched_at", "article_count", "created_at", "updated_at",
}

func TestPostgresAccountRepo_FindByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresAccountRepo(db)
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1")).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow("acc-1", "MzA1", "科技早知道", "https://mp.weixin.qq.com/s?__biz=MzA1", nil, 4, true, nil, 12, now, now))

	a, err := repo.FindByID(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("FindByID error = %v", err)
	}
	if a.BizID != "MzA1" || a.Star != 4 || a.ArticleCount != 12 || a.FeedURL != "" || a.LastFetchedAt != nil {
		t.Errorf("account = %+v", a)
	}
}

func TestPostgresAccountRepo_FindByBizID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresAccountRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE biz_id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	a, err := repo.FindByBizID(context.Background(), "missing")
	if err != nil || a != nil {
		t.Errorf("FindByBizID = (%v, %v), want (nil, nil)", a, err)
	}
}

func TestPostgresAccountRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresAccountRepo(db)
	now := time.Now()

	a := &model.Account{ID: "acc-1", BizID: "MzA1", Name: model.PlaceholderAccountName, SeedURL: "https://mp.weixin.qq.com/s?__biz=MzA1", Star: 3, IsActive: true}
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs("acc-1", "MzA1", model.PlaceholderAccountName, a.SeedURL, nil, 3, true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if !a.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, now)
	}
}

func TestPostgresAccountRepo_Create_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresAccountRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &model.Account{ID: "acc-2", BizID: "MzA1", Star: 3})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("error = %v, want ErrDuplicate", err)
	}
}

func TestPostgresAccountRepo_ExistingBizIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresAccountRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT biz_id FROM accounts WHERE biz_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"biz_id"}).AddRow("MzA1"))

	got, err := repo.ExistingBizIDs(context.Background(), []string{"MzA1", "MzA2"})
	if err != nil {
		t.Fatalf("ExistingBizIDs error = %v", err)
	}
	if !got["MzA1"] || got["MzA2"] {
		t.Errorf("existing = %v", got)
	}

	// 空入力ではクエリを発行しない
	got, err = repo.ExistingBizIDs(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Errorf("ExistingBizIDs(nil) = (%v, %v)", got, err)
	}
}

func TestPostgresAccountRepo_ListActive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresAccountRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE is_active = true ORDER BY created_at ASC")).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow("a1", "MzA1", "A", "https://mp.weixin.qq.com/s?__biz=MzA1", "https://rss.example.com/a1.xml", 5, true, now, 3, now, now).
			AddRow("a2", "MzA2", "B", "https://mp.weixin.qq.com/s?__biz=MzA2", nil, 2, true, nil, 0, now, now))

	list, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].FeedURL != "https://rss.example.com/a1.xml" || list[0].LastFetchedAt == nil {
		t.Errorf("list[0] = %+v", list[0])
	}
}

func TestPostgresAccountRepo_RecordFetch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresAccountRepo(db)
	fetchedAt := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET")).
		WithArgs("acc-1", fetchedAt, "科技早知道", model.PlaceholderAccountName).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecordFetch(context.Background(), "acc-1", "科技早知道", fetchedAt); err != nil {
		t.Errorf("RecordFetch error = %v", err)
	}
}

func TestContainsPattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AI", "%AI%"},
		{"100%", `%100\%%`},
		{"a_b", `%a\_b%`},
		{`c:\x`, `%c:\\x%`},
	}
	for _, tt := range tests {
		if got := containsPattern(tt.in); got != tt.want {
			t.Errorf("containsPattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
