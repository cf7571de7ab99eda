package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/mpheat/internal/model"
)

func TestPostgresSettingsRepo_Get(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSettingsRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value, updated_at FROM settings WHERE key = $1")).
		WithArgs("time_decay_hours").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}).
			AddRow("time_decay_hours", []byte(`48`), now))

	s, err := repo.Get(context.Background(), "time_decay_hours")
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if string(s.Value) != "48" {
		t.Errorf("Value = %s, want 48", s.Value)
	}
}

func TestPostgresSettingsRepo_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSettingsRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM settings WHERE key = $1")).
		WillReturnError(sql.ErrNoRows)

	s, err := repo.Get(context.Background(), "missing")
	if err != nil || s != nil {
		t.Errorf("Get = (%v, %v), want (nil, nil)", s, err)
	}
}

func TestPostgresSettingsRepo_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSettingsRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (key) DO UPDATE")).
		WithArgs("heat_weights", []byte(`{"time_decay":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Upsert(context.Background(), "heat_weights", json.RawMessage(`{"time_decay":1}`)); err != nil {
		t.Errorf("Upsert error = %v", err)
	}
}

func TestPostgresSettingsHistoryRepo_InsertAndList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSettingsHistoryRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO settings_history")).
		WithArgs("time_decay_hours", []byte(`24`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("h-1", now))

	h := &model.SettingsHistory{Key: "time_decay_hours", Value: json.RawMessage(`24`)}
	if err := repo.Insert(context.Background(), h); err != nil {
		t.Fatalf("Insert error = %v", err)
	}
	if h.ID != "h-1" {
		t.Errorf("ID = %q, want h-1", h.ID)
	}

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).
		WithArgs("time_decay_hours", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "key", "value", "created_at"}).
			AddRow("h-2", "time_decay_hours", []byte(`48`), now).
			AddRow("h-1", "time_decay_hours", []byte(`24`), now.Add(-time.Hour)))

	list, err := repo.ListByKey(context.Background(), "time_decay_hours", 100)
	if err != nil {
		t.Fatalf("ListByKey error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "h-2" || string(list[1].Value) != "24" {
		t.Errorf("list = %+v", list)
	}
}

func TestPostgresSettingsHistoryRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSettingsHistoryRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM settings_history WHERE id = $1")).
		WillReturnError(sql.ErrNoRows)

	h, err := repo.FindByID(context.Background(), "11111111-2222-3333-4444-555555555555")
	if err != nil || h != nil {
		t.Errorf("FindByID = (%v, %v), want (nil, nil)", h, err)
	}
}
