package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/mpheat/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用した設定リポジトリ。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// Get は指定キーの設定を取得する。見つからない場合はnilを返す。
func (r *PostgresSettingsRepo) Get(ctx context.Context, key string) (*model.Setting, error) {
	s := &model.Setting{}
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = $1`, key,
	).Scan(&s.Key, &value, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("設定の取得に失敗しました: %w", err)
	}
	s.Value = json.RawMessage(value)
	return s, nil
}

// List は保存済みの全設定をキー順で返す。
func (r *PostgresSettingsRepo) List(ctx context.Context) ([]model.Setting, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("設定一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	settings := []model.Setting{}
	for rows.Next() {
		var s model.Setting
		var value []byte
		if err := rows.Scan(&s.Key, &value, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("設定の行読み取りに失敗しました: %w", err)
		}
		s.Value = json.RawMessage(value)
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// Upsert は設定を作成または更新する。
func (r *PostgresSettingsRepo) Upsert(ctx context.Context, key string, value json.RawMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, []byte(value),
	)
	if err != nil {
		return fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return nil
}

// PostgresSettingsHistoryRepo はPostgreSQLを使用した設定履歴リポジトリ。
type PostgresSettingsHistoryRepo struct {
	db *sql.DB
}

// NewPostgresSettingsHistoryRepo はPostgresSettingsHistoryRepoを生成する。
func NewPostgresSettingsHistoryRepo(db *sql.DB) *PostgresSettingsHistoryRepo {
	return &PostgresSettingsHistoryRepo{db: db}
}

// Insert は履歴を追加し、h.IDとh.CreatedAtを設定する。
func (r *PostgresSettingsHistoryRepo) Insert(ctx context.Context, h *model.SettingsHistory) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO settings_history (key, value) VALUES ($1, $2) RETURNING id, created_at`,
		h.Key, []byte(h.Value),
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("設定履歴の追加に失敗しました: %w", err)
	}
	return nil
}

// ListByKey は指定キーの履歴を新しい順に最大limit件返す。
func (r *PostgresSettingsHistoryRepo) ListByKey(ctx context.Context, key string, limit int) ([]model.SettingsHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, key, value, created_at FROM settings_history
		 WHERE key = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("設定履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	history := []model.SettingsHistory{}
	for rows.Next() {
		var h model.SettingsHistory
		var value []byte
		if err := rows.Scan(&h.ID, &h.Key, &value, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("設定履歴の行読み取りに失敗しました: %w", err)
		}
		h.Value = json.RawMessage(value)
		history = append(history, h)
	}
	return history, rows.Err()
}

// FindByID は指定IDの履歴を取得する。見つからない場合はnilを返す。
func (r *PostgresSettingsHistoryRepo) FindByID(ctx context.Context, id string) (*model.SettingsHistory, error) {
	h := &model.SettingsHistory{}
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, key, value, created_at FROM settings_history WHERE id = $1`, id,
	).Scan(&h.ID, &h.Key, &value, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("設定履歴の取得に失敗しました: %w", err)
	}
	h.Value = json.RawMessage(value)
	return h, nil
}

var (
	_ SettingsRepository        = (*PostgresSettingsRepo)(nil)
	_ SettingsHistoryRepository = (*PostgresSettingsHistoryRepo)(nil)
)
