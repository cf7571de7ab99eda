package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/mpheat/internal/model"
)

const accountColumns = `id, biz_id, name, seed_url, feed_url, star, is_active,
	last_fetched_at, article_count, created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	a := &model.Account{}
	var feedURL sql.NullString
	var lastFetchedAt sql.NullTime
	if err := row.Scan(
		&a.ID, &a.BizID, &a.Name, &a.SeedURL, &feedURL, &a.Star, &a.IsActive,
		&lastFetchedAt, &a.ArticleCount, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.FeedURL = nullStringValue(feedURL)
	if lastFetchedAt.Valid {
		a.LastFetchedAt = &lastFetchedAt.Time
	}
	return a, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	return a, nil
}

// FindByBizID はbiz_idでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByBizID(ctx context.Context, bizID string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE biz_id = $1`, bizID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("biz_idによるアカウントの検索に失敗しました: %w", err)
	}
	return a, nil
}

// ExistingBizIDs は指定biz_idのうち登録済みのものを返す。
func (r *PostgresAccountRepo) ExistingBizIDs(ctx context.Context, bizIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(bizIDs) == 0 {
		return existing, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT biz_id FROM accounts WHERE biz_id = ANY($1)`, pq.Array(bizIDs))
	if err != nil {
		return nil, fmt.Errorf("登録済みbiz_idの確認に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bizID string
		if err := rows.Scan(&bizID); err != nil {
			return nil, fmt.Errorf("biz_idの読み取りに失敗しました: %w", err)
		}
		existing[bizID] = true
	}
	return existing, rows.Err()
}

// Create はアカウントを作成する。biz_idが重複する場合はErrDuplicateを返す。
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.Account) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (id, biz_id, name, seed_url, feed_url, star, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		a.ID, a.BizID, a.Name, a.SeedURL, nullString(a.FeedURL), a.Star, a.IsActive,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("biz_id %s: %w", a.BizID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}
	return nil
}

// List は全アカウントを作成日時の降順で返す。
func (r *PostgresAccountRepo) List(ctx context.Context) ([]*model.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id`)
}

// ListActive はアクティブなアカウントを作成日時の昇順で返す。
func (r *PostgresAccountRepo) ListActive(ctx context.Context) ([]*model.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_active = true ORDER BY created_at ASC, id`)
}

func (r *PostgresAccountRepo) list(ctx context.Context, query string) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("アカウントの行読み取りに失敗しました: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アカウント一覧の読み取りに失敗しました: %w", err)
	}
	return accounts, nil
}

// Update はスター評価・有効フラグ・表示名・フィードURLを更新する。
func (r *PostgresAccountRepo) Update(ctx context.Context, a *model.Account) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE accounts SET star = $2, is_active = $3, name = $4, feed_url = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		a.ID, a.Star, a.IsActive, a.Name, nullString(a.FeedURL),
	).Scan(&a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("アカウントの更新に失敗しました: %w", err)
	}
	return nil
}

// RecordFetch はフェッチ後の記録を更新する。
// 表示名がプレースホルダの場合のみ、空でないnameで置き換える。
func (r *PostgresAccountRepo) RecordFetch(ctx context.Context, id, name string, fetchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    last_fetched_at = $2,
		    article_count = (SELECT count(*) FROM articles WHERE account_id = $1),
		    name = CASE WHEN (name = '' OR name = $4::text) AND $3::text <> '' THEN $3::text ELSE name END,
		    updated_at = now()
		 WHERE id = $1`,
		id, fetchedAt, name, model.PlaceholderAccountName,
	)
	if err != nil {
		return fmt.Errorf("フェッチ記録の更新に失敗しました: %w", err)
	}
	return nil
}

var _ AccountRepository = (*PostgresAccountRepo)(nil)
