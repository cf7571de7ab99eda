package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mpheat/internal/model"
)

// PostgresFetchLogRepo はPostgreSQLを使用したフェッチログリポジトリ。
type PostgresFetchLogRepo struct {
	db *sql.DB
}

// NewPostgresFetchLogRepo はPostgresFetchLogRepoを生成する。
func NewPostgresFetchLogRepo(db *sql.DB) *PostgresFetchLogRepo {
	return &PostgresFetchLogRepo{db: db}
}

// Insert はフェッチログを追加し、log.IDを設定する。
func (r *PostgresFetchLogRepo) Insert(ctx context.Context, log *model.FetchLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fetch_logs (id, account_id, started_at, finished_at, ok, http_status, retries, message, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID, log.AccountID, log.StartedAt.UTC(), log.FinishedAt.UTC(), log.OK,
		nullInt(log.HTTPStatus), log.Retries, log.Message, log.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("フェッチログの追加に失敗しました: %w", err)
	}
	return nil
}

// CountStartedBetween は[from, to)に開始されたフェッチログの件数を返す。
func (r *PostgresFetchLogRepo) CountStartedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM fetch_logs WHERE started_at >= $1 AND started_at < $2`,
		from.UTC(), to.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("フェッチログの件数取得に失敗しました: %w", err)
	}
	return count, nil
}

// DeleteStartedBefore はcutoffより前に開始されたフェッチログを削除し、削除件数を返す。
func (r *PostgresFetchLogRepo) DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM fetch_logs WHERE started_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("古いフェッチログの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// PostgresCrawlerStateRepo はcrawler_stateテーブル（1行）を使用した状態リポジトリ。
type PostgresCrawlerStateRepo struct {
	db *sql.DB
}

// NewPostgresCrawlerStateRepo はPostgresCrawlerStateRepoを生成する。
func NewPostgresCrawlerStateRepo(db *sql.DB) *PostgresCrawlerStateRepo {
	return &PostgresCrawlerStateRepo{db: db}
}

// Load は保存済みの状態を返す。行がない場合は初期状態を返す。
func (r *PostgresCrawlerStateRepo) Load(ctx context.Context) (model.CrawlerState, error) {
	var mode string
	var streak int
	var slowSince sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT mode, success_streak, slow_since FROM crawler_state WHERE id = 1`,
	).Scan(&mode, &streak, &slowSince)
	if err == sql.ErrNoRows {
		return model.NewCrawlerState(), nil
	}
	if err != nil {
		return model.NewCrawlerState(), fmt.Errorf("クローラー状態の取得に失敗しました: %w", err)
	}

	state := model.CrawlerState{Mode: model.CrawlerMode(mode), SuccessStreak: streak}
	if slowSince.Valid {
		t := slowSince.Time.UTC()
		state.SlowSince = &t
	}
	return state, nil
}

// Save は状態を保存する。
func (r *PostgresCrawlerStateRepo) Save(ctx context.Context, state model.CrawlerState) error {
	var slowSince sql.NullTime
	if state.SlowSince != nil {
		slowSince = sql.NullTime{Time: state.SlowSince.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO crawler_state (id, mode, success_streak, slow_since, updated_at)
		 VALUES (1, $1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET
		    mode = EXCLUDED.mode,
		    success_streak = EXCLUDED.success_streak,
		    slow_since = EXCLUDED.slow_since,
		    updated_at = now()`,
		string(state.Mode), state.SuccessStreak, slowSince,
	)
	if err != nil {
		return fmt.Errorf("クローラー状態の保存に失敗しました: %w", err)
	}
	return nil
}

// crawlRunLockKey はクロール実行の排他に使うアドバイザリロックのキー。
const crawlRunLockKey int64 = 0x6d70686561740001

// PostgresRunLocker はセッションレベルのアドバイザリロックによるクロール実行の排他制御。
// ロックは専用コネクションに紐付くため、解放まで同じコネクションを保持する。
type PostgresRunLocker struct {
	db *sql.DB
}

// NewPostgresRunLocker はPostgresRunLockerを生成する。
func NewPostgresRunLocker(db *sql.DB) *PostgresRunLocker {
	return &PostgresRunLocker{db: db}
}

// TryLock はロックの取得を試みる。他の実行が保持中の場合はok=falseを返す。
func (l *PostgresRunLocker) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("ロック用コネクションの取得に失敗しました: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, crawlRunLockKey).Scan(&locked); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("アドバイザリロックの取得に失敗しました: %w", err)
	}
	if !locked {
		conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		// 呼び出し元のctxとは独立に解放する
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, crawlRunLockKey)
		conn.Close()
	}
	return unlock, true, nil
}

var (
	_ FetchLogRepository     = (*PostgresFetchLogRepo)(nil)
	_ CrawlerStateRepository = (*PostgresCrawlerStateRepo)(nil)
	_ RunLocker              = (*PostgresRunLocker)(nil)
)
