package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/mpheat/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した記事・スコアリポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// Upsert はURLをキーに記事を作成または更新し、a.IDを設定する。
// 既存記事の拡散シグナル（buzz）は上書きしない。新規作成の場合はtrueを返す。
func (r *PostgresArticleRepo) Upsert(ctx context.Context, a *model.Article) (bool, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO articles (id, account_id, title, cover, pub_time, url, summary, tags, buzz)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (url) DO UPDATE SET
		    title = EXCLUDED.title,
		    cover = EXCLUDED.cover,
		    pub_time = EXCLUDED.pub_time,
		    summary = EXCLUDED.summary,
		    tags = EXCLUDED.tags,
		    updated_at = now()
		 RETURNING id, buzz, created_at, updated_at, (xmax = 0) AS inserted`,
		a.ID, a.AccountID, a.Title, nullString(a.Cover), a.PublishedAt.UTC(),
		a.URL, a.Summary, pq.Array(a.Tags), a.Buzz,
	).Scan(&a.ID, &a.Buzz, &a.CreatedAt, &a.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("記事のupsertに失敗しました: %w", err)
	}
	return inserted, nil
}

// UpsertScores は記事×時間窓のスコアを1トランザクションで作成または更新する。
func (r *PostgresArticleRepo) UpsertScores(ctx context.Context, scores []model.Score) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scores (article_id, time_window, proxy_heat, recalculated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (article_id, time_window) DO UPDATE SET
		    proxy_heat = EXCLUDED.proxy_heat,
		    recalculated_at = EXCLUDED.recalculated_at`)
	if err != nil {
		return fmt.Errorf("スコアupsert文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for _, s := range scores {
		if _, err := stmt.ExecContext(ctx, s.ArticleID, string(s.Window), s.ProxyHeat, s.RecalculatedAt.UTC()); err != nil {
			return fmt.Errorf("スコアのupsertに失敗しました (article=%s, window=%s): %w", s.ArticleID, s.Window, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("スコアのコミットに失敗しました: %w", err)
	}
	return nil
}

// scoredColumns は記事・アカウント・スコアの結合結果の列。scanScoredの順序と一致させること。
var scoredColumns = []string{
	"a.id", "a.account_id", "a.title", "a.cover", "a.pub_time", "a.url", "a.summary",
	"a.tags", "a.buzz", "a.buzz_fetched_at", "a.created_at", "a.updated_at",
	"ac.name", "ac.star", "ac.biz_id", "COALESCE(s.proxy_heat, 0)",
}

func scanScored(row rowScanner) (model.ScoredArticle, error) {
	var sa model.ScoredArticle
	var cover sql.NullString
	var buzzFetchedAt sql.NullTime
	if err := row.Scan(
		&sa.ID, &sa.AccountID, &sa.Title, &cover, &sa.PublishedAt, &sa.URL, &sa.Summary,
		pq.Array(&sa.Tags), &sa.Buzz, &buzzFetchedAt, &sa.CreatedAt, &sa.UpdatedAt,
		&sa.AccountName, &sa.AccountStar, &sa.AccountBizID, &sa.ProxyHeat,
	); err != nil {
		return sa, err
	}
	sa.Cover = nullStringValue(cover)
	if buzzFetchedAt.Valid {
		sa.BuzzFetchedAt = &buzzFetchedAt.Time
	}
	if sa.Tags == nil {
		sa.Tags = []string{}
	}
	return sa, nil
}

// filtered は検索条件をアクティブなアカウントの記事に適用する。
// スコアは時間窓で左結合し、未計算の記事はヒート0として扱う。
func filtered(b squirrel.SelectBuilder, q model.ArticleQuery) squirrel.SelectBuilder {
	b = b.From("articles a").
		Join("accounts ac ON ac.id = a.account_id").
		LeftJoin("scores s ON s.article_id = a.id AND s.time_window = ?", string(q.Window)).
		Where(squirrel.Eq{"ac.is_active": true}).
		Where(squirrel.GtOrEq{"a.pub_time": q.Since.UTC()})

	if len(q.Tags) > 0 {
		b = b.Where("a.tags @> ?", pq.Array(q.Tags))
	}
	if q.Search != "" {
		pattern := containsPattern(q.Search)
		b = b.Where(squirrel.Or{
			squirrel.ILike{"a.title": pattern},
			squirrel.ILike{"a.summary": pattern},
		})
	}
	if q.MinHeat != nil {
		b = b.Where("COALESCE(s.proxy_heat, 0) >= ?", *q.MinHeat)
	}
	if len(q.AccountBizIDs) > 0 {
		b = b.Where(squirrel.Eq{"ac.biz_id": q.AccountBizIDs})
	}
	return b
}

func ordered(b squirrel.SelectBuilder, sort model.ArticleSort) squirrel.SelectBuilder {
	if sort == model.SortPubDesc {
		return b.OrderBy("a.pub_time DESC", "a.id")
	}
	return b.OrderBy("COALESCE(s.proxy_heat, 0) DESC", "a.pub_time DESC", "a.id")
}

// List は検索条件に一致する記事を時間窓のスコア付きで返す。
func (r *PostgresArticleRepo) List(ctx context.Context, q model.ArticleQuery) (*model.ArticlePage, error) {
	countSQL, countArgs, err := filtered(psql.Select("count(*)"), q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("記事件数クエリの構築に失敗しました: %w", err)
	}

	page := &model.ArticlePage{Items: []model.ScoredArticle{}}
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("記事件数の取得に失敗しました: %w", err)
	}
	if page.Total == 0 {
		return page, nil
	}

	b := ordered(filtered(psql.Select(scoredColumns...), q), q.Sort).
		Limit(uint64(q.Limit)).
		Offset(uint64(q.Offset))
	items, err := r.queryScored(ctx, b)
	if err != nil {
		return nil, err
	}
	page.Items = items
	return page, nil
}

// Export はエクスポート用に検索条件に一致する記事をヒート降順・公開日時降順で返す。
func (r *PostgresArticleRepo) Export(ctx context.Context, q model.ArticleQuery) ([]model.ScoredArticle, error) {
	b := ordered(filtered(psql.Select(scoredColumns...), q), model.SortHeatDesc).
		Limit(uint64(q.Limit))
	return r.queryScored(ctx, b)
}

// TopByScore は時間窓の保存済みスコアの上位記事を返す。スコア未計算の記事は含まない。
func (r *PostgresArticleRepo) TopByScore(ctx context.Context, window model.TimeWindow, since time.Time, limit int) ([]model.ScoredArticle, error) {
	b := psql.Select(scoredColumns...).
		From("articles a").
		Join("accounts ac ON ac.id = a.account_id").
		Join("scores s ON s.article_id = a.id AND s.time_window = ?", string(window)).
		Where(squirrel.Eq{"ac.is_active": true}).
		Where(squirrel.GtOrEq{"a.pub_time": since.UTC()}).
		OrderBy("s.proxy_heat DESC", "a.pub_time DESC", "a.id").
		Limit(uint64(limit))
	return r.queryScored(ctx, b)
}

func (r *PostgresArticleRepo) queryScored(ctx context.Context, b squirrel.SelectBuilder) ([]model.ScoredArticle, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("記事クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := []model.ScoredArticle{}
	for rows.Next() {
		sa, err := scanScored(rows)
		if err != nil {
			return nil, fmt.Errorf("記事の行読み取りに失敗しました: %w", err)
		}
		items = append(items, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の読み取りに失敗しました: %w", err)
	}
	return items, nil
}

// ListScoringInputs はヒート再計算の入力を返す。articleIDsが空の場合は全記事が対象。
func (r *PostgresArticleRepo) ListScoringInputs(ctx context.Context, articleIDs []string) ([]model.ScoringInput, error) {
	b := psql.Select("a.id", "a.title", "a.summary", "a.pub_time", "a.buzz", "ac.star").
		From("articles a").
		Join("accounts ac ON ac.id = a.account_id").
		OrderBy("a.pub_time DESC", "a.id")
	if len(articleIDs) > 0 {
		b = b.Where("a.id = ANY(?)", pq.Array(articleIDs))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("再計算対象クエリの構築に失敗しました: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("再計算対象記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var inputs []model.ScoringInput
	for rows.Next() {
		var in model.ScoringInput
		if err := rows.Scan(&in.ArticleID, &in.Title, &in.Summary, &in.PublishedAt, &in.Buzz, &in.Star); err != nil {
			return nil, fmt.Errorf("再計算対象記事の行読み取りに失敗しました: %w", err)
		}
		inputs = append(inputs, in)
	}
	return inputs, rows.Err()
}

// UpdateTags は記事のカテゴリタグを上書きする。
func (r *PostgresArticleRepo) UpdateTags(ctx context.Context, id string, tags []string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE articles SET tags = $2, updated_at = now() WHERE id = $1`,
		id, pq.Array(tags),
	)
	if err != nil {
		return fmt.Errorf("タグの更新に失敗しました: %w", err)
	}
	return nil
}

// ListNeedingBuzzFetch は拡散シグナルが未取得またはttl経過の記事を返す。
// 未取得の記事を優先し、次に取得日時が古い順に処理する。
func (r *PostgresArticleRepo) ListNeedingBuzzFetch(ctx context.Context, ttl time.Duration, limit int) ([]*model.Article, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, url, pub_time, buzz, buzz_fetched_at
		 FROM articles
		 WHERE buzz_fetched_at IS NULL
		    OR buzz_fetched_at < now() - make_interval(secs => $1)
		 ORDER BY buzz_fetched_at ASC NULLS FIRST, pub_time DESC
		 LIMIT $2`,
		ttl.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("拡散シグナル取得対象記事の一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var articles []*model.Article
	for rows.Next() {
		a := &model.Article{}
		var fetchedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.AccountID, &a.URL, &a.PublishedAt, &a.Buzz, &fetchedAt); err != nil {
			return nil, fmt.Errorf("拡散シグナル取得対象記事の行読み取りに失敗しました: %w", err)
		}
		if fetchedAt.Valid {
			a.BuzzFetchedAt = &fetchedAt.Time
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// UpdateBuzz は記事の拡散シグナルと取得日時を更新する。
func (r *PostgresArticleRepo) UpdateBuzz(ctx context.Context, id string, buzz float64, fetchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE articles SET buzz = $2, buzz_fetched_at = $3, updated_at = now() WHERE id = $1`,
		id, buzz, fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("拡散シグナルの更新に失敗しました: %w", err)
	}
	return nil
}

var _ ArticleRepository = (*PostgresArticleRepo)(nil)
