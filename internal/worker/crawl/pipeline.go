package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mpheat/internal/article"
	"github.com/hitoshi/mpheat/internal/metrics"
	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/parser"
)

// DefaultMaxArticles はアカウントごとに1回のクロールで取得する記事数の既定値。
const DefaultMaxArticles = 10

// PageFetcher はページとフィードの取得インターフェース。HTTPFetcherが満たす。
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
	FeedLinks(ctx context.Context, feedURL string) ([]string, error)
}

// Delayer はページ間の待機時間を返す。pacing.Pacerが満たす。
type Delayer interface {
	NextDelay(ctx context.Context) time.Duration
}

// AccountResult は1アカウント分のクロール結果。
type AccountResult struct {
	// HTTPStatus はレートリミッターに与える最悪のステータス。0は未取得。
	HTTPStatus  int
	AccountName string
	Pages       int
	Inserted    int
	Updated     int
	Failed      int
	Throttled   bool
}

// Pipeline はアカウント1件のクロール（シードページ取得→記事発見→ペース付き取得→取り込み）を行う。
type Pipeline struct {
	fetcher     PageFetcher
	ingester    *article.Ingester
	delayer     Delayer
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	maxArticles int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPipeline はPipelineを生成する。maxArticlesが0以下の場合は既定値を使う。
func NewPipeline(
	fetcher PageFetcher,
	ingester *article.Ingester,
	delayer Delayer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxArticles int,
) *Pipeline {
	if maxArticles <= 0 {
		maxArticles = DefaultMaxArticles
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Pipeline{
		fetcher:     fetcher,
		ingester:    ingester,
		delayer:     delayer,
		metrics:     collector,
		logger:      logger,
		maxArticles: maxArticles,
		sleep:       sleepContext,
	}
}

// Run はアカウントをクロールする。
// シードページの取得に失敗した場合はエラーを返す（結果のHTTPStatusは観測したステータス）。
// 個々の記事の取得・解析の失敗はFailedに数えて次の記事へ進み、429/403を受けた時点で打ち切る。
func (p *Pipeline) Run(ctx context.Context, account *model.Account) (*AccountResult, error) {
	result := &AccountResult{}

	batch, err := p.ingester.Begin(ctx, account)
	if err != nil {
		return result, err
	}

	seed, err := p.fetcher.Fetch(ctx, account.SeedURL)
	if err != nil {
		return result, fmt.Errorf("シードページの取得に失敗: %w", err)
	}
	result.HTTPStatus = seed.StatusCode
	result.Pages++
	p.metrics.RecordHTTPStatus(seed.StatusCode)
	if !seed.OK() {
		result.Throttled = ClassifyHTTPStatus(seed.StatusCode) == OutcomeThrottled
		return result, fmt.Errorf("シードページの取得に失敗: HTTP %d", seed.StatusCode)
	}

	result.AccountName = parser.ExtractAccountName(seed.Body)
	seedURL := parser.NormalizeArticleURL(account.SeedURL)
	if err := p.ingestPage(ctx, batch, account, seedURL, seed.Body, result); err != nil {
		return p.finish(result, batch), err
	}

	for _, link := range p.discover(ctx, account, seed.Body, seedURL) {
		if err := p.sleep(ctx, p.delayer.NextDelay(ctx)); err != nil {
			return p.finish(result, batch), err
		}

		page, err := p.fetcher.Fetch(ctx, link)
		if err != nil {
			// 通信エラーはステータスを持たないため、次回のクロールで再取得する
			p.logger.Warn("記事ページの取得に失敗しました",
				slog.String("account_id", account.ID),
				slog.String("url", link),
				slog.String("error", err.Error()),
			)
			result.Failed++
			continue
		}
		result.Pages++
		result.HTTPStatus = WorseStatus(result.HTTPStatus, page.StatusCode)
		p.metrics.RecordHTTPStatus(page.StatusCode)

		switch ClassifyHTTPStatus(page.StatusCode) {
		case OutcomeThrottled:
			p.logger.Warn("アンチボット応答を受けたためアカウントのクロールを打ち切ります",
				slog.String("account_id", account.ID),
				slog.String("url", link),
				slog.Int("http_status", page.StatusCode),
			)
			result.Throttled = true
			return p.finish(result, batch), nil
		case OutcomeFailed:
			result.Failed++
			continue
		}

		if err := p.ingestPage(ctx, batch, account, link, page.Body, result); err != nil {
			return p.finish(result, batch), err
		}
	}

	return p.finish(result, batch), nil
}

// ingestPage は記事ページを解析して取り込む。
// 抽出エラーはその記事のみスキップし、永続化エラーは呼び出し元に返す。
func (p *Pipeline) ingestPage(ctx context.Context, batch *article.Batch, account *model.Account, pageURL, body string, result *AccountResult) error {
	parsed, err := parser.ParseArticle(body, pageURL)
	if err != nil {
		if isExtractionError(err) {
			p.logger.Info("記事の抽出に失敗したためスキップします",
				slog.String("account_id", account.ID),
				slog.String("url", pageURL),
				slog.String("error", err.Error()),
			)
			p.metrics.RecordParseFailure(account.ID)
			result.Failed++
			return nil
		}
		return err
	}

	if _, err := batch.Ingest(ctx, pageURL, parsed); err != nil {
		return fmt.Errorf("記事の保存に失敗: %w", err)
	}
	return nil
}

// discover はクロール対象の記事URLを最大maxArticles件返す。
// フィードURLが設定されていればフィードのエントリ、なければシードページ内の同一アカウントの記事リンク。
// シードページ自体は除く。
func (p *Pipeline) discover(ctx context.Context, account *model.Account, seedBody, seedURL string) []string {
	var candidates []string
	if account.FeedURL != "" {
		links, err := p.fetcher.FeedLinks(ctx, account.FeedURL)
		if err != nil {
			p.logger.Warn("フィードからの記事発見に失敗しました。シードページのリンクを使用します",
				slog.String("account_id", account.ID),
				slog.String("feed_url", account.FeedURL),
				slog.String("error", err.Error()),
			)
		}
		for _, link := range links {
			if parser.IsWeChatArticleURL(link) {
				candidates = append(candidates, parser.NormalizeArticleURL(link))
			}
		}
	}
	if len(candidates) == 0 {
		candidates = parser.DiscoverArticleLinks(seedBody, account.BizID)
	}

	seen := map[string]bool{seedURL: true}
	links := make([]string, 0, p.maxArticles)
	for _, link := range candidates {
		if seen[link] {
			continue
		}
		seen[link] = true
		links = append(links, link)
		if len(links) >= p.maxArticles {
			break
		}
	}
	return links
}

func (p *Pipeline) finish(result *AccountResult, batch *article.Batch) *AccountResult {
	result.Inserted = batch.Inserted
	result.Updated = batch.Updated
	p.metrics.RecordArticlesUpserted(batch.Inserted + batch.Updated)
	return result
}

func isExtractionError(err error) bool {
	return errors.Is(err, parser.ErrEmptyDocument) ||
		errors.Is(err, parser.ErrTimeExtraction) ||
		errors.Is(err, parser.ErrSummaryExtraction)
}

// sleepContext はdだけ待機する。ctxがキャンセルされた場合はctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
