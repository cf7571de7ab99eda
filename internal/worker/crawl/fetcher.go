package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/mpheat/internal/parser"
	"github.com/hitoshi/mpheat/internal/security"
)

// DefaultUserAgent は公式アカウントのページ取得に使うUser-Agent（WeChat内蔵ブラウザ）。
const DefaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 " +
	"(KHTML, like Gecko) Mobile/15E148 MicroMessenger/8.0.44(0x18002c2f) NetType/WIFI Language/zh_CN"

// ErrBizNotFound はリダイレクト先と本文のどちらからもbiz_idが見つからない場合のエラー。
var ErrBizNotFound = errors.New("crawl: biz_id not found in redirect or body")

// Page はフェッチしたページ。StatusCodeは常に応答のHTTPステータス。
type Page struct {
	URL        string
	StatusCode int
	Body       string
}

// OK はステータスが2xxかを返す。
func (p *Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// FetcherConfig はHTTPFetcherの設定。
type FetcherConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
}

// HTTPFetcher は記事ページ・RSSフィードの取得と短縮URLのbiz_id解決を行う。
// 接続はSSRFGuardが生成したクライアントを経由する。
type HTTPFetcher struct {
	guard          security.SSRFGuard
	client         *http.Client
	redirectClient *http.Client
	userAgent      string
	maxBodySize    int64
	logger         *slog.Logger
}

// NewHTTPFetcher はHTTPFetcherを生成する。
func NewHTTPFetcher(guard security.SSRFGuard, cfg FetcherConfig, logger *slog.Logger) *HTTPFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 << 20
	}
	return &HTTPFetcher{
		guard:          guard,
		client:         guard.NewCrawlClient(cfg.Timeout, false),
		redirectClient: guard.NewCrawlClient(cfg.Timeout, true),
		userAgent:      cfg.UserAgent,
		maxBodySize:    cfg.MaxBodySize,
		logger:         logger,
	}
}

// Fetch はページを取得する。非2xxの応答はエラーにせずPageのステータスで返す。
// エラーはURL検証・通信・本文読み取りの失敗で、この場合HTTPステータスは得られていない。
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	resp, err := f.get(ctx, f.client, rawURL, "text/html,application/xhtml+xml,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	page := &Page{URL: rawURL, StatusCode: resp.StatusCode}
	if !page.OK() {
		// 接続を再利用できるよう本文を読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBodySize))
		return page, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}
	page.Body = string(body)
	return page, nil
}

// FeedLinks はRSS/Atomフィードを取得し、エントリのリンクを出現順に返す。
// 非2xxの応答はエラー。
func (f *HTTPFetcher) FeedLinks(ctx context.Context, feedURL string) ([]string, error) {
	resp, err := f.get(ctx, f.client, feedURL, "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("フィードの取得に失敗: HTTP %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	links := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		// LinkがなくGUIDがURL形式の場合はGUIDを使う
		if link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			link = item.GUID
		}
		if link != "" {
			links = append(links, link)
		}
	}
	return links, nil
}

// ResolveBizID は短縮URLをリダイレクトを追跡せずに取得し、
// LocationヘッダーのURL、なければ本文からbiz_idを取り出す。
func (f *HTTPFetcher) ResolveBizID(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.get(ctx, f.redirectClient, rawURL, "text/html,*/*;q=0.8")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); loc != "" {
		if target, err := resp.Request.URL.Parse(loc); err == nil {
			loc = target.String()
		}
		if biz, err := parser.ExtractAccountID(loc); err == nil {
			return biz, nil
		}
		f.logger.Debug("リダイレクト先にbiz_idがありません",
			slog.String("url", rawURL),
			slog.String("location", loc),
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}
	if biz, ok := parser.ExtractBizFromBody(string(body)); ok {
		return biz, nil
	}
	return "", ErrBizNotFound
}

func (f *HTTPFetcher) get(ctx context.Context, client *http.Client, rawURL, accept string) (*http.Response, error) {
	if err := f.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	return resp, nil
}
