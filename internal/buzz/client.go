// Package buzz は記事の外部拡散シグナル（他プラットフォームでの共有・ブックマーク数）を
// 収集する。件数APIの呼び出しと、拡散シグナルを定期的に更新するバッチジョブを含む。
package buzz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
)

const (
	// maxURLsPerRequest は1リクエストあたりの最大URL数。
	maxURLsPerRequest = 50
	// maxResponseSize はレスポンスボディの上限。
	maxResponseSize = 1 << 20
	// DefaultSaturation は拡散シグナルが1.0に達する件数の既定値。
	DefaultSaturation = 10000
)

// Client は件数APIのクライアント。
// GET endpoint?url=...&url=... が {url: count} のJSONを返すことを前提とする。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	userAgent  string
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, endpoint, userAgent string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		userAgent:  userAgent,
	}
}

// GetCounts は複数URLの件数を一括取得する。URLは最大50件。
// レスポンスに含まれないURLは0件として扱う。
func (c *Client) GetCounts(ctx context.Context, urls []string) (map[string]int, error) {
	if len(urls) == 0 {
		return make(map[string]int), nil
	}
	if len(urls) > maxURLsPerRequest {
		return nil, fmt.Errorf("URLの数が上限を超えています: %d > %d", len(urls), maxURLsPerRequest)
	}

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	for _, u := range urls {
		q.Add("url", u)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("件数APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("件数APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.Int("url_count", len(urls)),
		)
		return nil, fmt.Errorf("件数APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result map[string]int
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	counts := make(map[string]int, len(urls))
	for _, u := range urls {
		counts[u] = result[u]
	}
	return counts, nil
}

// Normalize は件数を log10(1+count)/log10(1+saturation) で[0,1]に正規化する。
func Normalize(count, saturation int) float64 {
	if count <= 0 {
		return 0
	}
	if saturation <= 0 {
		saturation = DefaultSaturation
	}
	v := math.Log10(1+float64(count)) / math.Log10(1+float64(saturation))
	return math.Max(0, math.Min(1, v))
}
