package article

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/mpheat/internal/model"
)

const (
	// DefaultLimit は一覧の既定の取得件数。
	DefaultLimit = 50
	// MaxLimit は一覧の取得件数の上限。
	MaxLimit = 100
	// MaxExportRecords はエクスポートの最大行数。
	MaxExportRecords = 1000
	// DefaultWindow は時間窓が未指定の場合の既定値。
	DefaultWindow = model.Window7d
)

// ListParamsFromValues はGET /articles のクエリパラメータを検索条件に変換する。
// 不正な値はInvalidQueryエラー。Sinceは評価時刻nowから時間窓を引いた値。
func ListParamsFromValues(v url.Values, now time.Time) (model.ArticleQuery, error) {
	q := model.ArticleQuery{
		Window: DefaultWindow,
		Sort:   model.SortHeatDesc,
		Limit:  DefaultLimit,
		Search: strings.TrimSpace(v.Get("search")),
		Tags:   splitList(v.Get("tags")),
	}

	if w := v.Get("window"); w != "" {
		window, err := model.ParseTimeWindow(w)
		if err != nil {
			return q, model.NewInvalidQueryError("window", err.Error())
		}
		q.Window = window
	}
	q.Since = now.UTC().Add(-q.Window.Duration())

	switch s := model.ArticleSort(v.Get("sort")); s {
	case "":
	case model.SortHeatDesc, model.SortPubDesc:
		q.Sort = s
	default:
		return q, model.NewInvalidQueryError("sort", "must be heat_desc or pub_desc")
	}

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxLimit {
			return q, model.NewInvalidQueryError("limit", "must be an integer between 1 and 100")
		}
		q.Limit = n
	}
	if s := v.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, model.NewInvalidQueryError("offset", "must be a non-negative integer")
		}
		q.Offset = n
	}
	return q, nil
}

// ExportParamsFromValues はGET /export.csv のクエリパラメータを検索条件に変換する。
// windowが未指定の場合は公開日時で絞り込まず、ヒートは既定の時間窓の値を使う。
func ExportParamsFromValues(v url.Values, now time.Time) (model.ArticleQuery, error) {
	q := model.ArticleQuery{
		Window:        DefaultWindow,
		Sort:          model.SortHeatDesc,
		Limit:         MaxExportRecords,
		Search:        strings.TrimSpace(v.Get("search")),
		Tags:          splitList(v.Get("tags")),
		AccountBizIDs: splitList(v.Get("accounts")),
	}

	if w := v.Get("window"); w != "" {
		window, err := model.ParseTimeWindow(w)
		if err != nil {
			return q, model.NewInvalidQueryError("window", err.Error())
		}
		q.Window = window
		q.Since = now.UTC().Add(-window.Duration())
	}

	if s := v.Get("min_heat"); s != "" {
		h, err := strconv.ParseFloat(s, 64)
		if err != nil || h < 0 || h > 100 {
			return q, model.NewInvalidQueryError("min_heat", "must be a number between 0 and 100")
		}
		q.MinHeat = &h
	}
	return q, nil
}

// splitList はカンマ区切りの値を空要素を除いて分割する。
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
