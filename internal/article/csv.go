package article

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/mpheat/internal/model"
)

// ExportHeader はエクスポートCSVのヘッダ列。
var ExportHeader = []string{
	"title", "summary", "pub_time", "author_name", "heat", "tags", "url", "read_count", "like_count",
}

// EscapeCSVField はカンマ・ダブルクォート・改行を含むフィールドをクォートする。
// 内部のダブルクォートは二重化する。
func EscapeCSVField(s string) string {
	if !strings.ContainsAny(s, ",\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// UnescapeCSVField はEscapeCSVFieldの逆変換。クォートされていない値はそのまま返す。
func UnescapeCSVField(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
}

// WriteExportCSV は記事をエクスポート形式で書き出す。行区切りはLF。
// 閲覧数・いいね数は取得していないため0を出力する。
func WriteExportCSV(w io.Writer, items []model.ScoredArticle) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(ExportHeader, ",")); err != nil {
		return fmt.Errorf("CSVヘッダの書き込みに失敗しました: %w", err)
	}

	for _, a := range items {
		fields := []string{
			EscapeCSVField(a.Title),
			EscapeCSVField(a.Summary),
			a.PublishedAt.UTC().Format(time.RFC3339),
			EscapeCSVField(a.AccountName),
			strconv.FormatFloat(a.ProxyHeat, 'f', -1, 64),
			EscapeCSVField(strings.Join(a.Tags, ";")),
			EscapeCSVField(a.URL),
			"0",
			"0",
		}
		if _, err := bw.WriteString("\n" + strings.Join(fields, ",")); err != nil {
			return fmt.Errorf("CSV行の書き込みに失敗しました: %w", err)
		}
	}
	return bw.Flush()
}

// ExportFilename はエクスポートの添付ファイル名（articles_YYYY-MM-DD.csv、UTC日付）を返す。
func ExportFilename(now time.Time) string {
	return "articles_" + now.UTC().Format("2006-01-02") + ".csv"
}
