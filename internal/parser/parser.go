package parser

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/mpheat/internal/security"
)

const (
	// SummaryMaxRunes は要約の最大文字数。
	SummaryMaxRunes = 120
	summaryCutRunes = 117
	summaryMinCut   = 80
	ellipsis        = "..."
)

var (
	sanitizer = security.NewTextSanitizer()

	nicknamePattern = regexp.MustCompile(`var\s+nickname\s*=\s*(?:htmlDecode\()?"([^"]+)"`)
)

// Article はHTMLから抽出した記事フィールド。
type Article struct {
	Title       string
	Cover       string // 見つからない場合は空文字
	PublishedAt time.Time
	Summary     string
}

// ParseArticle は記事ページのHTMLからタイトル・カバー画像・発行日時・要約を抽出する。
// 空のHTMLはErrEmptyDocument、日時が見つからなければErrTimeExtraction、
// 要約の抽出元がなければErrSummaryExtractionを返す。
// pageURLは相対パスのカバー画像を絶対URLにするために使う。
func ParseArticle(html, pageURL string) (*Article, error) {
	if strings.TrimSpace(html) == "" {
		return nil, ErrEmptyDocument
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, ErrEmptyDocument
	}

	publishedAt, err := ParsePublishTime(html)
	if err != nil {
		return nil, err
	}

	summary, err := extractSummary(doc)
	if err != nil {
		return nil, err
	}

	return &Article{
		Title:       extractTitle(doc),
		Cover:       extractCover(doc, pageURL),
		PublishedAt: publishedAt,
		Summary:     summary,
	}, nil
}

// ExtractAccountName はページから公式アカウントの表示名を取り出す。見つからなければ空文字。
func ExtractAccountName(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		if name := sanitizer.Sanitize(doc.Find("#js_name").First().Text()); name != "" {
			return name
		}
		if name := metaContent(doc, "og:article:author"); name != "" {
			return name
		}
	}
	if m := nicknamePattern.FindStringSubmatch(html); m != nil {
		return sanitizer.Sanitize(m[1])
	}
	return ""
}

// DiscoverArticleLinks はページ内のリンクのうち、bizIDと同じアカウントの記事URLを
// 正規化して出現順に返す。
func DiscoverArticleLinks(html, bizID string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil || bizID == "" {
		return nil
	}

	base := &url.URL{Scheme: "https", Host: WeChatHost}
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !IsWeChatArticleURL(abs) {
			return
		}
		if biz, err := ExtractAccountID(abs); err != nil || biz != bizID {
			return
		}
		normalized := NormalizeArticleURL(abs)
		if !seen[normalized] {
			seen[normalized] = true
			links = append(links, normalized)
		}
	})
	return links
}

func extractTitle(doc *goquery.Document) string {
	if title := metaContent(doc, "og:title"); title != "" {
		return title
	}
	if title := sanitizer.Sanitize(doc.Find("h2.rich_media_title").First().Text()); title != "" {
		return title
	}
	return sanitizer.Sanitize(doc.Find("title").First().Text())
}

func extractCover(doc *goquery.Document, pageURL string) string {
	if cover := metaContent(doc, "og:image"); cover != "" {
		return absoluteURL(cover, pageURL)
	}

	var cover string
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		// 遅延読み込みのプレースホルダ（data: URI）はdata-srcを見る
		if src == "" || strings.HasPrefix(src, "data:") {
			src = strings.TrimSpace(img.AttrOr("data-src", ""))
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			return true
		}
		cover = absoluteURL(src, pageURL)
		return false
	})
	return cover
}

func extractSummary(doc *goquery.Document) (string, error) {
	if desc := metaContent(doc, "og:description"); desc != "" {
		return TruncateSummary(desc), nil
	}

	body := doc.Find("body").First().Clone()
	body.Find("script, style, noscript").Remove()

	var summary string
	body.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if text := firstTextLine(p.Text()); text != "" {
			summary = text
			return false
		}
		return true
	})
	if summary == "" {
		summary = firstTextLine(body.Text())
	}
	if summary == "" {
		return "", ErrSummaryExtraction
	}
	return TruncateSummary(summary), nil
}

// firstTextLine は最初の空でない、日時表記を含まない行を返す。
func firstTextLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = sanitizer.Sanitize(line)
		if line == "" || containsTimestamp(line) {
			continue
		}
		return line
	}
	return ""
}

// TruncateSummary は要約を最大120文字に収める。
// 120文字以下はそのまま返す。超える場合は117文字で切り、
// 80文字目より後に空白があればそこまで戻して "..." を付ける。
func TruncateSummary(text string) string {
	runes := []rune(text)
	if len(runes) <= SummaryMaxRunes {
		return text
	}

	cut := runes[:summaryCutRunes]
	for i := len(cut) - 1; i > summaryMinCut; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return string(cut) + ellipsis
}

func metaContent(doc *goquery.Document, property string) string {
	content, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	return sanitizer.Sanitize(content)
}

func absoluteURL(ref, pageURL string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return ref
	}
	return base.ResolveReference(r).String()
}
