package parser

import (
	"net/url"
	"regexp"
	"strings"
)

// WeChatHost は公式アカウント記事のホスト名。
const WeChatHost = "mp.weixin.qq.com"

var (
	queryBizPattern = regexp.MustCompile(`[?&]__biz=([^&#]+)`)
	pathBizPattern  = regexp.MustCompile(`/s/__biz=([^&?#]+)`)

	// ページ本文に埋め込まれたbizの候補（優先順）
	bodyBizPatterns = []*regexp.Regexp{
		regexp.MustCompile(`window\.__biz\s*=\s*"([^"]+)"`),
		regexp.MustCompile(`var\s+biz\s*=\s*"([^"]+)"`),
		regexp.MustCompile(`href="[^"]*__biz=([^"&]+)`),
	}
)

// canonicalQueryKeys は記事URLの正規化で残すクエリパラメータ。
var canonicalQueryKeys = map[string]bool{
	"__biz": true,
	"mid":   true,
	"idx":   true,
	"sn":    true,
	"chksm": true,
}

// ExtractAccountID は記事URLからbiz_idを取り出す。
// クエリパラメータ、生文字列への正規表現、パス埋め込み形式の順に試す。
func ExtractAccountID(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrMalformedURL
	}

	if u, err := url.Parse(rawURL); err == nil {
		if biz := strings.TrimSpace(u.Query().Get("__biz")); biz != "" {
			return biz, nil
		}
	}

	if m := queryBizPattern.FindStringSubmatch(rawURL); m != nil {
		return unescapeBiz(m[1]), nil
	}
	if m := pathBizPattern.FindStringSubmatch(rawURL); m != nil {
		return unescapeBiz(m[1]), nil
	}
	return "", ErrMalformedURL
}

// ExtractBizFromBody はページ本文に埋め込まれたbiz_idを探す。
// 短縮URLがリダイレクトしない場合のフォールバックに使う。
func ExtractBizFromBody(body string) (string, bool) {
	for _, p := range bodyBizPatterns {
		if m := p.FindStringSubmatch(body); m != nil && strings.TrimSpace(m[1]) != "" {
			return unescapeBiz(m[1]), true
		}
	}
	return "", false
}

// IsWeChatArticleURL はURLが公式アカウント記事のURL形式かを返す。
func IsWeChatArticleURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !strings.EqualFold(u.Hostname(), WeChatHost) {
		return false
	}
	return u.Path == "/s" || strings.HasPrefix(u.Path, "/s/") || u.Path == "/mp/appmsg/show"
}

// NormalizeArticleURL は記事URLからトラッキング用パラメータとフラグメントを除く。
// 同一記事の再取得で同じURLになるようにし、URLによる重複排除に使う。
// 解析できない場合は入力をそのまま返す。
func NormalizeArticleURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if !canonicalQueryKeys[key] {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	if strings.EqualFold(u.Hostname(), WeChatHost) {
		u.Scheme = "https"
	}
	return u.String()
}

func unescapeBiz(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}
