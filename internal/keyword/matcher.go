// Package keyword は大文字小文字を区別しない部分文字列の一括照合を提供する。
// 分類ルールやタイトルルールの語彙リストをAho-Corasickオートマトンで照合する。
package keyword

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
)

// Matcher は語彙リストに対する部分文字列照合器。
// ahocorasick.MatcherはMatch呼び出しごとに内部カウンタを更新するため、
// ミューテックスで直列化して並行呼び出しに対応する。
type Matcher struct {
	mu      sync.Mutex
	matcher *ahocorasick.Matcher
	words   []string
}

// NewMatcher は語彙リストから照合器を生成する。
// 語は小文字化され、空文字と重複は除外される。
func NewMatcher(words []string) *Matcher {
	normalized := Normalize(words)
	m := &Matcher{words: normalized}
	if len(normalized) > 0 {
		m.matcher = ahocorasick.NewStringMatcher(normalized)
	}
	return m
}

// Normalize は語彙を小文字化し、空文字と重複を除いた新しいスライスを返す。
// 元の順序を保つ。
func Normalize(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		lw := strings.ToLower(strings.TrimSpace(w))
		if lw == "" || seen[lw] {
			continue
		}
		seen[lw] = true
		out = append(out, lw)
	}
	return out
}

// Len は照合対象の語数を返す。
func (m *Matcher) Len() int {
	return len(m.words)
}

// Matches はtextに含まれる語（小文字化済み、重複なし）を語彙リストの順で返す。
func (m *Matcher) Matches(text string) []string {
	if m.matcher == nil || text == "" {
		return nil
	}
	lower := []byte(strings.ToLower(text))

	m.mu.Lock()
	hits := m.matcher.Match(lower)
	m.mu.Unlock()

	if len(hits) == 0 {
		return nil
	}
	found := make([]bool, len(m.words))
	for _, idx := range hits {
		if idx >= 0 && idx < len(found) {
			found[idx] = true
		}
	}
	out := make([]string, 0, len(hits))
	for i, ok := range found {
		if ok {
			out = append(out, m.words[i])
		}
	}
	return out
}

// MatchAny はtextに語彙のいずれかが含まれるかを返す。
func (m *Matcher) MatchAny(text string) bool {
	return len(m.Matches(text)) > 0
}

// Count はtextに含まれる異なる語の数を返す。
func (m *Matcher) Count(text string) int {
	return len(m.Matches(text))
}
