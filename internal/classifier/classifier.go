// Package classifier はタイトルと要約のキーワード照合による記事分類を提供する。
package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/mpheat/internal/keyword"
)

// CategoryOther はどのカテゴリにも該当しない場合のフォールバックカテゴリ。
const CategoryOther = "其他"

// Rules はカテゴリ名からキーワードリストへの対応表。
type Rules map[string][]string

// DefaultRules は既定の分類ルールを返す。
func DefaultRules() Rules {
	return Rules{
		"效率":    {"效率", "办公", "PPT", "模板", "自动化", "纪要", "总结", "快捷"},
		"编程":    {"代码", "vibe coding", "Cursor", "Claude", "API", "SDK", "部署", "Vercel", "Supabase"},
		"AIGC":  {"生图", "生视频", "配音", "提示词", "模型", "LoRA", "图生图", "文生图", "AI", "aigc", "人工智能", "机器学习", "深度学习", "自动化生成"},
		"赚钱":    {"变现", "引流", "私域", "课程", "付费", "转化", "成交"},
		"人物":    {"采访", "访谈", "对谈", "观点", "经验", "案例", "成长"},
		"提示词":   {"提示词", "咒语", "prompt", "模版"},
		CategoryOther: {},
	}
}

// Validate はルール表を検証する。カテゴリ名が空のものは不正。
func (r Rules) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("category rules must not be empty")
	}
	for category, words := range r {
		if strings.TrimSpace(category) == "" {
			return fmt.Errorf("category name must not be empty")
		}
		for _, w := range words {
			if strings.TrimSpace(w) == "" {
				return fmt.Errorf("category %s contains an empty keyword", category)
			}
		}
	}
	return nil
}

// Classifier はルール表から構築した分類器。並行呼び出しに対して安全。
type Classifier struct {
	matcher    *keyword.Matcher
	categories map[string][]string // 正規化済みキーワード → カテゴリ
}

// New はルール表から分類器を生成する。rulesがnilの場合は既定ルールを使う。
// 「其他」とキーワードが空のカテゴリは照合対象にしない。
func New(rules Rules) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	var words []string
	categories := make(map[string][]string)
	for _, name := range names {
		if name == CategoryOther {
			continue
		}
		for _, w := range keyword.Normalize(rules[name]) {
			if _, ok := categories[w]; !ok {
				words = append(words, w)
			}
			categories[w] = append(categories[w], name)
		}
	}

	return &Classifier{
		matcher:    keyword.NewMatcher(words),
		categories: categories,
	}
}

// Classify はタイトルと要約からカテゴリの集合を返す。
// 結果は重複なしでソート済み。何も該当しない場合は「其他」のみを返す。
func (c *Classifier) Classify(title, summary string) []string {
	title = strings.TrimSpace(title)
	summary = strings.TrimSpace(summary)
	if title == "" && summary == "" {
		return []string{CategoryOther}
	}

	content := title + " " + summary
	seen := make(map[string]bool)
	var tags []string
	for _, w := range c.matcher.Matches(content) {
		for _, category := range c.categories[w] {
			if !seen[category] {
				seen[category] = true
				tags = append(tags, category)
			}
		}
	}

	if len(tags) == 0 {
		return []string{CategoryOther}
	}
	sort.Strings(tags)
	return tags
}

// Classify は一時的な分類器でtitleとsummaryを分類する。
func Classify(title, summary string, rules Rules) []string {
	return New(rules).Classify(title, summary)
}
