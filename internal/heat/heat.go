package heat

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/mpheat/internal/keyword"
)

const (
	// DefaultDecayHours は時間減衰の既定の時定数（時間）。
	DefaultDecayHours = 36.0
	// DefaultFreshnessHours は鮮度ブーストの既定の対象期間（時間）。
	DefaultFreshnessHours = 24.0

	titleBaseScore    = 0.5
	freshnessMaxBoost = 0.1
	// freshnessFloor は対象期間内のブーストの下限。期間外の0と区別する。
	freshnessFloor = 0.051
)

// Config はヒート計算のパラメータ一式を表す。
type Config struct {
	Weights        Weights
	TitleRules     TitleRules
	DecayHours     float64
	FreshnessHours float64
}

// DefaultConfig は既定のパラメータを返す。
func DefaultConfig() Config {
	return Config{
		Weights:        DefaultWeights(),
		TitleRules:     DefaultTitleRules(),
		DecayHours:     DefaultDecayHours,
		FreshnessHours: DefaultFreshnessHours,
	}
}

func (c Config) normalized() Config {
	if c.DecayHours <= 0 {
		c.DecayHours = DefaultDecayHours
	}
	if c.FreshnessHours <= 0 {
		c.FreshnessHours = DefaultFreshnessHours
	}
	return c
}

// Input はヒート計算の入力。nilまたは空の必須項目がある場合ヒートは0になる。
type Input struct {
	PublishedAt *time.Time
	Star        *int
	Title       string
	Buzz        *float64
	EvaluatedAt *time.Time
}

// NewInput はすべての項目が揃った入力を生成する。
func NewInput(publishedAt time.Time, star int, title string, buzz float64, evaluatedAt time.Time) Input {
	return Input{
		PublishedAt: &publishedAt,
		Star:        &star,
		Title:       title,
		Buzz:        &buzz,
		EvaluatedAt: &evaluatedAt,
	}
}

func (in Input) complete() bool {
	if in.PublishedAt == nil || in.PublishedAt.IsZero() {
		return false
	}
	if in.EvaluatedAt == nil || in.EvaluatedAt.IsZero() {
		return false
	}
	if in.Star == nil || in.Buzz == nil || math.IsNaN(*in.Buzz) {
		return false
	}
	return strings.TrimSpace(in.Title) != ""
}

// Breakdown は各要素の値と最終ヒートを表す。
type Breakdown struct {
	TimeDecay float64 `json:"time_decay"`
	Account   float64 `json:"account"`
	TitleCTR  float64 `json:"title_ctr"`
	Buzz      float64 `json:"buzz"`
	Freshness float64 `json:"freshness"`
	Heat      float64 `json:"heat"`
}

// Scorer はタイトルルールの語彙を事前に構築したヒート計算器。
// 並行呼び出しに対して安全。
type Scorer struct {
	cfg      Config
	contrast *keyword.Matcher
	benefit  *keyword.Matcher
	pain     *keyword.Matcher
	persona  *keyword.Matcher
	scenario *keyword.Matcher
	jargon   *keyword.Matcher
}

// NewScorer はConfigからScorerを生成する。
func NewScorer(cfg Config) *Scorer {
	cfg = cfg.normalized()
	r := cfg.TitleRules
	return &Scorer{
		cfg:      cfg,
		contrast: keyword.NewMatcher(r.Boost.ContrastWords),
		benefit:  keyword.NewMatcher(r.Boost.BenefitWords),
		pain:     keyword.NewMatcher(r.Boost.PainWords),
		persona:  keyword.NewMatcher(r.Boost.PersonaWords),
		scenario: keyword.NewMatcher(r.Boost.Scenarios),
		jargon:   keyword.NewMatcher(r.Penalty.Jargon),
	}
}

// Config はScorerが使用するパラメータを返す。
func (s *Scorer) Config() Config {
	return s.cfg
}

// Compute はヒートを計算する。結果は[0,100]で小数1桁に丸められる。
func (s *Scorer) Compute(in Input) float64 {
	b, ok := s.Breakdown(in)
	if !ok {
		return 0
	}
	return b.Heat
}

// Breakdown は各要素の値とヒートを計算する。入力が不完全な場合はfalseを返す。
func (s *Scorer) Breakdown(in Input) (Breakdown, bool) {
	if !in.complete() {
		return Breakdown{}, false
	}

	hours := HoursSince(*in.PublishedAt, *in.EvaluatedAt)
	b := Breakdown{
		TimeDecay: TimeDecay(hours, s.cfg.DecayHours),
		Account:   AccountScore(*in.Star),
		TitleCTR:  s.TitleCTRScore(in.Title),
		Buzz:      clamp01(*in.Buzz),
		Freshness: FreshnessBoost(hours, s.cfg.FreshnessHours),
	}

	w := s.cfg.Weights
	sum := w.TimeDecay*b.TimeDecay +
		w.Account*b.Account +
		w.TitleCTR*b.TitleCTR +
		w.Buzz*b.Buzz +
		w.Freshness*b.Freshness

	heat := math.Round(100*sum*10) / 10
	b.Heat = math.Max(0, math.Min(100, heat))
	return b, true
}

// TitleCTRScore はタイトルのクリック傾向スコアを[0,1]で返す。
// 前後の空白は除いて評価し、空白のみのタイトルは0。
func (s *Scorer) TitleCTRScore(title string) float64 {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0
	}
	boost := s.cfg.TitleRules.Boost
	penalty := s.cfg.TitleRules.Penalty

	score := titleBaseScore
	if boost.Numbers && containsDigit(title) {
		score += boost.NumbersWeight
	}
	if s.contrast.MatchAny(title) {
		score += boost.ContrastWeight
	}
	if s.benefit.MatchAny(title) {
		score += boost.BenefitWeight
	}
	if s.pain.MatchAny(title) {
		score += boost.PainWeight
	}
	if s.persona.MatchAny(title) {
		score += boost.PersonaWeight
	}
	if s.scenario.MatchAny(title) {
		score += boost.ScenariosWeight
	}

	if penalty.TooLong > 0 && utf8.RuneCountInString(title) > penalty.TooLong {
		score -= penalty.TooLongWeight
	}
	if n := s.jargon.Count(title); n > 0 {
		score -= penalty.JargonWeight * float64(n)
	}

	return clamp01(score)
}

// ComputeHeat はcfgでヒートを計算する。
// 繰り返し計算する場合はNewScorerで生成したScorerを使うこと。
func ComputeHeat(in Input, cfg Config) float64 {
	return NewScorer(cfg).Compute(in)
}

// HoursSince は公開から評価時刻までの経過時間（時間）を返す。未来の公開時刻は0。
func HoursSince(publishedAt, evaluatedAt time.Time) float64 {
	h := evaluatedAt.Sub(publishedAt).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// TimeDecay は exp(-hours/decayHours) を返す。負の経過時間は0として扱う。
func TimeDecay(hours, decayHours float64) float64 {
	if decayHours <= 0 {
		decayHours = DefaultDecayHours
	}
	if hours < 0 {
		hours = 0
	}
	return math.Exp(-hours / decayHours)
}

// AccountScore は (star-1)/4 を[0,1]に丸めて返す。
func AccountScore(star int) float64 {
	return clamp01(float64(star-1) / 4)
}

// FreshnessBoost は公開直後0.1から期間末に向けて線形に下がるブーストを返す。
// 期間内は0.051を下限とし、期間外はちょうど0。
func FreshnessBoost(hours, freshnessHours float64) float64 {
	if freshnessHours <= 0 || hours < 0 || hours > freshnessHours {
		return 0
	}
	boost := freshnessMaxBoost * (1 - hours/freshnessHours)
	return math.Max(freshnessFloor, boost)
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
