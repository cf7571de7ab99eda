// Package heat はプロキシヒート（0〜100の人気推定スコア）の計算を提供する。
// 時間減衰、アカウント評価、タイトル傾向、外部拡散シグナル、鮮度の5要素を
// 重み付きで合成する。すべての関数は純粋で、時計を内部で参照しない。
package heat

import (
	"fmt"
	"math"
	"sort"
)

// 重みマップのキー。
const (
	KeyTimeDecay = "time_decay"
	KeyAccount   = "account"
	KeyTitleCTR  = "title_ctr"
	KeyBuzz      = "buzz"
	KeyFreshness = "freshness"
)

// StrictWeightTolerance はスコアリングライブラリ内部で許容する重み合計の誤差。
const StrictWeightTolerance = 0.001

// RequiredWeightKeys は重みマップに必須の5キーを返す。
func RequiredWeightKeys() []string {
	return []string{KeyTimeDecay, KeyAccount, KeyTitleCTR, KeyBuzz, KeyFreshness}
}

// Weights は5要素の重みを表す。合計は1.0であること。
type Weights struct {
	TimeDecay float64 `json:"time_decay"`
	Account   float64 `json:"account"`
	TitleCTR  float64 `json:"title_ctr"`
	Buzz      float64 `json:"buzz"`
	Freshness float64 `json:"freshness"`
}

// DefaultWeights は既定の重みを返す。
func DefaultWeights() Weights {
	return Weights{
		TimeDecay: 0.40,
		Account:   0.25,
		TitleCTR:  0.20,
		Buzz:      0.10,
		Freshness: 0.05,
	}
}

// Sum は重みの合計を返す。
func (w Weights) Sum() float64 {
	return w.TimeDecay + w.Account + w.TitleCTR + w.Buzz + w.Freshness
}

// Map は重みをキー付きマップに変換する。
func (w Weights) Map() map[string]float64 {
	return map[string]float64{
		KeyTimeDecay: w.TimeDecay,
		KeyAccount:   w.Account,
		KeyTitleCTR:  w.TitleCTR,
		KeyBuzz:      w.Buzz,
		KeyFreshness: w.Freshness,
	}
}

// WeightsFromMap はキー付きマップから重みを構築し、tolerance以内で検証する。
func WeightsFromMap(m map[string]float64, tolerance float64) (Weights, error) {
	var missing []string
	for _, k := range RequiredWeightKeys() {
		if _, ok := m[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Weights{}, fmt.Errorf("missing weight keys: %v", missing)
	}

	w := Weights{
		TimeDecay: m[KeyTimeDecay],
		Account:   m[KeyAccount],
		TitleCTR:  m[KeyTitleCTR],
		Buzz:      m[KeyBuzz],
		Freshness: m[KeyFreshness],
	}
	if err := w.validate(tolerance); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// Validate は重みを厳格な許容誤差（0.001）で検証する。
func (w Weights) Validate() error {
	return w.validate(StrictWeightTolerance)
}

func (w Weights) validate(tolerance float64) error {
	m := w.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m[k]
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("weight %s must be within [0,1], got %v", k, v)
		}
	}
	// 浮動小数点の丸め誤差で境界値（例: 0.999）を落とさないよう微小値を足す
	if sum := w.Sum(); math.Abs(sum-1) > tolerance+1e-9 {
		return fmt.Errorf("weights must sum to 1.0 (±%g), got %.4f", tolerance, sum)
	}
	return nil
}

// ValidateWeights は任意の値を持つ重みマップを厳格に検証する。
// 5つの必須キーがすべて[0,1]の数値であり、合計が1.0±0.001であること。
func ValidateWeights(m map[string]any) error {
	numeric := make(map[string]float64, len(m))
	for _, k := range RequiredWeightKeys() {
		raw, ok := m[k]
		if !ok {
			continue
		}
		v, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("weight %s must be a number, got %T", k, raw)
		}
		numeric[k] = v
	}
	_, err := WeightsFromMap(numeric, StrictWeightTolerance)
	return err
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
