package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hitoshi/mpheat/internal/classifier"
	"github.com/hitoshi/mpheat/internal/heat"
	"github.com/hitoshi/mpheat/internal/pacing"
)

// 既知の設定キー。
const (
	KeyHeatWeights    = "heat_weights"
	KeyTitleRules     = "title_rules"
	KeyCategoryRules  = "category_rules"
	KeyRateLimits     = "rate_limits"
	KeyTimeDecayHours = "time_decay_hours"
	KeyFreshnessHours = "freshness_hours"
)

// WeightTolerance は設定保存時に許容する重み合計の誤差。
// スコアリングライブラリ内部の検証（heat.StrictWeightTolerance）より緩い。
const WeightTolerance = 0.01

// codec はキーごとの検証と既定値を表す。
type codec struct {
	defaultValue func() any
	validate     func(raw json.RawMessage) error
}

var codecs = map[string]codec{
	KeyHeatWeights: {
		defaultValue: func() any { return heat.DefaultWeights() },
		validate: func(raw json.RawMessage) error {
			_, err := DecodeWeights(raw, WeightTolerance)
			return err
		},
	},
	KeyTitleRules: {
		defaultValue: func() any { return heat.DefaultTitleRules() },
		validate: func(raw json.RawMessage) error {
			rules, err := heat.DecodeTitleRules(raw)
			if err != nil {
				return err
			}
			return validateTitleRules(rules)
		},
	},
	KeyCategoryRules: {
		defaultValue: func() any { return classifier.DefaultRules() },
		validate: func(raw json.RawMessage) error {
			var rules classifier.Rules
			if err := json.Unmarshal(raw, &rules); err != nil {
				return err
			}
			return rules.Validate()
		},
	},
	KeyRateLimits: {
		defaultValue: func() any { return pacing.DefaultLimits() },
		validate: func(raw json.RawMessage) error {
			limits, err := pacing.MergeLimits(raw)
			if err != nil {
				return err
			}
			return limits.Validate()
		},
	},
	KeyTimeDecayHours: {
		defaultValue: func() any { return heat.DefaultDecayHours },
		validate: func(raw json.RawMessage) error {
			_, err := DecodeHours(raw)
			return err
		},
	},
	KeyFreshnessHours: {
		defaultValue: func() any { return heat.DefaultFreshnessHours },
		validate: func(raw json.RawMessage) error {
			_, err := DecodeHours(raw)
			return err
		},
	},
}

// IsKnownKey は検証規則を持つ設定キーかを返す。
func IsKnownKey(key string) bool {
	_, ok := codecs[key]
	return ok
}

// KnownKeys は既知の設定キーを辞書順で返す。
func KnownKeys() []string {
	keys := make([]string, 0, len(codecs))
	for k := range codecs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults は既知キーの既定値を返す。
func Defaults() map[string]any {
	out := make(map[string]any, len(codecs))
	for k, c := range codecs {
		out[k] = c.defaultValue()
	}
	return out
}

// Validate はキーに対応する規則で値を検証する。
// 未知のキーは整形式のJSONであれば受け入れる。
func Validate(key string, raw json.RawMessage) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return fmt.Errorf("value must be valid JSON")
	}
	c, ok := codecs[key]
	if !ok {
		return nil
	}
	return c.validate(raw)
}

// DecodeWeights はheat_weightsの値を読み込み、tolerance以内で検証する。
// 5つの必須キー以外を含む場合と数値以外の値はエラー。
func DecodeWeights(raw json.RawMessage, tolerance float64) (heat.Weights, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return heat.Weights{}, fmt.Errorf("weights must be an object: %w", err)
	}
	return WeightsFromAny(m, tolerance)
}

// WeightsFromAny は任意の値を持つ重みマップを検証して重みに変換する。
func WeightsFromAny(m map[string]any, tolerance float64) (heat.Weights, error) {
	required := make(map[string]bool)
	for _, k := range heat.RequiredWeightKeys() {
		required[k] = true
	}

	numeric := make(map[string]float64, len(m))
	for k, v := range m {
		if !required[k] {
			return heat.Weights{}, fmt.Errorf("unknown weight key %q", k)
		}
		f, ok := v.(float64)
		if !ok {
			return heat.Weights{}, fmt.Errorf("weight %s must be a number", k)
		}
		numeric[k] = f
	}
	return heat.WeightsFromMap(numeric, tolerance)
}

// DecodeHours は時間（時）の設定値を読み込む。数値または数値文字列を受け付け、正であること。
func DecodeHours(raw json.RawMessage) (float64, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}

	var hours float64
	switch n := v.(type) {
	case float64:
		hours = n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("hours must be a number, got %q", n)
		}
		hours = f
	default:
		return 0, fmt.Errorf("hours must be a number")
	}
	if !(hours > 0) {
		return 0, fmt.Errorf("hours must be positive, got %v", hours)
	}
	return hours, nil
}

func validateTitleRules(r heat.TitleRules) error {
	weights := map[string]float64{
		"numbers_weight":   r.Boost.NumbersWeight,
		"contrast_weight":  r.Boost.ContrastWeight,
		"benefit_weight":   r.Boost.BenefitWeight,
		"pain_weight":      r.Boost.PainWeight,
		"persona_weight":   r.Boost.PersonaWeight,
		"scenarios_weight": r.Boost.ScenariosWeight,
		"too_long_weight":  r.Penalty.TooLongWeight,
		"jargon_weight":    r.Penalty.JargonWeight,
	}
	for _, name := range sortedKeys(weights) {
		if w := weights[name]; w < 0 || w > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, w)
		}
	}
	if r.Penalty.TooLong < 0 {
		return fmt.Errorf("too_long must be >= 0, got %d", r.Penalty.TooLong)
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
