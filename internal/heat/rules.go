package heat

import "encoding/json"

// TitleBoost はタイトルの加点ルールを表す。
type TitleBoost struct {
	Numbers         bool     `json:"numbers"`
	NumbersWeight   float64  `json:"numbers_weight"`
	ContrastWords   []string `json:"contrast_words"`
	ContrastWeight  float64  `json:"contrast_weight"`
	BenefitWords    []string `json:"benefit_words"`
	BenefitWeight   float64  `json:"benefit_weight"`
	PainWords       []string `json:"pain_words"`
	PainWeight      float64  `json:"pain_weight"`
	PersonaWords    []string `json:"persona_words"`
	PersonaWeight   float64  `json:"persona_weight"`
	Scenarios       []string `json:"scenarios"`
	ScenariosWeight float64  `json:"scenarios_weight"`
}

// TitlePenalty はタイトルの減点ルールを表す。
type TitlePenalty struct {
	TooLong       int      `json:"too_long"`
	TooLongWeight float64  `json:"too_long_weight"`
	Jargon        []string `json:"jargon"`
	JargonWeight  float64  `json:"jargon_weight"`
}

// TitleRules はタイトル傾向スコアのルール表。
type TitleRules struct {
	Boost   TitleBoost   `json:"boost"`
	Penalty TitlePenalty `json:"penalty"`
}

// DefaultTitleRules は既定のタイトルルールを返す。
func DefaultTitleRules() TitleRules {
	return TitleRules{
		Boost: TitleBoost{
			Numbers:         true,
			NumbersWeight:   0.08,
			ContrastWords:   []string{"对比", "vs", "VS", "还是", "or", "OR"},
			ContrastWeight:  0.06,
			BenefitWords:    []string{"提效", "一键", "避坑", "升级", "速通", "模板", "指南", "全流程", "免费", "白嫖"},
			BenefitWeight:   0.10,
			PainWords:       []string{"翻车", "踩雷", "坑", "别再", "毁了", "血亏"},
			PainWeight:      0.07,
			PersonaWords:    []string{"马斯克", "余承东", "OpenAI", "Claude", "Cursor", "Gemini", "Midjourney"},
			PersonaWeight:   0.05,
			Scenarios:       []string{"PPT", "会议纪要", "效率", "上班", "面试", "副业", "变现"},
			ScenariosWeight: 0.05,
		},
		Penalty: TitlePenalty{
			TooLong:       28,
			TooLongWeight: 0.08,
			Jargon:        []string{"LoRA参数", "采样器", "温度系数", "推理token"},
			JargonWeight:  0.06,
		},
	}
}

// DecodeTitleRules はJSONを既定ルールの上にマージして読み込む。
// JSONに含まれないフィールドは既定値のまま残る。
func DecodeTitleRules(raw []byte) (TitleRules, error) {
	rules := DefaultTitleRules()
	if len(raw) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return DefaultTitleRules(), err
	}
	return rules, nil
}
