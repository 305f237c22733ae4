package classifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds 分诊规则阈值（可通过 YAML 文件覆盖，上线前需与临床规范核对）
type Thresholds struct {
	CriticalSpO2         float64 `yaml:"critical_spo2"`          // SpO2 低于此值 → EMERGENCY
	HyperpyrexiaF        float64 `yaml:"hyperpyrexia_f"`         // 体温高于此值 → RED
	FebrileF             float64 `yaml:"febrile_f"`              // 体温高于此值 → AMBER
	SevereTachycardiaBPM int     `yaml:"severe_tachycardia_bpm"` // 心率高于此值 → RED
	TachycardiaBPM       int     `yaml:"tachycardia_bpm"`        // 心率高于此值 → AMBER
	SeverePainScore      int     `yaml:"severe_pain_score"`      // 疼痛评分 >= → RED
	ModeratePainScore    int     `yaml:"moderate_pain_score"`    // 疼痛评分 >= → AMBER
	GeriatricAge         int     `yaml:"geriatric_age"`          // 年龄 >=
	AcuteOnsetDays       int     `yaml:"acute_onset_days"`       // 病程 < 视为急性
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalSpO2:         90,
		HyperpyrexiaF:        103,
		FebrileF:             100.4,
		SevereTachycardiaBPM: 120,
		TachycardiaBPM:       100,
		SeverePainScore:      8,
		ModeratePainScore:    5,
		GeriatricAge:         60,
		AcuteOnsetDays:       7,
	}
}

// Validate 检查阈值之间的一致性
func (t Thresholds) Validate() error {
	if t.CriticalSpO2 <= 0 || t.CriticalSpO2 > 100 {
		return fmt.Errorf("critical_spo2 must be in (0, 100], got %v", t.CriticalSpO2)
	}
	if t.FebrileF >= t.HyperpyrexiaF {
		return fmt.Errorf("febrile_f (%v) must be below hyperpyrexia_f (%v)", t.FebrileF, t.HyperpyrexiaF)
	}
	if t.TachycardiaBPM >= t.SevereTachycardiaBPM {
		return fmt.Errorf("tachycardia_bpm (%d) must be below severe_tachycardia_bpm (%d)", t.TachycardiaBPM, t.SevereTachycardiaBPM)
	}
	if t.ModeratePainScore >= t.SeverePainScore {
		return fmt.Errorf("moderate_pain_score (%d) must be below severe_pain_score (%d)", t.ModeratePainScore, t.SeverePainScore)
	}
	if t.SeverePainScore > 10 || t.ModeratePainScore < 0 {
		return fmt.Errorf("pain score thresholds must lie within 0..10")
	}
	if t.GeriatricAge <= 0 || t.AcuteOnsetDays <= 0 {
		return fmt.Errorf("geriatric_age and acute_onset_days must be positive")
	}
	return nil
}

// ParseThresholds 从 YAML 解析阈值，未给出的字段使用默认值
func ParseThresholds(data []byte) (Thresholds, error) {
	t := DefaultThresholds()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Thresholds{}, fmt.Errorf("failed to parse thresholds: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

// LoadThresholds 读取阈值文件；path 为空时返回默认值
func LoadThresholds(path string) (Thresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("failed to read thresholds file: %w", err)
	}
	return ParseThresholds(data)
}
