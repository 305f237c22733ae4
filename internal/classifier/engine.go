package classifier

import (
	"swasthai-triage/internal/models"
)

// Engine 规则分诊引擎（纯函数，无共享可变状态，可并发调用）
type Engine struct {
	thresholds Thresholds
}

// NewEngine 创建引擎
func NewEngine(t Thresholds) (*Engine, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Engine{thresholds: t}, nil
}

// NewDefaultEngine 使用默认阈值创建引擎
func NewDefaultEngine() *Engine {
	return &Engine{thresholds: DefaultThresholds()}
}

// Thresholds 返回当前阈值
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// match 返回第一条命中的规则，没有命中时返回 fallback
func (e *Engine) match(r *models.IntakeRecord) *rule {
	for i := range rules {
		if rules[i].match(r, &e.thresholds) {
			return &rules[i]
		}
	}
	return &fallback
}

// Classify 对已校验的登记记录分诊
// 同样的输入总是得到同样的输出；输入范围由 intake.Validate 保证。
func (e *Engine) Classify(r models.IntakeRecord) models.Classification {
	hit := e.match(&r)
	return models.Classification{
		Band:        hit.band,
		Reason:      hit.reason,
		Action:      hit.action,
		Explanation: hit.explain(&r),
		Color:       hit.band.Color(),
	}
}

// RuleInfo 规则说明（用于展示规则表）
type RuleInfo struct {
	Band   models.RiskBand `json:"band"`
	Reason string          `json:"reason"`
	Action string          `json:"action"`
}

// Rules 按优先级返回全部规则（最后一条为默认 GREEN）
func (e *Engine) Rules() []RuleInfo {
	out := make([]RuleInfo, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, RuleInfo{Band: r.band, Reason: r.reason, Action: r.action})
	}
	return append(out, RuleInfo{Band: fallback.band, Reason: fallback.reason, Action: fallback.action})
}

// RuleFor 按原因查找规则
func (e *Engine) RuleFor(reason string) (RuleInfo, bool) {
	for _, r := range e.Rules() {
		if r.Reason == reason {
			return r, true
		}
	}
	return RuleInfo{}, false
}
