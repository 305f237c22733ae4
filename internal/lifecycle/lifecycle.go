package lifecycle

import (
	"strings"
	"time"

	"swasthai-triage/internal/models"
)

const (
	ActionOverride = "override"
	ActionMarkSeen = "mark seen"
)

// SuggestedOverrideReasons 改判对话框中的常用原因（也可自由填写）
var SuggestedOverrideReasons = []string{
	"Clinical Judgement - Higher Acuity",
	"Clinical Judgement - Lower Acuity",
	"Incorrect Vitals Entry",
	"Patient Condition Changed",
	"Other",
}

// OverridePrefix 改判后解释文本的前缀
func OverridePrefix(reason string) string {
	return "[Override: " + reason + "] "
}

// Override 医生改判（只允许 Waiting 状态）
// 返回更新后的副本，输入不变。原因/建议不重新计算，只替换等级与颜色，
// 原解释保留在前缀之后，并追加一条审计注解。
func Override(ev *models.IntakeEvent, band models.RiskBand, reason, actor string, at time.Time) (*models.IntakeEvent, error) {
	reason = strings.TrimSpace(reason)

	var verrs models.ValidationErrors
	if !band.Valid() {
		verrs = append(verrs, models.FieldError{Field: "band", Message: "must be one of EMERGENCY, RED, AMBER, GREEN"})
	}
	if reason == "" {
		verrs = append(verrs, models.FieldError{Field: "reason", Message: "is required"})
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	if ev.Status != models.StatusWaiting {
		return nil, &models.StateTransitionError{EventID: ev.ID, From: ev.Status, Action: ActionOverride}
	}

	out := ev.Clone()
	prev := ev.Classification
	out.Classification.Band = band
	out.Classification.Color = band.Color()
	out.Classification.Explanation = OverridePrefix(reason) + prev.Explanation
	out.Annotations = append(out.Annotations, models.OverrideAnnotation{
		Reason:              reason,
		Actor:               actor,
		At:                  at,
		PreviousBand:        prev.Band,
		NewBand:             band,
		PreviousExplanation: prev.Explanation,
	})
	return out, nil
}

// MarkSeen Waiting -> Seen；已是 Seen 时原样返回，changed=false（幂等，不记审计）
func MarkSeen(ev *models.IntakeEvent, actor string, at time.Time) (*models.IntakeEvent, bool) {
	if ev.Status == models.StatusSeen {
		return ev.Clone(), false
	}
	out := ev.Clone()
	out.Status = models.StatusSeen
	seenAt := at
	out.SeenAt = &seenAt
	if actor != "" {
		by := actor
		out.SeenBy = &by
	}
	return out, true
}
