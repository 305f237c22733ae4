package models

import "time"

// Classification 分类结果（生成后不可变；不包含任何数值评分）
type Classification struct {
	Band        RiskBand `json:"band"`
	Reason      string   `json:"reason"`
	Action      string   `json:"action"`
	Explanation string   `json:"explanation"`
	Color       string   `json:"ui_color"`
}

// Status 排队状态
type Status string

const (
	StatusWaiting Status = "Waiting"
	StatusSeen    Status = "Seen"
)

// OverrideAnnotation 医生改判审计记录（只追加）
type OverrideAnnotation struct {
	Reason              string    `json:"reason"`
	Actor               string    `json:"actor"`
	At                  time.Time `json:"at"`
	PreviousBand        RiskBand  `json:"previous_band"`
	NewBand             RiskBand  `json:"new_band"`
	PreviousExplanation string    `json:"previous_explanation"`
}

// IntakeEvent 分诊事件（对应 intake_events 表）
type IntakeEvent struct {
	ID             string               `json:"id"`
	CreatedAt      time.Time            `json:"created_at"`
	Record         IntakeRecord         `json:"record"`
	Classification Classification       `json:"classification"`
	Status         Status               `json:"status"`
	SeenAt         *time.Time           `json:"seen_at,omitempty"`
	SeenBy         *string              `json:"seen_by,omitempty"`
	Annotations    []OverrideAnnotation `json:"annotations"`
}

// Clone 深拷贝（注解切片独立）
func (e *IntakeEvent) Clone() *IntakeEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.SeenAt != nil {
		t := *e.SeenAt
		c.SeenAt = &t
	}
	if e.SeenBy != nil {
		s := *e.SeenBy
		c.SeenBy = &s
	}
	c.Annotations = append([]OverrideAnnotation(nil), e.Annotations...)
	return &c
}
