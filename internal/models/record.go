package models

import "strings"

// Sex 性别
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// ParseSex 解析性别（大小写不敏感，兼容 "Male"）
func ParseSex(s string) (Sex, bool) {
	switch Sex(strings.ToLower(strings.TrimSpace(s))) {
	case SexMale:
		return SexMale, true
	case SexFemale:
		return SexFemale, true
	case SexOther:
		return SexOther, true
	}
	return "", false
}

// Complaint 主诉（固定枚举）
type Complaint string

const (
	ComplaintFever         Complaint = "fever"
	ComplaintCough         Complaint = "cough"
	ComplaintHeadache      Complaint = "headache"
	ComplaintBodyAche      Complaint = "body_ache"
	ComplaintAbdominalPain Complaint = "abdominal_pain"
	ComplaintIndigestion   Complaint = "indigestion"
	ComplaintLooseMotion   Complaint = "loose_motion"
	ComplaintVomiting      Complaint = "vomiting"
	ComplaintUrinaryIssues Complaint = "urinary_issues"
	ComplaintSkinRash      Complaint = "skin_rash"
	ComplaintEarPain       Complaint = "ear_pain"
	ComplaintEyePain       Complaint = "eye_pain"
	ComplaintDentalPain    Complaint = "dental_pain"
	ComplaintInjury        Complaint = "injury"
	ComplaintWeakness      Complaint = "weakness"
	ComplaintOther         Complaint = "other"
)

// Complaints 全部主诉，顺序与登记向导一致
var Complaints = []Complaint{
	ComplaintFever, ComplaintCough, ComplaintHeadache, ComplaintBodyAche,
	ComplaintAbdominalPain, ComplaintIndigestion, ComplaintLooseMotion, ComplaintVomiting,
	ComplaintUrinaryIssues, ComplaintSkinRash, ComplaintEarPain, ComplaintEyePain,
	ComplaintDentalPain, ComplaintInjury, ComplaintWeakness, ComplaintOther,
}

var complaintLabels = map[Complaint]string{
	ComplaintFever:         "Fever",
	ComplaintCough:         "Cough",
	ComplaintHeadache:      "Headache",
	ComplaintBodyAche:      "Body Ache",
	ComplaintAbdominalPain: "Abdominal Pain",
	ComplaintIndigestion:   "Indigestion",
	ComplaintLooseMotion:   "Loose Motion",
	ComplaintVomiting:      "Vomiting",
	ComplaintUrinaryIssues: "Urinary Issues",
	ComplaintSkinRash:      "Skin Rash",
	ComplaintEarPain:       "Ear Pain",
	ComplaintEyePain:       "Eye Pain",
	ComplaintDentalPain:    "Dental Pain",
	ComplaintInjury:        "Injury",
	ComplaintWeakness:      "Weakness",
	ComplaintOther:         "Other",
}

// Label 显示名称
func (c Complaint) Label() string {
	return complaintLabels[c]
}

// ParseComplaint 解析主诉，接受编码（abdominal_pain）或显示名称（Abdominal Pain）
func ParseComplaint(s string) (Complaint, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	c := Complaint(norm)
	if _, ok := complaintLabels[c]; ok {
		return c, true
	}
	return "", false
}

// IntakeRecord 校验后的分诊登记数据（交给分类器）
type IntakeRecord struct {
	Age float64 `json:"age"`
	Sex Sex     `json:"sex"`

	// 生命体征
	TemperatureF float64 `json:"temperature"` // °F
	SpO2         float64 `json:"spo2"`        // %
	Pulse        float64 `json:"pulse"`       // bpm

	// 红旗症状
	ChestPain           bool `json:"chest_pain"`
	Breathlessness      bool `json:"breathlessness"`
	Bleeding            bool `json:"bleeding"`
	AlteredSensorium    bool `json:"altered_sensorium"`
	SevereAbdominalPain bool `json:"severe_abdominal_pain"`
	EyeInjury           bool `json:"eye_injury"`

	// 临床信息
	Complaint         Complaint `json:"chief_complaint"`
	DurationDays      float64   `json:"duration_days"`
	PainScore         int       `json:"pain_score"` // 只有疼痛评分要求整数
	ChronicConditions bool      `json:"chronic_conditions"`
}
