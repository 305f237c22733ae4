package classifier

import (
	"strconv"

	"swasthai-triage/internal/models"
)

// rule 规则表中的一条：按顺序求值，第一条命中的规则决定全部输出
type rule struct {
	band    models.RiskBand
	reason  string
	action  string
	match   func(r *models.IntakeRecord, t *Thresholds) bool
	explain func(r *models.IntakeRecord) string
}

func fixed(s string) func(*models.IntakeRecord) string {
	return func(*models.IntakeRecord) string { return s }
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// rules 优先级从高到低，顺序即临床优先级，不可调整
var rules = []rule{
	// ---------- EMERGENCY：立即处置 ----------
	{
		band:   models.BandEmergency,
		reason: "Critical Hypoxia",
		action: "Immediate oxygen & resuscitation room",
		match:  func(r *models.IntakeRecord, t *Thresholds) bool { return r.SpO2 < t.CriticalSpO2 },
		explain: func(r *models.IntakeRecord) string {
			return "SpO2 at " + num(r.SpO2) + "% indicates critical respiratory failure."
		},
	},
	{
		band:    models.BandEmergency,
		reason:  "Cardiopulmonary Compromise",
		action:  "Immediate ECG & physician review",
		match:   func(r *models.IntakeRecord, _ *Thresholds) bool { return r.ChestPain && r.Breathlessness },
		explain: fixed("Chest pain combined with dyspnea suggests acute cardiac event."),
	},
	{
		band:    models.BandEmergency,
		reason:  "Active Hemorrhage",
		action:  "Immediate hemostasis & fluids",
		match:   func(r *models.IntakeRecord, _ *Thresholds) bool { return r.Bleeding },
		explain: fixed("Active uncontrolled bleeding reported."),
	},
	{
		band:    models.BandEmergency,
		reason:  "Altered Mental Status",
		action:  "Secure airway & immediate neurological check",
		match:   func(r *models.IntakeRecord, _ *Thresholds) bool { return r.AlteredSensorium },
		explain: fixed("Patient reports confusion or reduced consciousness."),
	},
	{
		band:    models.BandEmergency,
		reason:  "Ocular Emergency",
		action:  "Immediate ophthalmology/ED assessment",
		match:   func(r *models.IntakeRecord, _ *Thresholds) bool { return r.EyeInjury },
		explain: fixed("Potential vision-threatening eye trauma."),
	},

	// ---------- RED：15-30 分钟内评估 ----------
	{
		band:    models.BandRed,
		reason:  "Chest Pain",
		action:  "Urgent ECG within 15 mins",
		match:   func(r *models.IntakeRecord, _ *Thresholds) bool { return r.ChestPain },
		explain: fixed("Chest pain requires urgent exclusion of ACS."),
	},
	{
		band:   models.BandRed,
		reason: "Severe Abdominal Pain",
		action: "Urgent surgical assessment & pain management",
		match: func(r *models.IntakeRecord, t *Thresholds) bool {
			return r.SevereAbdominalPain ||
				(r.Complaint == models.ComplaintAbdominalPain && r.PainScore >= t.SeverePainScore)
		},
		explain: fixed("Severe intensity abdominal pain."),
	},
	{
		band:    models.BandRed,
		reason:  "Respiratory Distress",
		action:  "Urgent nebulization/assessment",
		match:   func(r *models.IntakeRecord, _ *Thresholds) bool { return r.Breathlessness },
		explain: fixed("Difficulty breathing reported."),
	},
	{
		band:   models.BandRed,
		reason: "Hyperpyrexia",
		action: "Urgent antipyretics & evaluation",
		match:  func(r *models.IntakeRecord, t *Thresholds) bool { return r.TemperatureF > t.HyperpyrexiaF },
		explain: func(r *models.IntakeRecord) string {
			return "Temperature of " + num(r.TemperatureF) + "°F is dangerously high."
		},
	},
	{
		band:   models.BandRed,
		reason: "Significant Tachycardia",
		action: "Urgent vitals monitoring",
		match:  func(r *models.IntakeRecord, t *Thresholds) bool { return r.Pulse > float64(t.SevereTachycardiaBPM) },
		explain: func(r *models.IntakeRecord) string {
			return "Resting heart rate of " + num(r.Pulse) + " bpm is elevated."
		},
	},
	{
		band:   models.BandRed,
		reason: "Severe Pain",
		action: "Urgent analgesia & assessment",
		match:  func(r *models.IntakeRecord, t *Thresholds) bool { return r.PainScore >= t.SeverePainScore },
		explain: func(r *models.IntakeRecord) string {
			return "Pain score of " + strconv.Itoa(r.PainScore) + "/10 requires urgent relief."
		},
	},

	// ---------- AMBER：60 分钟内评估 ----------
	{
		band:    models.BandAmber,
		reason:  "Febrile",
		action:  "Doctor review within 60 mins",
		match:   func(r *models.IntakeRecord, t *Thresholds) bool { return r.TemperatureF > t.FebrileF },
		explain: fixed("Moderate fever present."),
	},
	{
		band:   models.BandAmber,
		reason: "Moderate Pain",
		action: "Analgesia & assessment",
		match:  func(r *models.IntakeRecord, t *Thresholds) bool { return r.PainScore >= t.ModeratePainScore },
		explain: func(r *models.IntakeRecord) string {
			return "Pain score " + strconv.Itoa(r.PainScore) + "/10."
		},
	},
	{
		band:    models.BandAmber,
		reason:  "Tachycardia",
		action:  "Check dehydration/infection",
		match:   func(r *models.IntakeRecord, t *Thresholds) bool { return r.Pulse > float64(t.TachycardiaBPM) },
		explain: fixed("Heart rate is mildly elevated."),
	},
	{
		band:   models.BandAmber,
		reason: "Geriatric Risk",
		action: "Prioritize slightly for age",
		match: func(r *models.IntakeRecord, t *Thresholds) bool {
			return r.Age >= float64(t.GeriatricAge) && r.DurationDays < float64(t.AcuteOnsetDays)
		},
		explain: fixed("Senior patient with acute onset symptoms."),
	},
	{
		band:   models.BandAmber,
		reason: "Comorbidity Factor",
		action: "Review concurrent med/conditions",
		match: func(r *models.IntakeRecord, t *Thresholds) bool {
			return r.ChronicConditions && r.DurationDays < float64(t.AcuteOnsetDays)
		},
		explain: fixed("New symptoms in patient with chronic history."),
	},
}

// fallback 没有规则命中时的 GREEN 结果
var fallback = rule{
	band:    models.BandGreen,
	reason:  "Non-Urgent",
	action:  "Routine OPD Consult",
	match:   func(*models.IntakeRecord, *Thresholds) bool { return true },
	explain: fixed("Vitals stable, no red flags detected."),
}
