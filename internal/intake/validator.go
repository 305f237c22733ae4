package intake

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"swasthai-triage/internal/models"
)

// 字段名（与登记接口的 JSON 键一致）
const (
	FieldAge                 = "age"
	FieldSex                 = "sex"
	FieldTemperature         = "temperature"
	FieldSpO2                = "spo2"
	FieldPulse               = "pulse"
	FieldChestPain           = "chest_pain"
	FieldBreathlessness      = "breathlessness"
	FieldBleeding            = "bleeding"
	FieldAlteredSensorium    = "altered_sensorium"
	FieldSevereAbdominalPain = "severe_abdominal_pain"
	FieldEyeInjury           = "eye_injury"
	FieldComplaint           = "chief_complaint"
	FieldDurationDays        = "duration_days"
	FieldPainScore           = "pain_score"
	FieldChronicConditions   = "chronic_conditions"
)

// 旧版登记向导使用的字段名
var aliases = map[string]string{
	FieldSex:       "gender",
	FieldComplaint: "complaint",
}

// Validate 校验并规范化原始登记数据
// 收集所有字段错误后一次性返回（models.ValidationErrors），成功时返回规范化后的记录。
func Validate(payload map[string]any) (*models.IntakeRecord, error) {
	v := &validator{payload: payload}
	rec := &models.IntakeRecord{}

	rec.Age = v.number(FieldAge, 0, 120)
	rec.Sex = v.sex()

	rec.TemperatureF = v.number(FieldTemperature, 90, 110)
	rec.SpO2 = v.number(FieldSpO2, 0, 100)
	rec.Pulse = v.number(FieldPulse, 0, 250)

	rec.ChestPain = v.boolean(FieldChestPain)
	rec.Breathlessness = v.boolean(FieldBreathlessness)
	rec.Bleeding = v.boolean(FieldBleeding)
	rec.AlteredSensorium = v.boolean(FieldAlteredSensorium)
	rec.SevereAbdominalPain = v.boolean(FieldSevereAbdominalPain)
	rec.EyeInjury = v.boolean(FieldEyeInjury)

	rec.Complaint = v.complaint()
	rec.DurationDays = v.number(FieldDurationDays, 0, 365)
	rec.PainScore = v.integer(FieldPainScore, 0, 10)
	rec.ChronicConditions = v.boolean(FieldChronicConditions)

	if len(v.errs) > 0 {
		return nil, v.errs
	}
	return rec, nil
}

type validator struct {
	payload map[string]any
	errs    models.ValidationErrors
}

func (v *validator) fail(field, msg string) {
	v.errs = append(v.errs, models.FieldError{Field: field, Message: msg})
}

// lookup 取字段值；空字符串和 null 视为缺失
func (v *validator) lookup(field string) (any, bool) {
	val, ok := v.payload[field]
	if !ok || val == nil {
		if alias, has := aliases[field]; has {
			val, ok = v.payload[alias]
		}
	}
	if !ok || val == nil {
		return nil, false
	}
	if s, isStr := val.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return val, true
}

func (v *validator) number(field string, min, max float64) float64 {
	raw, ok := v.lookup(field)
	if !ok {
		v.fail(field, "is required")
		return 0
	}
	n, ok := toFloat(raw)
	if !ok {
		v.fail(field, "must be a number")
		return 0
	}
	if n < min || n > max {
		v.fail(field, "must be between "+formatNumber(min)+" and "+formatNumber(max))
		return 0
	}
	return n
}

// integer 只用于 pain_score
func (v *validator) integer(field string, min, max float64) int {
	raw, ok := v.lookup(field)
	if !ok {
		v.fail(field, "is required")
		return 0
	}
	n, ok := toFloat(raw)
	if !ok {
		v.fail(field, "must be a number")
		return 0
	}
	if n != math.Trunc(n) {
		v.fail(field, "must be a whole number")
		return 0
	}
	if n < min || n > max {
		v.fail(field, "must be between "+formatNumber(min)+" and "+formatNumber(max))
		return 0
	}
	return int(n)
}

func (v *validator) boolean(field string) bool {
	raw, ok := v.lookup(field)
	if !ok {
		v.fail(field, "is required")
		return false
	}
	switch b := raw.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	v.fail(field, "must be a boolean")
	return false
}

func (v *validator) sex() models.Sex {
	raw, ok := v.lookup(FieldSex)
	if !ok {
		v.fail(FieldSex, "is required")
		return ""
	}
	s, isStr := raw.(string)
	if isStr {
		if sex, valid := models.ParseSex(s); valid {
			return sex
		}
	}
	v.fail(FieldSex, "must be one of male, female, other")
	return ""
}

func (v *validator) complaint() models.Complaint {
	raw, ok := v.lookup(FieldComplaint)
	if !ok {
		v.fail(FieldComplaint, "is required")
		return ""
	}
	s, isStr := raw.(string)
	if isStr {
		if c, valid := models.ParseComplaint(s); valid {
			return c
		}
	}
	v.fail(FieldComplaint, "must be a known chief complaint")
	return ""
}

func toFloat(raw any) (float64, bool) {
	var n float64
	switch val := raw.(type) {
	case float64:
		n = val
	case float32:
		n = float64(val)
	case int:
		n = float64(val)
	case int32:
		n = float64(val)
	case int64:
		n = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
