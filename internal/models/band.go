package models

import "strings"

// RiskBand 分诊风险等级（EMERGENCY > RED > AMBER > GREEN）
type RiskBand string

const (
	BandEmergency RiskBand = "EMERGENCY"
	BandRed       RiskBand = "RED"
	BandAmber     RiskBand = "AMBER"
	BandGreen     RiskBand = "GREEN"
)

// UnknownBandRank 未识别等级的排序值（排在最后）
const UnknownBandRank = 99

// AllBands 按紧急程度从高到低
var AllBands = []RiskBand{BandEmergency, BandRed, BandAmber, BandGreen}

// Rank 队列排序值：EMERGENCY=1 ... GREEN=4，未知=99
func (b RiskBand) Rank() int {
	switch b {
	case BandEmergency:
		return 1
	case BandRed:
		return 2
	case BandAmber:
		return 3
	case BandGreen:
		return 4
	default:
		return UnknownBandRank
	}
}

// Valid 是否为已知等级
func (b RiskBand) Valid() bool {
	return b.Rank() != UnknownBandRank
}

// Color UI 颜色标识，只由等级决定
func (b RiskBand) Color() string {
	switch b {
	case BandEmergency:
		return "black"
	case BandRed:
		return "red"
	case BandAmber:
		return "amber"
	case BandGreen:
		return "green"
	default:
		return ""
	}
}

// ParseRiskBand 解析等级（大小写不敏感）
func ParseRiskBand(s string) (RiskBand, bool) {
	b := RiskBand(strings.ToUpper(strings.TrimSpace(s)))
	return b, b.Valid()
}
