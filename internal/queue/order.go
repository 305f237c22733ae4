package queue

import (
	"sort"
	"time"

	"swasthai-triage/internal/models"
)

// less 排序键 (band_rank, created_at, id)，保证全序
func less(a, b *models.IntakeEvent) bool {
	ra, rb := a.Classification.Band.Rank(), b.Classification.Band.Rank()
	if ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Order 按风险等级、到达时间、ID 升序排列
// 返回新切片，不修改输入；未知等级排在最后。
func Order(events []*models.IntakeEvent) []*models.IntakeEvent {
	out := make([]*models.IntakeEvent, 0, len(events))
	for _, ev := range events {
		if ev != nil {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Entry 排队视图中的一行
type Entry struct {
	Position    int                 `json:"position"`
	Event       *models.IntakeEvent `json:"event"`
	WaitMinutes int                 `json:"wait_minutes"`
}

// Project 生成排队视图：只保留 Waiting，排序，计算等待分钟数
// 每次读取重新计算，结果不做缓存。
func Project(events []*models.IntakeEvent, now time.Time) []Entry {
	waiting := make([]*models.IntakeEvent, 0, len(events))
	for _, ev := range events {
		if ev != nil && ev.Status == models.StatusWaiting {
			waiting = append(waiting, ev)
		}
	}
	ordered := Order(waiting)

	entries := make([]Entry, 0, len(ordered))
	for i, ev := range ordered {
		entries = append(entries, Entry{
			Position:    i + 1,
			Event:       ev,
			WaitMinutes: WaitMinutes(ev.CreatedAt, now),
		})
	}
	return entries
}

// WaitMinutes 已等待的整分钟数（时钟回拨时为 0）
func WaitMinutes(createdAt, now time.Time) int {
	d := now.Sub(createdAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// BandCount 某一等级的人数
type BandCount struct {
	Band  models.RiskBand `json:"band"`
	Count int             `json:"count"`
}

// QueueSummary 队列头部统计
type QueueSummary struct {
	Total  int         `json:"total"`
	ByBand []BandCount `json:"by_band"`
	Other  int         `json:"other,omitempty"`
}

// Summary 按等级统计人数（顺序固定为 EMERGENCY, RED, AMBER, GREEN）
func Summary(entries []Entry) QueueSummary {
	counts := make(map[models.RiskBand]int, len(models.AllBands))
	s := QueueSummary{Total: len(entries)}
	for _, e := range entries {
		b := e.Event.Classification.Band
		if b.Valid() {
			counts[b]++
		} else {
			s.Other++
		}
	}
	for _, b := range models.AllBands {
		s.ByBand = append(s.ByBand, BandCount{Band: b, Count: counts[b]})
	}
	return s
}
