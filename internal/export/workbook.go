package export

import (
	"bytes"
	"fmt"
	"time"

	"swasthai-triage/internal/models"
	"swasthai-triage/internal/queue"

	"github.com/xuri/excelize/v2"
)

const (
	SheetQueue     = "Queue"
	SheetEvents    = "Events"
	SheetOverrides = "Overrides"
)

// QueueHeader 排队表头
var QueueHeader = []string{
	"Position", "Event ID", "Arrived", "Wait (min)", "Band", "Reason", "Action", "Explanation",
	"Age", "Sex", "Chief Complaint",
}

// EventsHeader 事件表头（含 Seen）
var EventsHeader = []string{
	"Event ID", "Arrived", "Status", "Seen At", "Seen By", "Band", "Reason", "Overrides",
	"Age", "Sex", "Temperature (F)", "SpO2 (%)", "Pulse", "Pain Score", "Duration (days)", "Chief Complaint",
}

// OverridesHeader 改判审计表头
var OverridesHeader = []string{
	"Event ID", "At", "Actor", "Previous Band", "New Band", "Reason", "Previous Explanation",
}

var bandFill = map[models.RiskBand]string{
	models.BandEmergency: "#404040",
	models.BandRed:       "#F8CBAD",
	models.BandAmber:     "#FFE699",
	models.BandGreen:     "#C6EFCE",
}

const timeLayout = "2006-01-02 15:04:05"

// Workbook 生成导出文件：当前排队、时间段内全部事件、改判审计
func Workbook(entries []queue.Entry, events []*models.IntakeEvent, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	w := &sheetWriter{f: f}
	if err := w.init(); err != nil {
		return nil, err
	}

	w.sheet(SheetQueue, QueueHeader, []float64{10, 38, 20, 10, 12, 26, 40, 60, 6, 8, 18})
	for i, e := range entries {
		ev := e.Event
		w.row(SheetQueue, i+2, ev.Classification.Band,
			e.Position, ev.ID, ev.CreatedAt.In(loc).Format(timeLayout), e.WaitMinutes,
			string(ev.Classification.Band), ev.Classification.Reason, ev.Classification.Action,
			ev.Classification.Explanation, ev.Record.Age, string(ev.Record.Sex), ev.Record.Complaint.Label(),
		)
	}

	w.sheet(SheetEvents, EventsHeader, []float64{38, 20, 10, 20, 16, 12, 26, 10, 6, 8, 16, 10, 8, 10, 16, 18})
	overrideRow := 2
	w.sheet(SheetOverrides, OverridesHeader, []float64{38, 20, 16, 14, 14, 36, 60})
	for i, ev := range events {
		seenAt, seenBy := "", ""
		if ev.SeenAt != nil {
			seenAt = ev.SeenAt.In(loc).Format(timeLayout)
		}
		if ev.SeenBy != nil {
			seenBy = *ev.SeenBy
		}
		r := ev.Record
		w.row(SheetEvents, i+2, ev.Classification.Band,
			ev.ID, ev.CreatedAt.In(loc).Format(timeLayout), string(ev.Status), seenAt, seenBy,
			string(ev.Classification.Band), ev.Classification.Reason, len(ev.Annotations),
			r.Age, string(r.Sex), r.TemperatureF, r.SpO2, r.Pulse, r.PainScore, r.DurationDays, r.Complaint.Label(),
		)
		for _, a := range ev.Annotations {
			w.row(SheetOverrides, overrideRow, a.NewBand,
				ev.ID, a.At.In(loc).Format(timeLayout), a.Actor, string(a.PreviousBand), string(a.NewBand),
				a.Reason, a.PreviousExplanation,
			)
			overrideRow++
		}
	}

	if w.err != nil {
		return nil, w.err
	}

	// 删除默认的 Sheet1 之后再取索引
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(SheetQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to get sheet index: %w", err)
	}
	f.SetActiveSheet(index)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter 记录第一个错误，后续写入全部跳过
type sheetWriter struct {
	f           *excelize.File
	headerStyle int
	bandStyles  map[models.RiskBand]int
	err         error
}

func (w *sheetWriter) init() error {
	var err error
	w.headerStyle, err = w.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	w.bandStyles = make(map[models.RiskBand]int, len(bandFill))
	for band, color := range bandFill {
		font := &excelize.Font{Bold: true}
		if band == models.BandEmergency {
			font.Color = "#FFFFFF"
		}
		id, err := w.f.NewStyle(&excelize.Style{
			Font: font,
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("failed to create band style: %w", err)
		}
		w.bandStyles[band] = id
	}
	return nil
}

func (w *sheetWriter) sheet(name string, headers []string, widths []float64) {
	if w.err != nil {
		return
	}
	if _, err := w.f.NewSheet(name); err != nil {
		w.err = fmt.Errorf("failed to create sheet %s: %w", name, err)
		return
	}
	if err := w.f.SetSheetRow(name, "A1", &headers); err != nil {
		w.err = fmt.Errorf("failed to write header of %s: %w", name, err)
		return
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	if err := w.f.SetCellStyle(name, "A1", last+"1", w.headerStyle); err != nil {
		w.err = fmt.Errorf("failed to set header style: %w", err)
		return
	}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := w.f.SetColWidth(name, col, col, width); err != nil {
			w.err = fmt.Errorf("failed to set column width: %w", err)
			return
		}
	}
	if err := w.f.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		w.err = fmt.Errorf("failed to freeze header: %w", err)
	}
}

// row 写一行；band 列按等级着色
func (w *sheetWriter) row(sheet string, row int, band models.RiskBand, values ...interface{}) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		w.err = fmt.Errorf("failed to convert coordinates: %w", err)
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
		return
	}

	style, ok := w.bandStyles[band]
	if !ok {
		return
	}
	for i, v := range values {
		if s, isStr := v.(string); isStr && s == string(band) {
			c, _ := excelize.CoordinatesToCellName(i+1, row)
			if err := w.f.SetCellStyle(sheet, c, c, style); err != nil {
				w.err = fmt.Errorf("failed to set band style: %w", err)
			}
			return
		}
	}
}
