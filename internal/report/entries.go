// Package report renders entry history for download.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"gate-service/internal/service"
)

const (
	sheetName   = "Entries"
	timeLayout  = "2006-01-02 15:04:05"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var header = []interface{}{
	"ID", "Plate", "Plate confidence", "Status", "Entry time", "Exit time", "Stay (min)", "Plate image", "Face image",
}

// EntriesXLSX renders entries as a single-sheet workbook, times in loc.
func EntriesXLSX(entries []service.EntryInfo, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", "I1", bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := entryRow(e, loc)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheetName, "A", "A", 38); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheetName, "B", "G", 18); err != nil {
		return nil, err
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func entryRow(e service.EntryInfo, loc *time.Location) []interface{} {
	exit, stay := "", ""
	if e.ExitTime != nil {
		exit = e.ExitTime.In(loc).Format(timeLayout)
		stay = fmt.Sprintf("%.0f", e.ExitTime.Sub(e.EntryTime).Minutes())
	}
	return []interface{}{
		e.ID,
		e.PlateText,
		e.PlateConfidence,
		e.Status,
		e.EntryTime.In(loc).Format(timeLayout),
		exit,
		stay,
		deref(e.PlateImageRef),
		deref(e.FaceImageRef),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
