// Package export writes the monthly grid as an Excel workbook and reads it back.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	appLog "worksched/internal/log"
	"worksched/internal/model"
	"worksched/internal/schedule"
)

const (
	headerRow    = 1
	weekdayRow   = 2
	firstUserRow = 3
	firstDayCol  = 3

	colRemote  = "在宅"
	colWorking = "出勤日"
	colChange  = "通勤"
)

var namedColors = map[string]string{
	"black": "000000",
	"red":   "FF0000",
	"blue":  "0000FF",
}

// hexColor turns CSS colours used by the grid into excelize's RRGGBB form.
// It returns "" for transparent or unknown values.
func hexColor(c string) string {
	c = strings.TrimSpace(strings.ToLower(c))
	if v, ok := namedColors[c]; ok {
		return v
	}
	if !strings.HasPrefix(c, "#") {
		return ""
	}
	c = c[1:]
	if len(c) == 3 {
		c = string([]byte{c[0], c[0], c[1], c[1], c[2], c[2]})
	}
	if len(c) != 6 {
		return ""
	}
	if _, err := strconv.ParseUint(c, 16, 32); err != nil {
		return ""
	}
	return strings.ToUpper(c)
}

type styleCache struct {
	f   *excelize.File
	ids map[schedule.Style]int
}

func (c *styleCache) id(s schedule.Style) (int, error) {
	s.Cursor, s.Locked, s.Opacity = "", false, 0
	if id, ok := c.ids[s]; ok {
		return id, nil
	}
	st := &excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "BFBFBF", Style: 1},
			{Type: "right", Color: "BFBFBF", Style: 1},
			{Type: "top", Color: "BFBFBF", Style: 1},
			{Type: "bottom", Color: "BFBFBF", Style: 1},
		},
	}
	if fg := hexColor(s.Color); fg != "" {
		st.Font = &excelize.Font{Color: fg}
	}
	if bg := hexColor(s.Background); bg != "" {
		st.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{bg}}
	}
	id, err := c.f.NewStyle(st)
	if err != nil {
		return 0, err
	}
	c.ids[s] = id
	return id, nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// Workbook builds a single-sheet workbook named YYYY-MM from the loaded grid.
func Workbook(vm *schedule.ViewModel) (*excelize.File, error) {
	ym := vm.YearMonth()
	sheet := ym.String()
	days := vm.DaysInMonth()

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	styles := &styleCache{f: f, ids: map[schedule.Style]int{}}

	set := func(col, row int, v any, style *schedule.Style) error {
		ref := cell(col, row)
		if err := f.SetCellValue(sheet, ref, v); err != nil {
			return err
		}
		if style == nil {
			return nil
		}
		id, err := styles.id(*style)
		if err != nil {
			return err
		}
		return f.SetCellStyle(sheet, ref, ref, id)
	}

	fail := func(err error) (*excelize.File, error) {
		_ = f.Close()
		return nil, fmt.Errorf("build workbook %s: %w", sheet, err)
	}

	if err := set(1, headerRow, "ID", nil); err != nil {
		return fail(err)
	}
	if err := set(2, headerRow, "Name", nil); err != nil {
		return fail(err)
	}
	for i, d := range days {
		hs := vm.HeaderStyle(d)
		if err := set(firstDayCol+i, headerRow, d, &hs); err != nil {
			return fail(err)
		}
		if err := set(firstDayCol+i, weekdayRow, vm.WeekdayName(d), &hs); err != nil {
			return fail(err)
		}
	}
	tail := firstDayCol + len(days)
	for i, title := range []string{colRemote, colWorking, colChange} {
		if err := set(tail+i, headerRow, title, nil); err != nil {
			return fail(err)
		}
	}

	for r, sum := range vm.Summary() {
		row := firstUserRow + r
		u := sum.User
		if err := set(1, row, u.ID, nil); err != nil {
			return fail(err)
		}
		if err := set(2, row, u.Name, nil); err != nil {
			return fail(err)
		}
		for i, d := range days {
			cs := vm.CellStyle(u.ID, d)
			var v any
			if loc := vm.GetLocation(u.ID, d); !loc.IsEmpty() {
				v = string(loc)
			}
			if err := set(firstDayCol+i, row, v, &cs); err != nil {
				return fail(err)
			}
		}
		mark := ""
		if sum.ChangeRequired {
			mark = schedule.ChangeRequiredMark
		}
		for i, v := range []any{sum.RemoteDays, sum.WorkingDays, mark} {
			if err := set(tail+i, row, v, nil); err != nil {
				return fail(err)
			}
		}
	}

	first, _ := excelize.ColumnNumberToName(firstDayCol)
	last, _ := excelize.ColumnNumberToName(tail - 1)
	if err := f.SetColWidth(sheet, first, last, 4); err != nil {
		return fail(err)
	}
	if err := f.SetColWidth(sheet, "B", "B", 16); err != nil {
		return fail(err)
	}
	return f, nil
}

// WriteXLSX writes the workbook of vm to w.
func WriteXLSX(w io.Writer, vm *schedule.ViewModel) error {
	f, err := Workbook(vm)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.Write(w); err != nil {
		return err
	}
	appLog.Debug("xlsx written", "month", vm.YearMonth().String())
	return nil
}

// ReadXLSX parses a workbook produced by WriteXLSX. Unknown codes are skipped.
func ReadXLSX(r io.Reader) (model.YearMonth, []model.ScheduleEntry, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return model.YearMonth{}, nil, err
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return model.YearMonth{}, nil, fmt.Errorf("no worksheet found")
	}
	ym, err := model.ParseYearMonth(sheet)
	if err != nil {
		return model.YearMonth{}, nil, err
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return ym, nil, err
	}
	if len(rows) < firstUserRow {
		return ym, nil, nil
	}

	header := rows[headerRow-1]
	dayCols := map[int]int{}
	for i := firstDayCol - 1; i < len(header); i++ {
		d, err := strconv.Atoi(strings.TrimSpace(header[i]))
		if err != nil || d < 1 || d > ym.Days() {
			continue
		}
		dayCols[i] = d
	}

	var out []model.ScheduleEntry
	for _, row := range rows[firstUserRow-1:] {
		if len(row) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			continue
		}
		for i := firstDayCol - 1; i < len(row); i++ {
			d, ok := dayCols[i]
			if !ok {
				continue
			}
			loc := model.Location(strings.TrimSpace(row[i]))
			if loc.IsEmpty() || !loc.Valid() {
				continue
			}
			out = append(out, model.ScheduleEntry{UserID: id, WorkDate: ym.Date(d), Location: loc})
		}
	}
	return ym, out, nil
}
