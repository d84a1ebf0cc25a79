package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"worksched/internal/auth"
	appLog "worksched/internal/log"
	"worksched/internal/model"
	"worksched/internal/schedule"
)

//go:embed templates/grid.html
var templateFS embed.FS

var gridTemplate = template.Must(template.ParseFS(templateFS, "templates/grid.html"))

type gridHeader struct {
	Day     int
	Weekday string
	Style   template.CSS
}

type gridCell struct {
	Code  model.Location
	Title string
	Style template.CSS
}

type gridRow struct {
	Summary schedule.UserSummary
	Mark    string
	Cells   []gridCell
}

type gridPage struct {
	Month   string
	Headers []gridHeader
	Rows    []gridRow
}

// handleGrid renders a read-only HTML grid of the month. The snapshot job
// captures this page; it waits for data-ready on the table.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	ym, err := s.monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	id, _ := auth.UserIDFromContext(r.Context())
	vm, err := s.loadViewModel(r.Context(), id, ym)
	if err != nil {
		appLog.Error("load grid failed", err, "month", ym.String())
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}

	var buf bytes.Buffer
	if err := gridTemplate.Execute(&buf, buildGridPage(vm)); err != nil {
		appLog.Error("render grid failed", err)
		writeError(w, http.StatusInternalServerError, "Render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func buildGridPage(vm *schedule.ViewModel) gridPage {
	days := vm.DaysInMonth()
	page := gridPage{Month: vm.YearMonth().String()}
	for _, d := range days {
		page.Headers = append(page.Headers, gridHeader{
			Day:     d,
			Weekday: vm.WeekdayName(d),
			Style:   template.CSS(vm.HeaderStyle(d).CSS()),
		})
	}
	for _, sum := range vm.Summary() {
		row := gridRow{Summary: sum}
		if sum.ChangeRequired {
			row.Mark = schedule.ChangeRequiredMark
		}
		for _, d := range days {
			loc := vm.GetLocation(sum.User.ID, d)
			row.Cells = append(row.Cells, gridCell{
				Code:  loc,
				Title: loc.Label(),
				Style: template.CSS(vm.CellStyle(sum.User.ID, d).CSS()),
			})
		}
		page.Rows = append(page.Rows, row)
	}
	return page
}
