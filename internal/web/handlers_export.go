package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"worksched/internal/auth"
	"worksched/internal/export"
	"worksched/internal/ics"
	appLog "worksched/internal/log"
	"worksched/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleExportICS writes the month as an iCalendar file. user_id narrows the
// export to one user.
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	ym, err := s.monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	var only int64
	if v := r.URL.Query().Get("user_id"); v != "" {
		if only, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid user_id")
			return
		}
	}

	users, err := s.users.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	var entries []model.ScheduleEntry
	if only != 0 {
		entries, err = s.schedules.ListUserMonth(r.Context(), only, ym)
	} else {
		entries, err = s.schedules.ListMonth(r.Context(), ym)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}

	body, err := ics.Export(entries, ics.ExportOptions{
		Name:  "Work locations " + ym.String(),
		Users: names,
		Now:   s.now(),
	})
	if err != nil {
		appLog.Error("ics export failed", err, "month", ym.String())
		writeError(w, http.StatusInternalServerError, "Export failed")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="schedule-%s.ics"`, ym))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
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
	if err := export.WriteXLSX(&buf, vm); err != nil {
		appLog.Error("xlsx export failed", err, "month", ym.String())
		writeError(w, http.StatusInternalServerError, "Export failed")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="schedule-%s.xlsx"`, ym))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
