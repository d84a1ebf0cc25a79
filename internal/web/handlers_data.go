package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"worksched/internal/auth"
	appLog "worksched/internal/log"
	"worksched/internal/model"
	"worksched/internal/store"
)

type createUserRequest struct {
	EmployeeNumber string `json:"employee_number"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
}

type allowanceRequest struct {
	Allowance model.AllowanceStatus `json:"allowance"`
}

type upsertRequest struct {
	UserID   int64   `json:"user_id"`
	WorkDate string  `json:"work_date"`
	Location *string `json:"location"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		appLog.Error("list users failed", err)
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	u, err := s.users.Create(r.Context(), store.NewUser{
		EmployeeNumber: req.EmployeeNumber,
		Name:           req.Name,
		Email:          req.Email,
		PasswordHash:   hash,
	})
	if err != nil {
		appLog.Warn("create user failed", "email", req.Email, "err", err)
		writeError(w, http.StatusConflict, "User could not be created")
		return
	}
	appLog.Info("user created", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleMissingSchedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, yerr := strconv.Atoi(q.Get("year"))
	month, merr := strconv.Atoi(q.Get("month"))
	if yerr != nil || merr != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "year and month are required")
		return
	}
	ym := model.YearMonth{Year: year, Month: time.Month(month)}
	users, err := s.users.MissingSchedule(r.Context(), ym)
	if err != nil {
		appLog.Error("missing schedule query failed", err, "month", ym.String())
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	appLog.Info("users without schedule", "month", ym.String(), "count", len(users))
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUpdateAllowance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	var req allowanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Allowance.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid allowance")
		return
	}
	if err := s.users.UpdateAllowance(r.Context(), id, req.Allowance); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		appLog.Error("update allowance failed", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	u, err := s.users.GetByID(r.Context(), id)
	if err != nil || u == nil {
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	appLog.Info("commuting allowance updated", "user_id", id, "allowance", string(req.Allowance))
	writeJSON(w, http.StatusOK, u.User)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	ym, err := s.monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	entries, err := s.schedules.ListMonth(r.Context(), ym)
	if err != nil {
		appLog.Error("list schedules failed", err, "month", ym.String())
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleUpsertSchedule stores or deletes one entry of the caller. A null or
// blank location deletes.
func (s *Server) handleUpsertSchedule(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserIDFromContext(r.Context())
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.UserID != caller {
		writeError(w, http.StatusForbidden, "Cannot modify another user's schedule")
		return
	}
	if _, err := time.Parse(model.DateLayout, req.WorkDate); err != nil {
		writeError(w, http.StatusBadRequest, "work_date must be YYYY-MM-DD")
		return
	}

	loc := model.LocationEmpty
	if req.Location != nil {
		loc = model.Location(strings.TrimSpace(*req.Location))
	}
	if loc.IsEmpty() {
		if _, err := s.schedules.Delete(r.Context(), caller, req.WorkDate); err != nil {
			appLog.Error("delete schedule failed", err, "user_id", caller, "date", req.WorkDate)
			writeError(w, http.StatusInternalServerError, "Database error occurred")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	if !loc.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown location code")
		return
	}
	e := model.ScheduleEntry{UserID: caller, WorkDate: req.WorkDate, Location: loc}
	if err := s.schedules.Upsert(r.Context(), e); err != nil {
		appLog.Error("upsert schedule failed", err, "user_id", caller, "date", req.WorkDate)
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	writeJSON(w, http.StatusOK, e)
}
