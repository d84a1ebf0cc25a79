package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"worksched/internal/api"
	"worksched/internal/auth"
	"worksched/internal/config"
	"worksched/internal/export"
	"worksched/internal/httpclient"
	"worksched/internal/ics"
	"worksched/internal/model"
	"worksched/internal/schedule"
	"worksched/internal/store"
)

const (
	testPassword = "password1"
	testAPIKey   = "machine-key"
)

var may2025 = model.NewYearMonth(2025, 5)

type staticHolidays map[string]string

func (h staticHolidays) FetchOrEmpty(_ context.Context, year int) model.HolidayMap {
	out := model.HolidayMap{}
	for d, name := range h {
		if strings.HasPrefix(d, "2025") && year == 2025 {
			out[d] = name
		}
	}
	return out
}

type fixture struct {
	srv    *httptest.Server
	server *Server
	sato   *model.User
	ito    *model.User
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	db, err := store.Open("file:web_" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.DefaultConfig()
	cfg.Server.JWTSecret = "test-secret"
	cfg.Server.MachineAPIKey = testAPIKey

	holidays := staticHolidays{"2025-05-05": "こどもの日", "2025-05-06": "振替休日"}
	s, err := NewServer(cfg, db, holidays)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, 5, 15, 9, 0, 0, 0, time.UTC) }

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	users := store.NewUserRepository(db)
	ctx := context.Background()
	sato, err := users.Create(ctx, store.NewUser{EmployeeNumber: "E001", Name: "Sato", Email: "sato@example.com", PasswordHash: hash})
	if err != nil {
		t.Fatal(err)
	}
	ito, err := users.Create(ctx, store.NewUser{EmployeeNumber: "E002", Name: "Ito", Email: "ito@example.com", PasswordHash: hash})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, server: s, sato: sato, ito: ito}
}

func (f *fixture) client(t *testing.T) *api.Client {
	t.Helper()
	hc, err := httpclient.New(httpclient.Options{BaseURL: f.srv.URL, Retries: -1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return api.New(hc, staticHolidays{"2025-05-05": "こどもの日", "2025-05-06": "振替休日"})
}

func (f *fixture) login(t *testing.T, email string) *api.Client {
	t.Helper()
	c := f.client(t)
	res, err := c.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	if res.CSRFToken == "" || !res.IsDefaultPassword {
		t.Fatalf("unexpected login result: %+v", res)
	}
	return c
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "health")
	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, "badlogin")
	c := f.client(t)
	_, err := c.Login(context.Background(), "sato@example.com", "wrong")
	if !errors.Is(err, httpclient.ErrAuthExpired) {
		t.Fatalf("expected 401, got %v", err)
	}
	if _, err := c.Me(context.Background()); !errors.Is(err, httpclient.ErrAuthExpired) {
		t.Fatalf("me without session: %v", err)
	}
}

func TestViewModelOverAPI(t *testing.T) {
	f := newFixture(t, "viewmodel")
	ctx := context.Background()
	c := f.login(t, "sato@example.com")

	vm := schedule.New(c, may2025)
	if err := vm.LoadCurrentUser(ctx); err != nil {
		t.Fatalf("load user: %v", err)
	}
	if err := vm.LoadData(ctx); err != nil {
		t.Fatalf("load data: %v", err)
	}
	if got := vm.CurrentUser(); got == nil || got.ID != f.sato.ID {
		t.Fatalf("current user = %+v", got)
	}
	if n := vm.CalculateWorkingDays(2025, 5); n != 20 {
		t.Fatalf("working days = %d, want 20", n)
	}

	loc, err := vm.ToggleLocation(ctx, f.sato.ID, 12)
	if err != nil || loc != model.LocationHeadOffice {
		t.Fatalf("toggle own cell: %q %v", loc, err)
	}
	loc, err = vm.ToggleLocation(ctx, f.ito.ID, 12)
	if err != nil || loc != model.LocationEmpty {
		t.Fatalf("toggle other cell should be a no-op: %q %v", loc, err)
	}

	n, err := vm.FillPattern(ctx, "FREQ=WEEKLY;BYDAY=FR", model.LocationRemote)
	if err != nil || n != 5 {
		t.Fatalf("fill pattern: %d %v", n, err)
	}

	fresh := schedule.New(c, may2025)
	if err := fresh.LoadCurrentUser(ctx); err != nil {
		t.Fatal(err)
	}
	if err := fresh.LoadData(ctx); err != nil {
		t.Fatal(err)
	}
	if got := fresh.GetLocation(f.sato.ID, 12); got != model.LocationHeadOffice {
		t.Fatalf("persisted day 12 = %q", got)
	}
	if got := fresh.GetLocation(f.sato.ID, 2); got != model.LocationRemote {
		t.Fatalf("persisted day 2 = %q", got)
	}
	if got := fresh.CountRemoteDays(f.sato.ID); got != 5 {
		t.Fatalf("remote days = %d", got)
	}

	// Deleting through a null location.
	if err := c.UpsertSchedule(ctx, f.sato.ID, "2025-05-12", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, err := c.FetchSchedules(ctx, may2025)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.WorkDate == "2025-05-12" {
			t.Fatalf("entry should be gone: %+v", e)
		}
	}
}

func TestScheduleWriteGuards(t *testing.T) {
	f := newFixture(t, "guards")
	ctx := context.Background()
	c := f.login(t, "sato@example.com")

	remote := model.LocationRemote
	err := c.UpsertSchedule(ctx, f.ito.ID, "2025-05-12", &remote)
	var he *httpclient.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusForbidden {
		t.Fatalf("writing another user's cell: %v", err)
	}

	bogus := model.Location("x")
	err = c.UpsertSchedule(ctx, f.sato.ID, "2025-05-12", &bogus)
	if !errors.As(err, &he) || he.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown code: %v", err)
	}

	err = c.UpsertSchedule(ctx, f.sato.ID, "2025/05/12", &remote)
	if !errors.As(err, &he) || he.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date: %v", err)
	}

	// The client always echoes its cookie; a mismatch needs a hand-built request.
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/api/schedules", strings.NewReader(`{"user_id":1,"work_date":"2025-05-12","location":"在"}`))
	access, _ := c.HTTP().Cookie("access_token")
	req.AddCookie(&http.Cookie{Name: cookieAccess, Value: access})
	req.AddCookie(&http.Cookie{Name: cookieCSRF, Value: "one"})
	req.Header.Set(headerCSRF, "two")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("mismatched CSRF status = %d", resp.StatusCode)
	}
}

func TestListSchedulesDefaultsToCurrentMonth(t *testing.T) {
	f := newFixture(t, "default-month")
	ctx := context.Background()
	c := f.login(t, "sato@example.com")

	remote := model.LocationRemote
	for _, d := range []string{"2025-04-30", "2025-05-12"} {
		if err := c.UpsertSchedule(ctx, f.sato.ID, d, &remote); err != nil {
			t.Fatal(err)
		}
	}

	var entries []model.ScheduleEntry
	if err := c.HTTP().Get(ctx, "/api/schedules", nil, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].WorkDate != "2025-05-12" {
		t.Fatalf("entries = %+v, want only 2025-05-12", entries)
	}

	if err := c.HTTP().Get(ctx, "/api/schedules", url.Values{"month": {"2025-04"}}, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].WorkDate != "2025-04-30" {
		t.Fatalf("april entries = %+v", entries)
	}
}

func TestMachineLoginAndMissingSchedule(t *testing.T) {
	f := newFixture(t, "machine")
	ctx := context.Background()

	sato := f.login(t, "sato@example.com")
	remote := model.LocationRemote
	if err := sato.UpsertSchedule(ctx, f.sato.ID, "2025-05-12", &remote); err != nil {
		t.Fatal(err)
	}

	bad := f.client(t)
	_, err := bad.LoginMachine(ctx, "wrong", "ito@example.com", testPassword)
	var he *httpclient.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong API key: %v", err)
	}

	m := f.client(t)
	tokens, err := m.LoginMachine(ctx, testAPIKey, "ito@example.com", testPassword)
	if err != nil {
		t.Fatalf("machine login: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("tokens = %+v", tokens)
	}
	missing, err := m.MissingSchedule(ctx, may2025)
	if err != nil {
		t.Fatalf("missing schedule: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != f.ito.ID {
		t.Fatalf("missing = %+v", missing)
	}

	// Bearer callers skip the CSRF check.
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/api/schedules",
		strings.NewReader(`{"user_id":`+strconv.FormatInt(f.ito.ID, 10)+`,"work_date":"2025-05-13","location":"本"}`))
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer upsert status = %d", resp.StatusCode)
	}
}

func TestRefreshLogoutAndPassword(t *testing.T) {
	f := newFixture(t, "session")
	ctx := context.Background()
	c := f.login(t, "sato@example.com")

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	err := c.ChangePassword(ctx, "nope", "new-password")
	var he *httpclient.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong old password: %v", err)
	}
	if err := c.ChangePassword(ctx, testPassword, "new-password"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	me, err := c.Me(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if me.IsDefaultPassword {
		t.Fatal("default password flag should be cleared")
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := c.Me(ctx); !errors.Is(err, httpclient.ErrAuthExpired) {
		t.Fatalf("me after logout: %v", err)
	}
}

func TestAllowanceAndExports(t *testing.T) {
	f := newFixture(t, "exports")
	ctx := context.Background()
	c := f.login(t, "sato@example.com")

	u, err := c.UpdateCommutingAllowance(ctx, f.sato.ID, model.AllowanceApplied)
	if err != nil {
		t.Fatalf("update allowance: %v", err)
	}
	if u.CommutingAllowance != model.AllowanceApplied {
		t.Fatalf("allowance = %q", u.CommutingAllowance)
	}
	_, err = c.UpdateCommutingAllowance(ctx, 999, model.AllowanceApplied)
	var he *httpclient.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user: %v", err)
	}

	remote := model.LocationRemote
	for _, d := range []string{"2025-05-01", "2025-05-02"} {
		if err := c.UpsertSchedule(ctx, f.sato.ID, d, &remote); err != nil {
			t.Fatal(err)
		}
	}

	q := url.Values{"month": {"2025-05"}}
	raw, err := c.Download(ctx, "/api/export/xlsx", q)
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	ym, entries, err := export.ReadXLSX(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("read xlsx: %v", err)
	}
	if ym != may2025 || len(entries) != 2 {
		t.Fatalf("xlsx round trip: %v %+v", ym, entries)
	}

	raw, err = c.Download(ctx, "/api/export/ics", q)
	if err != nil {
		t.Fatalf("ics: %v", err)
	}
	events, err := ics.Parse(bytes.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("parse ics: %v", err)
	}
	if len(events) != 2 || events[0].UserID != f.sato.ID || events[0].Location != model.LocationRemote {
		t.Fatalf("ics events = %+v", events)
	}

	page, err := c.Download(ctx, "/grid", q)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	html := string(page)
	for _, want := range []string{`data-ready="true"`, "Sato", "Ito", "在", "background-color: #fdd"} {
		if !strings.Contains(html, want) {
			t.Errorf("grid page missing %q", want)
		}
	}
}
