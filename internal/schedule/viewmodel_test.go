package schedule

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"worksched/internal/model"
)

type upsertCall struct {
	UserID   int64
	Date     string
	Location *model.Location
}

type fakeBackend struct {
	mu        sync.Mutex
	me        model.User
	users     []model.User
	entries   []model.ScheduleEntry
	holidays  model.HolidayMap
	upserts   []upsertCall
	failWrite error
	// onFetch runs inside FetchSchedules, before returning.
	onFetch func()
	// onWrite, when set, decides the result of UpsertSchedule instead of
	// failWrite. It runs without holding mu.
	onWrite func(upsertCall) error
}

func (f *fakeBackend) Me(context.Context) (*model.User, error) {
	u := f.me
	return &u, nil
}

func (f *fakeBackend) FetchUsers(context.Context) ([]model.User, error) {
	return append([]model.User(nil), f.users...), nil
}

func (f *fakeBackend) FetchSchedules(_ context.Context, ym model.YearMonth) ([]model.ScheduleEntry, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	var out []model.ScheduleEntry
	for _, e := range f.entries {
		if ym.Contains(e.WorkDate) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeBackend) FetchHolidays(context.Context, int) model.HolidayMap {
	return f.holidays
}

func (f *fakeBackend) UpsertSchedule(_ context.Context, userID int64, date string, loc *model.Location) error {
	var cp *model.Location
	if loc != nil {
		l := *loc
		cp = &l
	}
	call := upsertCall{userID, date, cp}
	f.mu.Lock()
	f.upserts = append(f.upserts, call)
	hook, err := f.onWrite, f.failWrite
	f.mu.Unlock()
	if hook != nil {
		return hook(call)
	}
	return err
}

func (f *fakeBackend) UpdateCommutingAllowance(_ context.Context, userID int64, status model.AllowanceStatus) (*model.User, error) {
	if f.failWrite != nil {
		return nil, f.failWrite
	}
	return &model.User{ID: userID, CommutingAllowance: status}, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func newLoaded(t *testing.T, fb *fakeBackend, year, month int) *ViewModel {
	t.Helper()
	vm := New(fb, model.NewYearMonth(year, month))
	ctx := context.Background()
	if err := vm.LoadCurrentUser(ctx); err != nil {
		t.Fatal(err)
	}
	if err := vm.LoadData(ctx); err != nil {
		t.Fatal(err)
	}
	return vm
}

func defaultBackend() *fakeBackend {
	return &fakeBackend{
		me: model.User{ID: 1, Name: "Sato"},
		users: []model.User{
			{ID: 1, Name: "Sato", CommutingAllowance: model.AllowanceApplied},
			{ID: 2, Name: "Ito", CommutingAllowance: model.AllowanceSuspended},
		},
		entries: []model.ScheduleEntry{
			{UserID: 2, WorkDate: "2025-05-12", Location: model.LocationRemote},
			{UserID: 1, WorkDate: "2025-04-30", Location: model.LocationRemote},
		},
		holidays: model.HolidayMap{"2025-05-05": "こどもの日", "2025-05-06": "振替休日"},
	}
}

func TestDaysInMonth(t *testing.T) {
	cases := []struct {
		year, month, want int
	}{
		{2024, 2, 29},
		{2025, 2, 28},
		{1900, 2, 28},
		{2000, 2, 29},
		{2025, 4, 30},
		{2025, 12, 31},
	}
	for _, tc := range cases {
		vm := New(defaultBackend(), model.NewYearMonth(tc.year, tc.month))
		days := vm.DaysInMonth()
		if len(days) != tc.want || days[0] != 1 || days[len(days)-1] != tc.want {
			t.Errorf("%d-%02d: got %d days", tc.year, tc.month, len(days))
		}
	}
}

func TestLoadDataScopesToMonth(t *testing.T) {
	vm := newLoaded(t, defaultBackend(), 2025, 5)
	if got := vm.Schedules(); len(got) != 1 || got[0].UserID != 2 {
		t.Fatalf("schedules = %+v", got)
	}
	if vm.GetLocation(2, 12) != model.LocationRemote {
		t.Fatal("expected remote on the 12th")
	}
	if vm.GetLocation(1, 12) != model.LocationEmpty {
		t.Fatal("absent entry should be empty")
	}
	if err := vm.LoadData(context.Background()); err != nil || len(vm.Schedules()) != 1 {
		t.Fatalf("reload must overwrite, not merge: %v", vm.Schedules())
	}
}

func TestLoadDataDiscardsSupersededResult(t *testing.T) {
	fb := defaultBackend()
	vm := New(fb, model.NewYearMonth(2025, 5))
	fb.onFetch = func() {
		fb.onFetch = nil
		vm.SetMonth(2025, 4)
	}
	if err := vm.LoadData(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := vm.Schedules(); len(got) != 0 {
		t.Fatalf("stale May data committed after switching to April: %+v", got)
	}
	if err := vm.LoadData(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := vm.Schedules(); len(got) != 1 || got[0].WorkDate != "2025-04-30" {
		t.Fatalf("April load = %+v", got)
	}
}

func TestSetMonthRollsYear(t *testing.T) {
	vm := New(defaultBackend(), model.NewYearMonth(2025, 12))
	vm.SetMonth(2025, 13)
	if ym := vm.YearMonth(); ym.Year != 2026 || ym.Month != time.January {
		t.Fatalf("got %v", ym)
	}
	vm.SetMonth(2026, 0)
	if ym := vm.YearMonth(); ym.Year != 2025 || ym.Month != time.December {
		t.Fatalf("got %v", ym)
	}
}

func TestToggleCyclesBackToEmpty(t *testing.T) {
	fb := defaultBackend()
	vm := newLoaded(t, fb, 2025, 5)
	ctx := context.Background()

	for i := 1; i < len(model.Locations); i++ {
		got, err := vm.ToggleLocation(ctx, 1, 7)
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		if got != model.Locations[i] || vm.GetLocation(1, 7) != model.Locations[i] {
			t.Fatalf("toggle %d: got %q, want %q", i, got, model.Locations[i])
		}
	}
	got, err := vm.ToggleLocation(ctx, 1, 7)
	if err != nil || got != model.LocationEmpty || vm.GetLocation(1, 7) != model.LocationEmpty {
		t.Fatalf("after N toggles: %q %v", got, err)
	}
	n := len(model.Locations)
	if fb.calls() != n {
		t.Fatalf("requests = %d, want %d", fb.calls(), n)
	}
	last := fb.upserts[n-1]
	if last.Location != nil || last.Date != "2025-05-07" {
		t.Fatalf("final request should delete, got %+v", last)
	}
	for _, e := range vm.Schedules() {
		if e.UserID == 1 && e.WorkDate == "2025-05-07" {
			t.Fatal("entry should be removed locally")
		}
	}
}

func TestToggleOtherUserIsNoOp(t *testing.T) {
	fb := defaultBackend()
	vm := newLoaded(t, fb, 2025, 5)
	before := vm.Schedules()

	got, err := vm.ToggleLocation(context.Background(), 2, 12)
	if err != nil {
		t.Fatal(err)
	}
	if got != model.LocationRemote {
		t.Fatalf("got %q", got)
	}
	if fb.calls() != 0 {
		t.Fatal("no request may be issued for another user's cell")
	}
	if !reflect.DeepEqual(before, vm.Schedules()) {
		t.Fatal("state changed")
	}
}

func TestToggleWithoutCurrentUserIsNoOp(t *testing.T) {
	fb := defaultBackend()
	vm := New(fb, model.NewYearMonth(2025, 5))
	if _, err := vm.ToggleLocation(context.Background(), 1, 1); err != nil || fb.calls() != 0 {
		t.Fatalf("err=%v calls=%d", err, fb.calls())
	}
}

func TestToggleRollsBackOnFailure(t *testing.T) {
	fb := defaultBackend()
	vm := newLoaded(t, fb, 2025, 5)
	ctx := context.Background()

	if _, err := vm.ToggleLocation(ctx, 1, 8); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("server error")
	fb.failWrite = boom

	got, err := vm.ToggleLocation(ctx, 1, 8)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if got != model.LocationHeadOffice || vm.GetLocation(1, 8) != model.LocationHeadOffice {
		t.Fatalf("cell not restored: %q / %q", got, vm.GetLocation(1, 8))
	}

	if _, err := vm.ToggleLocation(ctx, 1, 9); err == nil {
		t.Fatal("expected failure")
	}
	if vm.GetLocation(1, 9) != model.LocationEmpty {
		t.Fatal("new entry should be removed on failure")
	}
}

// blockFirstWrite makes the first upsert wait for release and then fail;
// later upserts succeed immediately.
func blockFirstWrite(fb *fakeBackend) (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	var n atomic.Int32
	fb.onWrite = func(upsertCall) error {
		if n.Add(1) > 1 {
			return nil
		}
		close(started)
		<-release
		return errors.New("server error")
	}
	return started, release
}

func lastUpsert(t *testing.T, fb *fakeBackend) upsertCall {
	t.Helper()
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.upserts) == 0 {
		t.Fatal("no upserts recorded")
	}
	return fb.upserts[len(fb.upserts)-1]
}

func TestFailedToggleKeepsLaterToggle(t *testing.T) {
	fb := defaultBackend()
	vm := newLoaded(t, fb, 2025, 5)
	ctx := context.Background()
	started, release := blockFirstWrite(fb)

	errc := make(chan error, 1)
	go func() {
		_, err := vm.ToggleLocation(ctx, 1, 20) // - -> 本, fails late
		errc <- err
	}()
	<-started

	got, err := vm.ToggleLocation(ctx, 1, 20) // 本 -> 赤, succeeds
	if err != nil || got != model.LocationAkasaka {
		t.Fatalf("second toggle = %q, %v", got, err)
	}
	close(release)
	if err := <-errc; err == nil {
		t.Fatal("first toggle should fail")
	}

	if loc := vm.GetLocation(1, 20); loc != model.LocationAkasaka {
		t.Fatalf("cell = %q, want %q", loc, model.LocationAkasaka)
	}
	if c := lastUpsert(t, fb); c.Location == nil || *c.Location != model.LocationAkasaka {
		t.Fatalf("last write = %+v", c)
	}
}

func TestFailedFillKeepsLaterToggle(t *testing.T) {
	fb := defaultBackend()
	vm := newLoaded(t, fb, 2025, 5)
	ctx := context.Background()
	started, release := blockFirstWrite(fb)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		// First Tuesday is May 6, a holiday, so May 13 is written first.
		n, err := vm.FillPattern(ctx, "FREQ=WEEKLY;BYDAY=TU", model.LocationLeave)
		done <- result{n, err}
	}()
	<-started

	got, err := vm.ToggleLocation(ctx, 1, 13) // 休 -> 客
	if err != nil || got != model.LocationClient {
		t.Fatalf("toggle = %q, %v", got, err)
	}
	close(release)
	if r := <-done; r.err == nil || r.n != 0 {
		t.Fatalf("fill = %d, %v", r.n, r.err)
	}

	if loc := vm.GetLocation(1, 13); loc != model.LocationClient {
		t.Fatalf("cell = %q, want %q", loc, model.LocationClient)
	}
}

func TestToggleRejectsDayOutsideMonth(t *testing.T) {
	fb := defaultBackend()
	vm := newLoaded(t, fb, 2025, 2)
	if _, err := vm.ToggleLocation(context.Background(), 1, 29); err == nil {
		t.Fatal("expected error")
	}
	if fb.calls() != 0 {
		t.Fatal("no request expected")
	}
}

func TestHeaderStyle(t *testing.T) {
	vm := newLoaded(t, defaultBackend(), 2025, 5)
	cases := []struct {
		day        int
		color, bg  string
		description string
	}{
		{4, "red", "#fdd", "sunday"},
		{5, "red", "#fdd", "holiday"},
		{3, "blue", "#ddf", "saturday"},
		{7, "black", "#ffffff", "weekday"},
	}
	for _, tc := range cases {
		s := vm.HeaderStyle(tc.day)
		if s.Color != tc.color || s.Background != tc.bg {
			t.Errorf("%s: got %+v", tc.description, s)
		}
	}
	if vm.WeekdayName(4) != "日" || vm.WeekdayName(7) != "水" {
		t.Fatalf("weekday names: %s %s", vm.WeekdayName(4), vm.WeekdayName(7))
	}
}

func TestCellStyle(t *testing.T) {
	vm := newLoaded(t, defaultBackend(), 2025, 5)

	own := vm.CellStyle(1, 7)
	if own.Locked || own.Cursor != "pointer" || own.Background != "transparent" {
		t.Fatalf("own weekday cell: %+v", own)
	}
	if s := vm.CellStyle(1, 3); s.Background != "#d9d9d9" {
		t.Fatalf("empty saturday: %+v", s)
	}
	if s := vm.CellStyle(1, 6); s.Background != "#d9d9d9" {
		t.Fatalf("empty holiday: %+v", s)
	}
	other := vm.CellStyle(2, 12)
	if !other.Locked || other.Cursor != "not-allowed" || other.Opacity != 0.6 || other.Background != "#00b050" {
		t.Fatalf("other user's remote cell: %+v", other)
	}
	if css := other.CSS(); css != "background-color: #00b050; cursor: not-allowed; opacity: 0.6" {
		t.Fatalf("css = %q", css)
	}
}

func TestWorkingDaysAndRemoteCount(t *testing.T) {
	vm := newLoaded(t, defaultBackend(), 2025, 5)
	// May 2025: 31 days, 9 weekend days, 2 weekday holidays.
	if got := vm.CalculateWorkingDays(2025, 5); got != 31-9-2 {
		t.Fatalf("working days = %d", got)
	}
	if vm.CountRemoteDays(2) != 1 || vm.CountRemoteDays(1) != 0 {
		t.Fatal("remote counts wrong")
	}
}

func TestCommuteChangeStatus(t *testing.T) {
	cases := []struct {
		status         model.AllowanceStatus
		remote, worked int
		want           bool
	}{
		{model.AllowanceApplied, 20, 30, true},
		{model.AllowanceApplied, 19, 30, false},
		{model.AllowanceSuspended, 20, 30, false},
		{model.AllowanceSuspended, 21, 30, true},
		{model.AllowanceNotNeeded, 30, 30, false},
		{model.AllowanceApplied, 0, 0, false},
	}
	for _, tc := range cases {
		if got := CommuteChangeStatus(tc.status, tc.remote, tc.worked); got != tc.want {
			t.Errorf("CommuteChangeStatus(%q, %d, %d) = %v", tc.status, tc.remote, tc.worked, got)
		}
	}
}

func TestSummary(t *testing.T) {
	fb := defaultBackend()
	fb.holidays = model.HolidayMap{}
	// Ito: the 12th plus 15 more weekdays remote, 16 of 22 with a suspended allowance flags.
	for d := 1; d <= 31 && len(fb.entries) < 17; d++ {
		ym := model.NewYearMonth(2025, 5)
		switch ym.Time(d).Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		if ym.Date(d) == "2025-05-12" {
			continue
		}
		fb.entries = append(fb.entries, model.ScheduleEntry{UserID: 2, WorkDate: ym.Date(d), Location: model.LocationRemote})
	}
	vm := newLoaded(t, fb, 2025, 5)
	sum := vm.Summary()
	if len(sum) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum[0].ChangeRequired || sum[0].WorkingDays != 22 {
		t.Fatalf("Sato: %+v", sum[0])
	}
	if sum[1].RemoteDays != 16 || !sum[1].ChangeRequired {
		t.Fatalf("Ito: %+v", sum[1])
	}
}

func TestUpdateAllowance(t *testing.T) {
	fb := defaultBackend()
	vm := newLoaded(t, fb, 2025, 5)
	ctx := context.Background()

	if err := vm.UpdateAllowance(ctx, 2, model.AllowanceNotNeeded); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("other user: %v", err)
	}
	if err := vm.UpdateAllowance(ctx, 1, model.AllowanceSuspended); err != nil {
		t.Fatal(err)
	}
	if vm.Users()[0].CommutingAllowance != model.AllowanceSuspended || vm.CurrentUser().CommutingAllowance != model.AllowanceSuspended {
		t.Fatal("local user not updated")
	}
}

func TestFillPattern(t *testing.T) {
	fb := defaultBackend()
	vm := newLoaded(t, fb, 2025, 5)

	n, err := vm.FillPattern(context.Background(), "FREQ=WEEKLY;BYDAY=MO", model.LocationRemote)
	if err != nil {
		t.Fatal(err)
	}
	// Mondays 5 (holiday), 12, 19, 26.
	if n != 3 || vm.CountRemoteDays(1) != 3 || fb.calls() != 3 {
		t.Fatalf("n=%d remote=%d calls=%d", n, vm.CountRemoteDays(1), fb.calls())
	}
	if vm.GetLocation(1, 5) != model.LocationEmpty {
		t.Fatal("holiday must be skipped")
	}

	fb.failWrite = errors.New("down")
	n, err = vm.FillPattern(context.Background(), "FREQ=WEEKLY;BYDAY=TU", model.LocationLeave)
	if err == nil || n != 0 || vm.GetLocation(1, 13) != model.LocationEmpty {
		t.Fatalf("failure: n=%d err=%v loc=%q", n, err, vm.GetLocation(1, 13))
	}
}

func TestYearOptions(t *testing.T) {
	got := YearOptions(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	if !reflect.DeepEqual(got, []int{2024, 2025, 2026}) {
		t.Fatalf("got %v", got)
	}
}
