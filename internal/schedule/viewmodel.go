// Package schedule holds the state behind the monthly work-location grid and
// derives everything the grid renders from it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"worksched/internal/ics"
	appLog "worksched/internal/log"
	"worksched/internal/model"
)

// Backend is the subset of the API client the view-model depends on.
type Backend interface {
	Me(ctx context.Context) (*model.User, error)
	FetchUsers(ctx context.Context) ([]model.User, error)
	FetchSchedules(ctx context.Context, ym model.YearMonth) ([]model.ScheduleEntry, error)
	FetchHolidays(ctx context.Context, year int) model.HolidayMap
	UpsertSchedule(ctx context.Context, userID int64, date string, loc *model.Location) error
	UpdateCommutingAllowance(ctx context.Context, userID int64, status model.AllowanceStatus) (*model.User, error)
}

var (
	// ErrReadOnly is returned when an operation targets another user's data.
	ErrReadOnly = errors.New("schedule belongs to another user")
	// ErrNoUser is returned when an operation needs the current user before it is loaded.
	ErrNoUser = errors.New("current user not loaded")
)

// UserSummary is the per-user trailer of a grid row.
type UserSummary struct {
	User           model.User
	RemoteDays     int
	WorkingDays    int
	ChangeRequired bool
}

// ViewModel is the state of one grid. All methods are safe for concurrent use.
type ViewModel struct {
	backend Backend

	mu          sync.Mutex
	currentUser *model.User
	users       []model.User
	schedules   []model.ScheduleEntry
	holidays    model.HolidayMap
	ym          model.YearMonth
	// gen is bumped by every selection change and load; a load only commits
	// if gen still equals the value it started with.
	gen uint64
	// versions counts local writes per cell. A failed write is only rolled
	// back while the cell still carries the version it produced.
	versions map[cellKey]uint64
}

type cellKey struct {
	userID int64
	date   string
}

// New creates a ViewModel showing ym.
func New(backend Backend, ym model.YearMonth) *ViewModel {
	return &ViewModel{
		backend:  backend,
		ym:       model.NewYearMonth(ym.Year, int(ym.Month)),
		holidays: model.HolidayMap{},
	}
}

// LoadCurrentUser fetches the authenticated user.
func (vm *ViewModel) LoadCurrentUser(ctx context.Context) error {
	u, err := vm.backend.Me(ctx)
	if err != nil {
		return err
	}
	vm.SetCurrentUser(u)
	return nil
}

// SetCurrentUser installs an already known user, e.g. from a verified token.
func (vm *ViewModel) SetCurrentUser(u *model.User) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if u == nil {
		vm.currentUser = nil
		return
	}
	cp := *u
	vm.currentUser = &cp
}

// LoadData replaces users, schedules and holidays for the selected month.
// A load superseded by SetMonth or a newer LoadData is discarded.
func (vm *ViewModel) LoadData(ctx context.Context) error {
	vm.mu.Lock()
	vm.gen++
	gen, ym := vm.gen, vm.ym
	vm.mu.Unlock()

	users, err := vm.backend.FetchUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	entries, err := vm.backend.FetchSchedules(ctx, ym)
	if err != nil {
		return fmt.Errorf("fetch schedules %s: %w", ym, err)
	}
	holidays := vm.backend.FetchHolidays(ctx, ym.Year)
	if holidays == nil {
		holidays = model.HolidayMap{}
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.gen != gen {
		appLog.Debug("discarding stale load", "month", ym.String())
		return nil
	}
	vm.users = users
	vm.schedules = entries
	vm.holidays = holidays
	appLog.Debug("schedule loaded", "month", ym.String(), "users", len(users), "entries", len(entries), "holidays", len(holidays))
	return nil
}

// SetMonth changes the selection. Month overflow rolls the year. Call LoadData
// afterwards to refresh the data.
func (vm *ViewModel) SetMonth(year, month int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.ym = model.NewYearMonth(year, month)
	vm.gen++
}

// YearMonth returns the selected month.
func (vm *ViewModel) YearMonth() model.YearMonth {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.ym
}

// CurrentUser returns a copy of the authenticated user, or nil.
func (vm *ViewModel) CurrentUser() *model.User {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.currentUser == nil {
		return nil
	}
	cp := *vm.currentUser
	return &cp
}

// Users returns a copy of the user list.
func (vm *ViewModel) Users() []model.User {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]model.User(nil), vm.users...)
}

// Schedules returns a copy of the loaded entries.
func (vm *ViewModel) Schedules() []model.ScheduleEntry {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]model.ScheduleEntry(nil), vm.schedules...)
}

// Holidays returns a copy of the holiday map of the selected year.
func (vm *ViewModel) Holidays() model.HolidayMap {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make(model.HolidayMap, len(vm.holidays))
	for k, v := range vm.holidays {
		out[k] = v
	}
	return out
}

// DaysInMonth returns 1..N for the selected month.
func (vm *ViewModel) DaysInMonth() []int {
	n := vm.YearMonth().Days()
	days := make([]int, n)
	for i := range days {
		days[i] = i + 1
	}
	return days
}

// GetLocation returns the code of (userID, day), LocationEmpty when unset.
func (vm *ViewModel) GetLocation(userID int64, day int) model.Location {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if i := vm.indexLocked(userID, vm.ym.Date(day)); i >= 0 {
		return vm.schedules[i].Location
	}
	return model.LocationEmpty
}

// WeekdayName returns the single-character weekday of day.
func (vm *ViewModel) WeekdayName(day int) string {
	names := [...]string{"日", "月", "火", "水", "木", "金", "土"}
	return names[vm.YearMonth().Time(day).Weekday()]
}

// HeaderStyle colours the day header: Sundays and holidays red, Saturdays blue.
func (vm *ViewModel) HeaderStyle(day int) Style {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	s := Style{Color: colorWeekday, Background: bgWeekday, Opacity: 1}
	wd := vm.ym.Time(day).Weekday()
	switch {
	case wd == time.Sunday || vm.holidays.IsHoliday(vm.ym.Date(day)):
		s.Color, s.Background = colorSunday, bgSunday
	case wd == time.Saturday:
		s.Color, s.Background = colorSaturday, bgSaturday
	}
	return s
}

// CellStyle colours a grid cell by its location. Empty cells on days off are
// greyed; cells of other users are locked.
func (vm *ViewModel) CellStyle(userID int64, day int) Style {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	date := vm.ym.Date(day)
	loc := model.LocationEmpty
	if i := vm.indexLocked(userID, date); i >= 0 {
		loc = vm.schedules[i].Location
	}

	bg, ok := model.LocationColors[loc]
	if !ok {
		bg = bgTransparent
	}
	if loc.IsEmpty() {
		wd := vm.ym.Time(day).Weekday()
		if wd == time.Saturday || wd == time.Sunday || vm.holidays.IsHoliday(date) {
			bg = bgEmptyDayOff
		}
	}

	s := Style{Background: bg, Cursor: cursorPointer, Opacity: 1}
	if vm.currentUser == nil || vm.currentUser.ID != userID {
		s.Cursor = cursorForbidden
		s.Opacity = lockedOpacity
		s.Locked = true
	}
	return s
}

// CountRemoteDays counts userID's remote entries in the selected month.
func (vm *ViewModel) CountRemoteDays(userID int64) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.countRemoteLocked(userID)
}

func (vm *ViewModel) countRemoteLocked(userID int64) int {
	n := 0
	for _, e := range vm.schedules {
		if e.UserID == userID && e.Location == model.LocationRemote && vm.ym.Contains(e.WorkDate) {
			n++
		}
	}
	return n
}

// CalculateWorkingDays counts the days of year-month that are neither weekend
// days nor in the loaded holiday map.
func (vm *ViewModel) CalculateWorkingDays(year, month int) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return workingDays(model.NewYearMonth(year, month), vm.holidays)
}

func workingDays(ym model.YearMonth, holidays model.HolidayMap) int {
	n := 0
	for day := 1; day <= ym.Days(); day++ {
		switch ym.Time(day).Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		if holidays.IsHoliday(ym.Date(day)) {
			continue
		}
		n++
	}
	return n
}

// Summary returns the row trailers for every loaded user.
func (vm *ViewModel) Summary() []UserSummary {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	working := workingDays(vm.ym, vm.holidays)
	out := make([]UserSummary, 0, len(vm.users))
	for _, u := range vm.users {
		remote := vm.countRemoteLocked(u.ID)
		out = append(out, UserSummary{
			User:           u,
			RemoteDays:     remote,
			WorkingDays:    working,
			ChangeRequired: CommuteChangeStatus(u.CommutingAllowance, remote, working),
		})
	}
	return out
}

// ToggleLocation advances (userID, day) to the next location code and persists
// it. Only the current user's cells change; for anyone else this is a no-op and
// no request is made. The local state is updated first. If the request fails
// the cell is restored to its previous value and the error returned.
func (vm *ViewModel) ToggleLocation(ctx context.Context, userID int64, day int) (model.Location, error) {
	vm.mu.Lock()
	if vm.currentUser == nil || vm.currentUser.ID != userID {
		loc := model.LocationEmpty
		if i := vm.indexLocked(userID, vm.ym.Date(day)); i >= 0 {
			loc = vm.schedules[i].Location
		}
		vm.mu.Unlock()
		return loc, nil
	}
	if day < 1 || day > vm.ym.Days() {
		vm.mu.Unlock()
		return model.LocationEmpty, fmt.Errorf("day %d outside %s", day, vm.ym)
	}

	date := vm.ym.Date(day)
	prev, had := vm.entryLocked(userID, date)
	cur := model.LocationEmpty
	if had {
		cur = prev.Location
	}
	next := cur.Next()
	ver := vm.setLocked(userID, date, next)
	gen := vm.gen
	vm.mu.Unlock()

	if err := vm.persist(ctx, userID, date, next); err != nil {
		vm.restore(gen, ver, userID, date, prev, had)
		return cur, err
	}
	return next, nil
}

// FillPattern sets loc on every day of the selected month matched by rule
// (e.g. "FREQ=WEEKLY;BYDAY=MO,WE") for the current user, skipping holidays.
// It stops at the first failed request, restoring that cell, and returns the
// number of days written.
func (vm *ViewModel) FillPattern(ctx context.Context, rule string, loc model.Location) (int, error) {
	if !loc.Valid() {
		return 0, fmt.Errorf("unknown location %q", loc)
	}

	vm.mu.Lock()
	if vm.currentUser == nil {
		vm.mu.Unlock()
		return 0, ErrNoUser
	}
	userID, ym, holidays := vm.currentUser.ID, vm.ym, vm.holidays
	vm.mu.Unlock()

	days, err := ics.ExpandPattern(rule, ym, holidays)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, day := range days {
		date := ym.Date(day)

		vm.mu.Lock()
		prev, had := vm.entryLocked(userID, date)
		ver := vm.setLocked(userID, date, loc)
		gen := vm.gen
		vm.mu.Unlock()

		if err := vm.persist(ctx, userID, date, loc); err != nil {
			vm.restore(gen, ver, userID, date, prev, had)
			return written, err
		}
		written++
	}
	appLog.Info("pattern applied", "user_id", userID, "month", ym.String(), "rule", rule, "location", string(loc), "days", written)
	return written, nil
}

// UpdateAllowance changes the current user's commuting allowance.
func (vm *ViewModel) UpdateAllowance(ctx context.Context, userID int64, status model.AllowanceStatus) error {
	vm.mu.Lock()
	if vm.currentUser == nil {
		vm.mu.Unlock()
		return ErrNoUser
	}
	if vm.currentUser.ID != userID {
		vm.mu.Unlock()
		return ErrReadOnly
	}
	vm.mu.Unlock()

	updated, err := vm.backend.UpdateCommutingAllowance(ctx, userID, status)
	if err != nil {
		return err
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i := range vm.users {
		if vm.users[i].ID == userID {
			vm.users[i].CommutingAllowance = updated.CommutingAllowance
		}
	}
	if vm.currentUser != nil && vm.currentUser.ID == userID {
		vm.currentUser.CommutingAllowance = updated.CommutingAllowance
	}
	return nil
}

// YearOptions returns the selectable years around now.
func YearOptions(now time.Time) []int {
	y := now.Year()
	return []int{y - 1, y, y + 1}
}

func (vm *ViewModel) persist(ctx context.Context, userID int64, date string, loc model.Location) error {
	if loc.IsEmpty() {
		return vm.backend.UpsertSchedule(ctx, userID, date, nil)
	}
	return vm.backend.UpsertSchedule(ctx, userID, date, &loc)
}

// restore puts back the pre-mutation entry unless a newer load replaced the
// data or a later write touched the cell since version ver.
func (vm *ViewModel) restore(gen, ver uint64, userID int64, date string, prev model.ScheduleEntry, had bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.gen != gen {
		return
	}
	if vm.versions[cellKey{userID, date}] != ver {
		appLog.Debug("rollback skipped: cell changed since", "user_id", userID, "date", date)
		return
	}
	if had {
		vm.setLocked(userID, date, prev.Location)
	} else {
		vm.setLocked(userID, date, model.LocationEmpty)
	}
	appLog.Warn("schedule change rolled back", "user_id", userID, "date", date)
}

func (vm *ViewModel) indexLocked(userID int64, date string) int {
	for i, e := range vm.schedules {
		if e.UserID == userID && e.WorkDate == date {
			return i
		}
	}
	return -1
}

func (vm *ViewModel) entryLocked(userID int64, date string) (model.ScheduleEntry, bool) {
	if i := vm.indexLocked(userID, date); i >= 0 {
		return vm.schedules[i], true
	}
	return model.ScheduleEntry{}, false
}

// setLocked writes loc for (userID, date); an empty loc removes the entry.
// It returns the cell's new version.
func (vm *ViewModel) setLocked(userID int64, date string, loc model.Location) uint64 {
	if vm.versions == nil {
		vm.versions = map[cellKey]uint64{}
	}
	key := cellKey{userID, date}
	vm.versions[key]++
	i := vm.indexLocked(userID, date)
	switch {
	case loc.IsEmpty() && i >= 0:
		vm.schedules = append(vm.schedules[:i:i], vm.schedules[i+1:]...)
	case loc.IsEmpty():
	case i >= 0:
		vm.schedules[i].Location = loc
	default:
		vm.schedules = append(vm.schedules, model.ScheduleEntry{UserID: userID, WorkDate: date, Location: loc})
	}
	return vm.versions[key]
}
