package web

import (
	"context"

	"worksched/internal/model"
	"worksched/internal/schedule"
	"worksched/internal/store"
)

// storeBackend lets a server-side ViewModel read straight from the database.
// It backs the exports and the grid page; writes go through the JSON API.
type storeBackend struct {
	s      *Server
	userID int64
}

var _ schedule.Backend = (*storeBackend)(nil)

func (b *storeBackend) Me(ctx context.Context) (*model.User, error) {
	u, err := b.s.users.GetByID(ctx, b.userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, store.ErrNotFound
	}
	return &u.User, nil
}

func (b *storeBackend) FetchUsers(ctx context.Context) ([]model.User, error) {
	return b.s.users.List(ctx)
}

func (b *storeBackend) FetchSchedules(ctx context.Context, ym model.YearMonth) ([]model.ScheduleEntry, error) {
	return b.s.schedules.ListMonth(ctx, ym)
}

func (b *storeBackend) FetchHolidays(ctx context.Context, year int) model.HolidayMap {
	return b.s.holidaysFor(ctx, year)
}

func (b *storeBackend) UpsertSchedule(ctx context.Context, userID int64, date string, loc *model.Location) error {
	if loc == nil || loc.IsEmpty() {
		_, err := b.s.schedules.Delete(ctx, userID, date)
		return err
	}
	return b.s.schedules.Upsert(ctx, model.ScheduleEntry{UserID: userID, WorkDate: date, Location: *loc})
}

func (b *storeBackend) UpdateCommutingAllowance(ctx context.Context, userID int64, status model.AllowanceStatus) (*model.User, error) {
	if err := b.s.users.UpdateAllowance(ctx, userID, status); err != nil {
		return nil, err
	}
	u, err := b.s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, store.ErrNotFound
	}
	return &u.User, nil
}

// loadViewModel builds a fully loaded grid of ym as seen by userID.
func (s *Server) loadViewModel(ctx context.Context, userID int64, ym model.YearMonth) (*schedule.ViewModel, error) {
	vm := schedule.New(&storeBackend{s: s, userID: userID}, ym)
	if err := vm.LoadCurrentUser(ctx); err != nil {
		return nil, err
	}
	if err := vm.LoadData(ctx); err != nil {
		return nil, err
	}
	return vm, nil
}
