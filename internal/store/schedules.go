package store

import (
	"context"
	"database/sql"
	"time"

	"worksched/internal/model"
)

type ScheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Upsert stores e, replacing the location of an existing (user, date) entry.
func (r *ScheduleRepository) Upsert(ctx context.Context, e model.ScheduleEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO schedules (user_id, work_date, location) VALUES (?, ?, ?)
        ON CONFLICT(user_id, work_date) DO UPDATE SET location = excluded.location, updated_at = CURRENT_TIMESTAMP`,
		e.UserID, e.WorkDate, string(e.Location))
	return err
}

// Delete removes the entry of (userID, date). It reports whether a row existed.
func (r *ScheduleRepository) Delete(ctx context.Context, userID int64, date string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE user_id = ? AND work_date = ?`, userID, date)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListMonth returns every entry of ym ordered by date then user.
func (r *ScheduleRepository) ListMonth(ctx context.Context, ym model.YearMonth) ([]model.ScheduleEntry, error) {
	return r.list(ctx, `SELECT user_id, work_date, location FROM schedules
        WHERE work_date LIKE ? ORDER BY work_date, user_id`, ym.String()+"-%")
}

// ListUserMonth returns one user's entries of ym.
func (r *ScheduleRepository) ListUserMonth(ctx context.Context, userID int64, ym model.YearMonth) ([]model.ScheduleEntry, error) {
	return r.list(ctx, `SELECT user_id, work_date, location FROM schedules
        WHERE user_id = ? AND work_date LIKE ? ORDER BY work_date`, userID, ym.String()+"-%")
}

func (r *ScheduleRepository) list(ctx context.Context, query string, args ...any) ([]model.ScheduleEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ScheduleEntry{}
	for rows.Next() {
		var (
			e   model.ScheduleEntry
			loc string
		)
		if err := rows.Scan(&e.UserID, &e.WorkDate, &loc); err != nil {
			return nil, err
		}
		e.Location = model.Location(loc)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
