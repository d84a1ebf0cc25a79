package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"worksched/internal/model"
)

// UserRecord is a user row including its password hash.
type UserRecord struct {
	model.User
	PasswordHash string
}

// NewUser is the input of UserRepository.Create.
type NewUser struct {
	EmployeeNumber string
	Name           string
	Email          string
	PasswordHash   string
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, COALESCE(employee_number, ''), name, email, commuting_allowance, is_default_password, password_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*UserRecord, error) {
	var (
		u        UserRecord
		allow    string
		defaultP int
	)
	if err := s.Scan(&u.ID, &u.EmployeeNumber, &u.Name, &u.Email, &allow, &defaultP, &u.PasswordHash); err != nil {
		return nil, err
	}
	u.CommutingAllowance = model.AllowanceStatus(allow)
	u.IsDefaultPassword = defaultP != 0
	return &u, nil
}

// Create inserts a user flagged as still using the default password.
func (r *UserRepository) Create(ctx context.Context, in NewUser) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var emp any
	if in.EmployeeNumber != "" {
		emp = in.EmployeeNumber
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (employee_number, name, email, password_hash) VALUES (?, ?, ?, ?)`,
		emp, in.Name, in.Email, in.PasswordHash)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.User{
		ID:                id,
		EmployeeNumber:    in.EmployeeNumber,
		Name:              in.Name,
		Email:             in.Email,
		IsDefaultPassword: true,
	}, nil
}

// GetByID returns nil, nil when no user has id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetByEmail returns nil, nil when no user has email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// List returns all users ordered by id.
func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// MissingSchedule lists users without any entry in ym.
func (r *UserRepository) MissingSchedule(ctx context.Context, ym model.YearMonth) ([]model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users u
        WHERE NOT EXISTS (
            SELECT 1 FROM schedules s WHERE s.user_id = u.id AND s.work_date LIKE ?
        )
        ORDER BY u.id`, ym.String()+"-%")
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]model.User, error) {
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u.User)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAllowance sets the commuting allowance status.
func (r *UserRepository) UpdateAllowance(ctx context.Context, id int64, status model.AllowanceStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return expectOne(r.db.ExecContext(ctx, `UPDATE users SET commuting_allowance = ? WHERE id = ?`, string(status), id))
}

// UpdatePassword stores a new hash and clears the default-password flag.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return expectOne(r.db.ExecContext(ctx, `UPDATE users SET password_hash = ?, is_default_password = 0 WHERE id = ?`, hash, id))
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
