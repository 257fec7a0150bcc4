package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/db"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// Create inserts u. A taken id or email is a Conflict.
func (s *SQLStore) Create(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id,email,name,role,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, strings.ToLower(u.Email), u.Name, u.Role, u.CreatedAt.Unix(), u.UpdatedAt.Unix())
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("user already exists")
	}
	return apperr.Transient("create user", err)
}

func (s *SQLStore) Update(ctx context.Context, u User) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET email=$1, name=$2, role=$3, updated_at=$4 WHERE id=$5`,
		strings.ToLower(u.Email), u.Name, u.Role, u.UpdatedAt.Unix(), u.ID)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("email already in use")
	}
	if err != nil {
		return apperr.Transient("update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user", u.ID)
	}
	return nil
}

// Rekey moves a user row to a new id; memberships follow by cascade.
func (s *SQLStore) Rekey(ctx context.Context, oldID, newID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET id=$1 WHERE id=$2`, newID, oldID)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("user id already in use")
	}
	if err != nil {
		return apperr.Transient("rekey user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user", oldID)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return apperr.Transient("delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user", id)
	}
	return nil
}

const userColumns = `id,email,name,role,created_at,updated_at`

func (s *SQLStore) Get(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.NotFound("user", id)
	}
	return u, apperr.Transient("get user", err)
}

func (s *SQLStore) GetByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.NotFound("user", email)
	}
	return u, apperr.Transient("get user", err)
}

func (s *SQLStore) List(ctx context.Context, role string, limit int) ([]User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if role != "" {
		q += ` WHERE role=$1 ORDER BY name, id LIMIT $2`
		args = append(args, role, limit)
	} else {
		q += ` ORDER BY name, id LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Transient("list users", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperr.Transient("list users", err)
		}
		out = append(out, u)
	}
	return out, apperr.Transient("list users", rows.Err())
}

func (s *SQLStore) Batches(ctx context.Context, userID string) ([]BatchRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT b.id, b.name, m.joined_at FROM batch_members m
		JOIN batches b ON b.id=m.batch_id WHERE m.user_id=$1 ORDER BY m.joined_at DESC, b.id`, userID)
	if err != nil {
		return nil, apperr.Transient("list memberships", err)
	}
	defer rows.Close()
	out := []BatchRef{}
	for rows.Next() {
		var (
			b      BatchRef
			joined int64
		)
		if err := rows.Scan(&b.ID, &b.Name, &joined); err != nil {
			return nil, apperr.Transient("list memberships", err)
		}
		b.JoinedAt = time.Unix(joined, 0).UTC()
		out = append(out, b)
	}
	return out, apperr.Transient("list memberships", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (User, error) {
	var (
		u                User
		created, updated int64
	)
	if err := sc.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &created, &updated); err != nil {
		return User{}, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.UpdatedAt = time.Unix(updated, 0).UTC()
	return u, nil
}
