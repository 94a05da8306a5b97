package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pypeaday/soonish/internal/modkit"
)

type UserRepo struct{ db *sql.DB }

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db.Conn()} }

func (r *UserRepo) ByID(ctx context.Context, id int64) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, password_hash, is_verified, created_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *UserRepo) ByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, password_hash, is_verified, created_at FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return scanUser(row)
}

// GetOrCreateByEmail implements spec.md §4.2: anonymous subscribers get an
// implicit, unverified User the first time they're seen.
func (r *UserRepo) GetOrCreateByEmail(ctx context.Context, email, name string) (*User, bool, error) {
	u, err := r.ByEmail(ctx, email)
	if err == nil {
		return u, false, nil
	}
	if modkit.GetKind(err) != modkit.KindNotFound {
		return nil, false, err
	}

	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, display_name, is_verified, created_at) VALUES ($1, $2, false, $3)
		 RETURNING id, email, display_name, password_hash, is_verified, created_at`,
		email, name, now,
	)
	created, err := scanUser(row)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.IsVerified, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("user")
		}
		return nil, err
	}
	return &u, nil
}
