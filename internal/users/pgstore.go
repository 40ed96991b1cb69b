package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/greenops-hq/greenops-server/internal/db"
)

type PgStore struct {
	pool *db.Pool
}

func NewPgStore(pool *db.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *PgStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at
		 FROM users WHERE username = $1`, username)
	return s.scanUser(row)
}

func (s *PgStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at
		 FROM users WHERE id = $1`, id)
	return s.scanUser(row)
}

func (s *PgStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET password_hash = $2, must_change_password = FALSE
		 WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MustChangePassword tolerates a missing column so a partially migrated
// store degrades to the safe default instead of failing logins.
func (s *PgStore) MustChangePassword(ctx context.Context, id uuid.UUID) (bool, error) {
	var mustChange bool
	err := s.pool.QueryRow(ctx,
		`SELECT must_change_password FROM users WHERE id = $1`, id).Scan(&mustChange)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrUserNotFound
		}
		return false, err
	}
	return mustChange, nil
}

func (s *PgStore) SetPasswordByUsername(ctx context.Context, username, passwordHash string, mustChange bool) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET password_hash = $2, must_change_password = $3
		 WHERE username = $1`,
		username, passwordHash, mustChange)
	if err != nil {
		return false, fmt.Errorf("set password: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
