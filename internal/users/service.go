package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

type User struct {
	ID                 uuid.UUID
	Username           string
	PasswordHash       string
	Role               string
	MustChangePassword bool
	CreatedAt          time.Time
}

// Store is the persistence boundary for operator accounts.
type Store interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	// MustChangePassword reads the flag with a safe default: a partially
	// migrated store (missing column) reports false instead of failing.
	MustChangePassword(ctx context.Context, id uuid.UUID) (bool, error)

	// SetPasswordByUsername returns false when no such user exists.
	SetPasswordByUsername(ctx context.Context, username, passwordHash string, mustChange bool) (bool, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Authenticate verifies username and password, returning the user on
// success. The error is the same for unknown user and wrong password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if !CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	mustChange, err := s.store.MustChangePassword(ctx, user.ID)
	if err != nil {
		slog.Debug("Could not read must_change_password, defaulting to false",
			"user_id", user.ID, "error", err)
		mustChange = false
	}
	user.MustChangePassword = mustChange

	return user, nil
}

// ChangePassword re-authenticates with the current password before storing
// the new hash and clearing the must-change flag.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !CheckPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	slog.Info("Password changed", "user_id", userID)
	return nil
}

// ApplyAdminPassword applies the one-time initial admin password, if set.
// Non-fatal: a failure leaves the seeded default in place.
func (s *Service) ApplyAdminPassword(ctx context.Context, password string) {
	if password == "" {
		return
	}

	hash, err := HashPassword(password)
	if err != nil {
		slog.Error("Failed to hash initial admin password", "error", err)
		return
	}

	updated, err := s.store.SetPasswordByUsername(ctx, "admin", hash, false)
	if err != nil {
		slog.Error("Failed to apply initial admin password", "error", err)
		return
	}
	if !updated {
		slog.Warn("ADMIN_INITIAL_PASSWORD set but no admin user found; has the first migration run?")
		return
	}
	slog.Info("Admin password updated from ADMIN_INITIAL_PASSWORD")
}
