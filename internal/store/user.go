package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/recitation/internal/model"
)

var (
	// ErrUserExists is returned by CreateUser when the username is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidRole is returned by CreateUser for a role that cannot review.
	ErrInvalidRole = errors.New("role must be teacher or admin")
)

const userColumns = `id, username, display_name, password_hash, role, active, created_at`

// CreateUser adds a reviewer account and returns it with its id and
// creation time set. The username check and the insert are one statement,
// so two concurrent creations of the same name cannot both succeed.
func (s *Store) CreateUser(u model.User) (model.User, error) {
	if !u.Role.Valid() {
		return model.User{}, fmt.Errorf("%w: %q", ErrInvalidRole, u.Role)
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	u.CreatedAt = time.Now().UTC()

	res, err := s.db.Exec(
		`INSERT INTO users (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Active, u.CreatedAt,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("insert user %s: %w", u.Username, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.User{}, err
	} else if n == 0 {
		return model.User{}, fmt.Errorf("%w: %s", ErrUserExists, u.Username)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return model.User{}, err
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "role", u.Role)
	return u, nil
}

// GetUserByUsername returns a user by username, or nil if unknown.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserCount returns the number of reviewer accounts, active or not.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
