package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
)

// CreateUser persists a new user account.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if user.Role == "" {
		user.Role = models.RoleMember
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, display_name, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Email, user.DisplayName, user.PasswordHash, string(user.Role), user.CreatedAt.Unix(),
	)
	return storeErr(err, "insert user")
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	var (
		role      string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, display_name, password_hash, role, created_at FROM users WHERE "+where,
		arg,
	).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &role, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.NotFound, "user not found")
	}
	if err != nil {
		return nil, storeErr(err, "get user")
	}
	user.Role = models.Role(role)
	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	return user, nil
}
