package sql

import (
	"context"
	"database/sql"
	"time"

	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage"
)

// ========== User Repository ==========

// CreateUser 创建新用户。
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	// 先查重：两种驱动的唯一约束冲突错误形态不同，统一在此映射
	if _, err := s.GetUserByEmail(ctx, user.Email); err == nil {
		return storage.ErrEmailExists
	}

	query := s.rebind(`
		INSERT INTO users (id, email, username, password_hash, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Username, user.PasswordHash,
		user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

func (s *Store) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var lastLoginAt sql.NullTime
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &lastLoginAt,
	)
	if err != nil {
		return nil, notFound(err, storage.ErrUserNotFound)
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// GetUserByID 根据 ID 获取用户。
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := s.rebind(`
		SELECT id, email, username, password_hash, is_active, created_at, updated_at, last_login_at
		FROM users WHERE id = ?
	`)
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail 根据注册邮箱获取用户。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := s.rebind(`
		SELECT id, email, username, password_hash, is_active, created_at, updated_at, last_login_at
		FROM users WHERE email = ?
	`)
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

// UpdateLastLogin 更新最近登录时间。
func (s *Store) UpdateLastLogin(ctx context.Context, userID string) error {
	query := s.rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}
