package sql

import (
	"context"

	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage"
)

// ========== Email Repository ==========

const emailColumns = `id, user_id, subject, body_text, snippet, from_address, is_read, received_at, synced_at`

// SaveEmail 保存邮件元数据（重复同步按主键覆盖）。
func (s *Store) SaveEmail(ctx context.Context, email *domain.Email) error {
	var query string
	if s.driverName == "postgres" {
		query = s.rebind(`
			INSERT INTO emails (` + emailColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id, user_id) DO UPDATE SET
				subject      = EXCLUDED.subject,
				body_text    = EXCLUDED.body_text,
				snippet      = EXCLUDED.snippet,
				from_address = EXCLUDED.from_address,
				is_read      = EXCLUDED.is_read,
				received_at  = EXCLUDED.received_at,
				synced_at    = EXCLUDED.synced_at
		`)
	} else {
		query = `
			INSERT INTO emails (` + emailColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				subject      = VALUES(subject),
				body_text    = VALUES(body_text),
				snippet      = VALUES(snippet),
				from_address = VALUES(from_address),
				is_read      = VALUES(is_read),
				received_at  = VALUES(received_at),
				synced_at    = VALUES(synced_at)
		`
	}
	_, err := s.db.ExecContext(ctx, query,
		email.ID, email.UserID, email.Subject, email.BodyText, email.Snippet,
		email.FromAddress, email.IsRead, email.ReceivedAt, email.SyncedAt,
	)
	return err
}

// GetEmail 获取邮件元数据。
func (s *Store) GetEmail(ctx context.Context, emailID, userID string) (*domain.Email, error) {
	query := s.rebind(`SELECT ` + emailColumns + ` FROM emails WHERE id = ? AND user_id = ?`)
	var e domain.Email
	err := s.db.QueryRowContext(ctx, query, emailID, userID).Scan(
		&e.ID, &e.UserID, &e.Subject, &e.BodyText, &e.Snippet,
		&e.FromAddress, &e.IsRead, &e.ReceivedAt, &e.SyncedAt,
	)
	if err != nil {
		return nil, notFound(err, storage.ErrEmailNotFound)
	}
	return &e, nil
}

// ListEmailsByUser 返回指定用户的邮件，按接收时间倒序。
func (s *Store) ListEmailsByUser(ctx context.Context, userID string, limit int) ([]domain.Email, error) {
	query := s.rebind(`SELECT ` + emailColumns + ` FROM emails WHERE user_id = ? ORDER BY received_at DESC`)
	args := []any{userID}
	if limit > 0 {
		query += s.rebindLimit()
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Email, 0)
	for rows.Next() {
		var e domain.Email
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Subject, &e.BodyText, &e.Snippet,
			&e.FromAddress, &e.IsRead, &e.ReceivedAt, &e.SyncedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// rebindLimit 返回驱动对应的 LIMIT 子句占位符。
func (s *Store) rebindLimit() string {
	if s.driverName == "postgres" {
		return ` LIMIT $2`
	}
	return ` LIMIT ?`
}
