package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ========== Reply Stats Repository ==========

// GetReplyCount 返回历史回复次数，无记录时为 0。
func (s *Store) GetReplyCount(ctx context.Context, userID, senderAddress string) (int, error) {
	query := s.rebind(`SELECT reply_count FROM reply_stats WHERE user_id = ? AND sender_address = ?`)
	var count int
	err := s.db.QueryRowContext(ctx, query, userID, senderAddress).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// IncrementReplyCount 原子累加回复计数。
func (s *Store) IncrementReplyCount(ctx context.Context, userID, senderAddress string) error {
	var query string
	if s.driverName == "postgres" {
		query = s.rebind(`
			INSERT INTO reply_stats (user_id, sender_address, reply_count, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT (user_id, sender_address) DO UPDATE SET
				reply_count = reply_stats.reply_count + 1,
				updated_at  = EXCLUDED.updated_at
		`)
	} else {
		query = `
			INSERT INTO reply_stats (user_id, sender_address, reply_count, updated_at)
			VALUES (?, ?, 1, ?)
			ON DUPLICATE KEY UPDATE
				reply_count = reply_count + 1,
				updated_at  = VALUES(updated_at)
		`
	}
	_, err := s.db.ExecContext(ctx, query, userID, senderAddress, time.Now().UTC())
	return err
}
