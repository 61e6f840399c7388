package sql

import (
	"context"
	"database/sql"
	"time"

	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage"
)

// ========== Decision Repository ==========

const decisionColumns = `id, email_id, user_id, decision_required, type, reason, skipped_ai, status, snoozed_until, detected_at, created_at, updated_at`

// UpsertDecision 单条语句完成 insert-or-update-if-pending。
//
// PostgreSQL 走 ON CONFLICT ... DO UPDATE ... WHERE status='pending'；
// MySQL 走 ON DUPLICATE KEY UPDATE 配合 IF(status='pending', ...) 条件表达式。
// 两者都依赖 (email_id, user_id) 唯一约束，不做先读后写。
func (s *Store) UpsertDecision(ctx context.Context, d *domain.Decision) (*domain.Decision, error) {
	var query string
	if s.driverName == "postgres" {
		query = s.rebind(`
			INSERT INTO decisions (` + decisionColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (email_id, user_id) DO UPDATE SET
				decision_required = EXCLUDED.decision_required,
				type              = EXCLUDED.type,
				reason            = EXCLUDED.reason,
				skipped_ai        = EXCLUDED.skipped_ai,
				detected_at       = EXCLUDED.detected_at,
				updated_at        = EXCLUDED.updated_at
			WHERE decisions.status = 'pending'
		`)
	} else {
		query = `
			INSERT INTO decisions (` + decisionColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				decision_required = IF(status = 'pending', VALUES(decision_required), decision_required),
				type              = IF(status = 'pending', VALUES(type), type),
				reason            = IF(status = 'pending', VALUES(reason), reason),
				skipped_ai        = IF(status = 'pending', VALUES(skipped_ai), skipped_ai),
				detected_at       = IF(status = 'pending', VALUES(detected_at), detected_at),
				updated_at        = IF(status = 'pending', VALUES(updated_at), updated_at)
		`
	}

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.EmailID, d.UserID, d.DecisionRequired, d.Type, d.Reason,
		d.SkippedAI, d.Status, d.SnoozedUntil, d.DetectedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s.GetDecision(ctx, d.EmailID, d.UserID)
}

func (s *Store) scanDecision(row *sql.Row) (*domain.Decision, error) {
	var d domain.Decision
	var snoozedUntil sql.NullTime
	err := row.Scan(
		&d.ID, &d.EmailID, &d.UserID, &d.DecisionRequired, &d.Type, &d.Reason,
		&d.SkippedAI, &d.Status, &snoozedUntil, &d.DetectedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, storage.ErrDecisionNotFound)
	}
	if snoozedUntil.Valid {
		t := snoozedUntil.Time
		d.SnoozedUntil = &t
	}
	return &d, nil
}

// GetDecision 获取指定键的决策记录。
func (s *Store) GetDecision(ctx context.Context, emailID, userID string) (*domain.Decision, error) {
	query := s.rebind(`SELECT ` + decisionColumns + ` FROM decisions WHERE email_id = ? AND user_id = ?`)
	return s.scanDecision(s.db.QueryRowContext(ctx, query, emailID, userID))
}

// UpdateDecisionStatus 更新生命周期状态。
func (s *Store) UpdateDecisionStatus(ctx context.Context, emailID, userID string, status domain.DecisionStatus, snoozedUntil *time.Time) error {
	query := s.rebind(`
		UPDATE decisions SET status = ?, snoozed_until = ?, updated_at = ?
		WHERE email_id = ? AND user_id = ?
	`)
	result, err := s.db.ExecContext(ctx, query, status, snoozedUntil, time.Now().UTC(), emailID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrDecisionNotFound
	}
	return nil
}

// ListPendingDecisions 返回 pending 及延后已到期的记录，连带邮件元数据。
func (s *Store) ListPendingDecisions(ctx context.Context, userID string, now time.Time) ([]domain.PendingDecision, error) {
	query := s.rebind(`
		SELECT d.id, d.email_id, d.user_id, d.decision_required, d.type, d.reason,
		       d.skipped_ai, d.status, d.snoozed_until, d.detected_at, d.created_at, d.updated_at,
		       COALESCE(e.subject, ''), COALESCE(e.from_address, ''), COALESCE(e.snippet, '')
		FROM decisions d
		LEFT JOIN emails e ON e.id = d.email_id AND e.user_id = d.user_id
		WHERE d.user_id = ?
		  AND (d.status = 'pending' OR (d.status = 'snoozed' AND d.snoozed_until <= ?))
		ORDER BY d.detected_at DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PendingDecision, 0)
	for rows.Next() {
		var pd domain.PendingDecision
		var snoozedUntil sql.NullTime
		if err := rows.Scan(
			&pd.ID, &pd.EmailID, &pd.UserID, &pd.DecisionRequired, &pd.Type, &pd.Reason,
			&pd.SkippedAI, &pd.Status, &snoozedUntil, &pd.DetectedAt, &pd.CreatedAt, &pd.UpdatedAt,
			&pd.Subject, &pd.FromAddress, &pd.Snippet,
		); err != nil {
			return nil, err
		}
		if snoozedUntil.Valid {
			t := snoozedUntil.Time
			pd.SnoozedUntil = &t
		}
		result = append(result, pd)
	}
	return result, rows.Err()
}

// DecisionStats 聚合决策统计。
//
// actionable 口径与 ListPendingDecisions 的查询条件保持一致。
func (s *Store) DecisionStats(ctx context.Context, userID string, now time.Time) (*domain.DecisionStats, error) {
	query := s.rebind(`
		SELECT status, type, snoozed_until, COUNT(*)
		FROM decisions
		WHERE user_id = ?
		GROUP BY status, type, snoozed_until
	`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := domain.NewDecisionStats()
	for rows.Next() {
		var (
			status       domain.DecisionStatus
			dtype        domain.DecisionType
			snoozedUntil sql.NullTime
			count        int
		)
		if err := rows.Scan(&status, &dtype, &snoozedUntil, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByType[dtype] += count
		if status == domain.StatusPending ||
			(status == domain.StatusSnoozed && snoozedUntil.Valid && !snoozedUntil.Time.After(now)) {
			stats.Actionable += count
		}
	}
	return stats, rows.Err()
}

// CountActionableDecisions 统计全局可行动记录数。
func (s *Store) CountActionableDecisions(ctx context.Context, now time.Time) (int, error) {
	query := s.rebind(`
		SELECT COUNT(*)
		FROM decisions
		WHERE status = 'pending' OR (status = 'snoozed' AND snoozed_until <= ?)
	`)
	var count int
	if err := s.db.QueryRowContext(ctx, query, now).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
