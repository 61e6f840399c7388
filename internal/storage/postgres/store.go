package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage"
)

// Store PostgreSQL 存储实现（pgx 连接池，生产环境首选）。
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Options 连接池参数
type Options struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// NewStore 创建 PostgreSQL 存储实例并初始化表结构。
func NewStore(ctx context.Context, opts Options, log *zap.Logger) (*Store, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	if opts.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.ConnMaxLifetime
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("connected to PostgreSQL",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)
	return s, nil
}

// migrate 初始化表结构。与 cmd/migrate 的 GORM AutoMigrate 保持同构。
func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            VARCHAR(36) PRIMARY KEY,
			email         VARCHAR(255) NOT NULL UNIQUE,
			username      VARCHAR(100),
			password_hash VARCHAR(255),
			is_active     BOOLEAN DEFAULT TRUE,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			last_login_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS emails (
			id           VARCHAR(128) NOT NULL,
			user_id      VARCHAR(36) NOT NULL,
			subject      VARCHAR(500),
			body_text    TEXT,
			snippet      VARCHAR(300),
			from_address VARCHAR(255),
			is_read      BOOLEAN DEFAULT FALSE,
			received_at  TIMESTAMPTZ,
			synced_at    TIMESTAMPTZ,
			PRIMARY KEY (id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_user_received ON emails (user_id, received_at DESC)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id                VARCHAR(36) PRIMARY KEY,
			email_id          VARCHAR(128) NOT NULL,
			user_id           VARCHAR(36) NOT NULL,
			decision_required BOOLEAN NOT NULL DEFAULT FALSE,
			type              VARCHAR(32) NOT NULL,
			reason            VARCHAR(255),
			skipped_ai        BOOLEAN NOT NULL DEFAULT FALSE,
			status            VARCHAR(20) NOT NULL DEFAULT 'pending',
			snoozed_until     TIMESTAMPTZ,
			detected_at       TIMESTAMPTZ NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			UNIQUE (email_id, user_id),
			FOREIGN KEY (email_id, user_id) REFERENCES emails (id, user_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_user_status ON decisions (user_id, status)`,
		`CREATE TABLE IF NOT EXISTS reply_stats (
			user_id        VARCHAR(36) NOT NULL,
			sender_address VARCHAR(255) NOT NULL,
			reply_count    INTEGER NOT NULL DEFAULT 0,
			updated_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, sender_address)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ========== Decision Repository ==========

const decisionColumns = `id, email_id, user_id, decision_required, type, reason, skipped_ai, status, snoozed_until, detected_at, created_at, updated_at`

func scanDecision(row pgx.Row) (*domain.Decision, error) {
	var d domain.Decision
	err := row.Scan(
		&d.ID, &d.EmailID, &d.UserID, &d.DecisionRequired, &d.Type, &d.Reason,
		&d.SkippedAI, &d.Status, &d.SnoozedUntil, &d.DetectedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrDecisionNotFound
		}
		return nil, err
	}
	return &d, nil
}

// UpsertDecision 单条语句完成 insert-or-update-if-pending，并发安全由唯一约束保证。
//
// 条件更新未命中（记录已被用户操作过）时 RETURNING 不产生行，
// 此时回读现状返回，状态保持不变。
func (s *Store) UpsertDecision(ctx context.Context, d *domain.Decision) (*domain.Decision, error) {
	query := `
		INSERT INTO decisions (` + decisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (email_id, user_id) DO UPDATE SET
			decision_required = EXCLUDED.decision_required,
			type              = EXCLUDED.type,
			reason            = EXCLUDED.reason,
			skipped_ai        = EXCLUDED.skipped_ai,
			detected_at       = EXCLUDED.detected_at,
			updated_at        = EXCLUDED.updated_at
		WHERE decisions.status = 'pending'
		RETURNING ` + decisionColumns

	row := s.pool.QueryRow(ctx, query,
		d.ID, d.EmailID, d.UserID, d.DecisionRequired, d.Type, d.Reason,
		d.SkippedAI, d.Status, d.SnoozedUntil, d.DetectedAt, d.CreatedAt, d.UpdatedAt,
	)
	result, err := scanDecision(row)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, storage.ErrDecisionNotFound) {
		return nil, err
	}
	// 冲突且状态非 pending：读回现有记录
	return s.GetDecision(ctx, d.EmailID, d.UserID)
}

// GetDecision 获取指定键的决策记录。
func (s *Store) GetDecision(ctx context.Context, emailID, userID string) (*domain.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE email_id = $1 AND user_id = $2`
	return scanDecision(s.pool.QueryRow(ctx, query, emailID, userID))
}

// UpdateDecisionStatus 更新生命周期状态。
func (s *Store) UpdateDecisionStatus(ctx context.Context, emailID, userID string, status domain.DecisionStatus, snoozedUntil *time.Time) error {
	query := `
		UPDATE decisions
		SET status = $1, snoozed_until = $2, updated_at = NOW()
		WHERE email_id = $3 AND user_id = $4
	`
	tag, err := s.pool.Exec(ctx, query, status, snoozedUntil, emailID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDecisionNotFound
	}
	return nil
}

// ListPendingDecisions 返回 pending 及延后已到期的记录，连带邮件元数据。
func (s *Store) ListPendingDecisions(ctx context.Context, userID string, now time.Time) ([]domain.PendingDecision, error) {
	query := `
		SELECT d.id, d.email_id, d.user_id, d.decision_required, d.type, d.reason,
		       d.skipped_ai, d.status, d.snoozed_until, d.detected_at, d.created_at, d.updated_at,
		       COALESCE(e.subject, ''), COALESCE(e.from_address, ''), COALESCE(e.snippet, '')
		FROM decisions d
		LEFT JOIN emails e ON e.id = d.email_id AND e.user_id = d.user_id
		WHERE d.user_id = $1
		  AND (d.status = 'pending' OR (d.status = 'snoozed' AND d.snoozed_until <= $2))
		ORDER BY d.detected_at DESC
	`
	rows, err := s.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PendingDecision, 0)
	for rows.Next() {
		var pd domain.PendingDecision
		if err := rows.Scan(
			&pd.ID, &pd.EmailID, &pd.UserID, &pd.DecisionRequired, &pd.Type, &pd.Reason,
			&pd.SkippedAI, &pd.Status, &pd.SnoozedUntil, &pd.DetectedAt, &pd.CreatedAt, &pd.UpdatedAt,
			&pd.Subject, &pd.FromAddress, &pd.Snippet,
		); err != nil {
			return nil, err
		}
		result = append(result, pd)
	}
	return result, rows.Err()
}

// DecisionStats 聚合决策统计。
func (s *Store) DecisionStats(ctx context.Context, userID string, now time.Time) (*domain.DecisionStats, error) {
	query := `
		SELECT status, type, COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending' OR (status = 'snoozed' AND snoozed_until <= $2))
		FROM decisions
		WHERE user_id = $1
		GROUP BY status, type
	`
	rows, err := s.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := domain.NewDecisionStats()
	for rows.Next() {
		var (
			status     domain.DecisionStatus
			dtype      domain.DecisionType
			count      int
			actionable int
		)
		if err := rows.Scan(&status, &dtype, &count, &actionable); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.Actionable += actionable
		stats.ByStatus[status] += count
		stats.ByType[dtype] += count
	}
	return stats, rows.Err()
}

// CountActionableDecisions 统计全局可行动记录数。
func (s *Store) CountActionableDecisions(ctx context.Context, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM decisions
		WHERE status = 'pending' OR (status = 'snoozed' AND snoozed_until <= $1)
	`
	var count int
	if err := s.pool.QueryRow(ctx, query, now).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ========== Email Repository ==========

// SaveEmail 保存邮件元数据（同步边界使用，重复同步按主键覆盖）。
func (s *Store) SaveEmail(ctx context.Context, email *domain.Email) error {
	query := `
		INSERT INTO emails (id, user_id, subject, body_text, snippet, from_address, is_read, received_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id, user_id) DO UPDATE SET
			subject      = EXCLUDED.subject,
			body_text    = EXCLUDED.body_text,
			snippet      = EXCLUDED.snippet,
			from_address = EXCLUDED.from_address,
			is_read      = EXCLUDED.is_read,
			received_at  = EXCLUDED.received_at,
			synced_at    = EXCLUDED.synced_at
	`
	_, err := s.pool.Exec(ctx, query,
		email.ID, email.UserID, email.Subject, email.BodyText, email.Snippet,
		email.FromAddress, email.IsRead, email.ReceivedAt, email.SyncedAt,
	)
	return err
}

// GetEmail 获取邮件元数据。
func (s *Store) GetEmail(ctx context.Context, emailID, userID string) (*domain.Email, error) {
	query := `
		SELECT id, user_id, subject, body_text, snippet, from_address, is_read, received_at, synced_at
		FROM emails WHERE id = $1 AND user_id = $2
	`
	var e domain.Email
	err := s.pool.QueryRow(ctx, query, emailID, userID).Scan(
		&e.ID, &e.UserID, &e.Subject, &e.BodyText, &e.Snippet,
		&e.FromAddress, &e.IsRead, &e.ReceivedAt, &e.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ListEmailsByUser 返回指定用户的邮件，按接收时间倒序。
func (s *Store) ListEmailsByUser(ctx context.Context, userID string, limit int) ([]domain.Email, error) {
	query := `
		SELECT id, user_id, subject, body_text, snippet, from_address, is_read, received_at, synced_at
		FROM emails WHERE user_id = $1 ORDER BY received_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

// ========== Reply Stats Repository ==========

// GetReplyCount 返回历史回复次数，无记录时为 0。
func (s *Store) GetReplyCount(ctx context.Context, userID, senderAddress string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT reply_count FROM reply_stats WHERE user_id = $1 AND sender_address = $2`,
		userID, senderAddress,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// IncrementReplyCount 累加回复计数。
func (s *Store) IncrementReplyCount(ctx context.Context, userID, senderAddress string) error {
	query := `
		INSERT INTO reply_stats (user_id, sender_address, reply_count, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (user_id, sender_address) DO UPDATE SET
			reply_count = reply_stats.reply_count + 1,
			updated_at  = NOW()
	`
	_, err := s.pool.Exec(ctx, query, userID, senderAddress)
	return err
}

// ========== User Repository ==========

// CreateUser 创建新用户。
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, username, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		user.ID, user.Email, user.Username, user.PasswordHash,
		user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrEmailExists
	}
	return nil
}

func (s *Store) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID 根据 ID 获取用户。
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, email, username, password_hash, is_active, created_at, updated_at, last_login_at FROM users WHERE id = $1`
	return s.scanUser(s.pool.QueryRow(ctx, query, id))
}

// GetUserByEmail 根据注册邮箱获取用户。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT id, email, username, password_hash, is_active, created_at, updated_at, last_login_at FROM users WHERE email = $1`
	return s.scanUser(s.pool.QueryRow(ctx, query, email))
}

// UpdateLastLogin 更新最近登录时间。
func (s *Store) UpdateLastLogin(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// Close 关闭连接池。
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
