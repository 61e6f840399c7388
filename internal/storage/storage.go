package storage

import (
	"context"
	"errors"
	"time"

	"mailtriage/backend/internal/domain"
)

var (
	// ErrDecisionNotFound 决策记录不存在（邮件尚未分类）
	ErrDecisionNotFound = errors.New("decision not found")
	// ErrEmailNotFound 邮件不存在
	ErrEmailNotFound = errors.New("email not found")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailExists 注册邮箱已被占用
	ErrEmailExists = errors.New("email already exists")
)

// DecisionRepository 定义决策记录的存取操作。
//
// UpsertDecision 必须是按 (emailID, userID) 原子的 insert-or-update：
// 记录不存在时插入；存在且 status 为 pending 时覆盖分类字段
// （decisionRequired、type、reason、skippedAi、detectedAt）；
// 存在且已被用户操作过（done/dismissed/snoozed/not_decision）时不做任何修改。
// 实现不得使用先读后写，两个并发 upsert 只能产生一条记录。
type DecisionRepository interface {
	UpsertDecision(ctx context.Context, decision *domain.Decision) (*domain.Decision, error)
	GetDecision(ctx context.Context, emailID, userID string) (*domain.Decision, error)
	// UpdateDecisionStatus 更新生命周期状态；记录不存在时返回 ErrDecisionNotFound。
	// snoozedUntil 仅在切换到 snoozed 时非空，其余状态传 nil 并清空原值。
	UpdateDecisionStatus(ctx context.Context, emailID, userID string, status domain.DecisionStatus, snoozedUntil *time.Time) error
	// ListPendingDecisions 返回 pending 以及延后已到期的记录，附带邮件元数据。
	ListPendingDecisions(ctx context.Context, userID string, now time.Time) ([]domain.PendingDecision, error)
	// DecisionStats 按状态与类型聚合统计。
	DecisionStats(ctx context.Context, userID string, now time.Time) (*domain.DecisionStats, error)
	// CountActionableDecisions 统计全局可行动记录数（pending 加延后已到期），用于监控指标。
	CountActionableDecisions(ctx context.Context, now time.Time) (int, error)
}

// EmailRepository 定义邮件元数据的存取操作。
//
// 邮件由外部同步进程写入；决策核心只读，SaveEmail 仅供同步边界与测试使用。
type EmailRepository interface {
	SaveEmail(ctx context.Context, email *domain.Email) error
	GetEmail(ctx context.Context, emailID, userID string) (*domain.Email, error)
	ListEmailsByUser(ctx context.Context, userID string, limit int) ([]domain.Email, error)
}

// ReplyStatsRepository 定义通信历史（用户对发件人的历史回复次数）的存取操作。
type ReplyStatsRepository interface {
	GetReplyCount(ctx context.Context, userID, senderAddress string) (int, error)
	IncrementReplyCount(ctx context.Context, userID, senderAddress string) error
}

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, userID string) error
}

// Store 定义完整的存储接口。
type Store interface {
	DecisionRepository
	EmailRepository
	ReplyStatsRepository
	UserRepository

	Close() error
	Health() error
}
