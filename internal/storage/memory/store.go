package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage"
)

// Store 使用内存保存决策与邮件数据，用于开发环境与单元测试。
//
// 所有写操作在同一把互斥锁下完成，天然满足 upsert 的按键原子性：
// 并发 upsert 同一 (emailID, userID) 只会落下一条记录。
type Store struct {
	mu          sync.RWMutex
	decisions   map[string]map[string]*domain.Decision // userID -> emailID -> decision
	emails      map[string]map[string]*domain.Email    // userID -> emailID -> email
	replyCounts map[string]map[string]int              // userID -> senderAddress -> count
	users       map[string]*domain.User                // userID -> user
	byEmail     map[string]string                      // 注册邮箱 -> userID
}

// NewStore 创建内存存储实例。
func NewStore() *Store {
	return &Store{
		decisions:   make(map[string]map[string]*domain.Decision),
		emails:      make(map[string]map[string]*domain.Email),
		replyCounts: make(map[string]map[string]int),
		users:       make(map[string]*domain.User),
		byEmail:     make(map[string]string),
	}
}

// ========== Decision Repository ==========

// UpsertDecision 原子地插入或按 pending 条件覆盖决策记录。
func (s *Store) UpsertDecision(_ context.Context, decision *domain.Decision) (*domain.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userDecisions, ok := s.decisions[decision.UserID]
	if !ok {
		userDecisions = make(map[string]*domain.Decision)
		s.decisions[decision.UserID] = userDecisions
	}

	existing, ok := userDecisions[decision.EmailID]
	if !ok {
		stored := *decision
		userDecisions[decision.EmailID] = &stored
		result := stored
		return &result, nil
	}

	// 已被用户操作过的记录不覆盖，重分类对状态是 no-op
	if existing.Status != domain.StatusPending {
		result := *existing
		return &result, nil
	}

	existing.DecisionRequired = decision.DecisionRequired
	existing.Type = decision.Type
	existing.Reason = decision.Reason
	existing.SkippedAI = decision.SkippedAI
	existing.DetectedAt = decision.DetectedAt
	existing.UpdatedAt = decision.UpdatedAt

	result := *existing
	return &result, nil
}

// GetDecision 获取指定键的决策记录。
func (s *Store) GetDecision(_ context.Context, emailID, userID string) (*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	decision, ok := s.decisions[userID][emailID]
	if !ok {
		return nil, storage.ErrDecisionNotFound
	}
	result := *decision
	return &result, nil
}

// UpdateDecisionStatus 更新生命周期状态。
func (s *Store) UpdateDecisionStatus(_ context.Context, emailID, userID string, status domain.DecisionStatus, snoozedUntil *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	decision, ok := s.decisions[userID][emailID]
	if !ok {
		return storage.ErrDecisionNotFound
	}

	decision.Status = status
	decision.SnoozedUntil = snoozedUntil
	decision.UpdatedAt = time.Now().UTC()
	return nil
}

// ListPendingDecisions 返回待处理的决策（pending 或延后已到期），按检测时间倒序。
func (s *Store) ListPendingDecisions(_ context.Context, userID string, now time.Time) ([]domain.PendingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PendingDecision, 0)
	for emailID, decision := range s.decisions[userID] {
		if !decision.Actionable(now) {
			continue
		}
		pd := domain.PendingDecision{Decision: *decision}
		if email, ok := s.emails[userID][emailID]; ok {
			pd.Subject = email.Subject
			pd.FromAddress = email.FromAddress
			pd.Snippet = email.Snippet
		}
		result = append(result, pd)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	return result, nil
}

// DecisionStats 聚合指定用户的决策统计。
func (s *Store) DecisionStats(_ context.Context, userID string, now time.Time) (*domain.DecisionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.NewDecisionStats()
	for _, decision := range s.decisions[userID] {
		stats.Add(decision, now)
	}
	return stats, nil
}

// CountActionableDecisions 统计全局可行动记录数。
func (s *Store) CountActionableDecisions(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, userDecisions := range s.decisions {
		for _, decision := range userDecisions {
			if decision.Actionable(now) {
				count++
			}
		}
	}
	return count, nil
}

// ========== Email Repository ==========

// SaveEmail 保存邮件元数据（同步边界与测试使用）。
func (s *Store) SaveEmail(_ context.Context, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userEmails, ok := s.emails[email.UserID]
	if !ok {
		userEmails = make(map[string]*domain.Email)
		s.emails[email.UserID] = userEmails
	}
	stored := *email
	userEmails[email.ID] = &stored
	return nil
}

// GetEmail 获取邮件元数据。
func (s *Store) GetEmail(_ context.Context, emailID, userID string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.emails[userID][emailID]
	if !ok {
		return nil, storage.ErrEmailNotFound
	}
	result := *email
	return &result, nil
}

// ListEmailsByUser 返回指定用户的邮件，按接收时间倒序，limit <= 0 表示不限。
func (s *Store) ListEmailsByUser(_ context.Context, userID string, limit int) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Email, 0, len(s.emails[userID]))
	for _, email := range s.emails[userID] {
		result = append(result, *email)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ========== Reply Stats Repository ==========

// GetReplyCount 返回用户对发件人的历史回复次数，无记录时为 0。
func (s *Store) GetReplyCount(_ context.Context, userID, senderAddress string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replyCounts[userID][senderAddress], nil
}

// IncrementReplyCount 累加回复计数。
func (s *Store) IncrementReplyCount(_ context.Context, userID, senderAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts, ok := s.replyCounts[userID]
	if !ok {
		counts = make(map[string]int)
		s.replyCounts[userID] = counts
	}
	counts[senderAddress]++
	return nil
}

// ========== User Repository ==========

// CreateUser 创建新用户。
func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return storage.ErrEmailExists
	}
	stored := *user
	s.users[user.ID] = &stored
	s.byEmail[user.Email] = user.ID
	return nil
}

// GetUserByID 根据 ID 获取用户。
func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	result := *user
	return &result, nil
}

// GetUserByEmail 根据注册邮箱获取用户。
func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	result := *s.users[id]
	return &result, nil
}

// UpdateLastLogin 更新最近登录时间。
func (s *Store) UpdateLastLogin(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	now := time.Now().UTC()
	user.LastLoginAt = &now
	return nil
}

// Close 关闭存储（内存实现为 no-op）。
func (s *Store) Close() error { return nil }

// Health 健康检查（内存实现恒为健康）。
func (s *Store) Health() error { return nil }
