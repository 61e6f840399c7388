package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailtriage/backend/internal/classify"
	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/monitoring"
	"mailtriage/backend/internal/pool"
	"mailtriage/backend/internal/storage"
	redisstore "mailtriage/backend/internal/storage/redis"
)

// pendingCacheTTL 待办列表缓存的有效期
const pendingCacheTTL = 30 * time.Second

// DecisionNotifier 接收可行动决策的产生事件（WebSocket 推送等）。
type DecisionNotifier interface {
	NotifyDecisionDetected(userID string, decision *domain.Decision)
}

// DecisionService 封装决策分类管线与生命周期操作。
//
// 分类流程: 校验输入 → 读取邮件元数据 → 特征提取 → 预检门控 →
// 快速路径或调用 AI → 归一化 → 原子 upsert。
// AI 调用失败在内部降级，绝不向调用方抛出。
type DecisionService struct {
	store      storage.Store
	extractor  *classify.Extractor
	gate       *classify.Gate
	classifier classify.Classifier
	cache      *redisstore.Cache
	notifier   DecisionNotifier
	pool       *pool.WorkerPool
	metrics    *monitoring.Metrics
	log        *zap.Logger

	snoozeDefault time.Duration
	now           func() time.Time
}

// DecisionServiceOptions 定义决策服务的依赖注入项。
type DecisionServiceOptions struct {
	Store      storage.Store
	Extractor  *classify.Extractor
	Gate       *classify.Gate
	Classifier classify.Classifier // 可为 nil，表示未配置 AI，门控放行后直接降级
	Cache      *redisstore.Cache   // 可为 nil，表示不启用缓存
	Notifier   DecisionNotifier    // 可为 nil
	Pool       *pool.WorkerPool    // 批量分类与异步通知使用；可为 nil，退化为同步执行
	Metrics    *monitoring.Metrics // 可为 nil
	Logger     *zap.Logger

	SnoozeDefault time.Duration    // 未指定恢复时间时的默认推迟时长
	Now           func() time.Time // 可注入时钟，nil 时使用 time.Now
}

// NewDecisionService 创建决策服务。
func NewDecisionService(opts DecisionServiceOptions) *DecisionService {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	snoozeDefault := opts.SnoozeDefault
	if snoozeDefault <= 0 {
		snoozeDefault = 24 * time.Hour
	}

	return &DecisionService{
		store:         opts.Store,
		extractor:     opts.Extractor,
		gate:          opts.Gate,
		classifier:    opts.Classifier,
		cache:         opts.Cache,
		notifier:      opts.Notifier,
		pool:          opts.Pool,
		metrics:       opts.Metrics,
		log:           log,
		snoozeDefault: snoozeDefault,
		now:           now,
	}
}

// ClassifyInput 定义单封邮件的分类输入。
//
// ReplyCountToSender 由调用方（通信历史服务）提供，分类核心自身不查询历史。
type ClassifyInput struct {
	EmailID            string
	UserID             string
	ReplyCountToSender int
}

// Classify 对单封邮件执行两段式分类并持久化决策记录。
//
// 输入缺失 emailID/userID 返回校验错误；邮件不存在返回 storage.ErrEmailNotFound。
// AI 分类失败不会返回错误，内部降级为 informational_only。
func (s *DecisionService) Classify(ctx context.Context, in ClassifyInput) (*domain.Decision, error) {
	if err := domain.ValidateClassifyKey(in.EmailID, in.UserID); err != nil {
		return nil, err
	}

	email, err := s.store.GetEmail(ctx, in.EmailID, in.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	features := s.extractor.Extract(classify.EmailInput{
		Subject:            email.Subject,
		BodyText:           email.BodyText,
		FromAddress:        email.FromAddress,
		IsRead:             email.IsRead,
		ReceivedAt:         email.ReceivedAt,
		ReplyCountToSender: in.ReplyCountToSender,
	}, now)

	var (
		result    *classify.Result
		skippedAI bool
		outcome   string
	)

	if !s.gate.ShouldClassify(features) {
		// 快速路径：无任何行动信号，不调用 AI
		result = &classify.Result{
			Type:   domain.DecisionInformational,
			Reason: classify.ReasonNoActionIndicators,
		}
		skippedAI = true
		outcome = "fast_path"
	} else {
		s.recordGateTriggers(features)
		result, outcome = s.runClassifier(ctx, email)
	}

	decision := &domain.Decision{
		ID:               uuid.NewString(),
		EmailID:          in.EmailID,
		UserID:           in.UserID,
		DecisionRequired: result.Type != domain.DecisionInformational,
		Type:             result.Type,
		Reason:           result.Reason,
		SkippedAI:        skippedAI,
		Status:           domain.StatusPending,
		DetectedAt:       now,
	}

	persisted, err := s.store.UpsertDecision(ctx, decision)
	if err != nil {
		return nil, err
	}

	if persisted.Status != domain.StatusPending {
		// 重新分类命中已操作的记录：状态保持不变，仅记录日志
		s.log.Info("re-classification hit actioned decision, state untouched",
			zap.String("email_id", in.EmailID),
			zap.String("user_id", in.UserID),
			zap.String("status", string(persisted.Status)),
		)
		if s.metrics != nil {
			s.metrics.RecordUpsertSkipped()
		}
	} else {
		s.invalidateCaches(ctx, in.UserID)
		if persisted.DecisionRequired {
			s.notifyDetected(in.UserID, persisted)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordClassification(outcome, string(persisted.Type))
	}

	s.log.Debug("email classified",
		zap.String("email_id", in.EmailID),
		zap.String("user_id", in.UserID),
		zap.String("type", string(persisted.Type)),
		zap.Bool("skipped_ai", persisted.SkippedAI),
		zap.String("outcome", outcome),
	)

	return persisted, nil
}

// runClassifier 调用 AI 分类器，失败时降级为本地兜底结果。
func (s *DecisionService) runClassifier(ctx context.Context, email *domain.Email) (*classify.Result, string) {
	if s.classifier == nil {
		return classify.FallbackResult(), "fallback"
	}

	start := s.now()
	result, err := s.classifier.Classify(ctx, email.Subject, email.BodyText)
	if s.metrics != nil {
		s.metrics.RecordClassifierCall(time.Since(start))
	}
	if err != nil {
		s.log.Warn("classifier call failed, using fallback",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordClassifierFailure(failureReason(err))
		}
		return classify.FallbackResult(), "fallback"
	}
	return result, "ai"
}

// failureReason 将分类器错误映射为指标标签。
func failureReason(err error) string {
	switch {
	case errors.Is(err, classify.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, classify.ErrClassifierUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

// recordGateTriggers 记录触发门控的各项信号。
func (s *DecisionService) recordGateTriggers(f classify.Features) {
	if s.metrics == nil {
		return
	}
	if f.HasQuestionMark {
		s.metrics.RecordGateTrigger("question_mark")
	}
	if f.HasActionKeyword {
		s.metrics.RecordGateTrigger("keyword")
	}
	if f.IsFrequentCorrespondent {
		s.metrics.RecordGateTrigger("frequent_correspondent")
	}
	if f.UnreadAgeDays > s.extractor.StaleDays() {
		s.metrics.RecordGateTrigger("stale_unread")
	}
}

// BatchResult 定义批量分类中单封邮件的结果。
type BatchResult struct {
	EmailID  string           `json:"emailId"`
	Decision *domain.Decision `json:"decision,omitempty"`
	Err      error            `json:"-"`
}

// ClassifyBatch 对一批邮件并发执行分类。
//
// 每封邮件是独立任务：单封超时或出错不会阻塞、不会中断其余邮件。
// 结果按输入顺序返回，出错项的 Err 字段非空。
func (s *DecisionService) ClassifyBatch(ctx context.Context, inputs []ClassifyInput) []BatchResult {
	results := make([]BatchResult, len(inputs))

	var wg sync.WaitGroup
	for i, in := range inputs {
		i, in := i, in
		wg.Add(1)
		task := func() {
			defer wg.Done()
			decision, err := s.Classify(ctx, in)
			results[i] = BatchResult{EmailID: in.EmailID, Decision: decision, Err: err}
		}
		if s.pool != nil {
			s.pool.Submit(task)
		} else {
			go task()
		}
	}
	wg.Wait()

	return results
}

// ========== 生命周期操作 ==========

// Complete 将决策标记为已完成。幂等：重复完成不报错。
func (s *DecisionService) Complete(ctx context.Context, emailID, userID string) error {
	return s.transition(ctx, emailID, userID, domain.StatusDone, nil, "complete")
}

// Dismiss 将决策标记为已忽略。
func (s *DecisionService) Dismiss(ctx context.Context, emailID, userID string) error {
	return s.transition(ctx, emailID, userID, domain.StatusDismissed, nil, "dismiss")
}

// MarkNotDecision 将记录标记为"不是决策"。
func (s *DecisionService) MarkNotDecision(ctx context.Context, emailID, userID string) error {
	return s.transition(ctx, emailID, userID, domain.StatusNotDecision, nil, "not_decision")
}

// Snooze 将决策推迟到指定时间。
//
// until 为 nil 时使用默认推迟时长；until 不在未来返回 domain.ErrSnoozeInPast，
// 记录状态保持不变。
func (s *DecisionService) Snooze(ctx context.Context, emailID, userID string, until *time.Time) error {
	now := s.now()
	if until == nil {
		t := now.Add(s.snoozeDefault)
		until = &t
	}
	if err := domain.ValidateSnoozeUntil(*until, now); err != nil {
		return err
	}
	return s.transition(ctx, emailID, userID, domain.StatusSnoozed, until, "snooze")
}

// transition 执行一次状态迁移并处理缓存与指标。
func (s *DecisionService) transition(ctx context.Context, emailID, userID string, status domain.DecisionStatus, snoozedUntil *time.Time, action string) error {
	if err := domain.ValidateClassifyKey(emailID, userID); err != nil {
		return err
	}

	if err := s.store.UpdateDecisionStatus(ctx, emailID, userID, status, snoozedUntil); err != nil {
		return err
	}

	s.invalidateCaches(ctx, userID)
	if s.metrics != nil {
		s.metrics.RecordDecisionAction(action)
	}

	s.log.Debug("decision status updated",
		zap.String("email_id", emailID),
		zap.String("user_id", userID),
		zap.String("status", string(status)),
	)
	return nil
}

// ========== 查询操作 ==========

// ListPending 返回用户的待办决策列表。
//
// 包含 status 为 pending 的记录以及延后时间已到期的 snoozed 记录，
// 附带邮件元数据供界面展示。
func (s *DecisionService) ListPending(ctx context.Context, userID string) ([]domain.PendingDecision, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetCachedPendingList(ctx, userID); err == nil {
			return cached, nil
		}
	}

	decisions, err := s.store.ListPendingDecisions(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CachePendingList(ctx, userID, decisions, pendingCacheTTL); err != nil {
			s.log.Warn("failed to cache pending list", zap.Error(err))
		}
	}
	return decisions, nil
}

// Stats 返回用户的决策统计。
func (s *DecisionService) Stats(ctx context.Context, userID string) (*domain.DecisionStats, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetCachedStats(ctx, userID); err == nil {
			return cached, nil
		}
	}

	stats, err := s.store.DecisionStats(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheStats(ctx, userID, stats, pendingCacheTTL); err != nil {
			s.log.Warn("failed to cache stats", zap.Error(err))
		}
	}
	return stats, nil
}

// RefreshPendingGauge 刷新全局待办数指标，由后台定时任务调用。
func (s *DecisionService) RefreshPendingGauge(ctx context.Context) error {
	if s.metrics == nil {
		return nil
	}
	count, err := s.store.CountActionableDecisions(ctx, s.now())
	if err != nil {
		return err
	}
	s.metrics.UpdateDecisionsPending(count)
	return nil
}

// invalidateCaches 写操作后使该用户的列表与统计缓存失效。
func (s *DecisionService) invalidateCaches(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePendingList(ctx, userID); err != nil {
		s.log.Warn("failed to invalidate pending list cache", zap.Error(err))
	}
	if err := s.cache.InvalidateStats(ctx, userID); err != nil {
		s.log.Warn("failed to invalidate stats cache", zap.Error(err))
	}
}

// notifyDetected 异步推送 decision.detected 事件。
// 启用 Redis 时走发布订阅，由事件转发器投递到各实例的 Hub，
// 否则直接通知本进程的 notifier。
func (s *DecisionService) notifyDetected(userID string, decision *domain.Decision) {
	if s.cache == nil && s.notifier == nil {
		return
	}
	d := *decision
	var task func()
	if s.cache != nil {
		task = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.cache.PublishDecisionEvent(ctx, userID, &d); err != nil {
				s.log.Warn("failed to publish decision event", zap.Error(err))
				if s.notifier != nil {
					s.notifier.NotifyDecisionDetected(userID, &d)
				}
			}
		}
	} else {
		task = func() { s.notifier.NotifyDecisionDetected(userID, &d) }
	}
	if s.pool != nil && s.pool.TrySubmit(task) {
		return
	}
	task()
}
