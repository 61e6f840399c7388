package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/backend/internal/classify"
	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage"
	"mailtriage/backend/internal/storage/memory"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

// fakeClassifier 可注入结果并统计调用次数的分类器
type fakeClassifier struct {
	mu     sync.Mutex
	calls  int
	result *classify.Result
	err    error
}

func (f *fakeClassifier) Classify(_ context.Context, _, _ string) (*classify.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeNotifier 记录推送的事件
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) NotifyDecisionDetected(userID string, decision *domain.Decision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, userID+"/"+decision.EmailID)
}

func newTestService(classifier classify.Classifier) (*DecisionService, *memory.Store, *fakeNotifier) {
	store := memory.NewStore()
	notifier := &fakeNotifier{}
	svc := NewDecisionService(DecisionServiceOptions{
		Store:      store,
		Extractor:  classify.NewExtractor(),
		Gate:       classify.NewGate(classify.DefaultStaleUnreadDays),
		Classifier: classifier,
		Notifier:   notifier,
		Now:        func() time.Time { return testNow },
	})
	return svc, store, notifier
}

func seedEmail(t *testing.T, store *memory.Store, email *domain.Email) {
	t.Helper()
	require.NoError(t, store.SaveEmail(context.Background(), email))
}

func TestDecisionServiceClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("新闻邮件走快速路径且不调用AI", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "should not be used"}}
		svc, store, _ := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID:          "e1",
			UserID:      "u1",
			Subject:     "Weekly Newsletter",
			BodyText:    "Top stories this week...",
			FromAddress: "news@example.com",
			IsRead:      true,
			ReceivedAt:  testNow.Add(-time.Hour),
		})

		decision, err := svc.Classify(ctx, ClassifyInput{EmailID: "e1", UserID: "u1"})

		require.NoError(t, err)
		assert.False(t, decision.DecisionRequired)
		assert.Equal(t, domain.DecisionInformational, decision.Type)
		assert.Equal(t, "No action indicators found", decision.Reason)
		assert.True(t, decision.SkippedAI)
		assert.Equal(t, domain.StatusPending, decision.Status)
		assert.Equal(t, 0, fake.callCount(), "快速路径绝不能触碰 AI 分类器")
	})

	t.Run("问号触发AI分类", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "Sender asks for help"}}
		svc, store, notifier := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID:          "e2",
			UserID:      "u1",
			Subject:     "Quick question",
			BodyText:    "Can you help me with this?",
			FromAddress: "colleague@example.com",
			IsRead:      false,
			ReceivedAt:  testNow.Add(-time.Hour),
		})

		decision, err := svc.Classify(ctx, ClassifyInput{EmailID: "e2", UserID: "u1"})

		require.NoError(t, err)
		assert.True(t, decision.DecisionRequired)
		assert.Equal(t, domain.DecisionReplyRequired, decision.Type)
		assert.False(t, decision.SkippedAI)
		assert.Equal(t, 1, fake.callCount())
		assert.Equal(t, []string{"u1/e2"}, notifier.events)
	})

	t.Run("行动关键词触发AI分类", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionDeadline, Reason: "Submission due Friday"}}
		svc, store, _ := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID:          "e3",
			UserID:      "u1",
			Subject:     "Project due",
			BodyText:    "Deadline Friday 5pm",
			FromAddress: "pm@example.com",
			IsRead:      true,
			ReceivedAt:  testNow.Add(-time.Hour),
		})

		decision, err := svc.Classify(ctx, ClassifyInput{EmailID: "e3", UserID: "u1"})

		require.NoError(t, err)
		assert.Equal(t, domain.DecisionDeadline, decision.Type)
		assert.False(t, decision.SkippedAI)
		assert.Equal(t, 1, fake.callCount())
	})

	t.Run("长期未读无文本信号仍触发AI", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionFollowUp, Reason: "Left unread for days"}}
		svc, store, _ := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID:          "e4",
			UserID:      "u1",
			Subject:     "Hello",
			BodyText:    "Just checking in",
			FromAddress: "friend@example.com",
			IsRead:      false,
			ReceivedAt:  testNow.Add(-5 * 24 * time.Hour),
		})

		decision, err := svc.Classify(ctx, ClassifyInput{EmailID: "e4", UserID: "u1"})

		require.NoError(t, err)
		assert.Equal(t, domain.DecisionFollowUp, decision.Type)
		assert.Equal(t, 1, fake.callCount())
	})

	t.Run("高频联系人触发AI", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "Frequent correspondent"}}
		svc, store, _ := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID:          "e5",
			UserID:      "u1",
			Subject:     "Hello",
			BodyText:    "No signals here",
			FromAddress: "boss@example.com",
			IsRead:      true,
			ReceivedAt:  testNow.Add(-time.Hour),
		})

		_, err := svc.Classify(ctx, ClassifyInput{EmailID: "e5", UserID: "u1", ReplyCountToSender: 4})

		require.NoError(t, err)
		assert.Equal(t, 1, fake.callCount())
	})

	t.Run("AI失败降级为informational且不返回错误", func(t *testing.T) {
		fake := &fakeClassifier{err: classify.ErrClassifierUnavailable}
		svc, store, notifier := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID:          "e6",
			UserID:      "u1",
			Subject:     "Quick question",
			BodyText:    "Can you help?",
			FromAddress: "x@example.com",
			IsRead:      false,
			ReceivedAt:  testNow.Add(-time.Hour),
		})

		decision, err := svc.Classify(ctx, ClassifyInput{EmailID: "e6", UserID: "u1"})

		require.NoError(t, err)
		assert.False(t, decision.DecisionRequired)
		assert.Equal(t, domain.DecisionInformational, decision.Type)
		assert.Equal(t, "Classification unavailable", decision.Reason)
		assert.False(t, decision.SkippedAI, "AI 被尝试过，skippedAi 必须为 false")
		assert.Equal(t, 1, fake.callCount())
		assert.Empty(t, notifier.events, "降级结果不可行动，不应推送事件")
	})

	t.Run("未配置分类器时直接降级", func(t *testing.T) {
		svc, store, _ := newTestService(nil)

		seedEmail(t, store, &domain.Email{
			ID:          "e7",
			UserID:      "u1",
			Subject:     "Urgent request",
			BodyText:    "action required",
			FromAddress: "x@example.com",
			IsRead:      false,
			ReceivedAt:  testNow.Add(-time.Hour),
		})

		decision, err := svc.Classify(ctx, ClassifyInput{EmailID: "e7", UserID: "u1"})

		require.NoError(t, err)
		assert.Equal(t, domain.DecisionInformational, decision.Type)
		assert.Equal(t, "Classification unavailable", decision.Reason)
		assert.False(t, decision.SkippedAI)
	})

	t.Run("缺失emailId返回校验错误", func(t *testing.T) {
		svc, _, _ := newTestService(nil)

		_, err := svc.Classify(ctx, ClassifyInput{EmailID: "", UserID: "u1"})
		assert.ErrorIs(t, err, domain.ErrEmailIDRequired)

		_, err = svc.Classify(ctx, ClassifyInput{EmailID: "e1", UserID: ""})
		assert.ErrorIs(t, err, domain.ErrUserIDRequired)
	})

	t.Run("邮件不存在返回ErrEmailNotFound", func(t *testing.T) {
		svc, _, _ := newTestService(nil)

		_, err := svc.Classify(ctx, ClassifyInput{EmailID: "missing", UserID: "u1"})
		assert.ErrorIs(t, err, storage.ErrEmailNotFound)
	})

	t.Run("重新分类已完成的决策不改变状态", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "first pass"}}
		svc, store, _ := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID:          "e8",
			UserID:      "u1",
			Subject:     "Quick question?",
			BodyText:    "help",
			FromAddress: "x@example.com",
			IsRead:      false,
			ReceivedAt:  testNow.Add(-time.Hour),
		})

		first, err := svc.Classify(ctx, ClassifyInput{EmailID: "e8", UserID: "u1"})
		require.NoError(t, err)
		require.NoError(t, svc.Complete(ctx, "e8", "u1"))

		// 重新同步触发的再分类给出不同结果
		fake.result = &classify.Result{Type: domain.DecisionDeadline, Reason: "second pass"}
		second, err := svc.Classify(ctx, ClassifyInput{EmailID: "e8", UserID: "u1"})

		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, second.Status)
		assert.Equal(t, first.Type, second.Type, "已操作记录的分类字段不得被覆盖")
		assert.Equal(t, "first pass", second.Reason)
	})
}

func TestDecisionServiceLifecycle(t *testing.T) {
	ctx := context.Background()

	seedPending := func(t *testing.T, svc *DecisionService, store *memory.Store, emailID string) {
		t.Helper()
		seedEmail(t, store, &domain.Email{
			ID:          emailID,
			UserID:      "u1",
			Subject:     "Need your input?",
			BodyText:    "please confirm",
			FromAddress: "x@example.com",
			IsRead:      false,
			ReceivedAt:  testNow.Add(-time.Hour),
		})
		_, err := svc.Classify(ctx, ClassifyInput{EmailID: emailID, UserID: "u1"})
		require.NoError(t, err)
	}

	t.Run("完成决策", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)
		seedPending(t, svc, store, "e1")

		require.NoError(t, svc.Complete(ctx, "e1", "u1"))

		decision, err := store.GetDecision(ctx, "e1", "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, decision.Status)

		// 幂等：重复完成不报错
		assert.NoError(t, svc.Complete(ctx, "e1", "u1"))
	})

	t.Run("忽略与标记非决策", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)
		seedPending(t, svc, store, "e1")
		seedPending(t, svc, store, "e2")

		require.NoError(t, svc.Dismiss(ctx, "e1", "u1"))
		require.NoError(t, svc.MarkNotDecision(ctx, "e2", "u1"))

		d1, _ := store.GetDecision(ctx, "e1", "u1")
		d2, _ := store.GetDecision(ctx, "e2", "u1")
		assert.Equal(t, domain.StatusDismissed, d1.Status)
		assert.Equal(t, domain.StatusNotDecision, d2.Status)
	})

	t.Run("推迟到未来成功并从待办列表消失", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)
		seedPending(t, svc, store, "e1")

		until := testNow.Add(2 * time.Hour)
		require.NoError(t, svc.Snooze(ctx, "e1", "u1", &until))

		pending, err := svc.ListPending(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, pending)

		decision, _ := store.GetDecision(ctx, "e1", "u1")
		assert.Equal(t, domain.StatusSnoozed, decision.Status)
		require.NotNil(t, decision.SnoozedUntil)
		assert.True(t, decision.SnoozedUntil.Equal(until))
	})

	t.Run("推迟到过去返回ErrSnoozeInPast且状态不变", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)
		seedPending(t, svc, store, "e1")

		past := testNow.Add(-time.Hour)
		err := svc.Snooze(ctx, "e1", "u1", &past)

		assert.ErrorIs(t, err, domain.ErrSnoozeInPast)

		decision, _ := store.GetDecision(ctx, "e1", "u1")
		assert.Equal(t, domain.StatusPending, decision.Status)
	})

	t.Run("未指定时间使用默认推迟时长", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)
		seedPending(t, svc, store, "e1")

		require.NoError(t, svc.Snooze(ctx, "e1", "u1", nil))

		decision, _ := store.GetDecision(ctx, "e1", "u1")
		require.NotNil(t, decision.SnoozedUntil)
		assert.True(t, decision.SnoozedUntil.Equal(testNow.Add(24*time.Hour)))
	})

	t.Run("从未分类的邮件执行操作返回ErrDecisionNotFound", func(t *testing.T) {
		svc, _, _ := newTestService(nil)

		assert.ErrorIs(t, svc.Complete(ctx, "never", "u1"), storage.ErrDecisionNotFound)
		assert.ErrorIs(t, svc.Dismiss(ctx, "never", "u1"), storage.ErrDecisionNotFound)
		until := testNow.Add(time.Hour)
		assert.ErrorIs(t, svc.Snooze(ctx, "never", "u1", &until), storage.ErrDecisionNotFound)
	})
}

func TestDecisionServiceQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("待办列表附带邮件元数据", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID:          "e1",
			UserID:      "u1",
			Subject:     "Quick question?",
			BodyText:    "Can you review the draft?",
			Snippet:     "Can you review...",
			FromAddress: "colleague@example.com",
			IsRead:      false,
			ReceivedAt:  testNow.Add(-time.Hour),
		})
		_, err := svc.Classify(ctx, ClassifyInput{EmailID: "e1", UserID: "u1"})
		require.NoError(t, err)

		pending, err := svc.ListPending(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "Quick question?", pending[0].Subject)
		assert.Equal(t, "colleague@example.com", pending[0].FromAddress)
		assert.Equal(t, "Can you review...", pending[0].Snippet)
	})

	t.Run("统计聚合", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)

		for _, id := range []string{"e1", "e2", "e3"} {
			seedEmail(t, store, &domain.Email{
				ID:          id,
				UserID:      "u1",
				Subject:     "question?",
				BodyText:    "body",
				FromAddress: "x@example.com",
				IsRead:      false,
				ReceivedAt:  testNow.Add(-time.Hour),
			})
			_, err := svc.Classify(ctx, ClassifyInput{EmailID: id, UserID: "u1"})
			require.NoError(t, err)
		}
		require.NoError(t, svc.Complete(ctx, "e3", "u1"))

		stats, err := svc.Stats(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 2, stats.Actionable)
		assert.Equal(t, 2, stats.ByStatus[domain.StatusPending])
		assert.Equal(t, 1, stats.ByStatus[domain.StatusDone])
		assert.Equal(t, 3, stats.ByType[domain.DecisionReplyRequired])
	})
}

func TestDecisionServiceClassifyBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("单封失败不影响其余邮件", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID: "e1", UserID: "u1", Subject: "question?", BodyText: "b",
			FromAddress: "x@example.com", IsRead: false, ReceivedAt: testNow.Add(-time.Hour),
		})
		seedEmail(t, store, &domain.Email{
			ID: "e2", UserID: "u1", Subject: "Newsletter", BodyText: "stories",
			FromAddress: "news@example.com", IsRead: true, ReceivedAt: testNow.Add(-time.Hour),
		})

		results := svc.ClassifyBatch(ctx, []ClassifyInput{
			{EmailID: "e1", UserID: "u1"},
			{EmailID: "missing", UserID: "u1"},
			{EmailID: "e2", UserID: "u1"},
		})

		require.Len(t, results, 3)
		assert.NoError(t, results[0].Err)
		assert.Equal(t, domain.DecisionReplyRequired, results[0].Decision.Type)
		assert.ErrorIs(t, results[1].Err, storage.ErrEmailNotFound)
		assert.NoError(t, results[2].Err)
		assert.True(t, results[2].Decision.SkippedAI)
	})

	t.Run("并发分类同一封邮件只产生一条记录", func(t *testing.T) {
		fake := &fakeClassifier{result: &classify.Result{Type: domain.DecisionReplyRequired, Reason: "r"}}
		svc, store, _ := newTestService(fake)

		seedEmail(t, store, &domain.Email{
			ID: "e1", UserID: "u1", Subject: "question?", BodyText: "b",
			FromAddress: "x@example.com", IsRead: false, ReceivedAt: testNow.Add(-time.Hour),
		})

		inputs := make([]ClassifyInput, 16)
		for i := range inputs {
			inputs[i] = ClassifyInput{EmailID: "e1", UserID: "u1"}
		}
		results := svc.ClassifyBatch(ctx, inputs)
		for _, r := range results {
			assert.NoError(t, r.Err)
		}

		pending, err := svc.ListPending(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}
