package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage"
)

func newDecision(emailID, userID string) *domain.Decision {
	now := time.Now().UTC()
	return &domain.Decision{
		ID:               emailID + ":" + userID,
		EmailID:          emailID,
		UserID:           userID,
		DecisionRequired: true,
		Type:             domain.DecisionReplyRequired,
		Reason:           "Sender asks a direct question",
		Status:           domain.StatusPending,
		DetectedAt:       now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestStore_UpsertDecision(t *testing.T) {
	ctx := context.Background()

	t.Run("首次upsert插入记录", func(t *testing.T) {
		s := NewStore()
		d, err := s.UpsertDecision(ctx, newDecision("m1", "u1"))

		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, d.Status)

		got, err := s.GetDecision(ctx, "m1", "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionReplyRequired, got.Type)
	})

	t.Run("相同分类重复upsert幂等", func(t *testing.T) {
		s := NewStore()
		first := newDecision("m1", "u1")
		_, err := s.UpsertDecision(ctx, first)
		require.NoError(t, err)

		second, err := s.UpsertDecision(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, first.Type, second.Type)
		assert.Equal(t, domain.StatusPending, second.Status)

		stats, err := s.DecisionStats(ctx, "u1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
	})

	t.Run("pending记录的分类字段被覆盖", func(t *testing.T) {
		s := NewStore()
		_, err := s.UpsertDecision(ctx, newDecision("m1", "u1"))
		require.NoError(t, err)

		updated := newDecision("m1", "u1")
		updated.Type = domain.DecisionDeadline
		updated.Reason = "Deadline Friday 5pm"
		d, err := s.UpsertDecision(ctx, updated)

		require.NoError(t, err)
		assert.Equal(t, domain.DecisionDeadline, d.Type)
		assert.Equal(t, "Deadline Friday 5pm", d.Reason)
	})

	t.Run("已操作的记录不被覆盖", func(t *testing.T) {
		s := NewStore()
		_, err := s.UpsertDecision(ctx, newDecision("m1", "u1"))
		require.NoError(t, err)
		require.NoError(t, s.UpdateDecisionStatus(ctx, "m1", "u1", domain.StatusDone, nil))

		reclassified := newDecision("m1", "u1")
		reclassified.Type = domain.DecisionFollowUp
		d, err := s.UpsertDecision(ctx, reclassified)

		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, d.Status)
		assert.Equal(t, domain.DecisionReplyRequired, d.Type) // 分类字段同样保持不变
	})

	t.Run("并发upsert同一键只产生一条记录", func(t *testing.T) {
		s := NewStore()
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpsertDecision(ctx, newDecision("m1", "u1"))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		stats, err := s.DecisionStats(ctx, "u1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
	})
}

func TestStore_UpdateDecisionStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("不存在的记录返回NotFound", func(t *testing.T) {
		s := NewStore()
		err := s.UpdateDecisionStatus(ctx, "missing", "u1", domain.StatusDone, nil)
		assert.ErrorIs(t, err, storage.ErrDecisionNotFound)
	})

	t.Run("重复complete是no-op", func(t *testing.T) {
		s := NewStore()
		_, err := s.UpsertDecision(ctx, newDecision("m1", "u1"))
		require.NoError(t, err)

		require.NoError(t, s.UpdateDecisionStatus(ctx, "m1", "u1", domain.StatusDone, nil))
		require.NoError(t, s.UpdateDecisionStatus(ctx, "m1", "u1", domain.StatusDone, nil))

		got, err := s.GetDecision(ctx, "m1", "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, got.Status)
	})
}

func TestStore_ListPendingDecisions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	seed := func(s *Store) {
		require.NoError(t, s.SaveEmail(ctx, &domain.Email{
			ID: "m1", UserID: "u1", Subject: "Project due",
			FromAddress: "boss@example.com", Snippet: "Deadline Friday 5pm",
		}))
		_, err := s.UpsertDecision(ctx, newDecision("m1", "u1"))
		require.NoError(t, err)
	}

	t.Run("pending记录带邮件元数据返回", func(t *testing.T) {
		s := NewStore()
		seed(s)

		pending, err := s.ListPendingDecisions(ctx, "u1", now)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "Project due", pending[0].Subject)
		assert.Equal(t, "boss@example.com", pending[0].FromAddress)
		assert.Equal(t, "Deadline Friday 5pm", pending[0].Snippet)
	})

	t.Run("未到期的snoozed不出现在列表", func(t *testing.T) {
		s := NewStore()
		seed(s)
		until := now.Add(time.Hour)
		require.NoError(t, s.UpdateDecisionStatus(ctx, "m1", "u1", domain.StatusSnoozed, &until))

		pending, err := s.ListPendingDecisions(ctx, "u1", now)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("到期的snoozed重新出现在列表", func(t *testing.T) {
		s := NewStore()
		seed(s)
		until := now.Add(time.Hour)
		require.NoError(t, s.UpdateDecisionStatus(ctx, "m1", "u1", domain.StatusSnoozed, &until))

		pending, err := s.ListPendingDecisions(ctx, "u1", now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, domain.StatusSnoozed, pending[0].Status)
	})

	t.Run("终态记录不出现在列表", func(t *testing.T) {
		s := NewStore()
		seed(s)
		require.NoError(t, s.UpdateDecisionStatus(ctx, "m1", "u1", domain.StatusDismissed, nil))

		pending, err := s.ListPendingDecisions(ctx, "u1", now)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestStore_DecisionStats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	d1 := newDecision("m1", "u1")
	d2 := newDecision("m2", "u1")
	d2.Type = domain.DecisionDeadline
	d3 := newDecision("m3", "u1")
	d3.Type = domain.DecisionInformational
	d3.DecisionRequired = false

	for _, d := range []*domain.Decision{d1, d2, d3} {
		_, err := s.UpsertDecision(ctx, d)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateDecisionStatus(ctx, "m3", "u1", domain.StatusDismissed, nil))
	expired := now.Add(-time.Minute)
	require.NoError(t, s.UpdateDecisionStatus(ctx, "m2", "u1", domain.StatusSnoozed, &expired))

	stats, err := s.DecisionStats(ctx, "u1", now)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Actionable) // pending 的 m1 + 已到期 snoozed 的 m2
	assert.Equal(t, 1, stats.ByStatus[domain.StatusPending])
	assert.Equal(t, 1, stats.ByStatus[domain.StatusSnoozed])
	assert.Equal(t, 1, stats.ByStatus[domain.StatusDismissed])
	assert.Equal(t, 2, stats.ByType[domain.DecisionReplyRequired])
	assert.Equal(t, 1, stats.ByType[domain.DecisionDeadline])
}

func TestStore_ReplyCounts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	count, err := s.GetReplyCount(ctx, "u1", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.IncrementReplyCount(ctx, "u1", "alice@example.com"))
	}

	count, err = s.GetReplyCount(ctx, "u1", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
