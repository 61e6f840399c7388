package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateClassifyKey(t *testing.T) {
	t.Run("合法的键通过校验", func(t *testing.T) {
		assert.NoError(t, ValidateClassifyKey("msg-1", "user-1"))
	})

	t.Run("缺失emailID快速失败", func(t *testing.T) {
		assert.Equal(t, ErrEmailIDRequired, ValidateClassifyKey("", "user-1"))
		assert.Equal(t, ErrEmailIDRequired, ValidateClassifyKey("   ", "user-1"))
	})

	t.Run("缺失userID快速失败", func(t *testing.T) {
		assert.Equal(t, ErrUserIDRequired, ValidateClassifyKey("msg-1", ""))
	})
}

func TestValidateSnoozeUntil(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("未来时间通过校验", func(t *testing.T) {
		assert.NoError(t, ValidateSnoozeUntil(now.Add(time.Hour), now))
	})

	t.Run("过去时间被拒绝", func(t *testing.T) {
		assert.Equal(t, ErrSnoozeInPast, ValidateSnoozeUntil(now.Add(-time.Minute), now))
	})

	t.Run("等于当前时刻被拒绝", func(t *testing.T) {
		assert.Equal(t, ErrSnoozeInPast, ValidateSnoozeUntil(now, now))
	})
}

func TestDecisionActionable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pending状态始终可行动", func(t *testing.T) {
		d := &Decision{Status: StatusPending}
		assert.True(t, d.Actionable(now))
	})

	t.Run("snoozed到期后重新可行动", func(t *testing.T) {
		expired := now.Add(-time.Minute)
		d := &Decision{Status: StatusSnoozed, SnoozedUntil: &expired}
		assert.True(t, d.Actionable(now))
	})

	t.Run("snoozed未到期不可行动", func(t *testing.T) {
		future := now.Add(time.Hour)
		d := &Decision{Status: StatusSnoozed, SnoozedUntil: &future}
		assert.False(t, d.Actionable(now))
	})

	t.Run("终态不可行动", func(t *testing.T) {
		for _, st := range []DecisionStatus{StatusDone, StatusDismissed, StatusNotDecision} {
			d := &Decision{Status: st}
			assert.False(t, d.Actionable(now))
		}
	})
}
