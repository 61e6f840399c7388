package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_ShouldClassify(t *testing.T) {
	g := NewGate(DefaultStaleUnreadDays)

	t.Run("任一信号命中即调用AI", func(t *testing.T) {
		cases := []struct {
			name string
			f    Features
		}{
			{"问号", Features{HasQuestionMark: true}},
			{"行动关键词", Features{HasActionKeyword: true}},
			{"高频联系人", Features{IsFrequentCorrespondent: true}},
			{"未读滞留超阈值", Features{UnreadAgeDays: 4}},
		}
		for _, tc := range cases {
			assert.True(t, g.ShouldClassify(tc.f), tc.name)
		}
	})

	t.Run("无任何信号走快速路径", func(t *testing.T) {
		assert.False(t, g.ShouldClassify(Features{}))
	})

	t.Run("未读滞留等于阈值不触发", func(t *testing.T) {
		assert.False(t, g.ShouldClassify(Features{UnreadAgeDays: 3}))
	})
}

// 召回性质：四个廉价信号的任意组合只要有一个为真，预检门必须放行。
func TestGate_RecallProperty(t *testing.T) {
	g := NewGate(DefaultStaleUnreadDays)

	for mask := 1; mask < 16; mask++ {
		f := Features{
			HasQuestionMark:         mask&1 != 0,
			HasActionKeyword:        mask&2 != 0,
			IsFrequentCorrespondent: mask&4 != 0,
		}
		if mask&8 != 0 {
			f.UnreadAgeDays = DefaultStaleUnreadDays + 1
		}
		assert.True(t, g.ShouldClassify(f), "mask=%d", mask)
	}
}
