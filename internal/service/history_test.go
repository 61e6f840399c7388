package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/backend/internal/storage/memory"
)

func TestHistoryService(t *testing.T) {
	ctx := context.Background()

	t.Run("从未回复过的发件人返回零", func(t *testing.T) {
		svc := NewHistoryService(memory.NewStore(), nil, nil)

		count, err := svc.ReplyCount(ctx, "u1", "stranger@example.com")

		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("记录回复后计数递增", func(t *testing.T) {
		svc := NewHistoryService(memory.NewStore(), nil, nil)

		for i := 0; i < 4; i++ {
			require.NoError(t, svc.RecordReply(ctx, "u1", "boss@example.com"))
		}

		count, err := svc.ReplyCount(ctx, "u1", "boss@example.com")
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})

	t.Run("发件人地址大小写不敏感", func(t *testing.T) {
		svc := NewHistoryService(memory.NewStore(), nil, nil)

		require.NoError(t, svc.RecordReply(ctx, "u1", "Boss@Example.COM"))

		count, err := svc.ReplyCount(ctx, "u1", "boss@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("空发件人地址不计数", func(t *testing.T) {
		svc := NewHistoryService(memory.NewStore(), nil, nil)

		require.NoError(t, svc.RecordReply(ctx, "u1", "  "))

		count, err := svc.ReplyCount(ctx, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}
