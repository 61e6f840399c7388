package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailtriage/backend/internal/domain"
)

// Cache Redis 缓存实现
type Cache struct {
	client *goredis.Client
}

// NewCache 基于已有连接创建缓存实例
func NewCache(client *Client) *Cache {
	return &Cache{client: client.Client()}
}

// ========== 回复统计缓存 ==========

// CacheReplyCount 缓存用户对某发件人的历史回复次数
func (c *Cache) CacheReplyCount(ctx context.Context, userID, senderAddress string, count int, ttl time.Duration) error {
	key := fmt.Sprintf("replycount:%s:%s", userID, senderAddress)
	return c.client.Set(ctx, key, count, ttl).Err()
}

// GetCachedReplyCount 获取缓存的回复次数，缓存未命中返回 -1
func (c *Cache) GetCachedReplyCount(ctx context.Context, userID, senderAddress string) (int, error) {
	key := fmt.Sprintf("replycount:%s:%s", userID, senderAddress)
	count, err := c.client.Get(ctx, key).Int()
	if err != nil {
		if err == goredis.Nil {
			return -1, nil
		}
		return -1, err
	}
	return count, nil
}

// DeleteCachedReplyCount 删除缓存的回复次数
func (c *Cache) DeleteCachedReplyCount(ctx context.Context, userID, senderAddress string) error {
	key := fmt.Sprintf("replycount:%s:%s", userID, senderAddress)
	return c.client.Del(ctx, key).Err()
}

// ========== 待办列表缓存 ==========

// CachePendingList 缓存用户的待办决策列表
func (c *Cache) CachePendingList(ctx context.Context, userID string, decisions []domain.PendingDecision, ttl time.Duration) error {
	key := fmt.Sprintf("pending:%s", userID)
	data, err := json.Marshal(decisions)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetCachedPendingList 获取缓存的待办决策列表
func (c *Cache) GetCachedPendingList(ctx context.Context, userID string) ([]domain.PendingDecision, error) {
	key := fmt.Sprintf("pending:%s", userID)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, fmt.Errorf("pending list not found in cache")
		}
		return nil, err
	}

	var decisions []domain.PendingDecision
	if err := json.Unmarshal([]byte(data), &decisions); err != nil {
		return nil, err
	}

	return decisions, nil
}

// InvalidatePendingList 删除用户的待办列表缓存
//
// 决策写入或状态变更后必须调用，否则列表会短暂陈旧。
func (c *Cache) InvalidatePendingList(ctx context.Context, userID string) error {
	key := fmt.Sprintf("pending:%s", userID)
	return c.client.Del(ctx, key).Err()
}

// ========== 统计缓存 ==========

// CacheStats 缓存用户的决策统计信息
func (c *Cache) CacheStats(ctx context.Context, userID string, stats *domain.DecisionStats, ttl time.Duration) error {
	key := fmt.Sprintf("stats:%s", userID)
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetCachedStats 获取缓存的决策统计信息
func (c *Cache) GetCachedStats(ctx context.Context, userID string) (*domain.DecisionStats, error) {
	key := fmt.Sprintf("stats:%s", userID)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, fmt.Errorf("stats not found in cache")
		}
		return nil, err
	}

	var stats domain.DecisionStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// InvalidateStats 删除用户的统计缓存
func (c *Cache) InvalidateStats(ctx context.Context, userID string) error {
	key := fmt.Sprintf("stats:%s", userID)
	return c.client.Del(ctx, key).Err()
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将 JWT 添加到黑名单
func (c *Cache) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	key := fmt.Sprintf("blacklist:%s", jti)
	return c.client.Set(ctx, key, "1", ttl).Err()
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (c *Cache) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	key := fmt.Sprintf("blacklist:%s", jti)
	_, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ========== 限流缓存 ==========

// IncrementRateLimit 增加限流计数
func (c *Cache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.Pipeline()

	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

// ========== 发布订阅 ==========

// PublishDecisionEvent 发布决策事件通知
func (c *Cache) PublishDecisionEvent(ctx context.Context, userID string, decision *domain.Decision) error {
	channel := fmt.Sprintf("decision_events:%s", userID)
	data, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// SubscribeAllDecisionEvents 订阅全部用户的决策事件，频道后缀即 userID
func (c *Cache) SubscribeAllDecisionEvents(ctx context.Context) *goredis.PubSub {
	return c.client.PSubscribe(ctx, "decision_events:*")
}
