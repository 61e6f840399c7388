package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtriage/backend/internal/cache"
	"mailtriage/backend/internal/storage"
	redisstore "mailtriage/backend/internal/storage/redis"
)

// replyCountCacheTTL 回复次数缓存的有效期
const replyCountCacheTTL = 5 * time.Minute

// localCacheSize 进程内回复次数缓存的容量上限
const localCacheSize = 10000

// HistoryService 封装通信历史（用户对各发件人的历史回复次数）。
//
// 分类入口在调用 DecisionService.Classify 前通过本服务取得
// replyCountToSender，分类核心自身不接触通信历史。
// Redis 可用时走 Redis 缓存，否则退化为进程内缓存。
type HistoryService struct {
	repo  storage.ReplyStatsRepository
	cache *redisstore.Cache // 可为 nil
	local *cache.CountCache
	log   *zap.Logger
}

// NewHistoryService 创建通信历史服务。
func NewHistoryService(repo storage.ReplyStatsRepository, redisCache *redisstore.Cache, log *zap.Logger) *HistoryService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &HistoryService{repo: repo, cache: redisCache, log: log}
	if redisCache == nil {
		s.local = cache.NewCountCache(localCacheSize, replyCountCacheTTL)
	}
	return s
}

// ReplyCount 返回用户对某发件人的历史回复次数。
//
// 发件人地址统一转为小写；从未回复过的发件人返回 0。
func (s *HistoryService) ReplyCount(ctx context.Context, userID, senderAddress string) (int, error) {
	senderAddress = normalizeSender(senderAddress)
	if senderAddress == "" {
		return 0, nil
	}

	if s.cache != nil {
		if count, err := s.cache.GetCachedReplyCount(ctx, userID, senderAddress); err == nil && count >= 0 {
			return count, nil
		}
	} else if s.local != nil {
		if count, ok := s.local.Get(localCountKey(userID, senderAddress)); ok {
			return count, nil
		}
	}

	count, err := s.repo.GetReplyCount(ctx, userID, senderAddress)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.CacheReplyCount(ctx, userID, senderAddress, count, replyCountCacheTTL); err != nil {
			s.log.Warn("failed to cache reply count", zap.Error(err))
		}
	} else if s.local != nil {
		s.local.Set(localCountKey(userID, senderAddress), count)
	}
	return count, nil
}

// RecordReply 记录一次用户对发件人的回复，由同步边界在检测到外发回复时调用。
func (s *HistoryService) RecordReply(ctx context.Context, userID, senderAddress string) error {
	senderAddress = normalizeSender(senderAddress)
	if senderAddress == "" {
		return nil
	}

	if err := s.repo.IncrementReplyCount(ctx, userID, senderAddress); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.DeleteCachedReplyCount(ctx, userID, senderAddress); err != nil {
			s.log.Warn("failed to invalidate reply count cache", zap.Error(err))
		}
	} else if s.local != nil {
		s.local.Delete(localCountKey(userID, senderAddress))
	}
	return nil
}

// normalizeSender 规整发件人地址。
func normalizeSender(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// localCountKey 进程内缓存的键。
func localCountKey(userID, senderAddress string) string {
	return userID + ":" + senderAddress
}
