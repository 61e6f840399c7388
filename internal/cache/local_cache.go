package cache

import (
	"sync"
	"time"
)

// CountCache 进程内回复次数缓存。
//
// Redis 未启用时作为通信历史查询的 L1 缓存使用：
// - sync.Map 无锁读取
// - 条目级 TTL 过期
// - 后台定期清理
// - 超出容量时随机淘汰（回复次数可随时从存储重建，不需要严格 LRU）
type CountCache struct {
	data    sync.Map
	size    int64
	maxSize int64
	ttl     time.Duration
	mu      sync.Mutex
}

type countEntry struct {
	count     int
	expiresAt time.Time
}

// NewCountCache 创建回复次数缓存
//
// 参数:
//   - maxSize: 最大缓存条目数
//   - ttl: 默认过期时间
func NewCountCache(maxSize int, ttl time.Duration) *CountCache {
	c := &CountCache{
		maxSize: int64(maxSize),
		ttl:     ttl,
	}

	go c.cleanupLoop()

	return c
}

// Get 获取缓存的回复次数
func (c *CountCache) Get(key string) (int, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return 0, false
	}

	entry := val.(*countEntry)
	if time.Now().After(entry.expiresAt) {
		c.Delete(key)
		return 0, false
	}

	return entry.count, true
}

// Set 写入回复次数
func (c *CountCache) Set(key string, count int) {
	c.mu.Lock()
	if c.size >= c.maxSize {
		c.evictOne()
	}
	if _, loaded := c.data.Load(key); !loaded {
		c.size++
	}
	c.mu.Unlock()

	c.data.Store(key, &countEntry{
		count:     count,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete 删除缓存条目
func (c *CountCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size--
	}
}

// evictOne 淘汰一个条目，调用方需持有锁
func (c *CountCache) evictOne() {
	c.data.Range(func(key, _ interface{}) bool {
		if _, loaded := c.data.LoadAndDelete(key); loaded {
			c.size--
		}
		return false
	})
}

// cleanupLoop 定期清理过期条目
func (c *CountCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.data.Range(func(key, val interface{}) bool {
			entry := val.(*countEntry)
			if now.After(entry.expiresAt) {
				c.Delete(key.(string))
			}
			return true
		})
	}
}
