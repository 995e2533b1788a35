package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis SETNX 的去重器，多个实例共享同一份去重状态
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// DedupKey 生成去重 key
func DedupKey(scope string, parts ...string) string {
	key := "dedup:" + scope
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// AcquireOnce returns true the first time key is seen within the TTL, false for duplicates.
func (d *Deduper) AcquireOnce(ctx context.Context, key string) bool {
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，宁可重复提醒也不漏掉
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("dedup_key", key),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Debug("Skipped duplicated event", zap.String("dedup_key", key))
	}
	return ok
}

// Release 删除去重 key，用于处理失败后允许下一轮重试
func (d *Deduper) Release(ctx context.Context, key string) {
	if err := d.rdb.Del(ctx, key).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup key", zap.String("dedup_key", key), zap.Error(err))
	}
}

func (d *Deduper) String() string {
	return fmt.Sprintf("Deduper(ttl=%s)", d.ttl)
}
