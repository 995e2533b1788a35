package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 默认失败计数窗口，一天内没有新的失败就清零
const defaultFailureWindow = 24 * time.Hour

// FailureCounter 记录某个操作对同一子任务的连续失败次数，多实例共享
type FailureCounter struct {
	rdb    *redis.Client
	window time.Duration
}

// NewFailureCounter window <= 0 时使用一天
func NewFailureCounter(rdb *redis.Client, window time.Duration) *FailureCounter {
	return &FailureCounter{rdb: rdb, window: failureWindow(window)}
}

func failureWindow(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultFailureWindow
	}
	return d
}

// IncrementAndGet bumps the streak and slides its expiry in one round trip.
func (f *FailureCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	pipe := f.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, f.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count failure %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Reset 成功一次即清零
func (f *FailureCounter) Reset(ctx context.Context, key string) error {
	return f.rdb.Del(ctx, key).Err()
}

// FailureKey is the counter key for op failing on one subtask, e.g.
// "failures:intervention:<subtask id>".
func FailureKey(op, subtaskID string) string {
	return fmt.Sprintf("failures:%s:%s", op, subtaskID)
}
