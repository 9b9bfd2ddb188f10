package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taskhive:"

// RetryCounter 记录每条消息的失败次数；计数在最后一次失败后 ttl 过期
type RetryCounter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRetryCounter(rdb redis.Cmdable, ttl time.Duration) *RetryCounter {
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet INCR 与 EXPIRE 在同一个 MULTI 中执行
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment retry counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// FormatRetryKey 例如 taskhive:retry:progress_rollup:42
func FormatRetryKey(handler string, eventID int64) string {
	return fmt.Sprintf("%sretry:%s:%d", keyPrefix, handler, eventID)
}

func formatDedupKey(handler string, eventID int64) string {
	return fmt.Sprintf("%sdedup:%s:%d", keyPrefix, handler, eventID)
}
