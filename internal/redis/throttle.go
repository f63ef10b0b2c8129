package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ThrottleConfig struct {
	Limit  int           // reminders allowed per recipient
	Window time.Duration // sliding window length
}

type ThrottleResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Throttle caps reminders per recipient with a sliding window kept in a
// sorted set.
type Throttle struct {
	client *Client
	logger *zap.Logger
	config ThrottleConfig
	now    func() time.Time
}

func NewThrottle(client *Client, logger *zap.Logger, config ThrottleConfig) *Throttle {
	return &Throttle{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow records one reminder for key if the window still has room.
func (t *Throttle) Allow(ctx context.Context, key string) (*ThrottleResult, error) {
	now := t.now()
	windowStart := now.Add(-t.config.Window)
	resetAt := now.Add(t.config.Window)
	redisKey := t.client.key("throttle", strings.ToLower(key))

	pipe := t.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	count := int(countCmd.Val())
	if count >= t.config.Limit {
		t.logger.Debug("reminder throttle exceeded",
			zap.Int("current", count),
			zap.Int("limit", t.config.Limit),
		)
		return &ThrottleResult{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	pipe = t.client.rdb.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, redisKey, t.config.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	return &ThrottleResult{
		Allowed:   true,
		Remaining: t.config.Limit - count - 1,
		ResetAt:   resetAt,
	}, nil
}

// Permit reports only whether the reminder may go out.
func (t *Throttle) Permit(ctx context.Context, key string) (bool, error) {
	res, err := t.Allow(ctx, key)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
