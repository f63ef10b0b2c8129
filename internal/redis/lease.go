package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type leaseHeldError struct{}

func (leaseHeldError) Error() string { return "lease held by another consumer" }

// Held lets callers recognise the error without importing this package.
func (leaseHeldError) Held() bool { return true }

// ErrLeaseHeld is returned by Acquire when another consumer owns the delivery.
var ErrLeaseHeld error = leaseHeldError{}

// release deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseService claims queue deliveries for the length of their visibility
// timeout. It does not remember deliveries once they are released.
type LeaseService struct {
	client *Client
	logger *zap.Logger
}

func NewLeaseService(client *Client, logger *zap.Logger) *LeaseService {
	return &LeaseService{client: client, logger: logger}
}

func (s *LeaseService) key(queue, messageID string) string {
	return s.client.key("lease", queue, messageID)
}

// Acquire claims messageID on queue for ttl and returns the owner token.
func (s *LeaseService) Acquire(ctx context.Context, queue, messageID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := s.client.rdb.SetNX(ctx, s.key(queue, messageID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return "", ErrLeaseHeld
	}

	return token, nil
}

// Release drops the lease if token still owns it. Releasing an expired or
// foreign lease is a no-op.
func (s *LeaseService) Release(ctx context.Context, queue, messageID, token string) error {
	n, err := releaseScript.Run(ctx, s.client.rdb, []string{s.key(queue, messageID)}, token).Int()
	if err != nil {
		return fmt.Errorf("redis lease release failed: %w", err)
	}
	if n == 0 {
		s.logger.Debug("lease already expired or taken over",
			zap.String("queue", queue),
			zap.String("message_id", messageID),
		)
	}
	return nil
}
