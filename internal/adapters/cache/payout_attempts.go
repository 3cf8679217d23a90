package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

const payoutAttemptKeyPrefix = "settlement:payout:attempt:"

type attemptClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PayoutAttemptStore pins the first refPayoutId generated for an order in Redis.
type PayoutAttemptStore struct {
	client attemptClient
}

func NewPayoutAttemptStore(client attemptClient) *PayoutAttemptStore {
	return &PayoutAttemptStore{client: client}
}

func (s *PayoutAttemptStore) ReserveRefPayoutID(ctx context.Context, orderRef, candidate string, ttl time.Duration) (string, error) {
	key := payoutAttemptKeyPrefix + orderRef
	ok, err := s.client.SetNX(ctx, key, candidate, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: reserve payout attempt: %v", domain.ErrDependencyUnavailable, err)
	}
	if ok {
		return candidate, nil
	}
	existing, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the next call will pin a fresh id.
		return candidate, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read payout attempt: %v", domain.ErrDependencyUnavailable, err)
	}
	return existing, nil
}

var _ ports.PayoutAttemptStore = (*PayoutAttemptStore)(nil)
