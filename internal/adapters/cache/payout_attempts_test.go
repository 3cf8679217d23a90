package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

type fakeAttemptClient struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeAttemptClient() *fakeAttemptClient {
	return &fakeAttemptClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeAttemptClient) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeAttemptClient) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestReserveRefPayoutIDPinsFirstCandidate(t *testing.T) {
	client := newFakeAttemptClient()
	store := NewPayoutAttemptStore(client)
	ctx := context.Background()

	first, err := store.ReserveRefPayoutID(ctx, "ORD-1", "COMM-ORD-1-100", time.Hour)
	if err != nil {
		t.Fatalf("reserve first: %v", err)
	}
	second, err := store.ReserveRefPayoutID(ctx, "ORD-1", "COMM-ORD-1-200", time.Hour)
	if err != nil {
		t.Fatalf("reserve second: %v", err)
	}
	if first != "COMM-ORD-1-100" || second != first {
		t.Fatalf("expected pinned id COMM-ORD-1-100, got %q then %q", first, second)
	}
	if client.ttls[payoutAttemptKeyPrefix+"ORD-1"] != time.Hour {
		t.Fatalf("expected ttl to be applied")
	}
}

func TestReserveRefPayoutIDReportsRedisFailure(t *testing.T) {
	client := newFakeAttemptClient()
	client.err = errors.New("connection refused")
	store := NewPayoutAttemptStore(client)

	_, err := store.ReserveRefPayoutID(context.Background(), "ORD-1", "COMM-ORD-1-100", time.Hour)
	if !errors.Is(err, domain.ErrDependencyUnavailable) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}
