package ports

import (
	"context"
	"time"
)

// PayoutAttemptStore pins the refPayoutId used for an order so a re-driven
// dispatch reuses it instead of minting a new one.
type PayoutAttemptStore interface {
	ReserveRefPayoutID(ctx context.Context, orderRef, candidate string, ttl time.Duration) (string, error)
}
