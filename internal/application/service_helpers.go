package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

// hashRequest digests the canonical JSON form so field order never changes the key.
func hashRequest(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if canonical, err := jcs.Transform(raw); err == nil {
		raw = canonical
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// replayIdempotent returns true with out populated when key already completed
// for the same request. A reserved but unfinished key is a conflict.
func (s *Service) replayIdempotent(ctx context.Context, key, requestHash string, out any) (bool, error) {
	if key == "" || s.idempotency == nil {
		return false, nil
	}
	existing, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if existing == nil {
		return false, nil
	}
	if existing.RequestHash != requestHash {
		return false, fmt.Errorf("%w: key reused with a different request", domain.ErrIdempotencyConflict)
	}
	if existing.Status != "completed" {
		return false, fmt.Errorf("%w: request still in progress", domain.ErrIdempotencyConflict)
	}
	if err := json.Unmarshal(existing.ResponseBody, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) reserveIdempotency(ctx context.Context, key, requestHash string) error {
	if key == "" || s.idempotency == nil {
		return nil
	}
	if err := s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIdempotencyConflict, err)
	}
	return nil
}

// finishIdempotency records a successful response or frees the key after a failure.
func (s *Service) finishIdempotency(ctx context.Context, key string, statusCode int, response any, opErr error) {
	if key == "" || s.idempotency == nil {
		return
	}
	if opErr != nil {
		if err := s.idempotency.Release(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "idempotency release failed", "operation", "finish_idempotency", "outcome", "failure", "error", err)
		}
		return
	}
	body, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err := s.idempotency.Complete(ctx, key, statusCode, body, s.nowFn()); err != nil {
		s.logger.WarnContext(ctx, "idempotency complete failed", "operation", "finish_idempotency", "outcome", "failure", "error", err)
	}
}

func authorizeOrderAccess(actor Actor, order domain.Order) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	if actor.IsAdmin() || actor.SubjectID == order.UserID {
		return nil
	}
	return domain.ErrForbidden
}

type noopTelemetry struct{}

func (noopTelemetry) TrackOperation(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (noopTelemetry) RecordSettlement(context.Context, string, string, int64) {}
