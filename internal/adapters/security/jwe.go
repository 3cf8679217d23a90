package security

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

// JWESealer produces and opens the compact JWE envelope the payout API
// requires: direct key agreement with A256GCM under a shared 32-byte key.
type JWESealer struct {
	key   []byte
	nowFn func() time.Time
}

// NewJWESealer parses the 64-character hex security key.
func NewJWESealer(hexKey string) (*JWESealer, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode payout security key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("payout security key must be 32 bytes (64 hex chars)")
	}
	return &JWESealer{key: key, nowFn: time.Now}, nil
}

// Seal encrypts payload. The protected header carries iat in settlement-zone
// ISO-8601 and a random nonce, both checked by the payout API for replay.
func (s *JWESealer) Seal(payload []byte) (string, error) {
	opts := (&jose.EncrypterOptions{}).
		WithHeader("iat", s.nowFn().In(domain.SettlementZone).Format("2006-01-02T15:04:05.000-07:00")).
		WithHeader("nonce", uuid.NewString())
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, opts)
	if err != nil {
		return "", fmt.Errorf("build encrypter: %w", err)
	}
	obj, err := enc.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("encrypt payload: %w", err)
	}
	return obj.CompactSerialize()
}

func (s *JWESealer) Open(token string) ([]byte, error) {
	obj, err := jose.ParseEncrypted(strings.TrimSpace(token),
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryptionFailed, err)
	}
	plain, err := obj.Decrypt(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryptionFailed, err)
	}
	return plain, nil
}

var _ ports.PayloadSealer = (*JWESealer)(nil)
