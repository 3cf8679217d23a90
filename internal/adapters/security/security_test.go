package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

const testSecurityKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestJWESealerRoundTrip(t *testing.T) {
	sealer, err := NewJWESealer(testSecurityKey)
	require.NoError(t, err)

	token, err := sealer.Seal([]byte(`{"refPayoutId":"COMM-ORD-1-1"}`))
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 5)

	plain, err := sealer.Open(token)
	require.NoError(t, err)
	assert.JSONEq(t, `{"refPayoutId":"COMM-ORD-1-1"}`, string(plain))
}

func TestJWESealerProtectedHeader(t *testing.T) {
	sealer, err := NewJWESealer(testSecurityKey)
	require.NoError(t, err)
	sealer.nowFn = func() time.Time { return time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC) }

	token, err := sealer.Seal([]byte(`{}`))
	require.NoError(t, err)
	header, err := jwt.NewParser().DecodeSegment(strings.Split(token, ".")[0])
	require.NoError(t, err)
	assert.Contains(t, string(header), `"alg":"dir"`)
	assert.Contains(t, string(header), `"enc":"A256GCM"`)
	assert.Contains(t, string(header), `"iat":"2026-03-02T10:00:00.000+09:00"`)
	assert.Contains(t, string(header), `"nonce":"`)
}

func TestJWESealerRejectsForeignKey(t *testing.T) {
	sealer, err := NewJWESealer(testSecurityKey)
	require.NoError(t, err)
	token, err := sealer.Seal([]byte(`{}`))
	require.NoError(t, err)

	other, err := NewJWESealer(strings.Repeat("f", 64))
	require.NoError(t, err)
	_, err = other.Open(token)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)

	_, err = sealer.Open("not-a-jwe")
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestNewJWESealerValidatesKey(t *testing.T) {
	_, err := NewJWESealer("abcd")
	assert.Error(t, err)
	_, err = NewJWESealer(strings.Repeat("z", 64))
	assert.Error(t, err)
	_, err = NewJWESealer(hex.EncodeToString(make([]byte, 32)))
	assert.NoError(t, err)
}

func TestJWTVerifierHS256(t *testing.T) {
	verifier, err := NewJWTVerifier("mesh-auth", "test-secret", "")
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"email":   "buyer@example.com",
		"role":    "admin",
		"iss":     "mesh-auth",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	claims, err := verifier.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, claims.Valid)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1", "iss": "mesh-auth", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other"))
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), wrong)
	assert.Error(t, err)
}

func TestJWTVerifierRS256UsesSubjectFallback(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	verifier, err := NewJWTVerifier("", "", pubPEM)
	require.NoError(t, err)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user-9",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	claims, err := verifier.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.UserID)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user-9",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), expired)
	assert.Error(t, err)
}
