package security

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

// JWTVerifier validates access tokens minted by the authentication service.
// It accepts RS256 when a public key is configured and HS256 otherwise.
type JWTVerifier struct {
	issuer    string
	secret    []byte
	publicKey *rsa.PublicKey
}

func NewJWTVerifier(issuer, hmacSecret, publicKeyPEM string) (*JWTVerifier, error) {
	v := &JWTVerifier{issuer: strings.TrimSpace(issuer)}
	if strings.TrimSpace(publicKeyPEM) != "" {
		pub, err := parseRSAPublic(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		v.publicKey = pub
		return v, nil
	}
	if strings.TrimSpace(hmacSecret) == "" {
		return nil, errors.New("jwt hmac secret or public key is required")
	}
	v.secret = []byte(hmacSecret)
	return v, nil
}

type accessClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (ports.AuthClaims, error) {
	method := jwt.SigningMethodHS256.Alg()
	if v.publicKey != nil {
		method = jwt.SigningMethodRS256.Alg()
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{method}), jwt.WithLeeway(30 * time.Second), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(token *jwt.Token) (any, error) {
		if v.publicKey != nil {
			return v.publicKey, nil
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return ports.AuthClaims{}, err
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return ports.AuthClaims{}, errors.New("invalid token claims")
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if strings.TrimSpace(userID) == "" {
		return ports.AuthClaims{}, errors.New("token has no subject")
	}
	return ports.AuthClaims{
		UserID: userID,
		Email:  claims.Email,
		Role:   claims.Role,
		Valid:  true,
	}, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

var _ ports.TokenVerifier = (*JWTVerifier)(nil)
