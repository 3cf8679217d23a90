package ports

import "context"

type AuthClaims struct {
	UserID string
	Email  string
	Role   string
	Valid  bool
}

// TokenVerifier validates bearer tokens issued by the identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (AuthClaims, error)
}
