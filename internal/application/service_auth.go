package application

import (
	"context"
	"strings"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

func (s *Service) ValidateToken(ctx context.Context, token string) (ports.AuthClaims, error) {
	if strings.TrimSpace(token) == "" || s.tokens == nil {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	if !claims.Valid || claims.UserID == "" {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	claims.Role = strings.ToLower(strings.TrimSpace(claims.Role))
	return claims, nil
}
