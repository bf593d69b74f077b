package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/pkg/errors"
	"github.com/jwalitptl/reschedule-agent/pkg/httputil"
)

const ContextUsername = "username"

// TokenValidator is satisfied by the auth service.
type TokenValidator interface {
	ValidateToken(token string) (*model.TokenClaims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the bearer token and sets the operator name in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, errors.Unauthorized(model.ErrInvalidToken))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.RespondWithError(c, errors.Unauthorized(model.ErrInvalidToken))
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}

		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}
