package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/pkg/auth"
	"github.com/jwalitptl/reschedule-agent/pkg/security"
)

func newService(t *testing.T) *Service {
	t.Helper()
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("correct horse")
	require.NoError(t, err)
	jwtSvc, err := auth.NewJWTService("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	return NewService("operator", hash, hasher, jwtSvc, nil)
}

func TestLogin(t *testing.T) {
	svc := newService(t)

	resp, err := svc.Login(context.Background(), "operator", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Greater(t, resp.ExpiresIn, int64(3500))

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newService(t)

	_, err := svc.Login(context.Background(), "operator", "wrong password")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), "someone", "correct horse")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestLoginLockout(t *testing.T) {
	svc := newService(t)
	for i := 0; i < maxLoginAttempts; i++ {
		_, _ = svc.Login(context.Background(), "operator", "wrong password")
	}
	_, err := svc.Login(context.Background(), "operator", "correct horse")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
}
