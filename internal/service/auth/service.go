package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/pkg/auth"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
	"github.com/jwalitptl/reschedule-agent/pkg/security"
)

const (
	maxLoginAttempts = 5
	lockoutDuration  = 15 * time.Minute
)

// Service authenticates the single operator account configured for the API.
type Service struct {
	username     string
	passwordHash string
	hasher       security.PasswordHasher
	jwtSvc       auth.JWTService
	attempts     *cache.Cache
	logger       *logger.Logger
}

func NewService(username, passwordHash string, hasher security.PasswordHasher, jwtSvc auth.JWTService, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		username:     username,
		passwordHash: passwordHash,
		hasher:       hasher,
		jwtSvc:       jwtSvc,
		attempts:     cache.New(lockoutDuration, 2*lockoutDuration),
		logger:       log,
	}
}

func (s *Service) Login(ctx context.Context, username, password string) (*model.TokenResponse, error) {
	if n, ok := s.attempts.Get(username); ok && n.(int) >= maxLoginAttempts {
		s.logger.Warn("auth.login.locked")
		return nil, model.ErrInvalidCredentials
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passErr := s.hasher.Compare(s.passwordHash, password)
	if !userOK || passErr != nil {
		s.recordFailure(username)
		return nil, model.ErrInvalidCredentials
	}
	s.attempts.Delete(username)

	token, expiresAt, err := s.jwtSvc.GenerateAccessToken(username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &model.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}

func (s *Service) ValidateToken(token string) (*model.TokenClaims, error) {
	return s.jwtSvc.ValidateToken(token)
}

func (s *Service) recordFailure(username string) {
	if _, err := s.attempts.IncrementInt(username, 1); err != nil {
		s.attempts.Set(username, 1, cache.DefaultExpiration)
	}
}
