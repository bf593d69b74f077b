package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/reschedule-agent/internal/model"
)

const issuer = "reschedule-agent"

type JWTService interface {
	GenerateAccessToken(username string) (string, time.Time, error)
	ValidateToken(token string) (*model.TokenClaims, error)
}

type hmacService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewJWTService signs HS256 tokens with secret.
func NewJWTService(secret string, expiry time.Duration) (JWTService, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	if expiry <= 0 {
		expiry = 12 * time.Hour
	}
	return &hmacService{secret: []byte(secret), expiry: expiry, now: time.Now}, nil
}

func (s *hmacService) GenerateAccessToken(username string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)
	claims := model.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *hmacService) ValidateToken(token string) (*model.TokenClaims, error) {
	claims := &model.TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, model.ErrInvalidToken
	}
	return claims, nil
}
