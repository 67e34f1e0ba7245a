package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/platform/logger"
)

const (
	// Issuer is stamped on every token and required on validation.
	Issuer = "quill"

	operatorTokenType = "operator"
	minSecretLength   = 32
)

// TokenService issues and validates operator tokens.
type TokenService interface {
	// IssueToken signs a token for subject and returns it with its expiry.
	IssueToken(ctx context.Context, subject string) (string, time.Time, error)

	// ValidateToken verifies signature, issuer, type and lifetime.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the validated content of an operator token.
type Claims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type operatorClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

type hmacTokenService struct {
	signingKey []byte
	ttl        time.Duration
	clockSkew  time.Duration
	now        func() time.Time
}

var _ TokenService = (*hmacTokenService)(nil)

// NewTokenService creates an HS256 token service from the API config.
func NewTokenService(cfg config.APIConfig) (TokenService, error) {
	svc, err := newTokenService(cfg.JWTSecret, cfg.TokenTTL, time.Now)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func newTokenService(secret string, ttl time.Duration, now func() time.Time) (*hmacTokenService, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &hmacTokenService{
		signingKey: []byte(secret),
		ttl:        ttl,
		clockSkew:  time.Minute,
		now:        now,
	}, nil
}

// IssueToken implements TokenService.
func (s *hmacTokenService) IssueToken(ctx context.Context, subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := operatorClaims{
		TokenType: operatorTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		logger.FromContextOrDefault(ctx).ErrorContext(ctx, "failed to sign operator token",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return "", time.Time{}, fmt.Errorf("sign operator token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken implements TokenService.
func (s *hmacTokenService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	log := logger.FromContextOrDefault(ctx)
	now := s.now()

	token, err := jwt.ParseWithClaims(
		tokenString,
		&operatorClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(Issuer),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.DebugContext(ctx, "operator token expired")
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.DebugContext(ctx, "operator token not yet valid")
			return nil, ErrTokenNotYetValid
		default:
			log.DebugContext(ctx, "operator token rejected",
				slog.String("error_type", fmt.Sprintf("%T", err)))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*operatorClaims)
	if !ok || !token.Valid || claims.TokenType != operatorTokenType || claims.Subject == "" {
		log.DebugContext(ctx, "operator token has unexpected claims")
		return nil, ErrInvalidToken
	}

	out := &Claims{Subject: claims.Subject, ID: claims.ID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
