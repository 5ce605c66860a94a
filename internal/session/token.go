package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingTokenSigningKey = errors.New("session token: signing key required")
	ErrMissingAccessToken     = errors.New("session token: token required")
	ErrInvalidAccessToken     = errors.New("session token: invalid token")
	ErrExpiredAccessToken     = errors.New("session token: token expired")
	ErrMissingTokenSubject    = errors.New("session token: subject required")
)

// accessTokenClaims mirrors the JWT payload the hosted auth provider signs
// into its HS256 access tokens.
type accessTokenClaims struct {
	Email        string       `json:"email"`
	UserMetadata UserMetadata `json:"user_metadata"`
	AppMetadata  AppMetadata  `json:"app_metadata"`
	jwt.RegisteredClaims
}

// TokenLensConfig describes how to validate provider-issued access tokens.
type TokenLensConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// TokenLens validates provider access tokens and projects them into Identity
// values without a provider round-trip.
type TokenLens struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewTokenLens constructs a lens with the provided configuration.
func NewTokenLens(cfg TokenLensConfig) (*TokenLens, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingTokenSigningKey
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenLens{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        strings.TrimSpace(cfg.Issuer),
		clock:         clock,
	}, nil
}

// ParseIdentity validates the supplied access token and returns the identity it carries.
func (l *TokenLens) ParseIdentity(tokenString string) (Identity, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Identity{}, ErrMissingAccessToken
	}

	claims := &accessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidAccessToken, t.Method.Alg())
			}
			return l.signingSecret, nil
		},
		jwt.WithTimeFunc(l.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredAccessToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Identity{}, ErrInvalidAccessToken
	}
	if l.issuer != "" && claims.Issuer != l.issuer {
		return Identity{}, ErrInvalidAccessToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrMissingTokenSubject
	}

	return Identity{
		ID:           claims.Subject,
		Email:        claims.Email,
		UserMetadata: claims.UserMetadata,
		AppMetadata:  claims.AppMetadata,
	}, nil
}
