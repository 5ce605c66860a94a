package github

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// GitHub rejects App JWTs living longer than ten minutes.
	appTokenTTL = 9 * time.Minute
	// Issued-at is backdated to absorb clock drift between us and GitHub.
	appTokenBackdate = 60 * time.Second
)

var (
	errMissingAppID      = errors.New("github: app id must be provided")
	errMissingPrivateKey = errors.New("github: private key must be provided")
)

// AppTokenIssuerConfig configures GitHub App JWT issuance.
type AppTokenIssuerConfig struct {
	AppID      string
	PrivateKey *rsa.PrivateKey
	Clock      func() time.Time
}

// AppTokenIssuer signs the short-lived RS256 JWTs a GitHub App presents when
// exchanging for installation access tokens.
type AppTokenIssuer struct {
	appID      string
	privateKey *rsa.PrivateKey
	clock      func() time.Time
}

// NewAppTokenIssuer constructs an issuer with sane defaults.
func NewAppTokenIssuer(cfg AppTokenIssuerConfig) (*AppTokenIssuer, error) {
	if cfg.AppID == "" {
		return nil, errMissingAppID
	}
	if cfg.PrivateKey == nil {
		return nil, errMissingPrivateKey
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AppTokenIssuer{
		appID:      cfg.AppID,
		privateKey: cfg.PrivateKey,
		clock:      clock,
	}, nil
}

// IssueAppToken produces a signed App JWT for the bearer exchange.
func (i *AppTokenIssuer) IssueAppToken() (string, error) {
	now := i.clock().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    i.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-appTokenBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(i.privateKey)
}

// ParsePrivateKey decodes a PEM-encoded RSA private key as downloaded from
// the GitHub App settings page.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	if len(pemBytes) == 0 {
		return nil, errMissingPrivateKey
	}
	return jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
}
