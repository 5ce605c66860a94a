package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIBaseURL = "https://api.github.com"
	acceptHeader      = "application/vnd.github+json"
)

var (
	errMissingIssuer = errors.New("github: app token issuer required")
	// ErrEnrichmentUnavailable tags any failure along the token exchange or
	// profile fetch. Callers seed empty optional fields instead of failing.
	ErrEnrichmentUnavailable = errors.New("github: profile enrichment unavailable")
)

// PublicProfile carries the optional public fields used to seed a new
// developer profile.
type PublicProfile struct {
	Handle   string `json:"login"`
	Bio      string `json:"bio"`
	Location string `json:"location"`
}

// EnricherConfig bundles configuration for the enrichment client.
type EnricherConfig struct {
	Issuer     *AppTokenIssuer
	APIBaseURL string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Enricher exchanges a signed App JWT for an installation access token and
// fetches public profile data with it. Every failure degrades to
// ErrEnrichmentUnavailable; enrichment never blocks bootstrap.
type Enricher struct {
	issuer     *AppTokenIssuer
	apiBaseURL string
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time

	// Installation tokens are scoped to one installation; the cache is keyed
	// accordingly so one user's grant is never presented for another's.
	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	token  string
	expiry time.Time
}

// NewEnricher constructs an enrichment client with validated configuration.
func NewEnricher(cfg EnricherConfig) (*Enricher, error) {
	if cfg.Issuer == nil {
		return nil, errMissingIssuer
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Enricher{
		issuer:     cfg.Issuer,
		apiBaseURL: baseURL,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
		tokens:     make(map[string]cachedToken),
	}, nil
}

// FetchPublicProfile resolves the public profile for the handle through the
// installation the user granted.
func (e *Enricher) FetchPublicProfile(ctx context.Context, installationID, handle string) (PublicProfile, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || strings.TrimSpace(installationID) == "" {
		return PublicProfile{}, fmt.Errorf("%w: installation id and handle required", ErrEnrichmentUnavailable)
	}

	token, err := e.installationToken(ctx, installationID)
	if err != nil {
		return PublicProfile{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBaseURL+"/users/"+handle, nil)
	if err != nil {
		return PublicProfile{}, fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+token)

	response, err := e.httpClient.Do(req)
	if err != nil {
		return PublicProfile{}, fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return PublicProfile{}, fmt.Errorf("%w: profile request returned status %d", ErrEnrichmentUnavailable, response.StatusCode)
	}

	var profile PublicProfile
	if err := json.NewDecoder(response.Body).Decode(&profile); err != nil {
		return PublicProfile{}, fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
	}
	return profile, nil
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e *Enricher) installationToken(ctx context.Context, installationID string) (string, error) {
	now := e.clock().UTC()

	e.mu.Lock()
	if cached, ok := e.tokens[installationID]; ok && cached.token != "" && now.Before(cached.expiry) {
		e.mu.Unlock()
		return cached.token, nil
	}
	e.mu.Unlock()

	appJWT, err := e.issuer.IssueAppToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
	}

	endpoint := fmt.Sprintf("%s/app/installations/%s/access_tokens", e.apiBaseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+appJWT)

	response, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: token exchange returned status %d", ErrEnrichmentUnavailable, response.StatusCode)
	}

	var payload installationTokenResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("%w: token exchange returned empty token", ErrEnrichmentUnavailable)
	}

	e.mu.Lock()
	e.tokens[installationID] = cachedToken{
		token: payload.Token,
		// Leave a refresh margin so a token is never presented at the edge of expiry.
		expiry: payload.ExpiresAt.Add(-time.Minute),
	}
	e.mu.Unlock()

	return payload.Token, nil
}
