package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	ErrMissingProviderURL = errors.New("session client: provider url required")
	ErrMissingAPIKey      = errors.New("session client: api key required")
	// ErrProviderRejected wraps non-2xx provider responses; the provider's own
	// message is surfaced verbatim to the user per the error taxonomy.
	ErrProviderRejected = errors.New("session client: provider rejected request")
)

// ClientConfig bundles configuration for the hosted auth provider client.
type ClientConfig struct {
	BaseURL          string
	APIKey           string
	OAuthRedirectURL string
	HTTPClient       *http.Client
	Logger           *zap.Logger
	Clock            func() time.Time
}

// Client talks to the hosted auth provider's REST surface. Every operation
// returns a result or an error; provider failures never panic across the boundary.
type Client struct {
	baseURL          string
	apiKey           string
	oauthRedirectURL string
	httpClient       *http.Client
	logger           *zap.Logger
	clock            func() time.Time
}

// NewClient constructs a provider client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingProviderURL
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
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
	return &Client{
		baseURL:          baseURL,
		apiKey:           apiKey,
		oauthRedirectURL: strings.TrimSpace(cfg.OAuthRedirectURL),
		httpClient:       httpClient,
		logger:           logger,
		clock:            clock,
	}, nil
}

type sessionEnvelope struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	User         Identity `json:"user"`
}

type providerError struct {
	Message          string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

// SignInWithPassword exchanges email/password credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	payload := map[string]string{"email": email, "password": password}
	return c.requestSession(ctx, "/token?grant_type=password", payload)
}

// SignUp registers a new account and returns its initial session. The attrs
// map lands in the identity's user metadata.
func (c *Client) SignUp(ctx context.Context, email, password string, attrs map[string]string) (*Session, error) {
	payload := map[string]interface{}{"email": email, "password": password}
	if len(attrs) > 0 {
		payload["data"] = attrs
	}
	return c.requestSession(ctx, "/signup", payload)
}

// RefreshSession exchanges a refresh token for a fresh session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	payload := map[string]string{"refresh_token": refreshToken}
	return c.requestSession(ctx, "/token?grant_type=refresh_token", payload)
}

// GetUser fetches the identity behind an access token.
func (c *Client) GetUser(ctx context.Context, accessToken string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return Identity{}, err
	}
	c.decorate(req)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Identity{}, c.rejection(response)
	}
	var identity Identity
	if err := json.NewDecoder(response.Body).Decode(&identity); err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// SignOut revokes the session behind the access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusNoContent && response.StatusCode != http.StatusOK {
		return c.rejection(response)
	}
	return nil
}

// AuthorizeURL builds the provider's OAuth redirect URL for the named external
// provider, threading the opaque state payload through the round-trip.
func (c *Client) AuthorizeURL(provider, state string) string {
	oauthConfig := oauth2.Config{
		ClientID:    c.apiKey,
		RedirectURL: c.oauthRedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL: c.baseURL + "/authorize",
		},
	}
	return oauthConfig.AuthCodeURL(state, oauth2.SetAuthURLParam("provider", provider))
}

func (c *Client) requestSession(ctx context.Context, path string, payload interface{}) (*Session, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, c.rejection(response)
	}

	var envelope sessionEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if envelope.AccessToken == "" || envelope.User.ID == "" {
		return nil, fmt.Errorf("%w: incomplete session payload", ErrProviderRejected)
	}

	return &Session{
		Identity:     envelope.User,
		AccessToken:  envelope.AccessToken,
		RefreshToken: envelope.RefreshToken,
		ExpiresAt:    c.clock().UTC().Add(time.Duration(envelope.ExpiresIn) * time.Second),
	}, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
}

func (c *Client) rejection(response *http.Response) error {
	var detail providerError
	if err := json.NewDecoder(response.Body).Decode(&detail); err == nil {
		message := detail.Message
		if message == "" {
			message = detail.ErrorDescription
		}
		if message != "" {
			return fmt.Errorf("%w: %s", ErrProviderRejected, message)
		}
	}
	return fmt.Errorf("%w: status %d", ErrProviderRejected, response.StatusCode)
}

// DecodeStatePayload parses the JSON state object carried through an OAuth
// redirect. Unknown or malformed payloads yield an empty value, never an error
// surfaced to the user.
func DecodeStatePayload(raw string) StatePayload {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	var payload StatePayload
	if err := json.Unmarshal([]byte(decoded), &payload); err != nil {
		return StatePayload{}
	}
	return payload
}

// StatePayload is the JSON object carried in the OAuth state query parameter.
type StatePayload struct {
	Nonce          string `json:"nonce,omitempty"`
	Name           string `json:"name,omitempty"`
	Role           string `json:"role,omitempty"`
	InstallationID string `json:"installation_id,omitempty"`
}

// Encode serializes the payload for use as a state query parameter.
func (p StatePayload) Encode() (string, error) {
	encoded, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
