package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrMissingClient = errors.New("session store: provider client required")

const subscriberBufferSize = 16

// StoreConfig describes the dependencies of the session store.
type StoreConfig struct {
	Client *Client
	Logger *zap.Logger
	Clock  func() time.Time
}

// Store adapts the hosted auth provider's session lifecycle into a
// point-in-time read plus a change-notification stream. It is the single
// owner of the current session value.
type Store struct {
	client *Client
	logger *zap.Logger
	clock  func() time.Time

	mu              sync.RWMutex
	current         *Session
	lastFingerprint string
	subscribers     map[int64]*subscriber
	nextID          int64
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewStore constructs the session store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrMissingClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		client:      cfg.Client,
		logger:      logger,
		clock:       clock,
		subscribers: make(map[int64]*subscriber),
	}, nil
}

// CurrentSession returns the session held right now, or nil when signed out.
func (s *Store) CurrentSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers a listener on the session change stream. The listener
// immediately receives an initial-session delivery reflecting the current
// state, then one delivery per distinct lifecycle event. The returned cancel
// function detaches the listener; cancelling the context does the same.
func (s *Store) Subscribe(ctx context.Context) (<-chan Event, func()) {
	s.mu.Lock()
	s.nextID++
	sub := &subscriber{
		id:     s.nextID,
		stream: make(chan Event, subscriberBufferSize),
	}
	s.subscribers[sub.id] = sub
	initial := Event{Type: EventInitialSession, Session: s.current}
	s.mu.Unlock()

	sub.stream <- initial

	cleanup := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[sub.id]; ok {
			delete(s.subscribers, sub.id)
			close(sub.stream)
		}
		s.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// SignInWithPassword authenticates with credentials and publishes the new session.
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	established, err := s.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.adopt(established, EventSignedIn)
	return established, nil
}

// SignUp registers a new account and publishes its initial session.
func (s *Store) SignUp(ctx context.Context, email, password string, attrs map[string]string) (*Session, error) {
	established, err := s.client.SignUp(ctx, email, password, attrs)
	if err != nil {
		return nil, err
	}
	s.adopt(established, EventSignedIn)
	return established, nil
}

// SignInWithOAuth builds the provider redirect URL for the named external
// provider. The state payload travels through the redirect; a nonce is
// generated when the caller has not set one.
func (s *Store) SignInWithOAuth(provider string, state StatePayload) (string, error) {
	if state.Nonce == "" {
		state.Nonce = uuid.NewString()
	}
	encoded, err := state.Encode()
	if err != nil {
		return "", err
	}
	return s.client.AuthorizeURL(provider, encoded), nil
}

// Identify resolves the identity behind an access token without adopting it.
// OAuth callback handling uses this to seed signup intent before the adopted
// session is published.
func (s *Store) Identify(ctx context.Context, accessToken string) (Identity, error) {
	return s.client.GetUser(ctx, accessToken)
}

// AdoptTokens completes an OAuth redirect by resolving the identity behind the
// returned tokens and publishing the session.
func (s *Store) AdoptTokens(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	identity, err := s.client.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	established := &Session{
		Identity:     identity,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    s.clock().UTC().Add(time.Hour),
	}
	s.adopt(established, EventSignedIn)
	return established, nil
}

// Refresh exchanges the held refresh token for a fresh session and publishes it.
func (s *Store) Refresh(ctx context.Context) (*Session, error) {
	current := s.CurrentSession()
	if current == nil || current.RefreshToken == "" {
		return nil, ErrMissingAccessToken
	}
	refreshed, err := s.client.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}
	s.adopt(refreshed, EventTokenRefreshed)
	return refreshed, nil
}

// SignOut clears the held session before the provider round-trip so observers
// never see stale authenticated state. A provider failure leaves the local
// state cleared; re-authentication is the recovery path.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	previous := s.current
	s.current = nil
	s.mu.Unlock()
	s.publish(Event{Type: EventSignedOut, Session: nil})

	if previous == nil {
		return nil
	}
	if err := s.client.SignOut(ctx, previous.AccessToken); err != nil {
		s.logger.Warn("provider sign-out failed after local clear", zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) adopt(established *Session, eventType EventType) {
	s.mu.Lock()
	s.current = established
	s.mu.Unlock()
	s.publish(Event{Type: eventType, Session: established})
}

// publish fans the event out to subscribers, suppressing deliveries whose
// payload is byte-identical to the previous one. The provider is known to
// re-fire sign-in events on tab focus; suppressing them keeps downstream
// bootstrap from re-running for the same logical state.
//
// The sends happen under the mutex: an unsubscribe closes the stream under
// the same lock, so a send can never race the close. Sends stay non-blocking
// because overflowing a slow subscriber drops the event instead.
func (s *Store) publish(event Event) {
	print := fingerprint(event.Type, event.Session)

	s.mu.Lock()
	defer s.mu.Unlock()
	if print == s.lastFingerprint {
		return
	}
	s.lastFingerprint = print

	for _, sub := range s.subscribers {
		select {
		case sub.stream <- event:
		default:
			s.logger.Warn("session event dropped for slow subscriber",
				zap.Int64("subscriber_id", sub.id),
				zap.String("event", string(event.Type)))
		}
	}
}
