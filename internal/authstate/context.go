// Package authstate owns the process-wide authentication state. It is the
// single writer of the published state value: session events and bootstrap
// outcomes funnel through one loop, and every other component only reads.
package authstate

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/devmatch-labs/devmatch/backend/internal/bootstrap"
	"github.com/devmatch-labs/devmatch/backend/internal/intent"
	"github.com/devmatch-labs/devmatch/backend/internal/profiles"
	"github.com/devmatch-labs/devmatch/backend/internal/session"
	"go.uber.org/zap"
)

var (
	ErrMissingSessionStore = errors.New("authstate: session store required")
	ErrMissingResolver     = errors.New("authstate: bootstrap resolver required")
	ErrNotStarted          = errors.New("authstate: context not started")
	ErrNotAuthenticated    = errors.New("authstate: no authenticated session")
)

const (
	msgProfileCreationFailed = "failed to create your profile, try again"
	msgUnexpectedFailure     = "something went wrong, please try again"
)

// State is the published snapshot consumers read. RoleProfile is nil while the
// role row is absent or not yet determined; Loading distinguishes the two.
type State struct {
	Identity        *session.Identity
	Profile         *profiles.UserProfile
	RoleProfile     *profiles.RoleProfile
	Loading         bool
	Error           string
	NeedsOnboarding bool
}

// ContextConfig describes the dependencies of the auth context.
type ContextConfig struct {
	Store       *session.Store
	Resolver    *bootstrap.Resolver
	Repository  *profiles.Repository
	IntentStore intent.Store
	Logger      *zap.Logger
}

// Context subscribes to the session store, runs bootstrap on every lifecycle
// event, and exposes the resolved state plus the pass-through auth actions.
type Context struct {
	store    *session.Store
	resolver *bootstrap.Resolver
	repo     *profiles.Repository
	intents  intent.Store
	logger   *zap.Logger

	mu    sync.RWMutex
	state State

	cancelSubscription func()
	done               chan struct{}
}

// NewContext constructs the auth context. Call Start to begin processing events.
func NewContext(cfg ContextConfig) (*Context, error) {
	if cfg.Store == nil {
		return nil, ErrMissingSessionStore
	}
	if cfg.Resolver == nil {
		return nil, ErrMissingResolver
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		repo:     cfg.Repository,
		intents:  cfg.IntentStore,
		logger:   logger,
		state:    State{Loading: true},
	}, nil
}

// Start subscribes to the session change stream and processes events in the
// order delivered until ctx is cancelled or Stop is called. Resolves are
// serialized by the loop, so two bootstraps for one identity never run
// concurrently inside one process; cross-process races are absorbed by the
// repository's insert-conflict contract.
func (c *Context) Start(ctx context.Context) error {
	events, cancel := c.store.Subscribe(ctx)
	c.cancelSubscription = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for event := range events {
			c.handleEvent(ctx, event)
		}
	}()
	return nil
}

// Stop detaches from the session stream and waits for the loop to drain.
func (c *Context) Stop() {
	if c.cancelSubscription == nil {
		return
	}
	c.cancelSubscription()
	<-c.done
	c.cancelSubscription = nil
}

// Snapshot returns the current published state.
func (c *Context) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Context) handleEvent(ctx context.Context, event session.Event) {
	if event.Session == nil {
		c.setState(State{Loading: false})
		return
	}

	identity := event.Session.Identity
	if !c.identityIsCurrent(identity.ID) {
		// The session moved on while this event sat in the queue.
		c.logger.Debug("skipping superseded session event",
			zap.String("identity_id", identity.ID),
			zap.String("event", string(event.Type)))
		return
	}
	c.setLoading(identity)

	outcome, err := c.resolver.Resolve(ctx, identity)

	// A sign-out or a different sign-in may have arrived while the resolve
	// was in flight; a stale result must not be published.
	if !c.identityIsCurrent(identity.ID) {
		c.logger.Debug("discarding stale bootstrap result",
			zap.String("identity_id", identity.ID),
			zap.String("event", string(event.Type)))
		return
	}

	if err != nil {
		c.setState(State{
			Identity: &identity,
			Loading:  false,
			Error:    userMessage(err),
		})
		return
	}

	c.setState(State{
		Identity:        &identity,
		Profile:         &outcome.Profile,
		RoleProfile:     outcome.RoleProfile,
		Loading:         false,
		NeedsOnboarding: needsOnboarding(outcome.Profile, outcome.RoleProfile),
	})
}

func (c *Context) setLoading(identity session.Identity) {
	c.mu.Lock()
	c.state.Identity = &identity
	c.state.Loading = true
	c.state.Error = ""
	c.mu.Unlock()
}

func (c *Context) setState(next State) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
}

func (c *Context) identityIsCurrent(identityID string) bool {
	current := c.store.CurrentSession()
	return current != nil && current.Identity.ID == identityID
}

// SignIn authenticates with credentials. Provider failures surface verbatim.
func (c *Context) SignIn(ctx context.Context, email, password string) error {
	_, err := c.store.SignInWithPassword(ctx, email, password)
	return err
}

// SignUp records the signup intent and registers the account. The intent is
// what the first bootstrap reads to pick role and display name.
func (c *Context) SignUp(ctx context.Context, email, password, name, role string) error {
	if c.intents != nil {
		c.intents.Put(email, intent.SignupIntent{Name: name, Role: role})
	}
	attrs := map[string]string{}
	if name != "" {
		attrs["full_name"] = name
	}
	if role != "" {
		attrs["role"] = role
	}
	_, err := c.store.SignUp(ctx, email, password, attrs)
	return err
}

// SignInWithOAuth returns the provider redirect URL carrying the signup
// intent in its state payload.
func (c *Context) SignInWithOAuth(provider, name, role string) (string, error) {
	return c.store.SignInWithOAuth(provider, session.StatePayload{Name: name, Role: role})
}

// CompleteOAuth seeds the signup intent from the state payload when the local
// cache has nothing for the identity (different device, cleared cache), then
// adopts the tokens returned by the OAuth redirect. Seeding happens before the
// adopted session is published so the first bootstrap can read the intent, and
// it keys by identity id when the provider hides the email, so a recruiter
// signing in through GitHub keeps the role the state payload carried.
func (c *Context) CompleteOAuth(ctx context.Context, accessToken, refreshToken, rawState string) error {
	identity, err := c.store.Identify(ctx, accessToken)
	if err != nil {
		return err
	}
	payload := session.DecodeStatePayload(rawState)
	if c.intents != nil && (payload.Name != "" || payload.Role != "") {
		key := identity.Email
		if key == "" {
			key = identity.ID
		}
		if _, ok := c.intents.Get(key); !ok {
			c.intents.Put(key, intent.SignupIntent{Name: payload.Name, Role: payload.Role})
		}
	}
	_, err = c.store.AdoptTokens(ctx, accessToken, refreshToken)
	return err
}

// SignOut clears the published state before the provider round-trip completes
// so no reader observes stale authenticated content.
func (c *Context) SignOut(ctx context.Context) error {
	c.setState(State{Loading: false})
	return c.store.SignOut(ctx)
}

// UpdateRoleProfile applies a self-service edit to the signed-in account's
// role row and refreshes the published state.
func (c *Context) UpdateRoleProfile(ctx context.Context, updates map[string]interface{}) error {
	if c.repo == nil {
		return ErrNotStarted
	}
	snapshot := c.Snapshot()
	if snapshot.Identity == nil || snapshot.Profile == nil {
		return ErrNotAuthenticated
	}
	if err := c.repo.UpdateRoleProfile(ctx, snapshot.Profile.ID, snapshot.Profile.Role, updates); err != nil {
		return err
	}
	refreshed, err := c.repo.GetRoleProfile(ctx, snapshot.Profile.ID, snapshot.Profile.Role)
	if err != nil {
		return err
	}
	if !c.identityIsCurrent(snapshot.Identity.ID) {
		return nil
	}
	c.mu.Lock()
	c.state.RoleProfile = &refreshed
	c.state.NeedsOnboarding = false
	c.mu.Unlock()
	return nil
}

// needsOnboarding is true only for developers whose role row is still absent.
// Recruiters awaiting approval are covered by is_approved, not this flag.
func needsOnboarding(profile profiles.UserProfile, roleProfile *profiles.RoleProfile) bool {
	return profile.Role == profiles.RoleDeveloper && roleProfile == nil
}

// userMessage maps resolver error codes to the strings shown to users. Raw
// repository errors never surface here.
func userMessage(err error) string {
	var tagged *bootstrap.ServiceError
	if errors.As(err, &tagged) {
		if strings.HasSuffix(tagged.Code(), "profile_create_failed") ||
			strings.HasSuffix(tagged.Code(), "profile_create_contended") {
			return msgProfileCreationFailed
		}
	}
	return msgUnexpectedFailure
}
