package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devmatch-labs/devmatch/backend/internal/github"
	"github.com/devmatch-labs/devmatch/backend/internal/intent"
	"github.com/devmatch-labs/devmatch/backend/internal/profiles"
	"github.com/devmatch-labs/devmatch/backend/internal/session"
	"go.uber.org/zap"
)

var (
	errMissingRepository = errors.New("profile repository is required")
	errMissingIdentity   = errors.New("identity id is required")
	noOpLogger           = zap.NewNop()
)

const (
	opResolverNew = "bootstrap.resolver.new"
	opResolve     = "bootstrap.resolve"

	// Insert conflicts signal a concurrent bootstrap for the same identity
	// (duplicate tab); the refetch loop is bounded so a persistently failing
	// store cannot spin.
	maxProfileAttempts = 3

	defaultName = "User"
)

// ServiceError tags a resolver failure with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ProfileEnricher fetches optional public profile data for seeding a new
// developer profile. Failures degrade to empty fields; they never block bootstrap.
type ProfileEnricher interface {
	FetchPublicProfile(ctx context.Context, installationID, handle string) (github.PublicProfile, error)
}

// ResolverConfig describes the dependencies of the bootstrap resolver.
type ResolverConfig struct {
	Repository  *profiles.Repository
	IntentStore intent.Store
	Enricher    ProfileEnricher
	Logger      *zap.Logger
	Clock       func() time.Time
	// Observer, when set, receives every phase transition. Used by callers
	// that surface bootstrap progress and by tests asserting the walk order.
	Observer func(identityID string, phase Phase)
}

// Resolver guarantees that a users row and the matching role-specific row
// exist for an authenticated identity, creating and reconciling them from
// signup intent and provider metadata.
type Resolver struct {
	repo     *profiles.Repository
	intents  intent.Store
	enricher ProfileEnricher
	logger   *zap.Logger
	clock    func() time.Time
	observer func(identityID string, phase Phase)
}

// Outcome is the resolved profile pair published after a bootstrap attempt.
type Outcome struct {
	Phase           Phase
	Profile         profiles.UserProfile
	RoleProfile     *profiles.RoleProfile
	NeedsOnboarding bool
}

// NewResolver constructs the resolver with validated configuration.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opResolverNew, "missing_repository", errMissingRepository)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	observer := cfg.Observer
	if observer == nil {
		observer = func(string, Phase) {}
	}
	return &Resolver{
		repo:     cfg.Repository,
		intents:  cfg.IntentStore,
		enricher: cfg.Enricher,
		logger:   logger,
		clock:    clock,
		observer: observer,
	}, nil
}

// Resolve walks the bootstrap state machine for the identity. It is safe to
// invoke concurrently for the same identity: a users-row insert conflict is
// treated as a refetch signal, so repeated calls converge on one row.
func (r *Resolver) Resolve(ctx context.Context, identity session.Identity) (Outcome, error) {
	if identity.ID == "" {
		return Outcome{}, newServiceError(opResolve, "missing_identity", errMissingIdentity)
	}
	r.observer(identity.ID, PhaseUnresolved)

	profile, err := r.ensureUserProfile(ctx, identity)
	if err != nil {
		r.observer(identity.ID, PhaseFailed)
		return Outcome{}, err
	}
	r.observer(identity.ID, PhaseProfileReady)

	// Admins carry no role-specific row; bootstrap completes here.
	if !profile.Role.HasRoleProfile() {
		return Outcome{Phase: PhaseProfileReady, Profile: profile}, nil
	}

	roleProfile := r.ensureRoleProfile(ctx, identity, profile)
	if roleProfile == nil {
		// A users row without its role row is a valid resumable state, not a
		// ready one: the phase stays at profile_ready and the next resolve
		// retries the role row.
		return Outcome{
			Phase:           PhaseProfileReady,
			Profile:         profile,
			NeedsOnboarding: profile.Role == profiles.RoleDeveloper,
		}, nil
	}
	r.observer(identity.ID, PhaseRoleProfileReady)
	return Outcome{
		Phase:       PhaseRoleProfileReady,
		Profile:     profile,
		RoleProfile: roleProfile,
	}, nil
}

// ensureUserProfile implements steps 1–3: fetch, create from intent and
// provider metadata when absent, and refetch on insert conflict.
func (r *Resolver) ensureUserProfile(ctx context.Context, identity session.Identity) (profiles.UserProfile, error) {
	for attempt := 0; attempt < maxProfileAttempts; attempt++ {
		existing, err := r.repo.GetUserProfile(ctx, identity.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, profiles.ErrProfileNotFound) {
			r.logError("profile_fetch_failed", err, identity.ID)
			return profiles.UserProfile{}, newServiceError(opResolve, "profile_fetch_failed", err)
		}

		r.observer(identity.ID, PhaseProfileMissing)
		captured, _ := r.intentFor(identity)
		role := r.deriveRole(identity, captured)
		name := deriveName(identity, captured)

		r.observer(identity.ID, PhaseProfileCreating)
		created, err := r.repo.CreateUserProfile(ctx, profiles.UserProfile{
			ID:         identity.ID,
			Email:      identity.Email,
			Name:       name,
			Role:       role,
			IsApproved: role.AutoApproved(),
		})
		if err == nil {
			return created, nil
		}
		if errors.Is(err, profiles.ErrProfileExists) {
			// Lost the insert race against a concurrent bootstrap; refetch.
			r.logger.Debug("user profile insert raced, refetching",
				zap.String("identity_id", identity.ID))
			continue
		}
		r.logError("profile_create_failed", err, identity.ID)
		return profiles.UserProfile{}, newServiceError(opResolve, "profile_create_failed", err)
	}
	r.logError("profile_create_contended", nil, identity.ID)
	return profiles.UserProfile{}, newServiceError(opResolve, "profile_create_contended", nil)
}

// ensureRoleProfile implements steps 4–5: create the role row when absent and
// reconcile provider-authoritative fields when present. It never fails the
// overall bootstrap; a nil return means the role row is still missing.
func (r *Resolver) ensureRoleProfile(ctx context.Context, identity session.Identity, profile profiles.UserProfile) *profiles.RoleProfile {
	existing, err := r.repo.GetRoleProfile(ctx, profile.ID, profile.Role)
	if err == nil {
		return r.reconcileRoleProfile(ctx, identity, existing)
	}
	if !errors.Is(err, profiles.ErrRoleProfileNotFound) {
		r.logWarn("role_profile_fetch_failed", err, profile.ID)
		return nil
	}

	r.observer(identity.ID, PhaseRoleProfileMissing)
	r.observer(identity.ID, PhaseRoleProfileCreating)
	seeded := r.seedRoleProfile(ctx, identity, profile)
	created, err := r.repo.CreateRoleProfile(ctx, seeded)
	if err != nil {
		if errors.Is(err, profiles.ErrProfileExists) {
			if refetched, fetchErr := r.repo.GetRoleProfile(ctx, profile.ID, profile.Role); fetchErr == nil {
				return &refetched
			}
		}
		r.logWarn("role_profile_create_failed", err, profile.ID)
		return nil
	}
	return &created
}

func (r *Resolver) seedRoleProfile(ctx context.Context, identity session.Identity, profile profiles.UserProfile) profiles.RoleProfile {
	switch profile.Role {
	case profiles.RoleRecruiter:
		return profiles.RoleProfile{
			Role: profiles.RoleRecruiter,
			Recruiter: &profiles.RecruiterProfile{
				UserID:      profile.ID,
				CompanyName: "Company",
			},
		}
	default:
		developer := &profiles.DeveloperProfile{
			UserID:               profile.ID,
			GitHubHandle:         identity.UserMetadata.UserName,
			Bio:                  identity.UserMetadata.Bio,
			Location:             identity.UserMetadata.Location,
			GitHubInstallationID: identity.UserMetadata.InstallationID,
			TopLanguages:         []string{},
			Availability:         true,
		}
		r.enrichDeveloper(ctx, developer)
		return profiles.RoleProfile{Role: profiles.RoleDeveloper, Developer: developer}
	}
}

// enrichDeveloper fills optional public fields through the GitHub App exchange.
// Any failure leaves the fields as seeded from provider metadata.
func (r *Resolver) enrichDeveloper(ctx context.Context, developer *profiles.DeveloperProfile) {
	if r.enricher == nil || developer.GitHubHandle == "" || developer.GitHubInstallationID == "" {
		return
	}
	public, err := r.enricher.FetchPublicProfile(ctx, developer.GitHubInstallationID, developer.GitHubHandle)
	if err != nil {
		r.logger.Debug("github enrichment skipped",
			zap.String("handle", developer.GitHubHandle),
			zap.Error(err))
		return
	}
	if developer.Bio == "" {
		developer.Bio = public.Bio
	}
	if developer.Location == "" {
		developer.Location = public.Location
	}
}

// reconcileRoleProfile merges provider-authoritative fields into the stored
// role row. A non-empty local field is never overwritten by an empty remote one.
func (r *Resolver) reconcileRoleProfile(ctx context.Context, identity session.Identity, existing profiles.RoleProfile) *profiles.RoleProfile {
	if existing.Developer == nil {
		return &existing
	}
	developer := *existing.Developer

	updates := map[string]interface{}{}
	if handle := identity.UserMetadata.UserName; handle != "" && handle != developer.GitHubHandle {
		updates["github_handle"] = handle
		developer.GitHubHandle = handle
	}
	if installation := identity.UserMetadata.InstallationID; installation != "" && installation != developer.GitHubInstallationID {
		updates["github_installation_id"] = installation
		developer.GitHubInstallationID = installation
	}
	if bio := identity.UserMetadata.Bio; bio != "" && developer.Bio == "" {
		updates["bio"] = bio
		developer.Bio = bio
	}
	if location := identity.UserMetadata.Location; location != "" && developer.Location == "" {
		updates["location"] = location
		developer.Location = location
	}
	if len(updates) == 0 {
		return &existing
	}

	if err := r.repo.UpdateRoleProfile(ctx, developer.UserID, profiles.RoleDeveloper, updates); err != nil {
		r.logWarn("role_profile_reconcile_failed", err, developer.UserID)
		return &existing
	}
	return &profiles.RoleProfile{Role: profiles.RoleDeveloper, Developer: &developer}
}

// intentFor looks up captured signup intent by email, falling back to the
// identity id. OAuth identities can hide their email, and the callback path
// keys the intent by id in that case.
func (r *Resolver) intentFor(identity session.Identity) (intent.SignupIntent, bool) {
	if r.intents == nil {
		return intent.SignupIntent{}, false
	}
	if identity.Email != "" {
		if captured, ok := r.intents.Get(identity.Email); ok {
			return captured, true
		}
	}
	return r.intents.Get(identity.ID)
}

func (r *Resolver) deriveRole(identity session.Identity, captured intent.SignupIntent) profiles.Role {
	if role, err := profiles.ParseRole(captured.Role); err == nil {
		return role
	}
	if role, err := profiles.ParseRole(identity.UserMetadata.Role); err == nil {
		return role
	}
	return profiles.RoleDeveloper
}

func deriveName(identity session.Identity, captured intent.SignupIntent) string {
	if captured.Name != "" {
		return captured.Name
	}
	if display := identity.DisplayName(); display != "" {
		return display
	}
	return defaultName
}

func (r *Resolver) logError(reason string, err error, identityID string) {
	fields := []zap.Field{
		zap.String("operation", opResolve),
		zap.String("reason", reason),
		zap.String("identity_id", identityID),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Error("bootstrap resolve error", fields...)
}

func (r *Resolver) logWarn(reason string, err error, identityID string) {
	fields := []zap.Field{
		zap.String("operation", opResolve),
		zap.String("reason", reason),
		zap.String("identity_id", identityID),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn("bootstrap resolve degraded", fields...)
}
