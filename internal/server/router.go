package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/devmatch-labs/devmatch/backend/internal/authstate"
	"github.com/devmatch-labs/devmatch/backend/internal/bootstrap"
	"github.com/devmatch-labs/devmatch/backend/internal/profiles"
	"github.com/devmatch-labs/devmatch/backend/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityContextKey = "devmatch_identity"

var (
	errMissingAuthContext   = errors.New("auth context dependency required")
	errMissingSessionStore  = errors.New("session store dependency required")
	errMissingRepository    = errors.New("profile repository dependency required")
	errMissingTokenLens     = errors.New("token lens dependency required")
	errMissingResolver      = errors.New("bootstrap resolver dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	AuthContext *authstate.Context
	Store       *session.Store
	Repository  *profiles.Repository
	TokenLens   *session.TokenLens
	Resolver    *bootstrap.Resolver
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router for the auth backend.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.AuthContext == nil {
		return nil, errMissingAuthContext
	}
	if deps.Store == nil {
		return nil, errMissingSessionStore
	}
	if deps.Repository == nil {
		return nil, errMissingRepository
	}
	if deps.TokenLens == nil {
		return nil, errMissingTokenLens
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		authContext: deps.AuthContext,
		store:       deps.Store,
		repo:        deps.Repository,
		tokenLens:   deps.TokenLens,
		resolver:    deps.Resolver,
		logger:      logger,
	}

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)
	router.GET("/auth/oauth/:provider", handler.handleOAuthInitiate)
	router.POST("/auth/callback", handler.handleOAuthCallback)
	router.POST("/auth/signout", handler.handleSignOut)
	router.GET("/auth/state", handler.handleAuthState)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)
	protected.PATCH("/me/role-profile", handler.handleRoleProfileUpdate)
	protected.POST("/admin/users/:id/approve", handler.handleApprove)

	return router, nil
}

type httpHandler struct {
	authContext *authstate.Context
	store       *session.Store
	repo        *profiles.Repository
	tokenLens   *session.TokenLens
	resolver    *bootstrap.Resolver
	logger      *zap.Logger
}

type signUpPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.authContext.SignUp(c.Request.Context(), request.Email, request.Password, request.Name, request.Role); err != nil {
		h.logger.Warn("sign-up rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.statePayload())
}

type signInPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.authContext.SignIn(c.Request.Context(), request.Email, request.Password); err != nil {
		h.logger.Warn("sign-in rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.statePayload())
}

func (h *httpHandler) handleOAuthInitiate(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	redirectURL, err := h.authContext.SignInWithOAuth(provider, c.Query("name"), c.Query("role"))
	if err != nil {
		h.logger.Error("failed to build oauth redirect", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "oauth_initiate_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect_url": redirectURL})
}

type oauthCallbackPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	State        string `json:"state"`
}

func (h *httpHandler) handleOAuthCallback(c *gin.Context) {
	var request oauthCallbackPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.AccessToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.authContext.CompleteOAuth(c.Request.Context(), request.AccessToken, request.RefreshToken, request.State); err != nil {
		h.logger.Warn("oauth callback rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, h.statePayload())
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	if err := h.authContext.SignOut(c.Request.Context()); err != nil {
		// Local state is already cleared; surface the provider failure but
		// report the signed-out state.
		h.logger.Warn("provider sign-out failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, h.statePayload())
}

func (h *httpHandler) handleAuthState(c *gin.Context) {
	c.JSON(http.StatusOK, h.statePayload())
}

type statePayload struct {
	Identity        *session.Identity     `json:"identity"`
	Profile         *profiles.UserProfile `json:"profile"`
	RoleProfile     *roleProfilePayload   `json:"role_profile"`
	Loading         bool                  `json:"loading"`
	Error           string                `json:"error,omitempty"`
	NeedsOnboarding bool                  `json:"needs_onboarding"`
}

type roleProfilePayload struct {
	Role      string                     `json:"role"`
	Developer *profiles.DeveloperProfile `json:"developer,omitempty"`
	Recruiter *profiles.RecruiterProfile `json:"recruiter,omitempty"`
}

func (h *httpHandler) statePayload() statePayload {
	snapshot := h.authContext.Snapshot()
	payload := statePayload{
		Identity:        snapshot.Identity,
		Profile:         snapshot.Profile,
		Loading:         snapshot.Loading,
		Error:           snapshot.Error,
		NeedsOnboarding: snapshot.NeedsOnboarding,
	}
	if snapshot.RoleProfile != nil {
		payload.RoleProfile = &roleProfilePayload{
			Role:      snapshot.RoleProfile.Role.String(),
			Developer: snapshot.RoleProfile.Developer,
			Recruiter: snapshot.RoleProfile.Recruiter,
		}
	}
	return payload
}

// handleMe resolves the caller's profile pair. Running the full resolver here
// is what heals a missing role row on the next fetch after a partial bootstrap.
func (h *httpHandler) handleMe(c *gin.Context) {
	identity := h.identityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	outcome, err := h.resolver.Resolve(c.Request.Context(), *identity)
	if err != nil {
		h.logger.Error("profile resolve failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_resolve_failed"})
		return
	}
	response := gin.H{
		"profile":          outcome.Profile,
		"needs_onboarding": outcome.NeedsOnboarding,
	}
	if outcome.RoleProfile != nil {
		response["role_profile"] = roleProfilePayload{
			Role:      outcome.RoleProfile.Role.String(),
			Developer: outcome.RoleProfile.Developer,
			Recruiter: outcome.RoleProfile.Recruiter,
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRoleProfileUpdate(c *gin.Context) {
	identity := h.identityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.repo.GetUserProfile(c.Request.Context(), identity.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
		return
	}
	updates := filterRoleProfileUpdates(profile.Role, raw)
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_updatable_fields"})
		return
	}
	if err := h.repo.UpdateRoleProfile(c.Request.Context(), profile.ID, profile.Role, updates); err != nil {
		if errors.Is(err, profiles.ErrRoleProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "role_profile_not_found"})
			return
		}
		h.logger.Error("role profile update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	refreshed, err := h.repo.GetRoleProfile(c.Request.Context(), profile.ID, profile.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, roleProfilePayload{
		Role:      refreshed.Role.String(),
		Developer: refreshed.Developer,
		Recruiter: refreshed.Recruiter,
	})
}

var developerUpdatableColumns = map[string]struct{}{
	"bio":              {},
	"location":         {},
	"experience_years": {},
	"availability":     {},
	"profile_strength": {},
}

var recruiterUpdatableColumns = map[string]struct{}{
	"company_name": {},
	"website":      {},
}

func filterRoleProfileUpdates(role profiles.Role, raw map[string]interface{}) map[string]interface{} {
	allowed := developerUpdatableColumns
	if role == profiles.RoleRecruiter {
		allowed = recruiterUpdatableColumns
	}
	updates := make(map[string]interface{}, len(raw))
	for column, value := range raw {
		if _, ok := allowed[column]; ok {
			updates[column] = value
		}
	}
	return updates
}

func (h *httpHandler) handleApprove(c *gin.Context) {
	identity := h.identityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	caller, err := h.repo.GetUserProfile(c.Request.Context(), identity.ID)
	if err != nil || caller.Role != profiles.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if err := h.repo.SetApproval(c.Request.Context(), c.Param("id"), true); err != nil {
		if errors.Is(err, profiles.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
			return
		}
		h.logger.Error("approval update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "approval_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approved": true})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokenLens.ParseIdentity(token)
	if err != nil {
		if errors.Is(err, session.ErrExpiredAccessToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) identityFrom(c *gin.Context) *session.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return nil
	}
	identity, ok := value.(session.Identity)
	if !ok {
		return nil
	}
	return &identity
}
