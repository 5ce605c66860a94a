package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devmatch-labs/devmatch/backend/internal/authstate"
	"github.com/devmatch-labs/devmatch/backend/internal/bootstrap"
	"github.com/devmatch-labs/devmatch/backend/internal/database"
	"github.com/devmatch-labs/devmatch/backend/internal/intent"
	"github.com/devmatch-labs/devmatch/backend/internal/profiles"
	"github.com/devmatch-labs/devmatch/backend/internal/server"
	"github.com/devmatch-labs/devmatch/backend/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	providerSigningSecret = "integration-secret"
	developerEmail        = "nia@example.com"
	developerUserID       = "user-nia"
	jsonContentType       = "application/json"
)

// authProvider is a GoTrue-shaped stub that signs real HS256 access tokens,
// so the tokens it hands out pass the backend's bearer middleware.
type authProvider struct {
	userID   string
	email    string
	metadata map[string]string
}

func (p *authProvider) signToken(testContext *testing.T) string {
	testContext.Helper()
	claims := jwt.MapClaims{
		"sub":   p.userID,
		"email": p.email,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"user_metadata": map[string]string{
			"full_name": p.metadata["full_name"],
			"role":      p.metadata["role"],
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(providerSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign access token: %v", err)
	}
	return signed
}

func (p *authProvider) handler(testContext *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeSession := func(w http.ResponseWriter) {
		identity := session.Identity{ID: p.userID, Email: p.email}
		identity.UserMetadata.FullName = p.metadata["full_name"]
		identity.UserMetadata.Role = p.metadata["role"]
		w.Header().Set("Content-Type", jsonContentType)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  p.signToken(testContext),
			"refresh_token": "refresh-" + p.userID,
			"expires_in":    3600,
			"user":          identity,
		})
	}
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		writeSession(w)
	})
	mux.HandleFunc("/signup", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Data map[string]string `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		for key, value := range payload.Data {
			p.metadata[key] = value
		}
		writeSession(w)
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestSignupBootstrapAndSelfServiceFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite("file:integration_auth_flow?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	repo, err := profiles.NewRepository(profiles.RepositoryConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build repository: %v", err)
	}

	provider := &authProvider{userID: developerUserID, email: developerEmail, metadata: map[string]string{}}
	providerServer := httptest.NewServer(provider.handler(testContext))
	defer providerServer.Close()

	client, err := session.NewClient(session.ClientConfig{
		BaseURL:    providerServer.URL,
		APIKey:     "anon-key",
		HTTPClient: providerServer.Client(),
	})
	if err != nil {
		testContext.Fatalf("failed to build provider client: %v", err)
	}
	store, err := session.NewStore(session.StoreConfig{Client: client})
	if err != nil {
		testContext.Fatalf("failed to build session store: %v", err)
	}

	intentStore := intent.NewCacheStore(30 * time.Minute)
	defer intentStore.Stop()

	resolver, err := bootstrap.NewResolver(bootstrap.ResolverConfig{
		Repository:  repo,
		IntentStore: intentStore,
	})
	if err != nil {
		testContext.Fatalf("failed to build resolver: %v", err)
	}
	authContext, err := authstate.NewContext(authstate.ContextConfig{
		Store:       store,
		Resolver:    resolver,
		Repository:  repo,
		IntentStore: intentStore,
	})
	if err != nil {
		testContext.Fatalf("failed to build auth context: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := authContext.Start(runCtx); err != nil {
		testContext.Fatalf("failed to start auth context: %v", err)
	}
	defer authContext.Stop()

	tokenLens, err := session.NewTokenLens(session.TokenLensConfig{
		SigningSecret: []byte(providerSigningSecret),
	})
	if err != nil {
		testContext.Fatalf("failed to build token lens: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		AuthContext: authContext,
		Store:       store,
		Repository:  repo,
		TokenLens:   tokenLens,
		Resolver:    resolver,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build http handler: %v", err)
	}

	// Sign up through the HTTP surface with an explicit name and role.
	signupBody, _ := json.Marshal(map[string]string{
		"email":    developerEmail,
		"password": "correct-horse",
		"name":     "Nia Okafor",
		"role":     "developer",
	})
	signupRequest := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewReader(signupBody))
	signupRequest.Header.Set("Content-Type", jsonContentType)
	signupRecorder := httptest.NewRecorder()
	handler.ServeHTTP(signupRecorder, signupRequest)
	if signupRecorder.Code != http.StatusOK {
		testContext.Fatalf("signup returned %d: %s", signupRecorder.Code, signupRecorder.Body.String())
	}

	// The bootstrap runs on the event loop; poll the public state endpoint
	// until the profile pair is published.
	var state struct {
		Profile     *profiles.UserProfile `json:"profile"`
		RoleProfile *struct {
			Role      string                     `json:"role"`
			Developer *profiles.DeveloperProfile `json:"developer"`
		} `json:"role_profile"`
		Loading         bool   `json:"loading"`
		Error           string `json:"error"`
		NeedsOnboarding bool   `json:"needs_onboarding"`
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		stateRequest := httptest.NewRequest(http.MethodGet, "/auth/state", nil)
		stateRecorder := httptest.NewRecorder()
		handler.ServeHTTP(stateRecorder, stateRequest)
		if stateRecorder.Code != http.StatusOK {
			testContext.Fatalf("auth state returned %d", stateRecorder.Code)
		}
		if err := json.Unmarshal(stateRecorder.Body.Bytes(), &state); err != nil {
			testContext.Fatalf("failed to decode auth state: %v", err)
		}
		if !state.Loading && state.Profile != nil {
			break
		}
		if time.Now().After(deadline) {
			testContext.Fatalf("bootstrap never completed; last state: %+v", state)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if state.Error != "" {
		testContext.Fatalf("unexpected bootstrap error %q", state.Error)
	}
	if state.Profile.ID != developerUserID {
		testContext.Fatalf("unexpected profile id %q", state.Profile.ID)
	}
	if state.Profile.Name != "Nia Okafor" {
		testContext.Fatalf("signup intent name was not applied, got %q", state.Profile.Name)
	}
	if state.Profile.Role != profiles.RoleDeveloper {
		testContext.Fatalf("unexpected role %q", state.Profile.Role)
	}
	if state.RoleProfile == nil || state.RoleProfile.Developer == nil {
		testContext.Fatalf("expected developer role profile, got %+v", state.RoleProfile)
	}
	if state.NeedsOnboarding {
		testContext.Fatal("developer with a seeded role row should not need onboarding")
	}

	// The provider-issued token authorizes the protected surface.
	accessToken := provider.signToken(testContext)
	meRequest := httptest.NewRequest(http.MethodGet, "/me", nil)
	meRequest.Header.Set("Authorization", "Bearer "+accessToken)
	meRecorder := httptest.NewRecorder()
	handler.ServeHTTP(meRecorder, meRequest)
	if meRecorder.Code != http.StatusOK {
		testContext.Fatalf("me returned %d: %s", meRecorder.Code, meRecorder.Body.String())
	}

	// Self-service role profile edit.
	updateBody, _ := json.Marshal(map[string]interface{}{
		"bio":              "backend engineer",
		"location":         "Nairobi",
		"experience_years": 6,
	})
	updateRequest := httptest.NewRequest(http.MethodPatch, "/me/role-profile", bytes.NewReader(updateBody))
	updateRequest.Header.Set("Content-Type", jsonContentType)
	updateRequest.Header.Set("Authorization", "Bearer "+accessToken)
	updateRecorder := httptest.NewRecorder()
	handler.ServeHTTP(updateRecorder, updateRequest)
	if updateRecorder.Code != http.StatusOK {
		testContext.Fatalf("role profile update returned %d: %s", updateRecorder.Code, updateRecorder.Body.String())
	}

	updated, err := repo.GetRoleProfile(context.Background(), developerUserID, profiles.RoleDeveloper)
	if err != nil {
		testContext.Fatalf("failed to reload developer profile: %v", err)
	}
	if updated.Developer.Bio != "backend engineer" || updated.Developer.Location != "Nairobi" {
		testContext.Fatalf("update not persisted: %+v", updated.Developer)
	}
	if updated.Developer.ExperienceYears != 6 {
		testContext.Fatalf("experience years not persisted: %d", updated.Developer.ExperienceYears)
	}

	// Sign out clears the published state even before the provider responds.
	signOutRequest := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	signOutRecorder := httptest.NewRecorder()
	handler.ServeHTTP(signOutRecorder, signOutRequest)
	if signOutRecorder.Code != http.StatusOK {
		testContext.Fatalf("signout returned %d", signOutRecorder.Code)
	}

	var signedOut struct {
		Identity *session.Identity     `json:"identity"`
		Profile  *profiles.UserProfile `json:"profile"`
	}
	if err := json.Unmarshal(signOutRecorder.Body.Bytes(), &signedOut); err != nil {
		testContext.Fatalf("failed to decode signout state: %v", err)
	}
	if signedOut.Identity != nil || signedOut.Profile != nil {
		testContext.Fatalf("expected anonymous state after signout, got %+v", signedOut)
	}
}
