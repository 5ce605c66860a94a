package session

import (
	"encoding/json"
	"time"
)

// EventType enumerates the authentication lifecycle events surfaced by the store.
type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// UserMetadata carries the provider-supplied profile hints attached to an identity.
type UserMetadata struct {
	FullName       string `json:"full_name,omitempty"`
	Name           string `json:"name,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	Bio            string `json:"bio,omitempty"`
	Location       string `json:"location,omitempty"`
	Role           string `json:"role,omitempty"`
	InstallationID string `json:"installation_id,omitempty"`
}

// AppMetadata carries provider-managed account metadata.
type AppMetadata struct {
	Provider string `json:"provider,omitempty"`
}

// Identity is the provider-authenticated user record. It is read-only from the
// application's perspective; the provider owns every field.
type Identity struct {
	ID           string       `json:"id"`
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	AppMetadata  AppMetadata  `json:"app_metadata"`
}

// DisplayName returns the best available human-readable name from provider metadata.
func (i Identity) DisplayName() string {
	if i.UserMetadata.FullName != "" {
		return i.UserMetadata.FullName
	}
	if i.UserMetadata.Name != "" {
		return i.UserMetadata.Name
	}
	return i.UserMetadata.UserName
}

// Session is an authenticated provider session.
type Session struct {
	Identity     Identity  `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Event is a single delivery on the session change stream. Session is nil for
// sign-out deliveries.
type Event struct {
	Type    EventType
	Session *Session
}

// fingerprint serializes the logical session payload so the store can suppress
// redundant provider deliveries carrying byte-identical data.
func fingerprint(eventType EventType, s *Session) string {
	if s == nil {
		return string(eventType)
	}
	encoded, err := json.Marshal(s)
	if err != nil {
		return string(eventType) + ":" + s.AccessToken
	}
	return string(eventType) + ":" + string(encoded)
}
