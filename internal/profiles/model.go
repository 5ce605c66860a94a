package profiles

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRole indicates the supplied role is not one of the known variants.
	ErrInvalidRole = errors.New("profiles: invalid role")
	// ErrInvalidUserID indicates a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("profiles: invalid user id")
)

// Role enumerates the application-level account roles.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleRecruiter Role = "recruiter"
	RoleAdmin     Role = "admin"
)

// ParseRole validates raw input and returns a Role.
func ParseRole(rawInput string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(rawInput))) {
	case RoleDeveloper:
		return RoleDeveloper, nil
	case RoleRecruiter:
		return RoleRecruiter, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
}

// String returns the underlying role name.
func (r Role) String() string {
	return string(r)
}

// HasRoleProfile reports whether accounts with this role carry a role-specific row.
// Admin accounts are complete with only the users row.
func (r Role) HasRoleProfile() bool {
	return r == RoleDeveloper || r == RoleRecruiter
}

// AutoApproved reports whether accounts with this role are approved at creation.
// Recruiters require a manual admin approval step.
func (r Role) AutoApproved() bool {
	return r == RoleDeveloper || r == RoleAdmin
}

// NewUserID validates raw input and returns a usable identifier.
func NewUserID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return trimmed, nil
}

// UserProfile is the application-level profile row. Its primary key equals the
// provider-issued identity id rather than an independently generated value.
type UserProfile struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email      string    `gorm:"column:email;size:320"`
	Name       string    `gorm:"column:name;size:320;not null"`
	Role       Role      `gorm:"column:role;size:32;not null"`
	IsApproved bool      `gorm:"column:is_approved;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user profiles.
func (UserProfile) TableName() string {
	return "users"
}

// DeveloperProfile extends a developer account with marketplace metadata.
type DeveloperProfile struct {
	UserID               string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	GitHubHandle         string    `gorm:"column:github_handle;size:190"`
	Bio                  string    `gorm:"column:bio;type:text"`
	Location             string    `gorm:"column:location;size:190"`
	ExperienceYears      int       `gorm:"column:experience_years;not null;default:0"`
	TopLanguages         []string  `gorm:"column:top_languages;serializer:json"`
	ProfileStrength      int       `gorm:"column:profile_strength;not null;default:0"`
	GitHubInstallationID string    `gorm:"column:github_installation_id;size:64"`
	Availability         bool      `gorm:"column:availability;not null;default:true"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing developer profiles.
func (DeveloperProfile) TableName() string {
	return "developers"
}

// RecruiterProfile extends a recruiter account with company metadata.
type RecruiterProfile struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	CompanyName string    `gorm:"column:company_name;size:320;not null"`
	Website     string    `gorm:"column:website;size:512"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing recruiter profiles.
func (RecruiterProfile) TableName() string {
	return "recruiters"
}

// RoleProfile is the variant holding whichever role-specific row matches the
// account role. Exactly one of Developer/Recruiter is populated.
type RoleProfile struct {
	Role      Role
	Developer *DeveloperProfile
	Recruiter *RecruiterProfile
}

// UserID returns the owning user identifier of the populated variant.
func (p RoleProfile) UserID() string {
	switch {
	case p.Developer != nil:
		return p.Developer.UserID
	case p.Recruiter != nil:
		return p.Recruiter.UserID
	default:
		return ""
	}
}

// normalize value helper used across repository implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
