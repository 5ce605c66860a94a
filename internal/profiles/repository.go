package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrProfileNotFound indicates no users row exists for the identifier.
	ErrProfileNotFound = errors.New("profiles: user profile not found")
	// ErrRoleProfileNotFound indicates no role-specific row exists for the identifier.
	ErrRoleProfileNotFound = errors.New("profiles: role profile not found")
	// ErrProfileExists indicates an insert collided with an existing primary key.
	// Callers racing through bootstrap treat this as a signal to refetch.
	ErrProfileExists = errors.New("profiles: profile already exists")
	// ErrMissingDatabase indicates the repository was constructed without a connection.
	ErrMissingDatabase = errors.New("profiles: database connection required")
	// ErrMissingRoleVariant indicates a RoleProfile value carried no populated variant.
	ErrMissingRoleVariant = errors.New("profiles: role profile variant required")
)

// RepositoryConfig describes the dependencies required for profile persistence.
type RepositoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Repository performs typed CRUD over the users, developers and recruiters tables.
type Repository struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewRepository constructs the repository with validated configuration.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// GetUserProfile fetches the users row for the identifier.
func (r *Repository) GetUserProfile(ctx context.Context, id string) (UserProfile, error) {
	userID, err := NewUserID(id)
	if err != nil {
		return UserProfile{}, err
	}

	var profile UserProfile
	err = r.db.WithContext(ctx).Where("id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserProfile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	if err != nil {
		return UserProfile{}, err
	}
	return profile, nil
}

// CreateUserProfile inserts a new users row. A primary-key collision is reported
// as ErrProfileExists so that concurrent bootstrap attempts can refetch instead
// of failing.
func (r *Repository) CreateUserProfile(ctx context.Context, profile UserProfile) (UserProfile, error) {
	userID, err := NewUserID(profile.ID)
	if err != nil {
		return UserProfile{}, err
	}
	role, err := ParseRole(profile.Role.String())
	if err != nil {
		return UserProfile{}, err
	}

	record := UserProfile{
		ID:         userID,
		Email:      normalize(profile.Email),
		Name:       normalize(profile.Name),
		Role:       role,
		IsApproved: profile.IsApproved,
		CreatedAt:  r.now().UTC(),
	}
	if record.Name == "" {
		record.Name = "User"
	}

	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isDuplicateKey(err) {
			return UserProfile{}, fmt.Errorf("%w: %s", ErrProfileExists, userID)
		}
		return UserProfile{}, err
	}
	return record, nil
}

// GetRoleProfile fetches the role-specific row matching the account role.
func (r *Repository) GetRoleProfile(ctx context.Context, id string, role Role) (RoleProfile, error) {
	userID, err := NewUserID(id)
	if err != nil {
		return RoleProfile{}, err
	}

	switch role {
	case RoleDeveloper:
		var developer DeveloperProfile
		err = r.db.WithContext(ctx).Where("user_id = ?", userID).First(&developer).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RoleProfile{}, fmt.Errorf("%w: %s", ErrRoleProfileNotFound, userID)
		}
		if err != nil {
			return RoleProfile{}, err
		}
		return RoleProfile{Role: RoleDeveloper, Developer: &developer}, nil
	case RoleRecruiter:
		var recruiter RecruiterProfile
		err = r.db.WithContext(ctx).Where("user_id = ?", userID).First(&recruiter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RoleProfile{}, fmt.Errorf("%w: %s", ErrRoleProfileNotFound, userID)
		}
		if err != nil {
			return RoleProfile{}, err
		}
		return RoleProfile{Role: RoleRecruiter, Recruiter: &recruiter}, nil
	default:
		return RoleProfile{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}

// CreateRoleProfile inserts the role-specific row carried by the variant.
func (r *Repository) CreateRoleProfile(ctx context.Context, profile RoleProfile) (RoleProfile, error) {
	switch {
	case profile.Developer != nil:
		developer := *profile.Developer
		userID, err := NewUserID(developer.UserID)
		if err != nil {
			return RoleProfile{}, err
		}
		developer.UserID = userID
		developer.CreatedAt = r.now().UTC()
		if developer.TopLanguages == nil {
			developer.TopLanguages = []string{}
		}
		if err := r.db.WithContext(ctx).Create(&developer).Error; err != nil {
			if isDuplicateKey(err) {
				return RoleProfile{}, fmt.Errorf("%w: %s", ErrProfileExists, userID)
			}
			return RoleProfile{}, err
		}
		return RoleProfile{Role: RoleDeveloper, Developer: &developer}, nil
	case profile.Recruiter != nil:
		recruiter := *profile.Recruiter
		userID, err := NewUserID(recruiter.UserID)
		if err != nil {
			return RoleProfile{}, err
		}
		recruiter.UserID = userID
		recruiter.CreatedAt = r.now().UTC()
		if normalize(recruiter.CompanyName) == "" {
			recruiter.CompanyName = "Company"
		}
		if err := r.db.WithContext(ctx).Create(&recruiter).Error; err != nil {
			if isDuplicateKey(err) {
				return RoleProfile{}, fmt.Errorf("%w: %s", ErrProfileExists, userID)
			}
			return RoleProfile{}, err
		}
		return RoleProfile{Role: RoleRecruiter, Recruiter: &recruiter}, nil
	default:
		return RoleProfile{}, ErrMissingRoleVariant
	}
}

// UpdateRoleProfile applies column updates to the role row identified by
// (user id, role). Callers decide which fields to touch; empty update maps
// are a no-op.
func (r *Repository) UpdateRoleProfile(ctx context.Context, id string, role Role, updates map[string]interface{}) error {
	userID, err := NewUserID(id)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = r.now().UTC()

	var model interface{}
	switch role {
	case RoleDeveloper:
		model = &DeveloperProfile{}
	case RoleRecruiter:
		model = &RecruiterProfile{}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	result := r.db.WithContext(ctx).Model(model).Where("user_id = ?", userID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRoleProfileNotFound, userID)
	}
	return nil
}

// SetApproval flips the approval flag on the users row. Invoked by the
// external admin approval workflow, not by bootstrap.
func (r *Repository) SetApproval(ctx context.Context, id string, approved bool) error {
	userID, err := NewUserID(id)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&UserProfile{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"is_approved": approved, "updated_at": r.now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	return nil
}

// isDuplicateKey recognizes primary-key collisions across the gorm error
// translator and the raw sqlite constraint message.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
