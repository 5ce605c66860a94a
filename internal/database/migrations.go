package database

import (
	"errors"
	"time"

	"github.com/devmatch-labs/devmatch/backend/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillDeveloperAvailability = "2026-06-18_backfill_developer_availability"
	migrationNormalizeRecruiterApproval    = "2026-07-02_normalize_recruiter_approval"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillDeveloperAvailability, apply: backfillDeveloperAvailability},
		{name: migrationNormalizeRecruiterApproval, apply: normalizeRecruiterApproval},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillDeveloperAvailability repairs rows created before the availability
// column carried a default.
func backfillDeveloperAvailability(db *gorm.DB) error {
	return db.Exec("UPDATE developers SET availability = 1 WHERE availability IS NULL;").Error
}

// normalizeRecruiterApproval clears approval flags that an earlier signup
// variant set automatically for recruiters. Approvals granted by that variant
// cannot be told apart from real ones, so all are reset once and re-granted
// through the admin workflow.
func normalizeRecruiterApproval(db *gorm.DB) error {
	return db.Model(&profiles.UserProfile{}).
		Where("role = ?", profiles.RoleRecruiter).
		Update("is_approved", false).Error
}
