package database

import (
	"fmt"
	"testing"

	"github.com/devmatch-labs/devmatch/backend/internal/profiles"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openBareDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&profiles.UserProfile{},
		&profiles.DeveloperProfile{},
		&profiles.RecruiterProfile{},
		&migrationRecord{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	db, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	for _, table := range []string{"users", "developers", "recruiters", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}

	var applied int64
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", applied)
	}
}

func TestMigrationsResetRecruiterApproval(t *testing.T) {
	db := openBareDB(t)

	seed := []profiles.UserProfile{
		{ID: "r1", Name: "Rae", Role: profiles.RoleRecruiter, IsApproved: true},
		{ID: "r2", Name: "Ren", Role: profiles.RoleRecruiter, IsApproved: false},
		{ID: "a1", Name: "Root", Role: profiles.RoleAdmin, IsApproved: true},
	}
	for _, row := range seed {
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("failed to seed %s: %v", row.ID, err)
		}
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	var recruiter profiles.UserProfile
	if err := db.Where("id = ?", "r1").Take(&recruiter).Error; err != nil {
		t.Fatalf("failed to reload recruiter: %v", err)
	}
	if recruiter.IsApproved {
		t.Fatal("expected recruiter approval to be reset")
	}

	var admin profiles.UserProfile
	if err := db.Where("id = ?", "a1").Take(&admin).Error; err != nil {
		t.Fatalf("failed to reload admin: %v", err)
	}
	if !admin.IsApproved {
		t.Fatal("admin approval must survive the recruiter reset")
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	db := openBareDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// A recruiter approved after the reset migration must keep the flag.
	approved := profiles.UserProfile{ID: "r3", Name: "Rio", Role: profiles.RoleRecruiter, IsApproved: true}
	if err := db.Create(&approved).Error; err != nil {
		t.Fatalf("failed to seed recruiter: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	var recruiter profiles.UserProfile
	if err := db.Where("id = ?", "r3").Take(&recruiter).Error; err != nil {
		t.Fatalf("failed to reload recruiter: %v", err)
	}
	if !recruiter.IsApproved {
		t.Fatal("re-running migrations must not re-apply the approval reset")
	}

	var applied int64
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", applied)
	}
}
