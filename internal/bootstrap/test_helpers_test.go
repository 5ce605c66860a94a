package bootstrap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/devmatch-labs/devmatch/backend/internal/github"
	"github.com/devmatch-labs/devmatch/backend/internal/intent"
	"github.com/devmatch-labs/devmatch/backend/internal/profiles"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
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
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestRepository(t *testing.T, db *gorm.DB) *profiles.Repository {
	t.Helper()
	repo, err := profiles.NewRepository(profiles.RepositoryConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return repo
}

// mapIntentStore is a deterministic in-memory intent store for tests.
type mapIntentStore struct {
	entries map[string]intent.SignupIntent
}

func newMapIntentStore() *mapIntentStore {
	return &mapIntentStore{entries: make(map[string]intent.SignupIntent)}
}

func (s *mapIntentStore) Put(email string, captured intent.SignupIntent) {
	s.entries[email] = captured
}

func (s *mapIntentStore) Get(email string) (intent.SignupIntent, bool) {
	captured, ok := s.entries[email]
	return captured, ok
}

// stubEnricher records calls and returns a fixed profile or error.
type stubEnricher struct {
	profile github.PublicProfile
	err     error
	calls   int
}

func (s *stubEnricher) FetchPublicProfile(context.Context, string, string) (github.PublicProfile, error) {
	s.calls++
	if s.err != nil {
		return github.PublicProfile{}, s.err
	}
	return s.profile, nil
}

type resolverFixture struct {
	db       *gorm.DB
	repo     *profiles.Repository
	intents  *mapIntentStore
	enricher *stubEnricher
	resolver *Resolver
	phases   []Phase
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	fixture := &resolverFixture{
		intents:  newMapIntentStore(),
		enricher: &stubEnricher{},
	}
	fixture.db = openTestDB(t)
	fixture.repo = newTestRepository(t, fixture.db)

	resolver, err := NewResolver(ResolverConfig{
		Repository:  fixture.repo,
		IntentStore: fixture.intents,
		Enricher:    fixture.enricher,
		Observer: func(_ string, phase Phase) {
			fixture.phases = append(fixture.phases, phase)
		},
	})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	fixture.resolver = resolver
	return fixture
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}
