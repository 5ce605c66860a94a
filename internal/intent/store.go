// Package intent holds the ephemeral signup intent captured at form
// submission and read back during the first post-auth bootstrap. Intent is
// best effort: it may be absent on a different device or after expiry, and
// every consumer must fall back to provider metadata.
package intent

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultIntentTTL = 30 * time.Minute

// SignupIntent is the role/name pair captured when a signup form is submitted.
type SignupIntent struct {
	Name string
	Role string
}

// Empty reports whether the intent carries no usable data.
func (i SignupIntent) Empty() bool {
	return i.Name == "" && i.Role == ""
}

// Store abstracts signup-intent persistence so the bootstrapper can be tested
// without a shared cache.
type Store interface {
	// Put records intent for the normalized email key.
	Put(email string, captured SignupIntent)
	// Get returns the intent recorded for the email, if any. Reading does not
	// remove the entry; expiry does.
	Get(email string) (SignupIntent, bool)
}

// CacheStore keeps signup intent in an expiring in-memory cache.
type CacheStore struct {
	cache *ttlcache.Cache[string, SignupIntent]
}

// NewCacheStore constructs a store whose entries expire after ttl
// (a default is applied when ttl is not positive).
func NewCacheStore(ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = defaultIntentTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, SignupIntent](ttl),
		ttlcache.WithDisableTouchOnHit[string, SignupIntent](),
	)
	go cache.Start()
	return &CacheStore{cache: cache}
}

// Put records intent for the normalized email key.
func (s *CacheStore) Put(email string, captured SignupIntent) {
	key := normalizeKey(email)
	if key == "" || captured.Empty() {
		return
	}
	s.cache.Set(key, captured, ttlcache.DefaultTTL)
}

// Get returns the intent recorded for the email, if any.
func (s *CacheStore) Get(email string) (SignupIntent, bool) {
	key := normalizeKey(email)
	if key == "" {
		return SignupIntent{}, false
	}
	item := s.cache.Get(key)
	if item == nil {
		return SignupIntent{}, false
	}
	return item.Value(), true
}

// Stop shuts down the cache's expiry goroutine.
func (s *CacheStore) Stop() {
	s.cache.Stop()
}

func normalizeKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
