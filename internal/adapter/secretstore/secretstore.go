// Package secretstore implements the secretstore.Store port over the
// shared secrets.Vault, with a ristretto L1 cache in front so repeated
// lookups for the same tenant/destination don't take the vault's read
// lock on every request (spec §4.4: "in-memory caching with TTL is
// permitted; TTL must be configurable").
package secretstore

import (
	"context"
	"time"

	cacheport "github.com/formbridge/ingest/internal/port/cache"
	"github.com/formbridge/ingest/internal/port/secretstore"
	"github.com/formbridge/ingest/internal/secrets"
)

const (
	tenantKeyPrefix = "tenant:"
	credKeyPrefix   = "cred:"
)

// Store implements secretstore.Store.
type Store struct {
	vault *secrets.Vault
	cache cacheport.Cache
	ttl   time.Duration
}

// New wraps vault with a TTL cache (the ristretto.Cache adapter in
// production; any cacheport.Cache in tests).
func New(vault *secrets.Vault, cache cacheport.Cache, ttlSeconds int) *Store {
	return &Store{vault: vault, cache: cache, ttl: time.Duration(ttlSeconds) * time.Second}
}

// GetTenantSecret implements secretstore.Store.
func (s *Store) GetTenantSecret(ctx context.Context, tenantID string) ([]byte, error) {
	return s.resolve(ctx, tenantKeyPrefix+tenantID)
}

// GetCredential implements secretstore.Store.
func (s *Store) GetCredential(ctx context.Context, ref string) ([]byte, error) {
	return s.resolve(ctx, credKeyPrefix+ref)
}

func (s *Store) resolve(ctx context.Context, key string) ([]byte, error) {
	if v, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return v, nil
	}

	val := s.vault.Get(key)
	if val == "" {
		return nil, secretstore.ErrNotFound
	}

	b := []byte(val)
	_ = s.cache.Set(ctx, key, b, s.ttl)
	return b, nil
}
