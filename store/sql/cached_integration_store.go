package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-integrations/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const integrationCacheKeyPrefix = "go-integrations::integration::v1"

// CachedIntegrationStore serves Get through a read-through cache and drops
// the entry whenever the row is written through it. Every other read goes to
// the base store.
type CachedIntegrationStore struct {
	base  core.IntegrationStore
	cache repositorycache.CacheService
}

func NewCachedIntegrationStore(
	base core.IntegrationStore,
	cacheService repositorycache.CacheService,
) (*CachedIntegrationStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base integration store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: integration cache service is required")
	}
	return &CachedIntegrationStore{base: base, cache: cacheService}, nil
}

// IntegrationCacheKey returns go-integrations::integration::v1::<id> with the
// id URL-path escaped.
func IntegrationCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", core.NewValidationError("id", "integration id is required")
	}
	return integrationCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

func (s *CachedIntegrationStore) Create(ctx context.Context, in core.CreateIntegrationInput) (core.Integration, error) {
	if s == nil || s.base == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	return s.base.Create(ctx, in)
}

func (s *CachedIntegrationStore) Get(ctx context.Context, id string) (core.Integration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	cacheKey, err := IntegrationCacheKey(id)
	if err != nil {
		return core.Integration{}, err
	}
	integration, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Integration, error) {
		fetched, fetchErr := s.base.Get(ctx, strings.TrimSpace(id))
		if fetchErr != nil {
			return core.Integration{}, fetchErr
		}
		return fetched.Clone(), nil
	})
	if err != nil {
		return core.Integration{}, err
	}
	return integration.Clone(), nil
}

func (s *CachedIntegrationStore) ListByUser(ctx context.Context, userID string) ([]core.Integration, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	return s.base.ListByUser(ctx, userID)
}

func (s *CachedIntegrationStore) FindActive(ctx context.Context, userID string, providerID string) (core.Integration, error) {
	if s == nil || s.base == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	return s.base.FindActive(ctx, userID, providerID)
}

// Update invalidates the cached row even when the write fails, since a stale
// error means the cached status is already out of date.
func (s *CachedIntegrationStore) Update(ctx context.Context, integration core.Integration, expected core.IntegrationStatus) (core.Integration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	updated, updateErr := s.base.Update(ctx, integration, expected)
	cacheKey, err := IntegrationCacheKey(integration.ID)
	if err != nil {
		return core.Integration{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil && updateErr == nil {
		return core.Integration{}, err
	}
	if updateErr != nil {
		return core.Integration{}, updateErr
	}
	return updated, nil
}
