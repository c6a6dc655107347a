package promocodes

import (
	"context"
	"sync"
	"time"

	"github.com/AgentCommerce/ucp/internal/cacheutil"
)

// CachedRepository wraps any Repository with a TTL-based cache. Lookups by
// code dominate (every checkout update re-validates the applied code), so
// those are cached individually; listings share a single cached slice.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration
	mu         sync.RWMutex
	cachedCode map[string]cacheutil.CachedValue[Promocode]
	cachedList cacheutil.CachedValue[[]Promocode]
}

// NewCachedRepository wraps a repository with caching.
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying: underlying,
		cacheTTL:   cacheTTL,
		cachedCode: make(map[string]cacheutil.CachedValue[Promocode]),
	}
}

// GetByCode retrieves a promocode with caching.
func (r *CachedRepository) GetByCode(ctx context.Context, code string) (Promocode, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetByCode(ctx, code)
	}

	normalized := NormalizeCode(code)

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (Promocode, bool) {
			if entry, ok := r.cachedCode[normalized]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return Promocode{}, false
		},
		func(now time.Time) (Promocode, error) {
			promo, err := r.underlying.GetByCode(ctx, normalized)
			if err != nil {
				return Promocode{}, err
			}
			r.cachedCode[normalized] = cacheutil.CachedValue[Promocode]{
				Value:     promo,
				FetchedAt: now,
			}
			return promo, nil
		},
	)
}

// GetByID delegates to the underlying repository (admin path, not cached).
func (r *CachedRepository) GetByID(ctx context.Context, id string) (Promocode, error) {
	return r.underlying.GetByID(ctx, id)
}

// List returns promocodes with caching for the default listing.
func (r *CachedRepository) List(ctx context.Context, opts ListOptions) ([]Promocode, error) {
	if r.cacheTTL == 0 || opts.IncludeInactive {
		return r.underlying.List(ctx, opts)
	}

	promos, err := cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) ([]Promocode, bool) {
			if r.cachedList.Value != nil && now.Sub(r.cachedList.FetchedAt) < r.cacheTTL {
				return r.cachedList.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]Promocode, error) {
			promos, err := r.underlying.List(ctx, ListOptions{})
			if err != nil {
				return nil, err
			}
			r.cachedList = cacheutil.CachedValue[[]Promocode]{
				Value:     promos,
				FetchedAt: now,
			}
			return promos, nil
		},
	)
	if err != nil {
		return nil, err
	}

	return applyListOptions(promos, opts), nil
}

// Create creates a promocode and invalidates the cache.
func (r *CachedRepository) Create(ctx context.Context, promo Promocode) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.Create(ctx, promo)
	})
}

// Update updates a promocode and invalidates the cache.
func (r *CachedRepository) Update(ctx context.Context, promo Promocode) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.Update(ctx, promo)
	})
}

// IncrementUsage increments usage and evicts just that code.
func (r *CachedRepository) IncrementUsage(ctx context.Context, code string) error {
	err := r.underlying.IncrementUsage(ctx, code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cachedCode, NormalizeCode(code))
	r.mu.Unlock()

	return nil
}

// Delete deletes a promocode and invalidates the cache.
func (r *CachedRepository) Delete(ctx context.Context, id string) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.Delete(ctx, id)
	})
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}

// InvalidateCache forces the next operations to fetch fresh data.
func (r *CachedRepository) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedCode = make(map[string]cacheutil.CachedValue[Promocode])
	r.cachedList = cacheutil.CachedValue[[]Promocode]{} // Reset to zero value
}
