package products

import (
	"context"
	"sync"
	"time"

	"github.com/AgentCommerce/ucp/internal/cacheutil"
)

// CachedRepository wraps a Repository with caching for listings, searches
// and SKU lookups.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu           sync.RWMutex
	cachedList   cacheutil.CachedValue[[]Product] // active products, ID-ordered
	skuToID      map[string]string                // Reverse index: sku → productID
	productCache map[string]Product               // Product cache by ID
	skuIndexTTL  time.Time                        // TTL for reverse index
}

// NewCachedRepository wraps a repository with a caching layer. cacheTTL
// determines how long cached listings are valid. Set to 0 to disable caching
// (pass-through mode).
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying: underlying,
		cacheTTL:   cacheTTL,
	}
}

// GetProduct retrieves a product by ID with caching.
func (r *CachedRepository) GetProduct(ctx context.Context, id string) (Product, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetProduct(ctx, id)
	}

	r.mu.RLock()
	if product, found := r.productCache[id]; found {
		r.mu.RUnlock()
		return product, nil
	}
	r.mu.RUnlock()

	// Cache miss - fetch from underlying repository
	product, err := r.underlying.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}

	r.mu.Lock()
	if r.productCache == nil {
		r.productCache = make(map[string]Product)
	}
	r.productCache[id] = product
	r.mu.Unlock()

	return product, nil
}

// GetProductBySKU retrieves a product by SKU with caching.
func (r *CachedRepository) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetProductBySKU(ctx, sku)
	}

	r.ensureSKUIndex(ctx)

	r.mu.RLock()
	productID, found := r.skuToID[sku]
	r.mu.RUnlock()

	if !found {
		// Not in index - fetch directly and update both caches. Inactive
		// products never enter the index, so this path also serves them.
		product, err := r.underlying.GetProductBySKU(ctx, sku)
		if err != nil {
			return Product{}, err
		}

		r.mu.Lock()
		if r.skuToID == nil {
			r.skuToID = make(map[string]string)
		}
		r.skuToID[sku] = product.ID
		if r.productCache == nil {
			r.productCache = make(map[string]Product)
		}
		r.productCache[product.ID] = product
		r.mu.Unlock()

		return product, nil
	}

	return r.GetProduct(ctx, productID)
}

// ensureSKUIndex builds the sku → productID index if expired.
func (r *CachedRepository) ensureSKUIndex(ctx context.Context) {
	r.mu.RLock()
	indexValid := time.Now().Before(r.skuIndexTTL)
	r.mu.RUnlock()

	if indexValid {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if time.Now().Before(r.skuIndexTTL) {
		return
	}

	products, err := r.underlying.ListProducts(ctx, ListOptions{})
	if err != nil {
		// Failed to build index - continue with pass-through
		return
	}

	newIndex := make(map[string]string, len(products))
	newProductCache := make(map[string]Product, len(products))
	for _, p := range products {
		if p.SKU != "" {
			newIndex[p.SKU] = p.ID
		}
		newProductCache[p.ID] = p
	}

	r.skuToID = newIndex
	r.productCache = newProductCache
	r.skuIndexTTL = time.Now().Add(r.cacheTTL)
}

// SearchProducts filters the cached active list, falling through to the
// underlying repository when caching is disabled.
func (r *CachedRepository) SearchProducts(ctx context.Context, q Query) ([]Product, error) {
	if r.cacheTTL == 0 {
		return r.underlying.SearchProducts(ctx, q)
	}

	active, err := r.activeList(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(active, q), nil
}

// ListProducts returns products with TTL-based caching for the active list.
// Listings that include inactive products bypass the cache.
func (r *CachedRepository) ListProducts(ctx context.Context, opts ListOptions) ([]Product, error) {
	if r.cacheTTL == 0 || opts.IncludeInactive {
		return r.underlying.ListProducts(ctx, opts)
	}

	active, err := r.activeList(ctx)
	if err != nil {
		return nil, err
	}
	return applyListOptions(active, opts), nil
}

// activeList returns the cached active product list, refreshing it when
// expired.
func (r *CachedRepository) activeList(ctx context.Context) ([]Product, error) {
	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) ([]Product, bool) {
			if r.cachedList.Value != nil && now.Sub(r.cachedList.FetchedAt) < r.cacheTTL {
				return r.cachedList.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]Product, error) {
			products, err := r.underlying.ListProducts(ctx, ListOptions{})
			if err != nil {
				return nil, err
			}
			r.cachedList = cacheutil.CachedValue[[]Product]{
				Value:     products,
				FetchedAt: now,
			}
			return products, nil
		},
	)
}

// InvalidateCache forces the next read to fetch fresh data and clears all
// caches.
func (r *CachedRepository) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedList = cacheutil.CachedValue[[]Product]{}
	r.skuToID = nil
	r.productCache = nil
	r.skuIndexTTL = time.Time{}
}

// CreateProduct creates a new product and invalidates the cache.
func (r *CachedRepository) CreateProduct(ctx context.Context, product Product) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.CreateProduct(ctx, product)
	})
}

// UpdateProduct updates an existing product and invalidates the cache.
func (r *CachedRepository) UpdateProduct(ctx context.Context, product Product) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.UpdateProduct(ctx, product)
	})
}

// DeleteProduct soft-deletes a product and invalidates the cache.
func (r *CachedRepository) DeleteProduct(ctx context.Context, id string) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.DeleteProduct(ctx, id)
	})
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
