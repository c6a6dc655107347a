// Package cacheutil holds the caching primitives shared by the cached
// catalog and promocode repositories.
package cacheutil

import (
	"sync"
	"time"
)

// WriteThrough runs a write operation and invalidates the cache only
// when the write succeeds, keeping cached reads consistent with the
// backing store.
func WriteThrough(invalidate func(), operation func() error) error {
	if err := operation(); err != nil {
		return err
	}
	invalidate()
	return nil
}

// CachedValue pairs a cached value with the time it was fetched.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough serves a value from cache, fetching on miss under the
// write lock. checkCache runs under RLock first; after upgrading to the
// write lock it runs again with a fresh timestamp, since another
// goroutine may have populated the entry in between and a stale `now`
// would wrongly treat it as expired. Only a confirmed miss reaches
// fetchAndCache.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	nowAfterLock := time.Now()
	if value, ok := checkCache(nowAfterLock); ok {
		return value, nil
	}

	return fetchAndCache(nowAfterLock)
}
