package reqlog

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore keeps the most recent entries per kind in a fixed-size
// ring. The default backend: zero setup, bounded memory, survives
// nothing — which is fine for a demo dashboard.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	ucp      []Entry
	ap2      []Entry
}

const defaultMemoryCapacity = 1000

// NewMemoryStore creates a ring store holding up to capacity entries of
// each kind.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Insert implements Store. The oldest entry of the same kind is evicted
// once the ring is full.
func (s *MemoryStore) Insert(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := s.ringFor(entry.Kind)
	*ring = append(*ring, entry)
	if len(*ring) > s.capacity {
		// Shift in place so the backing array does not grow unbounded.
		copy(*ring, (*ring)[1:])
		*ring = (*ring)[:s.capacity]
	}
	return nil
}

func (s *MemoryStore) ringFor(kind Kind) *[]Entry {
	if kind == KindAP2 {
		return &s.ap2
	}
	return &s.ucp
}

// List implements Store. Entries come back newest-first.
func (s *MemoryStore) List(_ context.Context, q Query) ([]Entry, int64, error) {
	q = q.Normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var pool []Entry
	switch q.Kind {
	case KindUCP:
		pool = s.ucp
	case KindAP2:
		pool = s.ap2
	default:
		pool = append(append([]Entry{}, s.ucp...), s.ap2...)
	}

	// Rings are append-ordered; walk backwards for newest-first.
	matched := make([]Entry, 0, len(pool))
	for i := len(pool) - 1; i >= 0; i-- {
		if q.matches(pool[i]) {
			matched = append(matched, pool[i])
		}
	}
	if q.Kind == "" {
		sortByTimestampDesc(matched)
	}

	total := int64(len(matched))
	if q.Offset >= len(matched) {
		return []Entry{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page := make([]Entry, end-q.Offset)
	copy(page, matched[q.Offset:end])
	return page, total, nil
}

// sortByTimestampDesc orders entries newest-first. Insertion sort: the
// merged slice is already two sorted runs, so this stays near-linear.
func sortByTimestampDesc(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Timestamp.After(entries[j-1].Timestamp); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalUCP:   int64(len(s.ucp)),
		TotalAP2:   int64(len(s.ap2)),
		ByEndpoint: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}

	var totalDuration int64
	var count int64
	var oldest, newest time.Time
	for _, pool := range [][]Entry{s.ucp, s.ap2} {
		for _, e := range pool {
			stats.ByEndpoint[e.Endpoint]++
			stats.ByStatus[strconv.Itoa(e.Status)]++
			if e.Status >= 400 {
				stats.ErrorCount++
			}
			if e.Kind == KindAP2 && e.PaymentStatus == "SUCCESS" {
				stats.SuccessfulPayments++
			}
			totalDuration += e.DurationMS
			count++
			if oldest.IsZero() || e.Timestamp.Before(oldest) {
				oldest = e.Timestamp
			}
			if e.Timestamp.After(newest) {
				newest = e.Timestamp
			}
		}
	}
	if count > 0 {
		stats.AvgDurationMS = float64(totalDuration) / float64(count)
		stats.OldestEntry = &oldest
		stats.NewestEntry = &newest
	}
	return stats, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, kind Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	if kind == "" || kind == KindUCP {
		removed += int64(len(s.ucp))
		s.ucp = nil
	}
	if kind == "" || kind == KindAP2 {
		removed += int64(len(s.ap2))
		s.ap2 = nil
	}
	return removed, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
