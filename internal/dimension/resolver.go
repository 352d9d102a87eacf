// Package dimension maps calendar dates to surrogate keys of the shared date
// dimension, inserting dates that are not there yet.
package dimension

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/golang-sql/civil"

	"sheetetl/internal/normalize"
	"sheetetl/internal/schema"
)

// Store is the dimension half of storage.Repository.
type Store interface {
	EnsureDimensionKeys(ctx context.Context, dim schema.DimensionSpec, dates []civil.Date) error
	SelectKeysByDates(ctx context.Context, dim schema.DimensionSpec, dates []civil.Date) (map[civil.Date]int64, error)
	SelectAllDateKeys(ctx context.Context, dim schema.DimensionSpec) (map[civil.Date]int64, error)
}

// Stats counts how Resolve answered.
type Stats struct {
	Cached   int // answered from the cache
	Resolved int // inserted-if-absent and read back from the store
}

// Resolver caches date -> key for the lifetime of a run. It is safe for
// concurrent use; the cache only grows.
type Resolver struct {
	store Store
	dim   schema.DimensionSpec

	mu    sync.Mutex
	cache map[civil.Date]int64
	stats Stats
}

func NewResolver(store Store, dim schema.DimensionSpec) *Resolver {
	return &Resolver{store: store, dim: dim, cache: make(map[civil.Date]int64)}
}

// Prewarm loads every key already in the dimension.
func (r *Resolver) Prewarm(ctx context.Context) error {
	all, err := r.store.SelectAllDateKeys(ctx, r.dim)
	if err != nil {
		return fmt.Errorf("dimension: prewarm: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for d, k := range all {
		r.cache[d] = k
	}
	return nil
}

// Resolve returns the key of every valid date in dates. Dates not cached are
// inserted if absent, then read back, so calling it twice with the same set
// returns the same keys and leaves the dimension unchanged.
//
// Zero (invalid) dates are ignored. A date the store still cannot return
// after the insert is an error.
func (r *Resolver) Resolve(ctx context.Context, dates []civil.Date) (map[civil.Date]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[civil.Date]int64, len(dates))
	var missing []civil.Date
	for _, d := range dates {
		if !d.IsValid() {
			continue
		}
		if _, done := out[d]; done {
			continue
		}
		if k, ok := r.cache[d]; ok {
			out[d] = k
			r.stats.Cached++
			continue
		}
		out[d] = 0
		missing = append(missing, d)
	}
	if len(missing) == 0 {
		return out, nil
	}
	slices.SortFunc(missing, normalize.CompareDates)

	if err := r.store.EnsureDimensionKeys(ctx, r.dim, missing); err != nil {
		return nil, fmt.Errorf("dimension: ensure %d dates: %w", len(missing), err)
	}
	got, err := r.store.SelectKeysByDates(ctx, r.dim, missing)
	if err != nil {
		return nil, fmt.Errorf("dimension: select %d dates: %w", len(missing), err)
	}
	for _, d := range missing {
		k, ok := got[d]
		if !ok {
			return nil, fmt.Errorf("dimension: date %s has no key in %s after insert", d, r.dim.QualifiedName())
		}
		r.cache[d] = k
		out[d] = k
	}
	r.stats.Resolved += len(missing)
	return out, nil
}

// Stats returns the counters accumulated so far.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
