package dimension

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetetl/internal/schema"
)

// fakeStore hands out sequential keys and counts calls.
type fakeStore struct {
	keys    map[civil.Date]int64
	ensured [][]civil.Date
	selects int

	ensureErr error
	dropKey   civil.Date // never returned by SelectKeysByDates
}

func newFakeStore() *fakeStore { return &fakeStore{keys: make(map[civil.Date]int64)} }

func (f *fakeStore) EnsureDimensionKeys(_ context.Context, _ schema.DimensionSpec, dates []civil.Date) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured = append(f.ensured, append([]civil.Date(nil), dates...))
	for _, d := range dates {
		if _, ok := f.keys[d]; !ok {
			f.keys[d] = int64(len(f.keys) + 1)
		}
	}
	return nil
}

func (f *fakeStore) SelectKeysByDates(_ context.Context, _ schema.DimensionSpec, dates []civil.Date) (map[civil.Date]int64, error) {
	f.selects++
	out := make(map[civil.Date]int64)
	for _, d := range dates {
		if k, ok := f.keys[d]; ok && d != f.dropKey {
			out[d] = k
		}
	}
	return out, nil
}

func (f *fakeStore) SelectAllDateKeys(_ context.Context, _ schema.DimensionSpec) (map[civil.Date]int64, error) {
	out := make(map[civil.Date]int64, len(f.keys))
	for d, k := range f.keys {
		out[d] = k
	}
	return out, nil
}

var (
	jan = civil.Date{Year: 2023, Month: 1, Day: 1}
	feb = civil.Date{Year: 2023, Month: 2, Day: 1}
	mar = civil.Date{Year: 2023, Month: 3, Day: 1}
)

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := NewResolver(store, schema.DefaultDimension())
	ctx := context.Background()

	first, err := r.Resolve(ctx, []civil.Date{feb, jan, feb})
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := r.Resolve(ctx, []civil.Date{jan, feb})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, store.keys, 2, "dimension must not grow")
	assert.Len(t, store.ensured, 1, "second call is served from cache")
	assert.Equal(t, []civil.Date{jan, feb}, store.ensured[0], "missing dates are sorted and deduplicated")
	assert.Equal(t, Stats{Cached: 2, Resolved: 2}, r.Stats())
}

func TestResolve_FreshResolverSameKeys(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	ctx := context.Background()

	a, err := NewResolver(store, schema.DefaultDimension()).Resolve(ctx, []civil.Date{jan, mar})
	require.NoError(t, err)
	b, err := NewResolver(store, schema.DefaultDimension()).Resolve(ctx, []civil.Date{mar, jan})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, store.keys, 2)
}

func TestResolve_IgnoresZeroDates(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := NewResolver(store, schema.DefaultDimension())

	got, err := r.Resolve(context.Background(), []civil.Date{{}, jan})
	require.NoError(t, err)
	assert.Equal(t, map[civil.Date]int64{jan: 1}, got)

	got, err = r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, store.selects)
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newFakeStore()
	store.ensureErr = errors.New("permission denied")
	_, err := NewResolver(store, schema.DefaultDimension()).Resolve(ctx, []civil.Date{jan})
	require.ErrorIs(t, err, store.ensureErr)

	store = newFakeStore()
	store.dropKey = feb
	_, err = NewResolver(store, schema.DefaultDimension()).Resolve(ctx, []civil.Date{jan, feb})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2023-02-01")
}

func TestPrewarm(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.keys[jan] = 7
	r := NewResolver(store, schema.DefaultDimension())
	require.NoError(t, r.Prewarm(context.Background()))

	got, err := r.Resolve(context.Background(), []civil.Date{jan})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got[jan])
	assert.Empty(t, store.ensured)
}
