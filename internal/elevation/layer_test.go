package elevation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/source"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
	"github.com/relief-data/terrain.report/internal/tilecache"
)

func flatFetch(size int, v float32) func(context.Context, tile.Key) (*terrain.Heightfield, error) {
	return func(ctx context.Context, key tile.Key) (*terrain.Heightfield, error) {
		hf := terrain.NewHeightfield(size, size)
		hf.Fill(v)
		return hf, nil
	}
}

func newFlatBackend(p *tile.Profile, size int, maxLevel uint32, v float32) *source.MemBackend {
	return &source.MemBackend{
		DatasetName: "test",
		TileProfile: p,
		Size:        size,
		MaxLevel:    maxLevel,
		FetchFunc:   flatFetch(size, v),
	}
}

// fakeStore is an in-memory persistent tier with a controllable clock.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	writes  int
}

type fakeEntry struct {
	payload  []byte
	modified time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]fakeEntry)}
}

func (s *fakeStore) Read(key string) ([]byte, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	return e.payload, e.modified, true, nil
}

func (s *fakeStore) Write(key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = fakeEntry{payload: payload, modified: time.Now()}
	s.writes++
	return nil
}

func (s *fakeStore) put(key string, hf *terrain.Heightfield, modified time.Time) error {
	payload, err := tilecache.EncodeHeightfield(hf)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = fakeEntry{payload: payload, modified: modified}
	return nil
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func TestCreateHeightfieldBasic(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	backend := newFlatBackend(gg, 9, 10, 100)
	l := NewLayer(LayerOptions{Name: "flat"}, backend, nil)

	key := tile.Key{LOD: 2, X: 1, Y: 1, Profile: gg}
	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())

	assert.Equal(t, 9, g.HF.Width)
	for _, v := range g.HF.Samples {
		assert.Equal(t, float32(100), v)
	}
	assert.Equal(t, key.Extent(), g.Extent)
	assert.Equal(t, int64(1), backend.FetchCount())
}

func TestCreateHeightfieldIdempotent(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	backend := newFlatBackend(gg, 9, 10, 42)
	l := NewLayer(LayerOptions{}, backend, nil)
	key := tile.Key{LOD: 3, X: 4, Y: 2, Profile: gg}

	a, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	b, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)

	if diff := cmp.Diff(a.HF.Samples, b.HF.Samples); diff != "" {
		t.Fatalf("repeated resolution differed (-first +second):\n%s", diff)
	}
	// The second call is a memory-tier hit.
	assert.Equal(t, int64(1), backend.FetchCount())
}

func TestAtMostOneProducer(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	backend := &source.MemBackend{
		DatasetName: "slow",
		TileProfile: gg,
		Size:        9,
		MaxLevel:    10,
		FetchFunc: func(ctx context.Context, key tile.Key) (*terrain.Heightfield, error) {
			time.Sleep(20 * time.Millisecond) // widen the race window
			hf := terrain.NewHeightfield(9, 9)
			hf.Fill(7)
			return hf, nil
		},
	}
	l := NewLayer(LayerOptions{}, backend, nil)
	key := tile.Key{LOD: 2, X: 0, Y: 0, Profile: gg}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]terrain.GeoHeightfield, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.CreateHeightfield(context.Background(), key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.True(t, results[i].Valid(), "caller %d got no data", i)
		assert.Equal(t, float32(7), results[i].HF.At(4, 4))
	}
	assert.Equal(t, int64(1), backend.FetchCount(), "concurrent callers must share one production")
}

func TestLegalRangeRefused(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	maxLevel := uint32(4)
	backend := newFlatBackend(gg, 9, 10, 1)
	l := NewLayer(LayerOptions{MinLevel: 3, MaxLevel: &maxLevel}, backend, nil)

	below := tile.Key{LOD: 2, X: 0, Y: 0, Profile: gg}
	g, err := l.CreateHeightfield(context.Background(), below)
	require.NoError(t, err)
	assert.False(t, g.Valid(), "key below MinLevel must resolve to no data")

	above := tile.Key{LOD: 5, X: 0, Y: 0, Profile: gg}
	g, err = l.CreateHeightfield(context.Background(), above)
	require.NoError(t, err)
	assert.False(t, g.Valid(), "key above MaxLevel must resolve to no data")

	assert.Equal(t, int64(0), backend.FetchCount())
}

func TestDisabledAndBrokenLayersResolveNothing(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	key := tile.Key{LOD: 1, X: 0, Y: 0, Profile: gg}

	backend := newFlatBackend(gg, 9, 10, 1)
	l := NewLayer(LayerOptions{}, backend, nil)
	l.SetEnabled(false)
	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, g.Valid())

	l2 := NewLayer(LayerOptions{}, backend, nil)
	l2.Disable(errors.New("backend gone"))
	g, err = l2.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, g.Valid())
	assert.Error(t, l2.Status())

	assert.Equal(t, int64(0), backend.FetchCount())
}

func TestResolveSanitizesSamples(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	sourceNoData := float32(-9999)
	backend := &source.MemBackend{
		DatasetName: "dirty",
		TileProfile: gg,
		Size:        3,
		MaxLevel:    10,
		FetchFunc: func(ctx context.Context, key tile.Key) (*terrain.Heightfield, error) {
			hf := terrain.NewHeightfield(3, 3)
			hf.Fill(50)
			hf.Set(0, 0, float32(math.NaN()))
			hf.Set(1, 0, -9999)  // source sentinel
			hf.Set(2, 0, 20000)  // above max valid
			hf.Set(0, 1, -15000) // below min valid
			return hf, nil
		},
	}
	l := NewLayer(LayerOptions{NoDataValue: &sourceNoData}, backend, nil)

	g, err := l.CreateHeightfield(context.Background(), tile.Key{LOD: 1, X: 1, Y: 0, Profile: gg})
	require.NoError(t, err)
	require.True(t, g.Valid())

	assert.Equal(t, terrain.NoDataValue, g.HF.At(0, 0))
	assert.Equal(t, terrain.NoDataValue, g.HF.At(1, 0))
	assert.Equal(t, terrain.NoDataValue, g.HF.At(2, 0))
	assert.Equal(t, terrain.NoDataValue, g.HF.At(0, 1))
	assert.Equal(t, float32(50), g.HF.At(1, 1))
}

func TestCacheWriteBackAndReadThrough(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	store := newFakeStore()
	key := tile.Key{LOD: 2, X: 1, Y: 0, Profile: gg}

	b1 := newFlatBackend(gg, 9, 10, 300)
	l1 := NewLayer(LayerOptions{Policy: tilecache.DefaultPolicy()}, b1, store)
	g, err := l1.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	assert.Equal(t, 1, store.writeCount(), "fresh production must be written back")

	// A second layer over the same store serves from cache without
	// touching its backend.
	b2 := newFlatBackend(gg, 9, 10, 999)
	l2 := NewLayer(LayerOptions{Policy: tilecache.DefaultPolicy()}, b2, store)
	g, err = l2.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	assert.Equal(t, float32(300), g.HF.At(0, 0), "cached samples must win over the backend")
	assert.Equal(t, int64(0), b2.FetchCount())
	assert.Equal(t, 1, store.writeCount(), "cache hits must not be re-written")
}

func TestCacheOnlyNeverReachesBackend(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	store := newFakeStore()
	key := tile.Key{LOD: 2, X: 0, Y: 1, Profile: gg}
	policy := tilecache.Policy{Readable: true, CacheOnly: true}

	backend := newFlatBackend(gg, 9, 10, 5)
	l := NewLayer(LayerOptions{Policy: policy}, backend, store)

	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, g.Valid(), "empty cache + cache-only = no data")
	assert.Equal(t, int64(0), backend.FetchCount())

	// With a cached entry present, it is served.
	cached := terrain.NewHeightfield(9, 9)
	cached.Fill(77)
	require.NoError(t, store.put(key.CacheKey(), cached, time.Now()))

	g, err = l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	assert.Equal(t, float32(77), g.HF.At(3, 3))
	assert.Equal(t, int64(0), backend.FetchCount())
}

func TestCacheOnlyIgnoresExpiredEntries(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	store := newFakeStore()
	key := tile.Key{LOD: 1, X: 0, Y: 0, Profile: gg}
	policy := tilecache.Policy{Readable: true, CacheOnly: true, MaxAge: time.Hour}

	stale := terrain.NewHeightfield(9, 9)
	stale.Fill(11)
	require.NoError(t, store.put(key.CacheKey(), stale, time.Now().Add(-2*time.Hour)))

	backend := newFlatBackend(gg, 9, 10, 5)
	l := NewLayer(LayerOptions{Policy: policy}, backend, store)

	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, g.Valid(), "cache-only must not serve expired entries")
	assert.Equal(t, int64(0), backend.FetchCount())
}

func TestExpiredEntryServedOnlyWhenFetchFails(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	key := tile.Key{LOD: 2, X: 2, Y: 1, Profile: gg}
	policy := tilecache.Policy{Readable: true, Writable: true, MaxAge: time.Hour}

	store := newFakeStore()
	stale := terrain.NewHeightfield(9, 9)
	stale.Fill(55)
	require.NoError(t, store.put(key.CacheKey(), stale, time.Now().Add(-2*time.Hour)))

	// Fetch fails: the expired entry is the fallback of last resort.
	failing := &source.MemBackend{
		DatasetName: "down",
		TileProfile: gg,
		Size:        9,
		MaxLevel:    10,
		FetchFunc: func(ctx context.Context, key tile.Key) (*terrain.Heightfield, error) {
			return nil, errors.New("source unavailable")
		},
	}
	l := NewLayer(LayerOptions{Policy: policy}, failing, store)
	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	assert.Equal(t, float32(55), g.HF.At(0, 0))
	assert.Equal(t, 0, store.writeCount(), "serving stale data must not refresh its write time")

	// Fetch succeeds: fresh data wins and overwrites the stale entry.
	working := newFlatBackend(gg, 9, 10, 66)
	l2 := NewLayer(LayerOptions{Policy: policy}, working, store)
	g, err = l2.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	assert.Equal(t, float32(66), g.HF.At(0, 0))
	assert.Equal(t, 1, store.writeCount())

	payload, _, ok, err := store.Read(key.CacheKey())
	require.NoError(t, err)
	require.True(t, ok)
	back, err := tilecache.DecodeHeightfield(payload)
	require.NoError(t, err)
	assert.Equal(t, float32(66), back.At(0, 0), "store must hold the fresh samples")
}

func TestInvalidBackendGridFallsBackToExpired(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	key := tile.Key{LOD: 1, X: 1, Y: 0, Profile: gg}
	policy := tilecache.Policy{Readable: true, Writable: true, MaxAge: time.Hour}

	store := newFakeStore()
	stale := terrain.NewHeightfield(9, 9)
	stale.Fill(123)
	require.NoError(t, store.put(key.CacheKey(), stale, time.Now().Add(-2*time.Hour)))

	malformed := &source.MemBackend{
		DatasetName: "broken",
		TileProfile: gg,
		Size:        9,
		MaxLevel:    10,
		FetchFunc: func(ctx context.Context, key tile.Key) (*terrain.Heightfield, error) {
			return &terrain.Heightfield{Width: 1, Height: 1, Samples: []float32{0}}, nil
		},
	}
	l := NewLayer(LayerOptions{Policy: policy}, malformed, store)
	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	assert.Equal(t, float32(123), g.HF.At(0, 0))
	assert.Equal(t, 0, store.writeCount(), "an illegal grid must never be cached")
}

func TestCancellationLeavesCachesClean(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	store := newFakeStore()
	backend := newFlatBackend(gg, 9, 10, 1)
	l := NewLayer(LayerOptions{Policy: tilecache.DefaultPolicy()}, backend, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g, err := l.CreateHeightfield(ctx, tile.Key{LOD: 2, X: 0, Y: 0, Profile: gg})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, g.Valid())
	assert.Equal(t, 0, store.writeCount(), "a canceled resolution must not write the persistent tier")
	assert.Equal(t, 0, l.mem.Len(), "a canceled resolution must not populate the memory tier")
}

func TestDatumOverrideShiftsSamples(t *testing.T) {
	// Layer carries EGM96 heights; the request is against the ellipsoid.
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	backend := newFlatBackend(gg, 9, 10, 100)
	vd := geo.DatumEGM96
	l := NewLayer(LayerOptions{VDatum: &vd}, backend, nil)

	// A low-latitude tile (0..22.5 deg) sits entirely in one geoid zone.
	key := tile.Key{LOD: 3, X: 0, Y: 3, Profile: gg}
	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	for _, v := range g.HF.Samples {
		assert.Equal(t, float32(92), v)
	}
}

func TestRevisionBumpInvalidatesMemoryTier(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	backend := newFlatBackend(gg, 9, 10, 10)
	l := NewLayer(LayerOptions{}, backend, nil)
	key := tile.Key{LOD: 2, X: 1, Y: 1, Profile: gg}

	_, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backend.FetchCount())

	l.BumpRevision()
	_, err = l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), backend.FetchCount(), "a revision bump must force reproduction")
}

// writableBackend wraps MemBackend with tile ingest.
type writableBackend struct {
	source.MemBackend
}

func (w *writableBackend) WriteTile(ctx context.Context, key tile.Key, hf *terrain.Heightfield) error {
	w.Put(key, hf)
	return nil
}

func TestWriteHeightfield(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	backend := &writableBackend{MemBackend: source.MemBackend{
		DatasetName: "editable",
		TileProfile: gg,
		Size:        3,
		MaxLevel:    10,
	}}
	l := NewLayer(LayerOptions{}, backend, nil)
	key := tile.Key{LOD: 2, X: 3, Y: 1, Profile: gg}

	bad := &terrain.Heightfield{Width: 1, Height: 1, Samples: []float32{1}}
	assert.Error(t, l.WriteHeightfield(context.Background(), key, bad))

	hf := terrain.NewHeightfield(3, 3)
	hf.Fill(500)
	rev := l.Revision()
	require.NoError(t, l.WriteHeightfield(context.Background(), key, hf))
	assert.NotEqual(t, rev, l.Revision(), "a successful write must bump the revision")

	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	assert.Equal(t, float32(500), g.HF.At(1, 1))
}

func TestWriteHeightfieldUnsupported(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	l := NewLayer(LayerOptions{}, newFlatBackend(gg, 3, 10, 0), nil)
	hf := terrain.NewHeightfield(3, 3)
	err := l.WriteHeightfield(context.Background(), tile.Key{LOD: 0, X: 0, Y: 0, Profile: gg}, hf)
	assert.True(t, errors.Is(err, ErrWriteUnsupported))
}
