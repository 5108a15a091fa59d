package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
	"github.com/relief-data/terrain.report/internal/tilecache"
)

func newTestDB(t *testing.T) *tilecache.DB {
	t.Helper()
	db, err := tilecache.NewDB(filepath.Join(t.TempDir(), "tiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE tile_store (
		source_id TEXT NOT NULL,
		lod INTEGER NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		payload BLOB NOT NULL,
		created_unix_nanos INTEGER NOT NULL,
		PRIMARY KEY (source_id, lod, x, y)
	)`)
	require.NoError(t, err)
	return db
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	db := newTestDB(t)
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	b := NewSQLiteBackend(db, "unit", gg, 9, 8, geo.Extent{})
	ctx := context.Background()

	key := tile.Key{LOD: 3, X: 5, Y: 2, Profile: gg}

	// Missing rows are no-data, not errors.
	hf, err := b.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, hf)

	in := terrain.NewHeightfield(9, 9)
	for i := range in.Samples {
		in.Samples[i] = float32(i)
	}
	require.NoError(t, b.WriteTile(ctx, key, in))

	out, err := b.Fetch(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Samples, out.Samples)

	// Rewriting the same address replaces the row.
	in.Fill(7)
	require.NoError(t, b.WriteTile(ctx, key, in))
	out, err = b.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, float32(7), out.At(0, 0))
}

func TestSQLiteBackendSourcesAreIsolated(t *testing.T) {
	db := newTestDB(t)
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	a := NewSQLiteBackend(db, "a", gg, 3, 8, geo.Extent{})
	c := NewSQLiteBackend(db, "c", gg, 3, 8, geo.Extent{})
	ctx := context.Background()

	key := tile.Key{LOD: 1, X: 0, Y: 0, Profile: gg}
	hf := terrain.NewHeightfield(3, 3)
	hf.Fill(1)
	require.NoError(t, a.WriteTile(ctx, key, hf))

	got, err := c.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "datasets must not see each other's tiles")
}

func TestMemBackendFetchCountsAndClones(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	m := &MemBackend{DatasetName: "mem", TileProfile: gg, Size: 3, MaxLevel: 5}
	ctx := context.Background()
	key := tile.Key{LOD: 1, X: 1, Y: 0, Profile: gg}

	hf := terrain.NewHeightfield(3, 3)
	hf.Fill(10)
	m.Put(key, hf)

	got, err := m.Fetch(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	got.Set(0, 0, 999)

	again, err := m.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, float32(10), again.At(0, 0), "Fetch must hand out copies")
	assert.Equal(t, int64(2), m.FetchCount())
}
