package elevation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/source"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
)

func TestAssembleAcrossSchemesSeamExact(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	sm := tile.SphericalMercator(geo.DatumEllipsoid)

	// Two native geodetic tiles at different resolutions covering the
	// western and eastern hemispheres. The mosaic must keep the seam
	// exact: every output pixel holds one tile's value, never a blend.
	backend := &source.MemBackend{
		DatasetName: "hemi",
		TileProfile: gg,
		Size:        65,
		MaxLevel:    5,
		FetchFunc: func(ctx context.Context, k tile.Key) (*terrain.Heightfield, error) {
			if k.LOD != 0 {
				return nil, nil
			}
			if k.X == 0 { // west, fine
				hf := terrain.NewHeightfield(65, 65)
				hf.Fill(100)
				return hf, nil
			}
			// east, coarse
			hf := terrain.NewHeightfield(5, 5)
			hf.Fill(200)
			return hf, nil
		},
	}
	l := NewLayer(LayerOptions{Name: "hemi"}, backend, nil)

	key := tile.Key{LOD: 0, X: 0, Y: 0, Profile: sm}
	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())
	require.NotNil(t, g.NM, "cross-scheme assembly must deliver normals")

	// Output at the finest fetched resolution.
	assert.Equal(t, 65, g.HF.Width)
	assert.Equal(t, 65, g.HF.Height)

	for r := 0; r < 65; r++ {
		for c := 0; c < 65; c++ {
			v := g.HF.At(c, r)
			switch {
			case c <= 32: // at and west of the meridian the finer tile wins
				if v != 100 {
					t.Fatalf("pixel (%d,%d) = %v, want 100", c, r, v)
				}
			default:
				if v != 200 {
					t.Fatalf("pixel (%d,%d) = %v, want 200", c, r, v)
				}
			}
		}
	}
}

func TestAssembleFirstMatchNoDataFallsThrough(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	sm := tile.SphericalMercator(geo.DatumEllipsoid)

	// The finer west tile is empty; the mosaic must fall through to the
	// coarser east tile wherever it covers, instead of stopping at the
	// fine tile's no-data samples.
	backend := &source.MemBackend{
		DatasetName: "holey",
		TileProfile: gg,
		Size:        65,
		MaxLevel:    5,
		FetchFunc: func(ctx context.Context, k tile.Key) (*terrain.Heightfield, error) {
			if k.LOD != 0 {
				return nil, nil
			}
			if k.X == 0 {
				return terrain.NewHeightfield(65, 65), nil // all sentinel
			}
			hf := terrain.NewHeightfield(5, 5)
			hf.Fill(200)
			return hf, nil
		},
	}
	l := NewLayer(LayerOptions{Name: "holey"}, backend, nil)

	key := tile.Key{LOD: 0, X: 0, Y: 0, Profile: sm}
	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())

	// Middle row: west half has no usable tile, east half comes from the
	// coarse tile.
	r := 32
	assert.Equal(t, terrain.NoDataValue, g.HF.At(10, r))
	assert.Equal(t, float32(200), g.HF.At(50, r))
}

func TestAssembleLOD0CoarseningWalk(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)
	sm := tile.SphericalMercator(geo.DatumEllipsoid)

	// Geodetic LOD 0 maps to mercator LOD 1, past this backend's max data
	// level; the assembler must walk coarser until a native tile can
	// carry data.
	var fetched []tile.Key
	backend := &source.MemBackend{
		DatasetName: "worldmerc",
		TileProfile: sm,
		Size:        9,
		MaxLevel:    0,
		FetchFunc: func(ctx context.Context, k tile.Key) (*terrain.Heightfield, error) {
			fetched = append(fetched, k)
			if k.LOD != 0 {
				return nil, nil
			}
			hf := terrain.NewHeightfield(9, 9)
			hf.Fill(50)
			return hf, nil
		},
	}
	l := NewLayer(LayerOptions{Name: "worldmerc"}, backend, nil)

	key := tile.Key{LOD: 0, X: 0, Y: 0, Profile: gg} // western hemisphere
	g, err := l.CreateHeightfield(context.Background(), key)
	require.NoError(t, err)
	require.True(t, g.Valid())

	require.Len(t, fetched, 1)
	assert.Equal(t, uint32(0), fetched[0].LOD)

	// Mid-latitudes are covered by the mercator world tile.
	assert.Equal(t, float32(50), g.HF.At(4, 4))
	// The poles lie outside the mercator square and stay empty.
	assert.Equal(t, terrain.NoDataValue, g.HF.At(4, 0))
	assert.Equal(t, terrain.NoDataValue, g.HF.At(4, 8))
}

func TestDataExtentExcludesLayerFromComposite(t *testing.T) {
	gg := tile.GlobalGeodetic(geo.DatumEllipsoid)

	// Backend covers a small patch far away from the requested tile; the
	// compositor must drop the layer without touching the source.
	backend := &source.MemBackend{
		DatasetName: "patch",
		TileProfile: gg,
		Size:        9,
		MaxLevel:    8,
		Extent:      geo.Extent{SRS: gg.SRS, XMin: 100, YMin: 10, XMax: 110, YMax: 20},
		FetchFunc:   flatFetch(9, 1),
	}
	l := NewLayer(LayerOptions{Name: "patch"}, backend, nil)
	stack := LayerStack{l}

	// South-western quadrant: no overlap with the patch.
	key := tile.Key{LOD: 2, X: 1, Y: 3, Profile: gg}
	hf := terrain.NewHeightfield(9, 9)
	real, err := stack.PopulateHeightfield(context.Background(), hf, nil, key, nil, terrain.InterpBilinear)
	require.NoError(t, err)
	assert.False(t, real)
	assert.Equal(t, int64(0), backend.FetchCount())
}
