package elevation

import (
	"context"
	"sort"

	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
)

// assembleHeightfield builds a grid for a key whose tiling scheme
// differs from the layer's native scheme, by mosaicking the native
// tiles that intersect the requested footprint.
//
// Mosaic rule: sort fetched tiles finest first, and for each output
// pixel the first tile with a non-no-data sample wins. No blending:
// blending across resolutions would blur the finer data.
func (l *Layer) assembleHeightfield(ctx context.Context, key tile.Key) (*terrain.Heightfield, *terrain.NormalMap, error) {
	var intersecting []tile.Key

	if key.LOD > 0 {
		lod := l.profile.EquivalentLOD(key.Profile, key.LOD)
		intersecting = l.profile.IntersectingKeys(key.Extent(), lod)
	} else {
		// LOD 0 in the requested scheme can map past the layer's max data
		// LOD when the two schemes differ wildly. Walk coarser in the
		// native scheme until at least one intersecting tile may carry
		// data.
		lod := int(l.profile.EquivalentLOD(key.Profile, key.LOD))
		for lod >= 0 {
			candidates := l.profile.IntersectingKeys(key.Extent(), uint32(lod))
			mayHaveData := 0
			for _, k := range candidates {
				if l.MayHaveData(k) {
					mayHaveData++
				}
			}
			if mayHaveData > 0 {
				intersecting = candidates
				break
			}
			lod--
		}
	}

	if len(intersecting) == 0 {
		return nil, nil, nil
	}

	// Fetch each intersecting native tile through the normal single-tile
	// path (native keys never recurse back here).
	var fields []terrain.GeoHeightfield
	for _, k := range intersecting {
		if !l.KeyInLegalRange(k) {
			continue
		}
		g, err := l.CreateHeightfield(ctx, k)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			continue
		}
		if g.Valid() {
			fields = append(fields, g)
		}
	}

	if len(fields) == 0 {
		return nil, nil, nil
	}

	// Output at the maximum fetched resolution so the mosaic loses
	// nothing.
	width, height := 0, 0
	for _, f := range fields {
		if f.HF.Width > width {
			width = f.HF.Width
		}
		if f.HF.Height > height {
			height = f.HF.Height
		}
	}

	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].XRes() < fields[j].XRes()
	})

	out := terrain.NewHeightfield(width, height)
	nm := terrain.NewNormalMap(width, height)

	ext := key.Extent()
	dx := ext.Width() / float64(width-1)
	dy := ext.Height() / float64(height-1)
	srs := ext.SRS

	for c := 0; c < width; c++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		x := ext.XMin + dx*float64(c)
		for r := 0; r < height; r++ {
			y := ext.YMin + dy*float64(r)

			for _, f := range fields {
				e, n, ok := f.ElevationAndNormalAt(srs, x, y, terrain.InterpBilinear)
				if ok {
					out.Set(c, r, e)
					nm.Set(c, r, n, 0)
					break
				}
			}
			// Pixels no tile covered keep the sentinel and the up-facing
			// placeholder from allocation.
		}
	}

	return out, nm, nil
}
