package elevation

import (
	"context"
	"errors"

	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
)

// LayerStack is an ordered stack of elevation layers. Later entries
// have higher priority: the last layer wins per-pixel conflicts, the
// way the top entry of a paint stack does.
type LayerStack []*Layer

// layerData is one stack entry resolved for a single composite call:
// the layer, the tile address it will actually be queried with, and its
// position (priority) in the stack.
type layerData struct {
	layer *Layer
	key   tile.Key
	index int
}

// maxHeldFields bounds the per-call working set of fetched source
// grids. Once exceeded, all held grids are dropped and refetched on
// demand; the memory tier makes the refetch cheap.
const maxHeldFields = 50

// PopulateHeightfield composites the stack into hf (and, when nm is
// non-nil, synthesizes normals). hf must be pre-allocated; pixels no
// layer covers keep their prior values until the final hole-fill pass.
//
// overrideProfile substitutes the tiling profile used for layer
// queries, e.g. to request heights against the raw ellipsoid while the
// map profile carries a geoid datum. The output footprint is still the
// request key's.
//
// The boolean is true iff at least one pixel was filled from
// non-fallback source data.
func (s LayerStack) PopulateHeightfield(ctx context.Context, hf *terrain.Heightfield, nm *terrain.NormalMap, key tile.Key, overrideProfile *tile.Profile, interp terrain.Interpolation) (bool, error) {
	if hf == nil {
		return false, errors.New("elevation: populate requires an allocated heightfield")
	}

	keyToUse := key
	if overrideProfile != nil {
		keyToUse = tile.Key{LOD: key.LOD, X: key.X, Y: key.Y, Profile: overrideProfile}
	}

	// Partition the stack into base contenders and additive offsets,
	// walking from highest priority down so both lists come out
	// highest-priority first. Track how many would only supply fallback
	// (ancestor) data.
	var contenders []layerData
	var offsets []layerData
	numFallback := 0

	for i := len(s) - 1; i >= 0; i-- {
		layer := s[i]
		if !layer.Enabled() || !layer.Visible() {
			continue
		}

		mappedKey := keyToUse.MapResolution(hf.Width, layer.TileSize())

		useLayer := true
		bestKey := mappedKey

		// The un-mapped LOD decides the min-level cutoff. Max data level
		// is deliberately not a cutoff: layers past it still serve as
		// ancestor fallback.
		if key.LOD < layer.MinLevel() {
			useLayer = false
		} else {
			bestKey = layer.BestAvailableKey(mappedKey)
			if bestKey.Valid() {
				if !bestKey.Equal(mappedKey) {
					numFallback++
				}
			} else {
				useLayer = false
			}
		}

		if useLayer {
			ld := layerData{layer: layer, key: bestKey, index: i}
			if layer.IsOffset() {
				offsets = append(offsets, ld)
			} else {
				contenders = append(contenders, ld)
			}
		}
	}

	if len(contenders) == 0 && len(offsets) == 0 {
		return false, nil
	}

	// If every qualifying layer would only hand back ancestor data, the
	// caller already has something at least as good. Skip the per-pixel
	// work entirely.
	if len(contenders)+len(offsets) == numFallback {
		return false, nil
	}

	numColumns := hf.Width
	numRows := hf.Height
	ext := key.Extent()
	xmin := ext.XMin
	ymin := ext.YMin
	dx := ext.Width() / float64(numColumns-1)
	dy := ext.Height() / float64(numRows-1)

	keySRS := keyToUse.Profile.SRS

	// Lazily fetched per-call working set.
	heightFields := make([]terrain.GeoHeightfield, len(contenders))
	fetchedKeys := make([]tile.Key, len(contenders))
	heightFallback := make([]bool, len(contenders))
	heightFailed := make([]bool, len(contenders))
	offsetFields := make([]terrain.GeoHeightfield, len(offsets))
	offsetFailed := make([]bool, len(offsets))
	numHeldFields := 0

	realData := false

	// Per-pixel LOD delta feeding normal synthesis.
	var deltaLOD []int16
	if nm != nil {
		deltaLOD = make([]int16, numColumns*numRows)
	}

	requiresResample := true

	// Fast path: a single contender whose native tile already matches
	// the output dimensions is copied straight through. An all-fallback
	// single contender never reaches here (caught above), so this is
	// real data by construction.
	if len(contenders) == 1 && len(offsets) == 0 {
		layerHF, err := contenders[0].layer.CreateHeightfield(ctx, contenders[0].key)
		if err != nil && ctx.Err() != nil {
			return false, ctx.Err()
		}
		if layerHF.Valid() &&
			layerHF.HF.Width == hf.Width &&
			layerHF.HF.Height == hf.Height {
			requiresResample = false
			copy(hf.Samples, layerHF.HF.Samples)
			realData = true
		}
	}

	if requiresResample {
		for c := 0; c < numColumns; c++ {
			// Cooperative cancellation, once per output column.
			if err := ctx.Err(); err != nil {
				return false, err
			}

			x := xmin + dx*float64(c)

			for r := 0; r < numRows; r++ {
				y := ymin + dy*float64(r)

				resolvedIndex := -1

				// Base contenders, highest priority first; first layer with
				// a real sample at this pixel wins.
				for i := 0; i < len(contenders) && resolvedIndex < 0; i++ {
					if heightFailed[i] {
						continue
					}

					if !heightFields[i].Valid() {
						// Fetch on demand, walking to parent keys so the pixel
						// still gets data even if only as fallback.
						actualKey := contenders[i].key
						for !heightFields[i].Valid() && actualKey.Valid() && contenders[i].layer.KeyInLegalRange(actualKey) {
							g, err := contenders[i].layer.CreateHeightfield(ctx, actualKey)
							if err != nil && ctx.Err() != nil {
								return false, ctx.Err()
							}
							if g.Valid() {
								heightFields[i] = g
							} else {
								actualKey = actualKey.Parent()
							}
						}

						if heightFields[i].Valid() {
							heightFallback[i] = !actualKey.Equal(contenders[i].key)
							fetchedKeys[i] = actualKey
							numHeldFields++
						} else {
							heightFailed[i] = true
							continue
						}
					}

					// Real data means a non-fallback grid contributed, whether
					// or not this particular pixel had a sample in it.
					if !heightFallback[i] {
						realData = true
					}

					if e, ok := heightFields[i].ElevationAt(keySRS, x, y, interp); ok && e != terrain.NoDataValue {
						resolvedIndex = contenders[i].index
						hf.Set(c, r, e)
						if deltaLOD != nil {
							deltaLOD[r*numColumns+c] = int16(key.LOD - fetchedKeys[i].LOD)
						}
					}

					// Bound the working set: drop everything and refetch on
					// demand once over the limit.
					if numHeldFields >= maxHeldFields {
						for k := range heightFields {
							heightFields[k] = terrain.GeoHeightfield{}
							heightFallback[k] = false
							fetchedKeys[k] = tile.Key{}
						}
						numHeldFields = 0
					}
				}

				// Offsets, lowest priority first. Only offsets sitting at or
				// above the winning base layer apply. The recorded LOD delta
				// is overwritten by each applied offset, so the
				// highest-priority offset (applied last) determines it; the
				// summed elevation is order-independent either way.
				for i := len(offsets) - 1; i >= 0; i-- {
					if resolvedIndex >= 0 && offsets[i].index < resolvedIndex {
						continue
					}
					if offsetFailed[i] {
						continue
					}

					if !offsetFields[i].Valid() {
						g, err := offsets[i].layer.CreateHeightfield(ctx, offsets[i].key)
						if err != nil && ctx.Err() != nil {
							return false, ctx.Err()
						}
						if !g.Valid() {
							offsetFailed[i] = true
							continue
						}
						offsetFields[i] = g
					}

					realData = true

					if e, ok := offsetFields[i].ElevationAt(keySRS, x, y, interp); ok && e != terrain.NoDataValue {
						base := hf.At(c, r)
						if base == terrain.NoDataValue {
							// An offset with no resolved base raises flat ground.
							base = 0
						}
						hf.Set(c, r, base+e)

						if deltaLOD != nil {
							deltaLOD[r*numColumns+c] = int16(key.LOD - offsets[i].key.LOD)
						}
					}
				}
			}
		}
	}

	if nm != nil {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		terrain.SynthesizeNormals(ext, hf, deltaLOD, nm)
	}

	// Resolve any remaining holes before handing the grid back.
	terrain.FillHoles(hf)

	if err := ctx.Err(); err != nil {
		return false, err
	}

	return realData, nil
}
