package tile

import (
	"fmt"

	"github.com/relief-data/terrain.report/internal/geo"
)

// Key addresses one tile: level of detail, column, row, and the
// profile the address is expressed in. Row 0 is the northernmost row.
// The zero Key is invalid.
type Key struct {
	LOD     uint32
	X       uint32
	Y       uint32
	Profile *Profile
}

// Valid reports whether the key names a tile that exists in its profile.
func (k Key) Valid() bool {
	if k.Profile == nil {
		return false
	}
	tx, ty := k.Profile.NumTiles(k.LOD)
	return k.X < tx && k.Y < ty
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.LOD, k.X, k.Y)
}

// CacheKey is the persistent-tier key: tile address plus the horizontal
// scheme signature, so the same address under two schemes never collides.
func (k Key) CacheKey() string {
	return fmt.Sprintf("%d/%d/%d-%s", k.LOD, k.X, k.Y, k.Profile.Signature())
}

// Equal reports address equality including the scheme signature.
func (k Key) Equal(o Key) bool {
	if k.LOD != o.LOD || k.X != o.X || k.Y != o.Y {
		return false
	}
	if k.Profile == nil || o.Profile == nil {
		return k.Profile == o.Profile
	}
	return k.Profile.Signature() == o.Profile.Signature()
}

// Parent returns the key one LOD coarser covering the same area. The
// parent of an LOD-0 key is invalid.
func (k Key) Parent() Key {
	if k.LOD == 0 {
		return Key{}
	}
	return Key{LOD: k.LOD - 1, X: k.X / 2, Y: k.Y / 2, Profile: k.Profile}
}

// Extent returns the tile's footprint in the profile's system.
func (k Key) Extent() geo.Extent {
	p := k.Profile
	tw := p.TileWidth(k.LOD)
	th := p.TileHeight(k.LOD)
	return geo.Extent{
		SRS:  p.SRS,
		XMin: p.Extent.XMin + float64(k.X)*tw,
		XMax: p.Extent.XMin + float64(k.X+1)*tw,
		YMin: p.Extent.YMax - float64(k.Y+1)*th,
		YMax: p.Extent.YMax - float64(k.Y)*th,
	}
}

// MapResolution adjusts the key for a layer whose native tile size
// differs from the requested output size. A layer with smaller tiles
// holds less detail per tile, so the same ground resolution lives at a
// coarser LOD in that layer; walk up until the resolutions line up.
func (k Key) MapResolution(targetSize, layerSize int) Key {
	if k.LOD == 0 || targetSize >= layerSize {
		return k
	}
	if targetSize < 2 {
		targetSize = 2
	}
	out := k
	for size := targetSize; out.LOD > 0 && size < layerSize; size *= 2 {
		out = out.Parent()
	}
	return out
}
