// Package tile defines tiling schemes (profiles) and tile addresses
// (keys). A profile is a global quadtree subdivision of its reference
// system's extent; a key names one tile within a profile at a level of
// detail.
package tile

import (
	"math"

	"github.com/relief-data/terrain.report/internal/geo"
)

// Profile is a tiling scheme: a world extent plus the tile grid
// dimensions at LOD 0. Each finer LOD doubles both dimensions.
type Profile struct {
	Name       string
	SRS        *geo.SRS
	Extent     geo.Extent
	BaseTilesX uint32
	BaseTilesY uint32
}

// GlobalGeodetic returns the standard 2x1 geographic profile covering
// the whole world in degrees.
func GlobalGeodetic(datum geo.Datum) *Profile {
	srs := geo.GeographicSRS(datum)
	return &Profile{
		Name:       "global-geodetic",
		SRS:        srs,
		Extent:     geo.Extent{SRS: srs, XMin: -180, YMin: -90, XMax: 180, YMax: 90},
		BaseTilesX: 2,
		BaseTilesY: 1,
	}
}

// SphericalMercator returns the standard 1x1 web-mercator profile.
func SphericalMercator(datum geo.Datum) *Profile {
	srs := geo.MercatorSRS(datum)
	const m = 20037508.342789244
	return &Profile{
		Name:       "spherical-mercator",
		SRS:        srs,
		Extent:     geo.Extent{SRS: srs, XMin: -m, YMin: -m, XMax: m, YMax: m},
		BaseTilesX: 1,
		BaseTilesY: 1,
	}
}

// NumTiles returns the tile grid dimensions at the given LOD.
func (p *Profile) NumTiles(lod uint32) (uint32, uint32) {
	return p.BaseTilesX << lod, p.BaseTilesY << lod
}

// TileWidth returns the horizontal span of one tile at the given LOD,
// in the profile's units.
func (p *Profile) TileWidth(lod uint32) float64 {
	tx, _ := p.NumTiles(lod)
	return p.Extent.Width() / float64(tx)
}

// TileHeight returns the vertical span of one tile at the given LOD.
func (p *Profile) TileHeight(lod uint32) float64 {
	_, ty := p.NumTiles(lod)
	return p.Extent.Height() / float64(ty)
}

// Signature identifies the horizontal scheme for cache keying. Profiles
// with equal signatures tile space identically; the vertical datum is
// deliberately excluded (it is part of the layer revision instead).
func (p *Profile) Signature() string {
	return p.Name
}

// HorizEquivalentTo reports whether two profiles share the same
// horizontal tiling of space.
func (p *Profile) HorizEquivalentTo(o *Profile) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Signature() == o.Signature()
}

// EquivalentLOD returns the LOD in p whose tiles most closely match the
// linear resolution of the given LOD in another profile. Used when
// mapping a request across tiling schemes.
func (p *Profile) EquivalentLOD(other *Profile, lod uint32) uint32 {
	target := other.TileWidth(lod)
	if other.SRS.Geographic != p.SRS.Geographic {
		// Compare in meters; one degree at the equator is the common yardstick.
		if other.SRS.Geographic {
			target *= other.SRS.Ellipsoid.MetersPerDegree()
		} else {
			target /= p.SRS.Ellipsoid.MetersPerDegree()
		}
	}
	best := uint32(0)
	bestErr := math.Inf(1)
	for l := uint32(0); l <= 32; l++ {
		w := p.TileWidth(l)
		diff := math.Abs(math.Log2(w) - math.Log2(target))
		if diff < bestErr {
			bestErr = diff
			best = l
		}
		if w < target {
			break
		}
	}
	return best
}

// IntersectingKeys returns every key at the given LOD whose footprint
// intersects the extent. The extent is transformed into the profile's
// system first; an untransformable extent yields no keys.
func (p *Profile) IntersectingKeys(extent geo.Extent, lod uint32) []Key {
	local, err := extent.TransformTo(p.SRS)
	if err != nil || !local.Intersects(p.Extent) {
		return nil
	}
	tx, ty := p.NumTiles(lod)
	tw := p.TileWidth(lod)
	th := p.TileHeight(lod)

	clamp := func(v float64, hi uint32) uint32 {
		if v < 0 {
			return 0
		}
		if v >= float64(hi) {
			return hi - 1
		}
		return uint32(v)
	}
	// Shrink by epsilon so an extent edge exactly on a tile boundary does
	// not pull in the neighboring tile.
	const eps = 1e-9
	c0 := clamp((local.XMin-p.Extent.XMin)/tw+eps, tx)
	c1 := clamp((local.XMax-p.Extent.XMin)/tw-eps, tx)
	r0 := clamp((p.Extent.YMax-local.YMax)/th+eps, ty)
	r1 := clamp((p.Extent.YMax-local.YMin)/th-eps, ty)

	var keys []Key
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			keys = append(keys, Key{LOD: lod, X: c, Y: r, Profile: p})
		}
	}
	return keys
}
