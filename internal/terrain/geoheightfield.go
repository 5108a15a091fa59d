package terrain

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relief-data/terrain.report/internal/geo"
)

// Interpolation selects how a grid is sampled at non-pixel positions.
type Interpolation int

const (
	InterpBilinear Interpolation = iota
	InterpNearest
)

// GeoHeightfield is a heightfield (optionally with normals) bound to a
// geographic footprint. Instances are immutable once returned from the
// engine; the zero value is the invalid result.
type GeoHeightfield struct {
	HF     *Heightfield
	NM     *NormalMap
	Extent geo.Extent
}

// Valid reports whether the value carries data.
func (g GeoHeightfield) Valid() bool {
	return g.HF != nil && g.Extent.Valid()
}

// XRes returns the horizontal sample spacing in the grid's own units.
func (g GeoHeightfield) XRes() float64 {
	return g.Extent.Width() / float64(g.HF.Width-1)
}

// YRes returns the vertical sample spacing in the grid's own units.
func (g GeoHeightfield) YRes() float64 {
	return g.Extent.Height() / float64(g.HF.Height-1)
}

// ElevationAt samples the grid at world coordinate (x, y) expressed in
// srs, transforming into the grid's system as needed. The boolean is
// false when the point is outside the footprint or no usable sample
// exists there; a no-data result inside the footprint returns
// (NoDataValue, true) so callers can distinguish "no coverage" from
// "covered but empty".
func (g GeoHeightfield) ElevationAt(srs *geo.SRS, x, y float64, interp Interpolation) (float32, bool) {
	lx, ly, err := geo.Transform(x, y, srs, g.Extent.SRS)
	if err != nil || !g.Extent.Contains(lx, ly) {
		return NoDataValue, false
	}
	return g.sample(lx, ly, interp), true
}

// ElevationAndNormalAt samples both the elevation and (when present)
// the paired normal at a world coordinate. Returns false when the point
// is outside the footprint or the sample is no-data; first-match mosaic
// assembly relies on that.
func (g GeoHeightfield) ElevationAndNormalAt(srs *geo.SRS, x, y float64, interp Interpolation) (float32, r3.Vec, bool) {
	lx, ly, err := geo.Transform(x, y, srs, g.Extent.SRS)
	if err != nil || !g.Extent.Contains(lx, ly) {
		return NoDataValue, UpNormal, false
	}
	e := g.sample(lx, ly, interp)
	if e == NoDataValue {
		return NoDataValue, UpNormal, false
	}
	n := UpNormal
	if g.NM != nil {
		c := int(math.Round((lx - g.Extent.XMin) / g.Extent.Width() * float64(g.NM.Width-1)))
		r := int(math.Round((ly - g.Extent.YMin) / g.Extent.Height() * float64(g.NM.Height-1)))
		n = g.NM.At(clampi(c, g.NM.Width-1), clampi(r, g.NM.Height-1))
	}
	return e, n, true
}

// sample interpolates at a point already in the grid's system and known
// to be inside the footprint.
func (g GeoHeightfield) sample(x, y float64, interp Interpolation) float32 {
	hf := g.HF
	u := (x - g.Extent.XMin) / g.Extent.Width() * float64(hf.Width-1)
	v := (y - g.Extent.YMin) / g.Extent.Height() * float64(hf.Height-1)

	if interp == InterpNearest {
		return hf.At(clampi(int(math.Round(u)), hf.Width-1), clampi(int(math.Round(v)), hf.Height-1))
	}

	c0 := clampi(int(math.Floor(u)), hf.Width-1)
	r0 := clampi(int(math.Floor(v)), hf.Height-1)
	c1 := clampi(c0+1, hf.Width-1)
	r1 := clampi(r0+1, hf.Height-1)
	fu := u - float64(c0)
	fv := v - float64(r0)

	s00 := hf.At(c0, r0)
	s10 := hf.At(c1, r0)
	s01 := hf.At(c0, r1)
	s11 := hf.At(c1, r1)

	// Bilinear only when all four corners hold data; otherwise fall back
	// to the nearest corner that does. Blending across a no-data edge
	// would drag valid samples toward the sentinel.
	if s00 != NoDataValue && s10 != NoDataValue && s01 != NoDataValue && s11 != NoDataValue {
		south := float64(s00)*(1-fu) + float64(s10)*fu
		north := float64(s01)*(1-fu) + float64(s11)*fu
		return float32(south*(1-fv) + north*fv)
	}

	best := NoDataValue
	bestD := math.Inf(1)
	corners := [4]struct {
		s      float32
		du, dv float64
	}{
		{s00, fu, fv},
		{s10, 1 - fu, fv},
		{s01, fu, 1 - fv},
		{s11, 1 - fu, 1 - fv},
	}
	for _, c := range corners {
		if c.s == NoDataValue {
			continue
		}
		d := c.du*c.du + c.dv*c.dv
		if d < bestD {
			bestD = d
			best = c.s
		}
	}
	return best
}

func clampi(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
