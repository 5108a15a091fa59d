package terrain

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relief-data/terrain.report/internal/geo"
)

// normalAt computes the surface normal at column s, row t from the four
// axis-aligned neighbors via a central-difference cross product in the
// local tangent plane. Neighbors past a grid edge are omitted, leaving
// a one-sided difference.
func normalAt(extent geo.Extent, hf *Heightfield, s, t int) r3.Vec {
	w := hf.Width
	h := hf.Height

	dx := extent.Width() / float64(w-1)
	dy := extent.Height() / float64(h-1)

	if extent.SRS.Geographic {
		// Angular spacing -> linear distance. Longitudinal spacing shrinks
		// with latitude.
		mPerDeg := extent.SRS.Ellipsoid.MetersPerDegree()
		lat := extent.YMin + (extent.Height()/float64(h-1))*float64(t)
		dy = dy * mPerDeg
		dx = dx * mPerDeg * math.Cos(lat*math.Pi/180.0)
	}

	e := float64(hf.At(s, t))
	west := r3.Vec{X: 0, Y: 0, Z: e}
	east := r3.Vec{X: 0, Y: 0, Z: e}
	south := r3.Vec{X: 0, Y: 0, Z: e}
	north := r3.Vec{X: 0, Y: 0, Z: e}

	if s > 0 {
		west = r3.Vec{X: -dx, Y: 0, Z: float64(hf.At(s-1, t))}
	}
	if s < w-1 {
		east = r3.Vec{X: dx, Y: 0, Z: float64(hf.At(s+1, t))}
	}
	if t > 0 {
		south = r3.Vec{X: 0, Y: -dy, Z: float64(hf.At(s, t-1))}
	}
	if t < h-1 {
		north = r3.Vec{X: 0, Y: dy, Z: float64(hf.At(s, t+1))}
	}

	return r3.Cross(r3.Sub(east, west), r3.Sub(north, south))
}

// SynthesizeNormals fills nm with normals for hf.
//
// deltaLOD holds, per sample, the difference between the grid's LOD and
// the LOD the elevation value actually came from. It is positive where
// the compositor fell back on coarser ancestor data; there, normals are
// computed only at the coarser grid's true sample positions (stepping
// by 2^delta) and interpolated down to the fine grid. Sampling
// neighboring fine pixels instead would produce faceting where the
// resolution changes across the grid.
//
// An offset layer overwrites the recorded delta, so a coarse base under
// a fine offset can still facet; fixing that would require spline
// sampling into a separate grid. See the compositor.
func SynthesizeNormals(extent geo.Extent, hf *Heightfield, deltaLOD []int16, nm *NormalMap) {
	w := hf.Width
	h := hf.Height

	for t := 0; t < h; t++ {
		for s := 0; s < w; s++ {
			step := 1
			if deltaLOD != nil && deltaLOD[t*w+s] > 0 {
				step = 1 << deltaLOD[t*w+s]
			}

			var normal r3.Vec

			if step == 1 {
				normal = normalAt(extent, hf, s, t)
			} else {
				s0 := maxi(s-(s%step), 0)
				s1 := s0
				if s%step != 0 {
					s1 = mini(s0+step, w-1)
				}
				t0 := maxi(t-(t%step), 0)
				t1 := t0
				if t%step != 0 {
					t1 = mini(t0+step, h-1)
				}

				switch {
				case s0 == s1 && t0 == t1:
					normal = normalAt(extent, hf, s0, t0)
				case s0 == s1:
					// same column; interpolate along the row axis
					sn := normalAt(extent, hf, s0, t0)
					nn := normalAt(extent, hf, s0, t1)
					normal = r3.Add(r3.Scale(float64(t1-t), sn), r3.Scale(float64(t-t0), nn))
				case t0 == t1:
					// same row; interpolate along the column axis
					wn := normalAt(extent, hf, s0, t0)
					en := normalAt(extent, hf, s1, t0)
					normal = r3.Add(r3.Scale(float64(s1-s), wn), r3.Scale(float64(s-s0), en))
				default:
					sw := normalAt(extent, hf, s0, t0)
					se := normalAt(extent, hf, s1, t0)
					nw := normalAt(extent, hf, s0, t1)
					ne := normalAt(extent, hf, s1, t1)
					sn := r3.Add(r3.Scale(float64(s1-s), sw), r3.Scale(float64(s-s0), se))
					nn := r3.Add(r3.Scale(float64(s1-s), nw), r3.Scale(float64(s-s0), ne))
					normal = r3.Add(r3.Scale(float64(t1-t), sn), r3.Scale(float64(t-t0), nn))
				}
			}

			if r3.Norm(normal) == 0 {
				normal = UpNormal
			}
			nm.Set(s, t, r3.Unit(normal), 0)
		}
	}
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func mini(a, b int) int {
	if a < b {
		return a
	}
	return b
}
