// Package geo provides the spatial-reference primitives the elevation
// engine depends on: reference systems, extents, the ellipsoid model,
// and vertical datum reconciliation.
//
// Only the two reference systems the tiling schemes use are supported
// (geographic WGS84 and spherical mercator). Anything fancier belongs
// in a real projection library, not here.
package geo

import (
	"fmt"
	"math"
)

// Ellipsoid holds the semi-axes of a reference ellipsoid in meters.
type Ellipsoid struct {
	EquatorRadius float64
	PolarRadius   float64
}

// WGS84 is the reference ellipsoid used by both built-in systems.
var WGS84 = Ellipsoid{
	EquatorRadius: 6378137.0,
	PolarRadius:   6356752.3142,
}

// MetersPerDegree returns the linear distance of one degree of arc at
// the equator.
func (e Ellipsoid) MetersPerDegree() float64 {
	return (2.0 * math.Pi * e.EquatorRadius) / 360.0
}

// SRS identifies a horizontal reference system plus an optional
// vertical datum. Two SRS values with the same Name are horizontally
// equivalent regardless of datum; the datum only affects the meaning
// of elevation samples.
type SRS struct {
	Name       string // "wgs84" or "spherical-mercator"
	Geographic bool   // true when units are degrees rather than meters
	Datum      Datum  // vertical datum for elevation values
	Ellipsoid  Ellipsoid
}

// Geographic returns the geographic WGS84 system with the given datum.
func GeographicSRS(datum Datum) *SRS {
	return &SRS{Name: "wgs84", Geographic: true, Datum: datum, Ellipsoid: WGS84}
}

// MercatorSRS returns the spherical-mercator system with the given datum.
func MercatorSRS(datum Datum) *SRS {
	return &SRS{Name: "spherical-mercator", Geographic: false, Datum: datum, Ellipsoid: WGS84}
}

// HorizEquivalentTo reports whether two systems share horizontal
// coordinates (vertical datum ignored).
func (s *SRS) HorizEquivalentTo(o *SRS) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Name == o.Name
}

// VertEquivalentTo reports whether elevation values in s can be used in
// o without a datum shift.
func (s *SRS) VertEquivalentTo(o *SRS) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Datum == o.Datum
}

func (s *SRS) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.Datum == DatumEllipsoid {
		return s.Name
	}
	return fmt.Sprintf("%s+%s", s.Name, s.Datum)
}

// mercator bounds: the full spherical-mercator square.
const mercatorMax = 20037508.342789244

// Transform converts a horizontal coordinate between the two supported
// systems. Same-system transforms are the identity.
func Transform(x, y float64, from, to *SRS) (float64, float64, error) {
	if from.HorizEquivalentTo(to) {
		return x, y, nil
	}
	switch {
	case from.Geographic && !to.Geographic:
		// degrees -> spherical mercator meters
		mx := x * mercatorMax / 180.0
		lat := math.Max(-89.99999, math.Min(89.99999, y))
		my := math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
		my = my * mercatorMax / 180.0
		return mx, my, nil
	case !from.Geographic && to.Geographic:
		lon := x / mercatorMax * 180.0
		lat := y / mercatorMax * 180.0
		lat = 180.0 / math.Pi * (2.0*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
		return lon, lat, nil
	}
	return 0, 0, fmt.Errorf("no transform from %s to %s", from, to)
}
