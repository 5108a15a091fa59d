package geo

import "fmt"

// Extent is an axis-aligned bounding box in the coordinates of its SRS.
type Extent struct {
	SRS  *SRS
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// Width returns the horizontal span of the extent.
func (e Extent) Width() float64 { return e.XMax - e.XMin }

// Height returns the vertical span of the extent.
func (e Extent) Height() float64 { return e.YMax - e.YMin }

// Valid reports whether the extent has a reference system and positive area.
func (e Extent) Valid() bool {
	return e.SRS != nil && e.XMax > e.XMin && e.YMax > e.YMin
}

// Contains reports whether the point (x, y), expressed in the extent's
// own SRS, lies inside the extent (edges inclusive).
func (e Extent) Contains(x, y float64) bool {
	return x >= e.XMin && x <= e.XMax && y >= e.YMin && y <= e.YMax
}

// Intersects reports whether two extents in the same horizontal system
// overlap. Extents in different systems are transformed first; if no
// transform exists they are treated as disjoint.
func (e Extent) Intersects(o Extent) bool {
	if !e.Valid() || !o.Valid() {
		return false
	}
	if !e.SRS.HorizEquivalentTo(o.SRS) {
		t, err := o.TransformTo(e.SRS)
		if err != nil {
			return false
		}
		o = t
	}
	return e.XMin <= o.XMax && e.XMax >= o.XMin && e.YMin <= o.YMax && e.YMax >= o.YMin
}

// TransformTo re-expresses the extent in another horizontal system by
// transforming its corners.
func (e Extent) TransformTo(srs *SRS) (Extent, error) {
	if e.SRS.HorizEquivalentTo(srs) {
		out := e
		out.SRS = srs
		return out, nil
	}
	x0, y0, err := Transform(e.XMin, e.YMin, e.SRS, srs)
	if err != nil {
		return Extent{}, err
	}
	x1, y1, err := Transform(e.XMax, e.YMax, e.SRS, srs)
	if err != nil {
		return Extent{}, err
	}
	return Extent{SRS: srs, XMin: x0, YMin: y0, XMax: x1, YMax: y1}, nil
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g,%g => %g,%g @%s]", e.XMin, e.YMin, e.XMax, e.YMax, e.SRS)
}
