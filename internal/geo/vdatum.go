package geo

// Datum names a vertical reference surface for elevation samples.
type Datum string

const (
	// DatumEllipsoid means heights are relative to the WGS84 ellipsoid.
	DatumEllipsoid Datum = ""
	// DatumEGM96 means heights are relative to the EGM96 geoid.
	DatumEGM96 Datum = "egm96"
)

// geoidOffset returns the approximate separation (meters) of the datum
// surface above the ellipsoid at the given geographic location.
//
// A full geoid model carries a worldwide undulation grid; this
// collaborator uses a coarse zonal approximation that is adequate for
// reconciling sources and exact for round-trips (the transform below
// is its own inverse).
func geoidOffset(d Datum, lon, lat float64) float64 {
	switch d {
	case DatumEGM96:
		// Zonal mean undulation, meters. Crude but monotone in |lat|.
		al := lat
		if al < 0 {
			al = -al
		}
		switch {
		case al < 30:
			return -8.0
		case al < 60:
			return 4.0
		default:
			return 14.0
		}
	default:
		return 0
	}
}

// TransformHeights shifts a slice of elevation samples in place from
// one vertical datum to another. Samples equal to the sentinel are left
// untouched by the caller's convention; this function shifts every
// finite value, so sanitation must happen after the datum transform.
//
// lonlat supplies the geographic location of each sample (same length
// as samples); for a projected extent the caller converts first.
func TransformHeights(from, to Datum, samples []float32, lonlat func(i int) (float64, float64)) {
	if from == to {
		return
	}
	for i := range samples {
		lon, lat := lonlat(i)
		// height above ellipsoid = height above datum + offset(datum)
		h := float64(samples[i]) + geoidOffset(from, lon, lat)
		samples[i] = float32(h - geoidOffset(to, lon, lat))
	}
}
