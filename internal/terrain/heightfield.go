// Package terrain owns the grid value types exchanged by the elevation
// engine: elevation heightfields, normal maps, and georeferenced
// combinations of the two, plus sampling, validation, hole filling and
// normal synthesis over them.
package terrain

import (
	"math"
)

// NoDataValue is the reserved elevation meaning "no sample here". It is
// data, not an error: it flows through compositing and caching and is
// only resolved away by the final hole-fill pass.
const NoDataValue = float32(-math.MaxFloat32)

// Grid size limits accepted by Validate. A tile outside these bounds is
// malformed regardless of where it came from.
const (
	MinGridSize = 2
	MaxGridSize = 1024
)

// Heightfield is a row-major grid of elevation samples. Row 0 is the
// southernmost row; column 0 the westernmost column.
type Heightfield struct {
	Width   int
	Height  int
	Samples []float32
}

// NewHeightfield allocates a grid with every sample set to the no-data
// sentinel.
func NewHeightfield(width, height int) *Heightfield {
	hf := &Heightfield{
		Width:   width,
		Height:  height,
		Samples: make([]float32, width*height),
	}
	hf.Fill(NoDataValue)
	return hf
}

// Idx returns the flat index of column c, row r.
func (hf *Heightfield) Idx(c, r int) int { return r*hf.Width + c }

// At returns the sample at column c, row r.
func (hf *Heightfield) At(c, r int) float32 { return hf.Samples[r*hf.Width+c] }

// Set writes the sample at column c, row r.
func (hf *Heightfield) Set(c, r int, v float32) { hf.Samples[r*hf.Width+c] = v }

// Fill sets every sample to v.
func (hf *Heightfield) Fill(v float32) {
	for i := range hf.Samples {
		hf.Samples[i] = v
	}
}

// Clone returns a deep copy.
func (hf *Heightfield) Clone() *Heightfield {
	out := &Heightfield{Width: hf.Width, Height: hf.Height, Samples: make([]float32, len(hf.Samples))}
	copy(out.Samples, hf.Samples)
	return out
}

// Validate performs the sanity checks every grid must pass before it is
// composited or cached: present, sane dimensions, matching sample count.
func Validate(hf *Heightfield) bool {
	if hf == nil {
		return false
	}
	if hf.Width < MinGridSize || hf.Width > MaxGridSize {
		return false
	}
	if hf.Height < MinGridSize || hf.Height > MaxGridSize {
		return false
	}
	return len(hf.Samples) == hf.Width*hf.Height
}

// Sanitize rewrites every sample that is NaN, equals the source's own
// sentinel, or falls outside [minValid, maxValid] to the canonical
// no-data sentinel.
func (hf *Heightfield) Sanitize(sourceNoData, minValid, maxValid float32) {
	for i, v := range hf.Samples {
		if v != v || v == sourceNoData || v < minValid || v > maxValid {
			hf.Samples[i] = NoDataValue
		}
	}
}
