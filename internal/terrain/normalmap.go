package terrain

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// NormalMap stores one unit surface normal per heightfield sample, plus
// a per-sample confidence in [0,1]. Layout matches Heightfield: row
// major, row 0 southernmost.
type NormalMap struct {
	Width      int
	Height     int
	Normals    []r3.Vec
	Confidence []float32
}

// UpNormal is the placeholder written where no elevation data exists.
var UpNormal = r3.Vec{X: 0, Y: 0, Z: 1}

// NewNormalMap allocates a map with every normal facing up and zero
// confidence.
func NewNormalMap(width, height int) *NormalMap {
	nm := &NormalMap{
		Width:      width,
		Height:     height,
		Normals:    make([]r3.Vec, width*height),
		Confidence: make([]float32, width*height),
	}
	for i := range nm.Normals {
		nm.Normals[i] = UpNormal
	}
	return nm
}

// At returns the normal at column c, row r.
func (nm *NormalMap) At(c, r int) r3.Vec { return nm.Normals[r*nm.Width+c] }

// Set writes the normal and confidence at column c, row r.
func (nm *NormalMap) Set(c, r int, n r3.Vec, conf float32) {
	i := r*nm.Width + c
	nm.Normals[i] = n
	nm.Confidence[i] = conf
}
