package terrain

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestSynthesizeNormalsFlat(t *testing.T) {
	ext := geoExtent(0, 0, 1, 1)
	hf := NewHeightfield(5, 5)
	hf.Fill(300)
	nm := NewNormalMap(5, 5)

	SynthesizeNormals(ext, hf, nil, nm)

	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			n := nm.At(c, r)
			if math.Abs(n.X) > 1e-9 || math.Abs(n.Y) > 1e-9 || math.Abs(n.Z-1) > 1e-9 {
				t.Fatalf("flat terrain normal at (%d,%d) = %+v, want up", c, r, n)
			}
		}
	}
}

func TestSynthesizeNormalsSlope(t *testing.T) {
	ext := geoExtent(0, 0, 0.01, 0.01)
	hf := NewHeightfield(5, 5)
	// elevation rises to the east
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			hf.Set(c, r, float32(c)*100)
		}
	}
	nm := NewNormalMap(5, 5)
	SynthesizeNormals(ext, hf, nil, nm)

	n := nm.At(2, 2)
	if n.X >= 0 {
		t.Fatalf("east-rising slope should tilt the normal west, got X=%v", n.X)
	}
	if n.Z <= 0 {
		t.Fatalf("normal should still point up, got Z=%v", n.Z)
	}
	if math.Abs(r3.Norm(n)-1) > 1e-9 {
		t.Fatalf("normal not unit length: %v", r3.Norm(n))
	}
}

func TestSynthesizeNormalsUnitLength(t *testing.T) {
	ext := geoExtent(10, 40, 10.1, 40.1)
	hf := NewHeightfield(9, 9)
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			hf.Set(c, r, float32(math.Sin(float64(c))*200+math.Cos(float64(r))*150))
		}
	}
	nm := NewNormalMap(9, 9)
	SynthesizeNormals(ext, hf, nil, nm)
	for i, n := range nm.Normals {
		if math.Abs(r3.Norm(n)-1) > 1e-9 {
			t.Fatalf("normal %d not unit length: %v", i, r3.Norm(n))
		}
	}
}

func TestSynthesizeNormalsFallbackStepsCoarse(t *testing.T) {
	// With delta=1 everywhere, normals are anchored at even sample
	// positions and interpolated between them.
	ext := geoExtent(0, 0, 1, 1)
	hf := NewHeightfield(5, 5)
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			hf.Set(c, r, float32(math.Sin(float64(c)*1.1)*300+float64(r*r)*40))
		}
	}
	delta := make([]int16, 25)
	for i := range delta {
		delta[i] = 1
	}
	nm := NewNormalMap(5, 5)
	SynthesizeNormals(ext, hf, delta, nm)

	near := func(a, b r3.Vec) bool {
		return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9 && math.Abs(a.Z-b.Z) < 1e-9
	}

	// Anchor position: the normal is the plain surface normal there.
	want := r3.Unit(normalAt(ext, hf, 2, 2))
	if got := nm.At(2, 2); !near(got, want) {
		t.Fatalf("anchor normal = %+v, want %+v", got, want)
	}

	// Between anchors along a row: equal-weight blend of the flanking
	// anchor normals, not the fine-resolution normal at that sample.
	wn := normalAt(ext, hf, 0, 2)
	en := normalAt(ext, hf, 2, 2)
	want = r3.Unit(r3.Add(wn, en))
	if got := nm.At(1, 2); !near(got, want) {
		t.Fatalf("interpolated normal = %+v, want %+v", got, want)
	}
	fine := r3.Unit(normalAt(ext, hf, 1, 2))
	if near(nm.At(1, 2), fine) {
		t.Fatal("fallback position used the fine-resolution normal")
	}
}

func TestNormalMapStartsUp(t *testing.T) {
	nm := NewNormalMap(3, 3)
	for _, n := range nm.Normals {
		if n != UpNormal {
			t.Fatalf("fresh normal map holds %+v, want up", n)
		}
	}
}
