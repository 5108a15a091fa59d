package terrain

// FillHoles rewrites every remaining no-data sample with the value of
// its nearest valid neighbor, searched in expanding square rings. A
// grid with no valid samples at all is filled with zeros.
//
// This is the last pass over a composited grid: after it, consumers
// never see the sentinel.
func FillHoles(hf *Heightfield) {
	anyValid := false
	for _, v := range hf.Samples {
		if v != NoDataValue {
			anyValid = true
			break
		}
	}
	if !anyValid {
		hf.Fill(0)
		return
	}

	// Fill from a snapshot so already-filled holes don't seed later ones.
	src := hf.Clone()

	maxRing := hf.Width
	if hf.Height > maxRing {
		maxRing = hf.Height
	}

	for r := 0; r < hf.Height; r++ {
		for c := 0; c < hf.Width; c++ {
			if src.At(c, r) != NoDataValue {
				continue
			}
			hf.Set(c, r, nearestValid(src, c, r, maxRing))
		}
	}
}

// nearestValid scans square rings of increasing radius around (c, r)
// and returns the first valid sample found.
func nearestValid(hf *Heightfield, c, r, maxRing int) float32 {
	for ring := 1; ring <= maxRing; ring++ {
		for rr := r - ring; rr <= r+ring; rr++ {
			if rr < 0 || rr >= hf.Height {
				continue
			}
			for cc := c - ring; cc <= c+ring; cc++ {
				if cc < 0 || cc >= hf.Width {
					continue
				}
				// ring perimeter only
				if rr != r-ring && rr != r+ring && cc != c-ring && cc != c+ring {
					continue
				}
				if v := hf.At(cc, rr); v != NoDataValue {
					return v
				}
			}
		}
	}
	return 0
}
