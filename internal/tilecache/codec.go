package tilecache

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"

	"github.com/relief-data/terrain.report/internal/terrain"
)

// gridSnapshot is the persisted form of a heightfield: the grid plus
// enough footprint metadata to rebuild a GeoHeightfield against a known
// profile. Normals are not persisted; they are cheap to resynthesize
// and would double the payload.
type gridSnapshot struct {
	Width   int
	Height  int
	Samples []float32
}

// EncodeHeightfield serializes a heightfield with gob encoding and gzip
// compression for the persistent tier.
func EncodeHeightfield(hf *terrain.Heightfield) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(gridSnapshot{Width: hf.Width, Height: hf.Height, Samples: hf.Samples}); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeHeightfield deserializes a persisted payload. A payload that
// does not decode, or decodes to a grid failing validation, is an
// invalid tile: the caller discards it and recomputes.
func DecodeHeightfield(payload []byte) (*terrain.Heightfield, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cache payload gzip: %w", err)
	}
	defer gz.Close()

	var snap gridSnapshot
	if err := gob.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, fmt.Errorf("cache payload gob: %w", err)
	}
	hf := &terrain.Heightfield{Width: snap.Width, Height: snap.Height, Samples: snap.Samples}
	if !terrain.Validate(hf) {
		return nil, fmt.Errorf("cache payload failed grid validation (%dx%d, %d samples)", snap.Width, snap.Height, len(snap.Samples))
	}
	return hf, nil
}
