// Package source defines the data-source backend boundary: the thing
// that produces a single native tile's samples from disk or network.
// Backends may be slow or remote; a backend failure is non-fatal to the
// caller and is treated as "no data at this key".
package source

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
)

// Backend produces native tiles for one elevation dataset.
type Backend interface {
	// Name identifies the dataset for logging and cache keys.
	Name() string
	// Profile is the dataset's native tiling scheme.
	Profile() *tile.Profile
	// TileSize is the native grid edge length in samples.
	TileSize() int
	// MaxDataLevel is the finest LOD the dataset carries.
	MaxDataLevel() uint32
	// DataExtent bounds the dataset's coverage. A zero extent means the
	// whole profile extent.
	DataExtent() geo.Extent
	// Fetch returns the tile at key, (nil, nil) when the dataset has no
	// data there, or an error for a backend fault.
	Fetch(ctx context.Context, key tile.Key) (*terrain.Heightfield, error)
}

// MemBackend is an in-memory Backend used by tools and tests. Tiles are
// stored against their key string; a FetchFunc may be supplied instead
// for procedural data. It counts fetches so tests can assert on how
// many times the expensive path ran.
type MemBackend struct {
	DatasetName string
	TileProfile *tile.Profile
	Size        int
	MaxLevel    uint32
	Extent      geo.Extent
	FetchFunc   func(ctx context.Context, key tile.Key) (*terrain.Heightfield, error)

	mu      sync.RWMutex
	tiles   map[string]*terrain.Heightfield
	fetches atomic.Int64
}

var _ Backend = (*MemBackend)(nil)

func (m *MemBackend) Name() string           { return m.DatasetName }
func (m *MemBackend) Profile() *tile.Profile { return m.TileProfile }
func (m *MemBackend) TileSize() int          { return m.Size }
func (m *MemBackend) MaxDataLevel() uint32   { return m.MaxLevel }
func (m *MemBackend) DataExtent() geo.Extent { return m.Extent }

// Put registers a tile for key.
func (m *MemBackend) Put(key tile.Key, hf *terrain.Heightfield) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tiles == nil {
		m.tiles = make(map[string]*terrain.Heightfield)
	}
	m.tiles[key.String()] = hf
}

// Fetch returns the stored or procedurally generated tile.
func (m *MemBackend) Fetch(ctx context.Context, key tile.Key) (*terrain.Heightfield, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.fetches.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	hf, ok := m.tiles[key.String()]
	if !ok {
		return nil, nil
	}
	return hf.Clone(), nil
}

// FetchCount returns how many times Fetch has run.
func (m *MemBackend) FetchCount() int64 { return m.fetches.Load() }
