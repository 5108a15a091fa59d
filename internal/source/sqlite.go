package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
	"github.com/relief-data/terrain.report/internal/tilecache"
)

// SQLiteBackend serves native tiles from the tile_store table. One
// database can hold several datasets, distinguished by source_id.
type SQLiteBackend struct {
	db       *tilecache.DB
	sourceID string
	profile  *tile.Profile
	size     int
	maxLevel uint32
	extent   geo.Extent
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend creates a backend reading dataset sourceID from db.
// extent may be the zero value when the dataset covers the whole
// profile.
func NewSQLiteBackend(db *tilecache.DB, sourceID string, profile *tile.Profile, tileSize int, maxLevel uint32, extent geo.Extent) *SQLiteBackend {
	return &SQLiteBackend{
		db:       db,
		sourceID: sourceID,
		profile:  profile,
		size:     tileSize,
		maxLevel: maxLevel,
		extent:   extent,
	}
}

func (b *SQLiteBackend) Name() string           { return b.sourceID }
func (b *SQLiteBackend) Profile() *tile.Profile { return b.profile }
func (b *SQLiteBackend) TileSize() int          { return b.size }
func (b *SQLiteBackend) MaxDataLevel() uint32   { return b.maxLevel }
func (b *SQLiteBackend) DataExtent() geo.Extent { return b.extent }

// Fetch reads one native tile. Missing rows are no-data, not errors.
func (b *SQLiteBackend) Fetch(ctx context.Context, key tile.Key) (*terrain.Heightfield, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM tile_store WHERE source_id = ? AND lod = ? AND x = ? AND y = ?`,
		b.sourceID, key.LOD, key.X, key.Y,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tile_store read %s %s: %w", b.sourceID, key, err)
	}
	hf, err := tilecache.DecodeHeightfield(payload)
	if err != nil {
		return nil, fmt.Errorf("tile_store payload %s %s: %w", b.sourceID, key, err)
	}
	return hf, nil
}

// WriteTile stores one native tile, replacing any previous row. Used by
// the seed tool and by layers with writing enabled.
func (b *SQLiteBackend) WriteTile(ctx context.Context, key tile.Key, hf *terrain.Heightfield) error {
	payload, err := tilecache.EncodeHeightfield(hf)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO tile_store (source_id, lod, x, y, width, height, payload, created_unix_nanos)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, lod, x, y) DO UPDATE SET
		   width = excluded.width,
		   height = excluded.height,
		   payload = excluded.payload,
		   created_unix_nanos = excluded.created_unix_nanos`,
		b.sourceID, key.LOD, key.X, key.Y, hf.Width, hf.Height, payload, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("tile_store write %s %s: %w", b.sourceID, key, err)
	}
	return nil
}
