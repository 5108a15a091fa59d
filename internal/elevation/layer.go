// Package elevation is the tile resolution and compositing engine: it
// resolves single-source tiles through the cache tiers, assembles
// tiles across tiling schemes, and composites prioritized layer stacks
// into seam-free elevation grids with synthesized normals.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/source"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
	"github.com/relief-data/terrain.report/internal/tilecache"
)

// ErrWriteUnsupported is returned by WriteHeightfield when the layer's
// backend cannot accept tiles.
var ErrWriteUnsupported = errors.New("elevation: backend does not support writing")

// LayerOptions configures a Layer. Pointer fields follow "set or
// default" semantics: nil means use the documented default, resolved
// once at construction.
type LayerOptions struct {
	Name string

	// Offset marks the layer's values as additive on top of the
	// resolved base elevation rather than replacing it.
	Offset bool

	// MinLevel excludes the layer from requests coarser than this LOD.
	MinLevel uint32

	// MaxLevel bounds the legal LOD range. Default 33. Distinct from the
	// backend's MaxDataLevel: keys past MaxDataLevel fall back to
	// ancestors, keys past MaxLevel are refused outright.
	MaxLevel *uint32

	// TileSize overrides the backend's native tile size.
	TileSize *int

	// NoDataValue is the backend's own sentinel. Default: the canonical
	// sentinel.
	NoDataValue *float32

	// MinValidValue / MaxValidValue bound plausible samples; anything
	// outside is rewritten to the sentinel. Defaults -11000 / 9000
	// (below the Mariana Trench, above Everest).
	MinValidValue *float32
	MaxValidValue *float32

	// VDatum overrides the vertical datum of the layer's profile.
	VDatum *geo.Datum

	// Policy gates the persistent cache tier.
	Policy tilecache.Policy

	// MemCacheTiles bounds the in-process tier. Default 128; negative
	// disables it.
	MemCacheTiles *int
}

const (
	defaultMaxLevel      = uint32(33)
	defaultMinValid      = float32(-11000)
	defaultMaxValid      = float32(9000)
	defaultMemCacheTiles = 128
)

// Layer resolves tiles for one data source, applying the cache tiers,
// vertical-datum correction, and sample sanitation. Safe for concurrent
// use.
type Layer struct {
	name     string
	backend  source.Backend
	profile  *tile.Profile
	tileSize int
	offset   bool
	minLevel uint32
	maxLevel uint32
	noData   float32
	minValid float32
	maxValid float32
	policy   tilecache.Policy
	store    tilecache.Store
	mem      *tilecache.MemCache
	sf       singleflight.Group

	mu       sync.Mutex
	enabled  bool
	visible  bool
	status   error
	revision string

	now func() time.Time // test hook
}

// NewLayer builds a layer over a backend. store may be nil to run
// without a persistent tier.
func NewLayer(opts LayerOptions, backend source.Backend, store tilecache.Store) *Layer {
	profile := backend.Profile()
	if opts.VDatum != nil && profile.SRS.Datum != *opts.VDatum {
		// Datum override: clone the profile with the new vertical datum.
		// Horizontal tiling (and therefore the cache signature) is
		// unchanged.
		srs := *profile.SRS
		srs.Datum = *opts.VDatum
		p := *profile
		p.SRS = &srs
		p.Extent.SRS = &srs
		profile = &p
		log.Printf("[elevation] layer %q: vdatum override %q", opts.Name, *opts.VDatum)
	}

	tileSize := backend.TileSize()
	if opts.TileSize != nil {
		tileSize = *opts.TileSize
	}
	maxLevel := defaultMaxLevel
	if opts.MaxLevel != nil {
		maxLevel = *opts.MaxLevel
	}
	noData := terrain.NoDataValue
	if opts.NoDataValue != nil {
		noData = *opts.NoDataValue
	}
	minValid := defaultMinValid
	if opts.MinValidValue != nil {
		minValid = *opts.MinValidValue
	}
	maxValid := defaultMaxValid
	if opts.MaxValidValue != nil {
		maxValid = *opts.MaxValidValue
	}
	memTiles := defaultMemCacheTiles
	if opts.MemCacheTiles != nil {
		memTiles = *opts.MemCacheTiles
	}

	return &Layer{
		name:     opts.Name,
		backend:  backend,
		profile:  profile,
		tileSize: tileSize,
		offset:   opts.Offset,
		minLevel: opts.MinLevel,
		maxLevel: maxLevel,
		noData:   noData,
		minValid: minValid,
		maxValid: maxValid,
		policy:   opts.Policy,
		store:    store,
		mem:      tilecache.NewMemCache(memTiles),
		enabled:  true,
		visible:  true,
		revision: uuid.NewString(),
		now:      time.Now,
	}
}

// Name returns the layer name.
func (l *Layer) Name() string { return l.name }

// Profile returns the layer's tiling scheme (with any datum override
// applied).
func (l *Layer) Profile() *tile.Profile { return l.profile }

// TileSize returns the layer's native grid edge length.
func (l *Layer) TileSize() int { return l.tileSize }

// IsOffset reports whether the layer is additive.
func (l *Layer) IsOffset() bool { return l.offset }

// MinLevel returns the coarsest LOD the layer participates in.
func (l *Layer) MinLevel() uint32 { return l.minLevel }

// Enabled reports whether the layer participates in resolution at all.
func (l *Layer) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Visible mirrors Enabled for elevation layers; the two are kept in
// sync because elevation data does not render independently.
func (l *Layer) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

// SetEnabled toggles the layer, keeping visibility in sync.
func (l *Layer) SetEnabled(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = v
	l.visible = v
}

// Status returns the layer's sticky failure, if any.
func (l *Layer) Status() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Disable puts the layer into a sticky error state. This is the
// longer-lived "layer is broken" signal, distinct from a per-tile
// no-data result.
func (l *Layer) Disable(why error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = why
	log.Printf("[elevation] layer %q disabled: %v", l.name, why)
}

// Revision returns the current revision token. Memory-cache keys embed
// it, so bumping the revision invalidates the in-process tier.
func (l *Layer) Revision() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.revision
}

// BumpRevision invalidates the in-process tier, e.g. after the backend
// data changed underneath the layer.
func (l *Layer) BumpRevision() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revision = uuid.NewString()
}

// KeyInLegalRange reports whether the key's LOD is inside the layer's
// configured [MinLevel, MaxLevel] window.
func (l *Layer) KeyInLegalRange(k tile.Key) bool {
	return k.Valid() && k.LOD >= l.minLevel && k.LOD <= l.maxLevel
}

// maxDataLevelIn expresses the backend's max data level in the given
// profile's LOD numbering.
func (l *Layer) maxDataLevelIn(p *tile.Profile) uint32 {
	maxData := l.backend.MaxDataLevel()
	if p.HorizEquivalentTo(l.profile) {
		return maxData
	}
	return p.EquivalentLOD(l.profile, maxData)
}

// BestAvailableKey returns the finest ancestor of k (possibly k itself)
// for which the backend may actually carry data, or an invalid key when
// the layer has no data anywhere under k.
func (l *Layer) BestAvailableKey(k tile.Key) tile.Key {
	if !k.Valid() {
		return tile.Key{}
	}
	if ext := l.backend.DataExtent(); ext.Valid() && !ext.Intersects(k.Extent()) {
		return tile.Key{}
	}
	maxData := l.maxDataLevelIn(k.Profile)
	for k.Valid() && k.LOD > maxData {
		k = k.Parent()
	}
	return k
}

// MayHaveData reports whether the backend may carry data at exactly
// this key (rather than only at an ancestor).
func (l *Layer) MayHaveData(k tile.Key) bool {
	return k.Equal(l.BestAvailableKey(k))
}

// CreateHeightfield resolves one tile for this layer. The zero
// GeoHeightfield means no data; the error is non-nil only for
// cancellation or a backend fault, and callers treat both as "no data
// at this key".
func (l *Layer) CreateHeightfield(ctx context.Context, key tile.Key) (terrain.GeoHeightfield, error) {
	if !l.Enabled() || l.Status() != nil || !key.Valid() {
		return terrain.GeoHeightfield{}, nil
	}

	// Memory-cache fast path. The key combines revision, tile address
	// and scheme signature.
	memKey := fmt.Sprintf("%s/%s/%s", l.Revision(), key, key.Profile.Signature())
	if g, ok := l.mem.Get(memKey); ok {
		return g, nil
	}

	// At-most-one-producer: concurrent calls for the same tile share a
	// single production. A canceled leader cancels its followers too;
	// they retry on their next request.
	v, err, _ := l.sf.Do(memKey, func() (interface{}, error) {
		g, err := l.createInKeyProfile(ctx, key)
		if err != nil {
			return terrain.GeoHeightfield{}, err
		}
		if g.Valid() {
			l.mem.Put(memKey, g)
		}
		return g, nil
	})
	if err != nil {
		return terrain.GeoHeightfield{}, err
	}
	return v.(terrain.GeoHeightfield), nil
}

// createInKeyProfile is the single-source resolution ladder: persistent
// cache, then backend (directly or via cross-scheme assembly), then the
// expired-cache fallback.
func (l *Layer) createInKeyProfile(ctx context.Context, key tile.Key) (terrain.GeoHeightfield, error) {
	cacheKey := key.CacheKey()

	var fresh *terrain.Heightfield
	var freshNM *terrain.NormalMap
	var expired *terrain.Heightfield // fallback candidate, used only as a last resort
	fromCache := false

	if l.store != nil && l.policy.Readable {
		payload, modified, ok, err := l.store.Read(cacheKey)
		if err != nil {
			log.Printf("[elevation] layer %q: cache read %s: %v", l.name, key, err)
		} else if ok {
			hf, derr := tilecache.DecodeHeightfield(payload)
			if derr != nil {
				// Malformed cache payload: discard and recompute.
				log.Printf("[elevation] layer %q: discarding invalid cache entry %s: %v", l.name, key, derr)
			} else if l.policy.Expired(modified, l.now()) {
				expired = hf
			} else {
				fresh = hf
				fromCache = true
			}
		}
	}

	// Cache-only layers never reach the backend; expired entries do not
	// count as usable here.
	if fresh == nil && l.policy.CacheOnly {
		return terrain.GeoHeightfield{}, nil
	}

	if fresh == nil {
		if !l.KeyInLegalRange(key) {
			return terrain.GeoHeightfield{}, nil
		}

		var err error
		if key.Profile.HorizEquivalentTo(l.profile) {
			fresh, err = l.backend.Fetch(ctx, key)
			if err != nil {
				// Non-fatal: fall through to the expired candidate below.
				log.Printf("[elevation] layer %q: fetch %s: %v", l.name, key, err)
				fresh = nil
			}
		} else {
			fresh, freshNM, err = l.assembleHeightfield(ctx, key)
			if err != nil {
				return terrain.GeoHeightfield{}, err
			}
		}

		// Cancellation check before any cache write.
		if err := ctx.Err(); err != nil {
			return terrain.GeoHeightfield{}, err
		}

		if fresh != nil && !terrain.Validate(fresh) {
			log.Printf("[elevation] layer %q: generated an illegal heightfield for %s (%dx%d)", l.name, key, fresh.Width, fresh.Height)
			fresh = nil // fall back on cached data if possible
			freshNM = nil
		}

		if fresh != nil {
			if !key.Profile.SRS.VertEquivalentTo(l.profile.SRS) {
				l.transformDatum(fresh, key)
			}
			fresh.Sanitize(l.noData, l.minValid, l.maxValid)
		}

		// Write-back: only freshly produced, validated grids, and never
		// ones that were themselves served from the cache.
		if fresh != nil && l.store != nil && !fromCache && l.policy.Writable {
			payload, err := tilecache.EncodeHeightfield(fresh)
			if err == nil {
				err = l.store.Write(cacheKey, payload)
			}
			if err != nil {
				log.Printf("[elevation] layer %q: cache write %s: %v", l.name, key, err)
			}
		}

		// Expired-but-present beats a hole: serve stale data when every
		// fresher option is exhausted.
		if fresh == nil && expired != nil {
			fresh = expired
		}

		if fresh == nil {
			return terrain.GeoHeightfield{}, nil
		}
	}

	result := terrain.GeoHeightfield{HF: fresh, NM: freshNM, Extent: key.Extent()}

	if err := ctx.Err(); err != nil {
		return terrain.GeoHeightfield{}, err
	}
	return result, nil
}

// transformDatum shifts the grid's samples from the layer's vertical
// datum into the requested key's datum. Runs before sanitation, so a
// shifted source sentinel still ends up rewritten.
func (l *Layer) transformDatum(hf *terrain.Heightfield, key tile.Key) {
	ext := key.Extent()
	geoSRS := geo.GeographicSRS(key.Profile.SRS.Datum)
	dx := ext.Width() / float64(hf.Width-1)
	dy := ext.Height() / float64(hf.Height-1)

	geo.TransformHeights(l.profile.SRS.Datum, key.Profile.SRS.Datum, hf.Samples, func(i int) (float64, float64) {
		c := i % hf.Width
		r := i / hf.Width
		x := ext.XMin + dx*float64(c)
		y := ext.YMin + dy*float64(r)
		lon, lat, err := geo.Transform(x, y, ext.SRS, geoSRS)
		if err != nil {
			return 0, 0
		}
		return lon, lat
	})
}

// TileWriter is implemented by backends that accept tiles.
type TileWriter interface {
	WriteTile(ctx context.Context, key tile.Key, hf *terrain.Heightfield) error
}

// WriteHeightfield pushes a tile into a writable backend, for layers
// that act as an editable store.
func (l *Layer) WriteHeightfield(ctx context.Context, key tile.Key, hf *terrain.Heightfield) error {
	w, ok := l.backend.(TileWriter)
	if !ok {
		return ErrWriteUnsupported
	}
	if !terrain.Validate(hf) {
		return fmt.Errorf("elevation: refusing to write invalid grid for %s", key)
	}
	if err := w.WriteTile(ctx, key, hf); err != nil {
		return err
	}
	l.BumpRevision()
	return nil
}
