// Package config loads the terrain service configuration: the cache
// database, the request tiling profile, and the ordered layer stack.
// Optional fields are pointer-typed so a partial JSON file can override
// just the values it names; Get* accessors resolve defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical service config file.
const DefaultConfigPath = "config/terrain.defaults.json"

// knownProfiles and knownBackends bound what Validate accepts.
var knownProfiles = map[string]bool{
	"global-geodetic":    true,
	"spherical-mercator": true,
}

var knownBackends = map[string]bool{
	"sqlite": true,
}

// UnknownProfileError is returned when a config names a tiling profile
// the service does not know.
type UnknownProfileError struct{ Name string }

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("unknown profile %q", e.Name)
}

// LayerConfig describes one layer in the compositing stack. Stack order
// in the file is priority order: the last layer wins conflicts.
type LayerConfig struct {
	Name         *string `json:"name,omitempty"`
	Backend      *string `json:"backend,omitempty"`   // "sqlite"
	SourceID     *string `json:"source_id,omitempty"` // dataset name within the backend
	Profile      *string `json:"profile,omitempty"`
	Offset       *bool   `json:"offset,omitempty"`
	MinLevel     *uint32 `json:"min_level,omitempty"`
	MaxDataLevel *uint32 `json:"max_data_level,omitempty"`
	TileSize     *int    `json:"tile_size,omitempty"`
	VDatum       *string `json:"vdatum,omitempty"`

	// Persistent cache policy for this layer.
	CacheReadable *bool   `json:"cache_readable,omitempty"`
	CacheWritable *bool   `json:"cache_writable,omitempty"`
	CacheOnly     *bool   `json:"cache_only,omitempty"`
	CacheMaxAge   *string `json:"cache_max_age,omitempty"` // duration string like "24h"
}

// ServiceConfig is the root configuration.
type ServiceConfig struct {
	DBPath        *string       `json:"db_path,omitempty"`
	MigrationsDir *string       `json:"migrations_dir,omitempty"`
	Listen        *string       `json:"listen,omitempty"`
	Profile       *string       `json:"profile,omitempty"`   // request tiling scheme
	TileSize      *int          `json:"tile_size,omitempty"` // output grid edge length
	Layers        []LayerConfig `json:"layers,omitempty"`
}

// EmptyServiceConfig returns a config with all fields unset.
func EmptyServiceConfig() *ServiceConfig {
	return &ServiceConfig{}
}

// Load reads a ServiceConfig from a JSON file. Fields omitted from the
// file resolve to defaults through the Get* accessors, so partial
// configs are safe.
func Load(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyServiceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects values the service could not run with.
func (c *ServiceConfig) Validate() error {
	if c.TileSize != nil && (*c.TileSize < 2 || *c.TileSize > 1024) {
		return fmt.Errorf("tile_size %d out of range [2,1024]", *c.TileSize)
	}
	if c.Profile != nil && !knownProfiles[*c.Profile] {
		return fmt.Errorf("unknown profile %q", *c.Profile)
	}
	for i, lc := range c.Layers {
		if lc.Backend != nil && !knownBackends[*lc.Backend] {
			return fmt.Errorf("layer %d: unknown backend %q", i, *lc.Backend)
		}
		if lc.Profile != nil && !knownProfiles[*lc.Profile] {
			return fmt.Errorf("layer %d: unknown profile %q", i, *lc.Profile)
		}
		if lc.TileSize != nil && (*lc.TileSize < 2 || *lc.TileSize > 1024) {
			return fmt.Errorf("layer %d: tile_size %d out of range [2,1024]", i, *lc.TileSize)
		}
		if lc.CacheMaxAge != nil {
			if _, err := time.ParseDuration(*lc.CacheMaxAge); err != nil {
				return fmt.Errorf("layer %d: bad cache_max_age: %w", i, err)
			}
		}
	}
	return nil
}

// Accessors with defaults.

func (c *ServiceConfig) GetDBPath() string {
	if c.DBPath != nil {
		return *c.DBPath
	}
	return "terrain_data.db"
}

func (c *ServiceConfig) GetMigrationsDir() string {
	if c.MigrationsDir != nil {
		return *c.MigrationsDir
	}
	return "db/migrations"
}

func (c *ServiceConfig) GetListen() string {
	if c.Listen != nil {
		return *c.Listen
	}
	return ":8080"
}

func (c *ServiceConfig) GetProfile() string {
	if c.Profile != nil {
		return *c.Profile
	}
	return "global-geodetic"
}

func (c *ServiceConfig) GetTileSize() int {
	if c.TileSize != nil {
		return *c.TileSize
	}
	return 257
}

func (lc LayerConfig) GetName() string {
	if lc.Name != nil {
		return *lc.Name
	}
	return lc.GetSourceID()
}

func (lc LayerConfig) GetBackend() string {
	if lc.Backend != nil {
		return *lc.Backend
	}
	return "sqlite"
}

func (lc LayerConfig) GetSourceID() string {
	if lc.SourceID != nil {
		return *lc.SourceID
	}
	return "default"
}

func (lc LayerConfig) GetProfile() string {
	if lc.Profile != nil {
		return *lc.Profile
	}
	return "global-geodetic"
}

func (lc LayerConfig) GetOffset() bool {
	return lc.Offset != nil && *lc.Offset
}

func (lc LayerConfig) GetMinLevel() uint32 {
	if lc.MinLevel != nil {
		return *lc.MinLevel
	}
	return 0
}

func (lc LayerConfig) GetMaxDataLevel() uint32 {
	if lc.MaxDataLevel != nil {
		return *lc.MaxDataLevel
	}
	return 12
}

func (lc LayerConfig) GetTileSize() int {
	if lc.TileSize != nil {
		return *lc.TileSize
	}
	return 257
}

func (lc LayerConfig) GetVDatum() string {
	if lc.VDatum != nil {
		return *lc.VDatum
	}
	return ""
}

func (lc LayerConfig) GetCacheMaxAge() time.Duration {
	if lc.CacheMaxAge != nil {
		d, err := time.ParseDuration(*lc.CacheMaxAge)
		if err == nil {
			return d
		}
	}
	return 0
}

func (lc LayerConfig) GetCacheReadable() bool {
	return lc.CacheReadable == nil || *lc.CacheReadable
}

func (lc LayerConfig) GetCacheWritable() bool {
	return lc.CacheWritable == nil || *lc.CacheWritable
}

func (lc LayerConfig) GetCacheOnly() bool {
	return lc.CacheOnly != nil && *lc.CacheOnly
}
