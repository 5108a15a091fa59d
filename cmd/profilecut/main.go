// Command profilecut composites a tile through the configured layer
// stack and renders an elevation cross-section to PNG. Handy for
// inspecting layer priority and offset behavior without a viewer.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/relief-data/terrain.report/internal/config"
	"github.com/relief-data/terrain.report/internal/elevation"
	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/monitor"
	"github.com/relief-data/terrain.report/internal/source"
	"github.com/relief-data/terrain.report/internal/tile"
	"github.com/relief-data/terrain.report/internal/tilecache"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to service config JSON")
	lod        = flag.Uint("lod", 2, "Tile LOD")
	tx         = flag.Uint("x", 0, "Tile column")
	ty         = flag.Uint("y", 0, "Tile row")
	row        = flag.Int("row", -1, "Output row to cut (default: middle)")
	outDir     = flag.String("out", "plots", "Output directory")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[profilecut] config: %v", err)
	}

	db, err := tilecache.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("[profilecut] open db: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(cfg.GetMigrationsDir()); err != nil {
		log.Fatalf("[profilecut] migrate: %v", err)
	}

	stack, requestProfile, err := buildStack(cfg, db)
	if err != nil {
		log.Fatalf("[profilecut] layer stack: %v", err)
	}

	key := tile.Key{LOD: uint32(*lod), X: uint32(*tx), Y: uint32(*ty), Profile: requestProfile}
	if !key.Valid() {
		log.Fatalf("[profilecut] tile %s outside profile %s", key, requestProfile.Name)
	}

	cut := *row
	if cut < 0 {
		cut = cfg.GetTileSize() / 2
	}

	pp := monitor.NewProfilePlotter(stack, cfg.GetTileSize())
	if err := pp.Start(*outDir); err != nil {
		log.Fatalf("[profilecut] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pts, err := pp.Cut(ctx, key, cut)
	if err != nil {
		log.Fatalf("[profilecut] cut: %v", err)
	}
	out, err := pp.SaveCut(key, cut, pts)
	if err != nil {
		log.Fatalf("[profilecut] save: %v", err)
	}
	log.Printf("[profilecut] wrote %s", out)
}

// buildStack mirrors the service entrypoint's stack construction.
func buildStack(cfg *config.ServiceConfig, db *tilecache.DB) (elevation.LayerStack, *tile.Profile, error) {
	profileByName := func(name string) (*tile.Profile, error) {
		switch name {
		case "global-geodetic":
			return tile.GlobalGeodetic(geo.DatumEllipsoid), nil
		case "spherical-mercator":
			return tile.SphericalMercator(geo.DatumEllipsoid), nil
		}
		return nil, &config.UnknownProfileError{Name: name}
	}

	requestProfile, err := profileByName(cfg.GetProfile())
	if err != nil {
		return nil, nil, err
	}

	store := tilecache.NewSQLiteStore(db)
	var stack elevation.LayerStack
	for _, lc := range cfg.Layers {
		layerProfile, err := profileByName(lc.GetProfile())
		if err != nil {
			return nil, nil, err
		}
		backend := source.NewSQLiteBackend(db, lc.GetSourceID(), layerProfile, lc.GetTileSize(), lc.GetMaxDataLevel(), geo.Extent{})
		opts := elevation.LayerOptions{
			Name:     lc.GetName(),
			Offset:   lc.GetOffset(),
			MinLevel: lc.GetMinLevel(),
			Policy: tilecache.Policy{
				Readable:  lc.GetCacheReadable(),
				Writable:  lc.GetCacheWritable(),
				CacheOnly: lc.GetCacheOnly(),
				MaxAge:    lc.GetCacheMaxAge(),
			},
		}
		if vd := lc.GetVDatum(); vd != "" {
			datum := geo.Datum(vd)
			opts.VDatum = &datum
		}
		stack = append(stack, elevation.NewLayer(opts, backend, store))
	}
	return stack, requestProfile, nil
}
