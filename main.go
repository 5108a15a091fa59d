package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relief-data/terrain.report/internal/api"
	"github.com/relief-data/terrain.report/internal/config"
	"github.com/relief-data/terrain.report/internal/elevation"
	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/source"
	"github.com/relief-data/terrain.report/internal/tile"
	"github.com/relief-data/terrain.report/internal/tilecache"
	"github.com/relief-data/terrain.report/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to service config JSON")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	dbPath     = flag.String("db", "", "Path to sqlite database (overrides config)")
)

func main() {
	flag.Parse()
	log.Printf("[main] terrain.report %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}

	db, err := tilecache.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("[main] open db %s: %v", cfg.GetDBPath(), err)
	}
	defer db.Close()

	if err := db.MigrateUp(cfg.GetMigrationsDir()); err != nil {
		log.Fatalf("[main] migrate: %v", err)
	}

	stack, requestProfile, err := buildStack(cfg, db)
	if err != nil {
		log.Fatalf("[main] layer stack: %v", err)
	}
	log.Printf("[main] %d layers, profile=%s, tile_size=%d", len(stack), requestProfile.Name, cfg.GetTileSize())

	mux := http.NewServeMux()
	api.NewServer(stack, requestProfile, cfg.GetTileSize()).Routes(mux)

	srv := &http.Server{
		Addr:    cfg.GetListen(),
		Handler: mux,
	}

	go func() {
		log.Printf("[main] listening on %s", cfg.GetListen())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("[main] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
}

// buildStack assembles the layer stack from config. File order is
// priority order: the last configured layer wins conflicts.
func buildStack(cfg *config.ServiceConfig, db *tilecache.DB) (elevation.LayerStack, *tile.Profile, error) {
	requestProfile, err := profileByName(cfg.GetProfile(), geo.DatumEllipsoid)
	if err != nil {
		return nil, nil, err
	}

	store := tilecache.NewSQLiteStore(db)

	var stack elevation.LayerStack
	for i, lc := range cfg.Layers {
		layerProfile, err := profileByName(lc.GetProfile(), geo.DatumEllipsoid)
		if err != nil {
			return nil, nil, fmt.Errorf("layer %d: %w", i, err)
		}

		backend := source.NewSQLiteBackend(
			db, lc.GetSourceID(), layerProfile,
			lc.GetTileSize(), lc.GetMaxDataLevel(), geo.Extent{},
		)

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

func profileByName(name string, datum geo.Datum) (*tile.Profile, error) {
	switch name {
	case "global-geodetic":
		return tile.GlobalGeodetic(datum), nil
	case "spherical-mercator":
		return tile.SphericalMercator(datum), nil
	}
	return nil, &config.UnknownProfileError{Name: name}
}
