// Command seed synthesises an elevation dataset into the sqlite tile
// store so the terrain service and its demos run self-contained: a
// smooth procedural terrain of overlapping ridges, tiled across a
// range of LODs.
package main

import (
	"context"
	"flag"
	"log"
	"math"

	"github.com/relief-data/terrain.report/internal/geo"
	"github.com/relief-data/terrain.report/internal/source"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
	"github.com/relief-data/terrain.report/internal/tilecache"
)

var (
	dbPath        = flag.String("db", "terrain_data.db", "Path to sqlite database")
	migrationsDir = flag.String("migrations", "db/migrations", "Path to migrations directory")
	sourceID      = flag.String("source", "world", "Dataset name to seed")
	profileName   = flag.String("profile", "global-geodetic", "Tiling profile: global-geodetic or spherical-mercator")
	tileSize      = flag.Int("tile-size", 257, "Samples per tile edge")
	maxLOD        = flag.Uint("max-lod", 4, "Finest LOD to generate")
	amplitude     = flag.Float64("amplitude", 1200, "Peak elevation in meters")
)

func main() {
	flag.Parse()

	var profile *tile.Profile
	switch *profileName {
	case "global-geodetic":
		profile = tile.GlobalGeodetic(geo.DatumEllipsoid)
	case "spherical-mercator":
		profile = tile.SphericalMercator(geo.DatumEllipsoid)
	default:
		log.Fatalf("[seed] unknown profile %q", *profileName)
	}

	db, err := tilecache.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("[seed] open db: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("[seed] migrate: %v", err)
	}

	backend := source.NewSQLiteBackend(db, *sourceID, profile, *tileSize, uint32(*maxLOD), geo.Extent{})

	ctx := context.Background()
	total := 0
	for lod := uint32(0); lod <= uint32(*maxLOD); lod++ {
		tx, ty := profile.NumTiles(lod)
		for y := uint32(0); y < ty; y++ {
			for x := uint32(0); x < tx; x++ {
				key := tile.Key{LOD: lod, X: x, Y: y, Profile: profile}
				hf := generateTile(key, *tileSize, *amplitude)
				if err := backend.WriteTile(ctx, key, hf); err != nil {
					log.Fatalf("[seed] write %s: %v", key, err)
				}
				total++
			}
		}
		log.Printf("[seed] lod %d done (%dx%d tiles)", lod, tx, ty)
	}

	log.Printf("[seed] wrote %d tiles for source %q", total, *sourceID)
}

// generateTile evaluates the procedural terrain over the tile's
// footprint. The function is position-based, so adjacent tiles and
// different LODs agree at shared sample points.
func generateTile(key tile.Key, size int, amplitude float64) *terrain.Heightfield {
	hf := terrain.NewHeightfield(size, size)
	ext := key.Extent()
	dx := ext.Width() / float64(size-1)
	dy := ext.Height() / float64(size-1)

	// Normalise to [0,1] over the world extent so both profiles get
	// comparable terrain.
	world := key.Profile.Extent

	for r := 0; r < size; r++ {
		y := ext.YMin + dy*float64(r)
		v := (y - world.YMin) / world.Height()
		for c := 0; c < size; c++ {
			x := ext.XMin + dx*float64(c)
			u := (x - world.XMin) / world.Width()

			e := ridges(u, v) * amplitude
			hf.Set(c, r, float32(e))
		}
	}
	return hf
}

// ridges layers a few sine ridges at different frequencies.
func ridges(u, v float64) float64 {
	e := 0.55 * math.Sin(2*math.Pi*3*u) * math.Cos(2*math.Pi*2*v)
	e += 0.3 * math.Sin(2*math.Pi*7*u+1.3) * math.Sin(2*math.Pi*5*v+0.7)
	e += 0.15 * math.Cos(2*math.Pi*13*u+2.1) * math.Cos(2*math.Pi*11*v+1.9)
	return (e + 1) / 2
}
