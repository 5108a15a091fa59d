// Package monitor renders offline diagnostics for the elevation
// engine: cross-section profile plots of composited tiles, useful for
// eyeballing layer priority, offsets, and fallback seams after a run.
package monitor

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/relief-data/terrain.report/internal/elevation"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
)

// ProfilePlotter samples elevation cross-sections through a layer
// stack and writes line plots after a run.
type ProfilePlotter struct {
	stack     elevation.LayerStack
	tileSize  int
	outputDir string
}

// NewProfilePlotter creates a plotter compositing through stack with
// the given output grid size.
func NewProfilePlotter(stack elevation.LayerStack, tileSize int) *ProfilePlotter {
	return &ProfilePlotter{stack: stack, tileSize: tileSize}
}

// Start prepares the output directory (e.g. "plots/20260825_101500").
func (pp *ProfilePlotter) Start(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	pp.outputDir = outputDir
	return nil
}

// Cut composites the tile at key and extracts the elevation profile
// along output row r.
func (pp *ProfilePlotter) Cut(ctx context.Context, key tile.Key, row int) (plotter.XYs, error) {
	hf := terrain.NewHeightfield(pp.tileSize, pp.tileSize)
	if _, err := pp.stack.PopulateHeightfield(ctx, hf, nil, key, nil, terrain.InterpBilinear); err != nil {
		return nil, err
	}
	if row < 0 || row >= hf.Height {
		return nil, fmt.Errorf("row %d out of range [0,%d)", row, hf.Height)
	}

	ext := key.Extent()
	dx := ext.Width() / float64(hf.Width-1)

	pts := make(plotter.XYs, 0, hf.Width)
	for c := 0; c < hf.Width; c++ {
		pts = append(pts, plotter.XY{X: ext.XMin + dx*float64(c), Y: float64(hf.At(c, row))})
	}
	return pts, nil
}

// SaveCut renders one cross-section to a PNG in the output directory.
func (pp *ProfilePlotter) SaveCut(key tile.Key, row int, pts plotter.XYs) (string, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Elevation cross-section, tile %s row %d", key, row)
	p.X.Label.Text = "X (profile units)"
	p.Y.Label.Text = "Elevation (m)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return "", fmt.Errorf("profile line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 158, B: 137, A: 255}
	p.Add(line)
	p.Legend.Add(fmt.Sprintf("row %d", row), line)
	p.Legend.Top = true

	out := filepath.Join(pp.outputDir, fmt.Sprintf("profile_%d_%d_%d_row%03d.png", key.LOD, key.X, key.Y, row))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, out); err != nil {
		return "", fmt.Errorf("save profile plot: %w", err)
	}
	return out, nil
}
