package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/relief-data/terrain.report/internal/httputil"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
)

// handleTileChart renders a quick heatmap (HTML) of a composited tile
// using go-echarts. This is a debugging-only endpoint to eyeball layer
// compositing without a real terrain viewer.
// Query params:
//   - lod, x, y (tile address; defaults 0/0/0)
//   - max_points (optional; default 8000) to reduce payload size
func (s *Server) handleTileChart(w http.ResponseWriter, r *http.Request) {
	parse := func(name string) uint32 {
		v, _ := strconv.ParseUint(r.URL.Query().Get(name), 10, 32)
		return uint32(v)
	}
	key := tile.Key{LOD: parse("lod"), X: parse("x"), Y: parse("y"), Profile: s.profile}
	if !key.Valid() {
		httputil.BadRequest(w, "tile address outside profile")
		return
	}

	maxPoints := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	hf := terrain.NewHeightfield(s.tileSize, s.tileSize)
	realData, err := s.stack.PopulateHeightfield(r.Context(), hf, nil, key, nil, terrain.InterpBilinear)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("composite failed: %v", err))
		return
	}

	// Downsample by stride to stay within maxPoints.
	stride := 1
	for (hf.Width/stride)*(hf.Height/stride) > maxPoints {
		stride++
	}

	data := make([]opts.HeatMapData, 0, maxPoints)
	minE, maxE := float32(0), float32(0)
	first := true
	for row := 0; row < hf.Height; row += stride {
		for col := 0; col < hf.Width; col += stride {
			e := hf.At(col, row)
			if first || e < minE {
				minE = e
			}
			if first || e > maxE {
				maxE = e
			}
			first = false
			data = append(data, opts.HeatMapData{Value: [3]interface{}{col / stride, row / stride, e}})
		}
	}
	if maxE == minE {
		maxE = minE + 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Composited Elevation Tile", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Elevation Tile", Subtitle: fmt.Sprintf("tile=%s real_data=%v stride=%d", key, realData, stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        minE,
			Max:        maxE,
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	hm.AddSeries("elevation", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
