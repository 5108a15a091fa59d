// Package api exposes the elevation engine over HTTP: point elevation
// queries, composited tile grids, and a debugging chart endpoint.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/relief-data/terrain.report/internal/elevation"
	"github.com/relief-data/terrain.report/internal/httputil"
	"github.com/relief-data/terrain.report/internal/terrain"
	"github.com/relief-data/terrain.report/internal/tile"
)

// Server serves composited elevation data for one layer stack.
type Server struct {
	stack    elevation.LayerStack
	profile  *tile.Profile
	tileSize int
}

// NewServer creates a Server compositing stack against the given
// request profile and output grid size.
func NewServer(stack elevation.LayerStack, profile *tile.Profile, tileSize int) *Server {
	return &Server{stack: stack, profile: profile, tileSize: tileSize}
}

// Routes registers the API handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/elevation", s.handleElevation)
	mux.HandleFunc("/api/tile/", s.handleTile)
	mux.HandleFunc("/debug/tile-chart", s.handleTileChart)
}

// tileResponse is the JSON form of a composited tile.
type tileResponse struct {
	LOD      uint32       `json:"lod"`
	X        uint32       `json:"x"`
	Y        uint32       `json:"y"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	RealData bool         `json:"real_data"`
	Samples  []float32    `json:"samples"`
	Normals  [][3]float64 `json:"normals,omitempty"`
}

// handleTile serves GET /api/tile/{lod}/{x}/{y}?normals=1.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/tile/"), "/")
	if len(parts) != 3 {
		httputil.BadRequest(w, "expected /api/tile/{lod}/{x}/{y}")
		return
	}
	var nums [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("bad tile address component %q", p))
			return
		}
		nums[i] = v
	}

	key := tile.Key{LOD: uint32(nums[0]), X: uint32(nums[1]), Y: uint32(nums[2]), Profile: s.profile}
	if !key.Valid() {
		httputil.BadRequest(w, "tile address outside profile")
		return
	}

	wantNormals := r.URL.Query().Get("normals") == "1"

	hf := terrain.NewHeightfield(s.tileSize, s.tileSize)
	var nm *terrain.NormalMap
	if wantNormals {
		nm = terrain.NewNormalMap(s.tileSize, s.tileSize)
	}

	realData, err := s.stack.PopulateHeightfield(r.Context(), hf, nm, key, nil, terrain.InterpBilinear)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("composite failed: %v", err))
		return
	}

	resp := tileResponse{
		LOD:      key.LOD,
		X:        key.X,
		Y:        key.Y,
		Width:    hf.Width,
		Height:   hf.Height,
		RealData: realData,
		Samples:  hf.Samples,
	}
	if nm != nil {
		resp.Normals = make([][3]float64, len(nm.Normals))
		for i, n := range nm.Normals {
			resp.Normals[i] = [3]float64{n.X, n.Y, n.Z}
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleElevation serves GET /api/elevation?lon=&lat=&lod=. It
// composites the tile covering the point and samples it.
func (s *Server) handleElevation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	lon, err1 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	lat, err2 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err1 != nil || err2 != nil {
		httputil.BadRequest(w, "lon and lat are required")
		return
	}
	lod := uint64(8)
	if q := r.URL.Query().Get("lod"); q != "" {
		var err error
		lod, err = strconv.ParseUint(q, 10, 32)
		if err != nil {
			httputil.BadRequest(w, "invalid 'lod' parameter")
			return
		}
	}

	key, ok := s.keyForPoint(lon, lat, uint32(lod))
	if !ok {
		httputil.BadRequest(w, "point outside profile extent")
		return
	}

	hf := terrain.NewHeightfield(s.tileSize, s.tileSize)
	realData, err := s.stack.PopulateHeightfield(r.Context(), hf, nil, key, nil, terrain.InterpBilinear)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("composite failed: %v", err))
		return
	}

	g := terrain.GeoHeightfield{HF: hf, Extent: key.Extent()}
	e, _ := g.ElevationAt(s.profile.SRS, lon, lat, terrain.InterpBilinear)

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"lon":       lon,
		"lat":       lat,
		"lod":       key.LOD,
		"tile":      key.String(),
		"elevation": e,
		"real_data": realData,
	})
}

// keyForPoint finds the tile at the given LOD containing a point
// expressed in the request profile's system.
func (s *Server) keyForPoint(x, y float64, lod uint32) (tile.Key, bool) {
	p := s.profile
	if !p.Extent.Contains(x, y) {
		return tile.Key{}, false
	}
	tw := p.TileWidth(lod)
	th := p.TileHeight(lod)
	tx, ty := p.NumTiles(lod)
	c := uint32((x - p.Extent.XMin) / tw)
	r := uint32((p.Extent.YMax - y) / th)
	if c >= tx {
		c = tx - 1
	}
	if r >= ty {
		r = ty - 1
	}
	return tile.Key{LOD: lod, X: c, Y: r, Profile: p}, true
}
