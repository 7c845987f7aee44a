package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/quantem-data/lattice.report/internal/httputil"
)

var viridisColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// handleAtomsChart renders a quick scatter plot (HTML) of a run's refined
// atom positions using go-echarts, colored by fitted amplitude. This is a
// debugging-only endpoint (no auth) to eyeball a sublattice without the UI.
// Query params:
//   - run_id (required)
//   - max_points (optional; default 8000) to reduce payload size
func (s *Server) handleAtomsChart(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}

	maxPoints := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	atoms, err := s.db.Atoms(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get atoms: %v", err))
		return
	}
	if len(atoms) == 0 {
		httputil.NotFound(w, "no atoms stored for run")
		return
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(atoms) > maxPoints {
		stride = int(math.Ceil(float64(len(atoms)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(atoms)/stride+1)
	maxAbs := 0.0
	maxAmp := 0.0
	for i := 0; i < len(atoms); i += stride {
		a := atoms[i]
		if math.Abs(a.X) > maxAbs {
			maxAbs = math.Abs(a.X)
		}
		if math.Abs(a.Y) > maxAbs {
			maxAbs = math.Abs(a.Y)
		}
		if a.Amplitude > maxAmp {
			maxAmp = a.Amplitude
		}
		data = append(data, opts.ScatterData{Value: []interface{}{a.X, a.Y, a.Amplitude}})
	}

	// Add a small padding so points at the edges are visible
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxAmp == 0 {
		maxAmp = 1
	}

	// Force a square plot by using equal width/height and symmetric axis ranges
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Atom Positions", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Refined Atom Positions", Subtitle: fmt.Sprintf("run=%s points=%d stride=%d", runID, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: pad, Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: pad, Name: "Y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxAmp),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisColors},
		}),
	)

	scatter.AddSeries("atoms", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePlanesChart renders a run's atoms colored by the atom plane they
// belong to along one zone axis, so split or merged planes stand out.
// Query params:
//   - run_id (required)
//   - axis (optional; default 0) index of the zone axis to color by
func (s *Server) handlePlanesChart(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}

	axisIndex := 0
	if a := r.URL.Query().Get("axis"); a != "" {
		if v, err := strconv.Atoi(a); err == nil && v >= 0 {
			axisIndex = v
		}
	}

	atoms, err := s.db.Atoms(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get atoms: %v", err))
		return
	}
	planes, err := s.db.Planes(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get planes: %v", err))
		return
	}

	// Plane ordinal per atom along the requested axis. Unassigned atoms
	// keep -1 and render at the bottom of the color range.
	planeOf := make(map[int]int, len(atoms))
	ordinal := 0
	for _, p := range planes {
		if p.AxisIndex != axisIndex {
			continue
		}
		for _, atomIndex := range p.AtomIndices {
			planeOf[atomIndex] = ordinal
		}
		ordinal++
	}
	if ordinal == 0 {
		httputil.NotFound(w, fmt.Sprintf("no atom planes stored for axis %d", axisIndex))
		return
	}

	data := make([]opts.ScatterData, 0, len(atoms))
	maxAbs := 0.0
	for _, a := range atoms {
		if math.Abs(a.X) > maxAbs {
			maxAbs = math.Abs(a.X)
		}
		if math.Abs(a.Y) > maxAbs {
			maxAbs = math.Abs(a.Y)
		}
		plane, found := planeOf[a.AtomIndex]
		if !found {
			plane = -1
		}
		data = append(data, opts.ScatterData{Value: []interface{}{a.X, a.Y, plane}})
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Atom Planes", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Atom Planes", Subtitle: fmt.Sprintf("run=%s axis=%d planes=%d", runID, axisIndex, ordinal)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: pad, Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: pad, Name: "Y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        -1,
			Max:        float32(ordinal - 1),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisColors},
		}),
	)
	scatter.AddSeries("atoms", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render planes chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
