package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/quantem-data/lattice.report/internal/config"
	"github.com/quantem-data/lattice.report/internal/httputil"
	"github.com/quantem-data/lattice.report/internal/latticedb"
	"github.com/quantem-data/lattice.report/internal/security"
	"github.com/quantem-data/lattice.report/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db *latticedb.DB

	// dataDir confines source image serving. Empty disables /api/image.
	dataDir string

	// cfg is swapped wholesale on POST /api/params; reads go through
	// tuning() so in-flight requests keep a consistent snapshot.
	mu  sync.RWMutex
	cfg *config.TuningConfig
}

func NewServer(db *latticedb.DB, cfg *config.TuningConfig, dataDir string) *Server {
	if cfg == nil {
		cfg = &config.TuningConfig{}
	}
	return &Server{db: db, cfg: cfg, dataDir: dataDir}
}

func (s *Server) tuning() *config.TuningConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/atoms", s.listAtoms)
	mux.HandleFunc("/api/zones", s.listZoneAxes)
	mux.HandleFunc("/api/planes", s.listPlanes)
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/image", s.serveImage)
	mux.HandleFunc("/debug/charts/atoms", s.handleAtomsChart)
	mux.HandleFunc("/debug/charts/planes", s.handlePlanesChart)
	return mux
}

// runID extracts the mandatory run_id query parameter.
func (s *Server) runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("run_id")
	if id == "" {
		httputil.BadRequest(w, "Missing 'run_id' parameter")
		return "", false
	}
	return id, true
}

// targetUnits resolves the output length unit: the request may override the
// configured default with ?units=.
func (s *Server) targetUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.tuning().GetPixelUnits(), nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid units %q (valid: %s)", u, units.GetValidUnitsString())
	}
	return u, nil
}

// convertAtomUnits rescales the pixel-valued fields of an atom row into the
// requested length unit. Stored rows are always in pixels.
func (s *Server) convertAtomUnits(a latticedb.AtomRow, targetUnits string) latticedb.AtomRow {
	nmPerPixel := s.tuning().GetPixelSize()
	a.X = units.ConvertLength(a.X, nmPerPixel, targetUnits)
	a.Y = units.ConvertLength(a.Y, nmPerPixel, targetUnits)
	a.SigmaX = units.ConvertLength(a.SigmaX, nmPerPixel, targetUnits)
	a.SigmaY = units.ConvertLength(a.SigmaY, nmPerPixel, targetUnits)
	return a
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	if id := r.URL.Query().Get("run_id"); id != "" {
		run, err := s.db.GetRun(id)
		if err != nil {
			httputil.NotFound(w, fmt.Sprintf("Failed to retrieve run: %v", err))
			return
		}
		httputil.WriteJSONOK(w, run)
		return
	}

	limit := 0 // store default
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}

	httputil.WriteJSONOK(w, runs)
}

func (s *Server) listAtoms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	targetUnits, err := s.targetUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	atoms, err := s.db.Atoms(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve atoms: %v", err))
		return
	}

	for i := range atoms {
		atoms[i] = s.convertAtomUnits(atoms[i], targetUnits)
	}

	httputil.WriteJSONOK(w, atoms)
}

func (s *Server) listZoneAxes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	axes, err := s.db.ZoneAxes(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve zone axes: %v", err))
		return
	}

	httputil.WriteJSONOK(w, axes)
}

func (s *Server) listPlanes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	planes, err := s.db.Planes(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve atom planes: %v", err))
		return
	}

	if axis := r.URL.Query().Get("axis"); axis != "" {
		axisIndex, err := strconv.Atoi(axis)
		if err != nil || axisIndex < 0 {
			httputil.BadRequest(w, "Invalid 'axis' parameter")
			return
		}
		filtered := planes[:0]
		for _, p := range planes {
			if p.AxisIndex == axisIndex {
				filtered = append(filtered, p)
			}
		}
		planes = filtered
	}

	httputil.WriteJSONOK(w, planes)
}

// serveImage returns the source image a run was computed from. The stored
// path originates from whoever submitted the run, so it is only served when
// it resolves inside the configured data directory.
func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	if s.dataDir == "" {
		httputil.NotFound(w, "Image serving is not configured")
		return
	}

	run, err := s.db.GetRun(id)
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}

	if err := security.ValidatePathWithinDirectory(run.SourcePath, s.dataDir); err != nil {
		httputil.Forbidden(w, fmt.Sprintf("Refusing to serve image: %v", err))
		return
	}

	http.ServeFile(w, r, run.SourcePath)
}

// handleParams serves the active tuning config and accepts replacements.
// A POSTed config is validated before it takes effect; the previous config
// stays active on rejection.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.tuning())
	case http.MethodPost:
		var incoming config.TuningConfig
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("Invalid params payload: %v", err))
			return
		}
		if err := incoming.Validate(); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("Invalid params: %v", err))
			return
		}
		s.mu.Lock()
		s.cfg = &incoming
		s.mu.Unlock()
		httputil.WriteJSONOK(w, &incoming)
	default:
		httputil.MethodNotAllowed(w)
	}
}
