package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantem-data/lattice.report/internal/config"
	"github.com/quantem-data/lattice.report/internal/latticedb"
	"github.com/quantem-data/lattice.report/internal/testutil"
)

func setupTestServer(t *testing.T) (*Server, *latticedb.DB) {
	t.Helper()
	db, err := latticedb.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewServer(db, config.EmptyTuningConfig(), ""), db
}

func seedRun(t *testing.T, db *latticedb.DB, runID string) {
	t.Helper()
	run := &latticedb.AnalysisRun{RunID: runID, SourceType: "image", Status: "completed"}
	if err := db.InsertRun(run); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	atoms := []latticedb.AtomRow{
		{AtomIndex: 0, X: 10, Y: 10, SigmaX: 2, SigmaY: 2, Amplitude: 5, GaussianFitted: true},
		{AtomIndex: 1, X: 20, Y: 10, SigmaX: 2, SigmaY: 2, Amplitude: 4.5, GaussianFitted: true},
		{AtomIndex: 2, X: 10, Y: 20, SigmaX: 2, SigmaY: 2, Amplitude: 0, GaussianFitted: false},
	}
	if err := db.SaveAtoms(runID, atoms); err != nil {
		t.Fatalf("SaveAtoms failed: %v", err)
	}
	axes := []latticedb.ZoneAxisRow{
		{AxisIndex: 0, ZX: 10, ZY: 0, Name: "(10.00, 0.00)"},
		{AxisIndex: 1, ZX: 0, ZY: 10, Name: "(0.00, 10.00)"},
	}
	if err := db.SaveZoneAxes(runID, axes); err != nil {
		t.Fatalf("SaveZoneAxes failed: %v", err)
	}
	planes := []latticedb.PlaneRow{
		{PlaneID: 0, AxisIndex: 0, AtomIndices: []int{0, 1}},
		{PlaneID: 1, AxisIndex: 1, AtomIndices: []int{0, 2}},
	}
	if err := db.SavePlanes(runID, planes); err != nil {
		t.Fatalf("SavePlanes failed: %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/runs"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var runs []latticedb.AnalysisRun
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("failed to decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-1" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestGetSingleRun(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/runs?run_id=run-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/runs?run_id=missing"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestListRunsRejectsPost(t *testing.T) {
	s, _ := setupTestServer(t)
	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodPost, "/api/runs"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestListAtoms(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/atoms?run_id=run-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var atoms []latticedb.AtomRow
	if err := json.NewDecoder(rec.Body).Decode(&atoms); err != nil {
		t.Fatalf("failed to decode atoms: %v", err)
	}
	if len(atoms) != 3 {
		t.Fatalf("got %d atoms, want 3", len(atoms))
	}
	if atoms[0].X != 10 {
		t.Errorf("atoms[0].X = %v, want 10 (pixels by default)", atoms[0].X)
	}
}

func TestListAtomsMissingRunID(t *testing.T) {
	s, _ := setupTestServer(t)
	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/atoms"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestListAtomsUnitConversion(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	// 0.005 nm per pixel: 10 px = 0.05 nm = 0.5 A.
	pixelSize := 0.005
	s.cfg.PixelSize = &pixelSize

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/atoms?run_id=run-1&units=A"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var atoms []latticedb.AtomRow
	if err := json.NewDecoder(rec.Body).Decode(&atoms); err != nil {
		t.Fatalf("failed to decode atoms: %v", err)
	}
	if got := atoms[0].X; got < 0.499 || got > 0.501 {
		t.Errorf("atoms[0].X = %v A, want 0.5", got)
	}
}

func TestListAtomsInvalidUnits(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/atoms?run_id=run-1&units=furlongs"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestListZoneAxes(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/zones?run_id=run-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var axes []latticedb.ZoneAxisRow
	if err := json.NewDecoder(rec.Body).Decode(&axes); err != nil {
		t.Fatalf("failed to decode zone axes: %v", err)
	}
	if len(axes) != 2 || axes[0].Name != "(10.00, 0.00)" {
		t.Errorf("axes = %+v", axes)
	}
}

func TestListPlanesFilterByAxis(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/planes?run_id=run-1&axis=1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var planes []latticedb.PlaneRow
	if err := json.NewDecoder(rec.Body).Decode(&planes); err != nil {
		t.Fatalf("failed to decode planes: %v", err)
	}
	if len(planes) != 1 || planes[0].AxisIndex != 1 {
		t.Errorf("planes = %+v", planes)
	}
}

func TestParamsGet(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/params"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var cfg config.TuningConfig
	if err := json.NewDecoder(rec.Body).Decode(&cfg); err != nil {
		t.Fatalf("failed to decode params: %v", err)
	}
}

func TestParamsPostValid(t *testing.T) {
	s, _ := setupTestServer(t)

	body := `{"peak_separation": 7, "threshold_rel": 0.05}`
	req := httptest.NewRequest(http.MethodPost, "/api/params", strings.NewReader(body))
	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	if got := s.tuning().GetPeakSeparation(); got != 7 {
		t.Errorf("peak separation after POST = %v, want 7", got)
	}
}

func TestParamsPostInvalidRejected(t *testing.T) {
	s, _ := setupTestServer(t)
	before := s.tuning()

	body := `{"peak_separation": 0}`
	req := httptest.NewRequest(http.MethodPost, "/api/params", strings.NewReader(body))
	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	if s.tuning() != before {
		t.Error("rejected config must not replace the active one")
	}
}

func TestParamsPostMalformedJSON(t *testing.T) {
	s, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/params", bytes.NewReader([]byte("{not json")))
	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestServeImageWithinDataDir(t *testing.T) {
	dataDir := t.TempDir()
	imagePath := filepath.Join(dataDir, "frame.csv")
	if err := os.WriteFile(imagePath, []byte("1,2\n3,4\n"), 0644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}

	db, err := latticedb.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewServer(db, config.EmptyTuningConfig(), dataDir)

	if err := db.InsertRun(&latticedb.AnalysisRun{RunID: "r", SourceType: "image", SourcePath: imagePath, Status: "completed"}); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/image?run_id=r"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "1,2") {
		t.Error("image body not served")
	}

	// A run whose source path escapes the data directory is refused.
	outside := filepath.Join(t.TempDir(), "outside.csv")
	if err := os.WriteFile(outside, []byte("1\n"), 0644); err != nil {
		t.Fatalf("failed to write outside file: %v", err)
	}
	if err := db.InsertRun(&latticedb.AnalysisRun{RunID: "evil", SourceType: "image", SourcePath: outside, Status: "completed"}); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	rec = testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/image?run_id=evil"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusForbidden)
}

func TestServeImageDisabled(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")
	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/image?run_id=run-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestAtomsChart(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/debug/charts/atoms?run_id=run-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), "echarts") {
		t.Error("chart response does not embed echarts")
	}
}

func TestAtomsChartNoAtoms(t *testing.T) {
	s, db := setupTestServer(t)
	if err := db.InsertRun(&latticedb.AnalysisRun{RunID: "empty", SourceType: "image", Status: "completed"}); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/debug/charts/atoms?run_id=empty"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestPlanesChart(t *testing.T) {
	s, db := setupTestServer(t)
	seedRun(t, db, "run-1")

	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/debug/charts/planes?run_id=run-1&axis=0"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/debug/charts/planes?run_id=run-1&axis=9"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}
