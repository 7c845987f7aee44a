package testutil

import (
	"errors"
	"math"
	"net/http"
	"testing"
)

// stopTB is the panic value recordingTB uses to unwind a fatal assertion.
var stopTB = errors.New("fatal assertion")

// recordingTB captures assertion failures instead of failing the enclosing
// test, so the failure paths of the assert helpers can be exercised.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...any) {
	r.failed = true
}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.failed = true
	panic(stopTB)
}

func (r *recordingTB) Fatal(args ...any) {
	r.failed = true
	panic(stopTB)
}

func runRecorded(fn func(tb testing.TB)) (rec *recordingTB) {
	rec = &recordingTB{}
	defer func() {
		if v := recover(); v != nil && v != stopTB {
			panic(v)
		}
	}()
	fn(rec)
	return rec
}

func TestAssertStatusCode(t *testing.T) {
	if rec := runRecorded(func(tb testing.TB) {
		AssertStatusCode(tb, http.StatusOK, http.StatusOK)
	}); rec.failed {
		t.Error("matching status codes must not fail")
	}
	if rec := runRecorded(func(tb testing.TB) {
		AssertStatusCode(tb, http.StatusOK, http.StatusBadRequest)
	}); !rec.failed {
		t.Error("mismatched status codes must fail")
	}
}

func TestAssertNoError(t *testing.T) {
	if rec := runRecorded(func(tb testing.TB) {
		AssertNoError(tb, nil)
	}); rec.failed {
		t.Error("nil error must not fail")
	}
	if rec := runRecorded(func(tb testing.TB) {
		AssertNoError(tb, errors.New("boom"))
	}); !rec.failed {
		t.Error("non-nil error must fail")
	}
}

func TestAssertError(t *testing.T) {
	if rec := runRecorded(func(tb testing.TB) {
		AssertError(tb, errors.New("expected"))
	}); rec.failed {
		t.Error("non-nil error must not fail")
	}
	if rec := runRecorded(func(tb testing.TB) {
		AssertError(tb, nil)
	}); !rec.failed {
		t.Error("nil error must fail")
	}
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodPost, "/api/runs")
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if req.URL.Path != "/api/runs" {
		t.Errorf("path = %s, want /api/runs", req.URL.Path)
	}
}

func TestNewTestRecorder(t *testing.T) {
	rec := NewTestRecorder()
	if rec.Code != http.StatusOK {
		t.Errorf("initial code = %d, want %d", rec.Code, http.StatusOK)
	}
	rec.WriteHeader(http.StatusNotFound)
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRenderSpots_PeakAtCentre(t *testing.T) {
	data := RenderSpots(21, 21, []GaussianSpot{
		{X: 10, Y: 10, SigmaX: 2, SigmaY: 2, Amplitude: 7},
	})
	if got := data[10*21+10]; math.Abs(got-7) > 1e-9 {
		t.Errorf("centre intensity = %f, want 7", got)
	}
	// One sigma off-centre along x the value drops by exp(-1/2).
	want := 7 * math.Exp(-0.5)
	if got := data[10*21+12]; math.Abs(got-want) > 1e-9 {
		t.Errorf("one-sigma intensity = %f, want %f", got, want)
	}
}

func TestSquareGrid(t *testing.T) {
	grid := SquareGrid(3, 2, 10, 5)
	if len(grid) != 6 {
		t.Fatalf("got %d positions, want 6", len(grid))
	}
	if grid[0] != [2]float64{5, 5} {
		t.Errorf("first position = %v, want (5, 5)", grid[0])
	}
	if grid[4] != [2]float64{15, 15} {
		t.Errorf("position 4 = %v, want (15, 15)", grid[4])
	}
}

func TestGridImage(t *testing.T) {
	rows, cols, data, positions := GridImage(4, 3, 10, 8, 2, 5)
	if len(positions) != 12 {
		t.Fatalf("got %d positions, want 12", len(positions))
	}
	if len(data) != rows*cols {
		t.Fatalf("data length %d does not match %dx%d", len(data), rows, cols)
	}
	// Every ground-truth position must sit on an intensity maximum close
	// to the spot amplitude.
	for _, p := range positions {
		v := data[int(p[1])*cols+int(p[0])]
		if v < 4.9 {
			t.Errorf("intensity %f at %v, want close to 5", v, p)
		}
	}
}
