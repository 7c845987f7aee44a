// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers and synthetic lattice image
// generation to reduce code duplication across test files.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// GaussianSpot is one synthetic atomic column in a test image.
type GaussianSpot struct {
	X, Y           float64
	SigmaX, SigmaY float64
	Amplitude      float64
}

// RenderSpots returns row-major float64 image data with a symmetric 2-D
// Gaussian rendered at each spot. Rotation is not modelled; test images use
// axis-aligned columns.
func RenderSpots(rows, cols int, spots []GaussianSpot) []float64 {
	data := make([]float64, rows*cols)
	for _, s := range spots {
		reach := 5 * math.Max(s.SigmaX, s.SigmaY)
		x0 := int(math.Max(0, math.Floor(s.X-reach)))
		x1 := int(math.Min(float64(cols-1), math.Ceil(s.X+reach)))
		y0 := int(math.Max(0, math.Floor(s.Y-reach)))
		y1 := int(math.Min(float64(rows-1), math.Ceil(s.Y+reach)))
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dx := (float64(x) - s.X) / s.SigmaX
				dy := (float64(y) - s.Y) / s.SigmaY
				data[y*cols+x] += s.Amplitude * math.Exp(-(dx*dx+dy*dy)/2)
			}
		}
	}
	return data
}

// SquareGrid returns spot positions on a regular nx by ny grid with the
// given spacing, offset from the origin by margin in both directions.
func SquareGrid(nx, ny int, spacing, margin float64) [][2]float64 {
	out := make([][2]float64, 0, nx*ny)
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			out = append(out, [2]float64{
				margin + float64(ix)*spacing,
				margin + float64(iy)*spacing,
			})
		}
	}
	return out
}

// GridImage renders a square lattice of identical symmetric Gaussians,
// returning the image data and the ground-truth positions.
func GridImage(nx, ny int, spacing, margin, sigma, amplitude float64) (rows, cols int, data []float64, positions [][2]float64) {
	positions = SquareGrid(nx, ny, spacing, margin)
	cols = int(margin*2 + float64(nx-1)*spacing + 1)
	rows = int(margin*2 + float64(ny-1)*spacing + 1)
	spots := make([]GaussianSpot, len(positions))
	for i, p := range positions {
		spots[i] = GaussianSpot{X: p[0], Y: p[1], SigmaX: sigma, SigmaY: sigma, Amplitude: amplitude}
	}
	data = RenderSpots(rows, cols, spots)
	return rows, cols, data, positions
}
