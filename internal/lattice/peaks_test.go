package lattice

import (
	"math"
	"testing"

	"github.com/quantem-data/lattice.report/internal/testutil"
)

func gridImage(t *testing.T, nx, ny int, spacing, margin, sigma, amplitude float64) (*Image, [][2]float64) {
	t.Helper()
	rows, cols, data, positions := testutil.GridImage(nx, ny, spacing, margin, sigma, amplitude)
	img, err := NewImageFromSlice(rows, cols, data)
	if err != nil {
		t.Fatalf("building test image: %v", err)
	}
	return img, positions
}

func TestRemoveTooCloseAtoms_TripletScenario(t *testing.T) {
	// Input order is the intensity ranking: (1,10) is the most intense.
	// (4,10) is within tolerance of (1,10) and must be removed; the other
	// two are mutually far enough apart to survive.
	positions := [][2]float64{{1, 10}, {10, 1}, {4, 10}}

	got, err := RemoveTooCloseAtoms(positions, 5, nil, DefaultTooCloseMaxIter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][2]float64{{1, 10}, {10, 1}}
	if len(got) != len(want) {
		t.Fatalf("got %d positions, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRemoveTooCloseAtoms_ChainKeepsMiddleAtom(t *testing.T) {
	// Three atoms in a line, each pair within tolerance. The strongest atom
	// must survive; the middle atom is only removed because it is the
	// weaker member of its pair with the strongest.
	positions := [][2]float64{{0, 0}, {3, 0}, {6, 0}}
	got, err := RemoveTooCloseAtoms(positions, 5, nil, DefaultTooCloseMaxIter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("all atoms removed")
	}
	if got[0] != [2]float64{0, 0} {
		t.Errorf("strongest atom removed, got %v", got)
	}
}

func TestRemoveTooCloseAtoms_ConvergedResultHasNoClosePairs(t *testing.T) {
	positions := [][2]float64{
		{0, 0}, {1, 1}, {2, 0}, {20, 20}, {21, 20}, {50, 50},
	}
	tolerance := 5.0
	got, err := RemoveTooCloseAtoms(positions, tolerance, nil, DefaultTooCloseMaxIter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < len(got); i++ {
		for j := i + 1; j < len(got); j++ {
			d := math.Hypot(got[i][0]-got[j][0], got[i][1]-got[j][1])
			if d < tolerance {
				t.Errorf("positions %v and %v are %.2f apart, tolerance %.2f",
					got[i], got[j], d, tolerance)
			}
		}
	}
}

func TestRemoveTooCloseAtoms_ExplicitIntensities(t *testing.T) {
	// With explicit intensities the second atom outranks the first.
	positions := [][2]float64{{0, 0}, {2, 0}}
	intensities := []float64{1, 10}
	got, err := RemoveTooCloseAtoms(positions, 5, intensities, DefaultTooCloseMaxIter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != [2]float64{2, 0} {
		t.Errorf("got %v, want [[2 0]]", got)
	}
}

func TestRemoveTooCloseAtoms_IntensityLengthMismatch(t *testing.T) {
	_, err := RemoveTooCloseAtoms([][2]float64{{0, 0}}, 5, []float64{1, 2}, 20)
	if err == nil {
		t.Fatal("expected error for mismatched intensities length")
	}
}

func TestFindAtomPositions_SeparationValidation(t *testing.T) {
	img, _ := gridImage(t, 3, 3, 10, 10, 2, 100)
	if _, err := FindAtomPositions(img, nil, 0, DefaultThresholdRel); err == nil {
		t.Fatal("expected error for separation below 1")
	}
}

func TestFindAtomPositions_FindsGridAtoms(t *testing.T) {
	img, positions := gridImage(t, 10, 10, 12, 12, 2, 100)

	got, err := FindAtomPositions(img, nil, 5, DefaultThresholdRel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(positions) {
		t.Fatalf("found %d atoms, want %d", len(got), len(positions))
	}
	// Every ground-truth position must have a detected peak within 1 px.
	for _, want := range positions {
		found := false
		for _, p := range got {
			if math.Hypot(p[0]-want[0], p[1]-want[1]) <= 1 {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no peak found near %v", want)
		}
	}
}

func TestMaximumFilterPeakFinder_RankedByIntensity(t *testing.T) {
	rows, cols := 30, 30
	data := testutil.RenderSpots(rows, cols, []testutil.GaussianSpot{
		{X: 8, Y: 8, SigmaX: 2, SigmaY: 2, Amplitude: 50},
		{X: 22, Y: 22, SigmaX: 2, SigmaY: 2, Amplitude: 100},
	})
	img, err := NewImageFromSlice(rows, cols, data)
	if err != nil {
		t.Fatal(err)
	}
	peaks := MaximumFilterPeakFinder{}.FindPeaks(img, 5, 0.02)
	if len(peaks) != 2 {
		t.Fatalf("found %d peaks, want 2", len(peaks))
	}
	if peaks[0] != [2]float64{22, 22} {
		t.Errorf("strongest peak first: got %v, want (22, 22)", peaks[0])
	}
}
