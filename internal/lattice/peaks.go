package lattice

import (
	"fmt"
	"sort"

	"github.com/quantem-data/lattice.report/internal/monitoring"
)

// PeakFinder extracts local-maxima candidates from an image, ranked most to
// least intense, subject to a minimum pixel distance between candidates and
// a relative intensity threshold.
type PeakFinder interface {
	FindPeaks(img *Image, minDistance int, thresholdRel float64) [][2]float64
}

// MaximumFilterPeakFinder is the default PeakFinder: a square maximum filter
// selects strict local maxima, which are then greedily thinned so no two
// surviving candidates are closer than minDistance, strongest first.
type MaximumFilterPeakFinder struct{}

// FindPeaks returns candidate (x, y) peak positions ranked by descending
// intensity.
func (MaximumFilterPeakFinder) FindPeaks(img *Image, minDistance int, thresholdRel float64) [][2]float64 {
	rows, cols := img.Dims()
	threshold := thresholdRel * img.Max()

	type peak struct {
		x, y      int
		intensity float64
	}
	var candidates []peak
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := img.Data.At(y, x)
			if v <= threshold {
				continue
			}
			if !isWindowMaximum(img, x, y, minDistance, v) {
				continue
			}
			candidates = append(candidates, peak{x, y, v})
		}
	}

	// Strongest first; scan-order index breaks intensity ties so the result
	// is deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].intensity > candidates[j].intensity
	})

	// Greedy min-distance suppression.
	minDist2 := minDistance * minDistance
	var kept []peak
	for _, c := range candidates {
		ok := true
		for _, k := range kept {
			dx, dy := c.x-k.x, c.y-k.y
			if dx*dx+dy*dy < minDist2 {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
		}
	}

	out := make([][2]float64, len(kept))
	for i, p := range kept {
		out[i] = [2]float64{float64(p.x), float64(p.y)}
	}
	return out
}

// isWindowMaximum reports whether v is the maximum over the square window of
// half-width r centred on (x, y). Earlier pixels in scan order win exact
// ties so plateau maxima yield a single candidate.
func isWindowMaximum(img *Image, x, y, r int, v float64) bool {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			w := img.At(x+dx, y+dy)
			if w > v {
				return false
			}
			if w == v && (dy < 0 || (dy == 0 && dx < 0)) {
				return false
			}
		}
	}
	return true
}

// FindAtomPositions finds the most intense features in an image, separated
// by at least the given minimum pixel distance. Candidates closer than
// separation/2 after peak detection are resolved by RemoveTooCloseAtoms.
func FindAtomPositions(img *Image, finder PeakFinder, separation int, thresholdRel float64) ([][2]float64, error) {
	if separation < 1 {
		return nil, fmt.Errorf("separation can not be smaller than 1, got %d", separation)
	}
	if img == nil || img.Data == nil {
		return nil, fmt.Errorf("image is nil")
	}
	if finder == nil {
		finder = MaximumFilterPeakFinder{}
	}

	positions := finder.FindPeaks(img, separation, thresholdRel)
	positions, err := RemoveTooCloseAtoms(positions, float64(separation)/2, nil, DefaultTooCloseMaxIter)
	if err != nil && !IsConvergenceWarning(err) {
		return nil, err
	}
	return positions, err
}

// RemoveTooCloseAtoms removes positions that lie within tolerance of a more
// intense position. If intensities is nil, discovery order is treated as a
// descending-intensity ranking, since upstream peak detection returns
// candidates ranked most to least intense.
//
// For each conflicting pair the lower-intensity member is removed, but only
// if the pair's higher-intensity member is not itself the lower member of
// another pair: in a chain of three close atoms this keeps the middle
// "good" atom from being deleted alongside its weaker neighbor. Removal is
// batched and the pass repeats until no pairs remain within tolerance, up
// to maxIter passes. Hitting the cap returns a non-fatal ConvergenceWarning
// alongside the best-effort result.
func RemoveTooCloseAtoms(positions [][2]float64, tolerance float64, intensities []float64, maxIter int) ([][2]float64, error) {
	if intensities != nil && len(intensities) != len(positions) {
		return nil, fmt.Errorf("intensities length %d does not match positions length %d",
			len(intensities), len(positions))
	}
	// Discovery-order proxy: earlier means more intense.
	rank := make([]float64, len(positions))
	for i := range rank {
		if intensities != nil {
			rank[i] = intensities[i]
		} else {
			rank[i] = float64(len(positions) - i)
		}
	}

	tol2 := tolerance * tolerance
	for iter := 0; iter < maxIter; iter++ {
		type pair struct{ lo, hi int }
		var pairs []pair
		isLower := make(map[int]bool)
		for i := 0; i < len(positions); i++ {
			for j := i + 1; j < len(positions); j++ {
				dx := positions[i][0] - positions[j][0]
				dy := positions[i][1] - positions[j][1]
				if dx*dx+dy*dy >= tol2 {
					continue
				}
				// lo is the pair's lower-intensity member, the removal
				// candidate. Equal ranks remove the later index.
				lo, hi := j, i
				if rank[j] > rank[i] {
					lo, hi = i, j
				}
				pairs = append(pairs, pair{lo, hi})
				isLower[lo] = true
			}
		}
		if len(pairs) == 0 {
			return positions, nil
		}

		remove := make(map[int]bool)
		for _, p := range pairs {
			// If the stronger member is itself the weaker member of another
			// pair it is already being removed; deleting this pair's weaker
			// member too would take out both atoms of the triplet.
			if isLower[p.hi] {
				continue
			}
			remove[p.lo] = true
		}
		var newPositions [][2]float64
		var newRank []float64
		for i := range positions {
			if remove[i] {
				continue
			}
			newPositions = append(newPositions, positions[i])
			newRank = append(newRank, rank[i])
		}
		positions, rank = newPositions, newRank
	}

	monitoring.Logf("too-close atom removal hit the %d iteration cap without converging", maxIter)
	return positions, &ConvergenceWarning{Stage: "too-close atom removal", Iterations: maxIter}
}
