package lattice

import (
	"context"
	"fmt"

	"github.com/quantem-data/lattice.report/internal/monitoring"
)

// ZoneAxesOptions controls topology discovery.
type ZoneAxesOptions struct {
	// PlaneTolerance scales the pixel separation into the search radius for
	// plane traversal. Increase it if atom planes come out split.
	PlaneTolerance float64
	// NearestNeighbors is the neighbor list size used during traversal.
	// Increase it to discover higher-index atom planes.
	NearestNeighbors int
	// RadiusFactor scales the pixel separation into the displacement cloud
	// radius for the symmetry search.
	RadiusFactor float64
	// Selections optionally keeps only specific pre-dedup fingerprint
	// clusters under custom names.
	Selections []ZoneAxisSelection
	// BadPlaneRatio overrides the degenerate-direction pruning threshold.
	BadPlaneRatio float64
}

// ConstructZoneAxes discovers the sublattice's lattice topology: pixel
// separation, neighbor lists, zone vectors, atom planes, and finally prunes
// structurally degenerate directions.
func (s *Sublattice) ConstructZoneAxes(opts ZoneAxesOptions) error {
	if len(s.Atoms) == 0 {
		return ErrNoAtoms
	}
	if opts.NearestNeighbors <= 0 {
		opts.NearestNeighbors = DefaultZoneAxisNeighbors
	}
	if opts.PlaneTolerance <= 0 {
		opts.PlaneTolerance = DefaultPlaneTolerance
	}
	if err := s.FindNearestNeighbors(opts.NearestNeighbors); err != nil {
		return err
	}
	if err := s.MakeTranslationSymmetry(opts.RadiusFactor, opts.Selections); err != nil {
		return err
	}
	if err := s.ConstructAtomPlanes(opts.PlaneTolerance); err != nil {
		return err
	}
	s.RemoveBadZoneVectors(opts.BadPlaneRatio)
	monitoring.Logf("sublattice %q: %d atoms, %d zone axes, %d atom planes",
		s.Name, len(s.Atoms), len(s.ZoneAxes), len(s.PlaneList))
	return nil
}

// RefinementStep is one stage of a refinement sweep.
type RefinementStep struct {
	// Method is "gaussian" or "center_of_mass".
	Method string
	// Passes is how many times the step runs.
	Passes int
	// Image optionally overrides the sublattice image for this step, e.g.
	// to refine against a filtered copy.
	Image *Image
}

// RefinementSweep runs a sequence of refinement steps over the sublattice.
// Neighbor lists are rebuilt before the sweep and between passes, since
// every pass moves the coordinates the lists were built on. The context is
// checked between passes so long sweeps abort cleanly at a pass boundary.
func (s *Sublattice) RefinementSweep(ctx context.Context, steps []RefinementStep, opts RefineOptions) error {
	total := 0
	for _, step := range steps {
		total += step.Passes
	}
	current := 0
	for _, step := range steps {
		img := step.Image
		if img == nil {
			img = s.Image
		}
		for pass := 0; pass < step.Passes; pass++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Coordinates moved last pass; the percent-to-NN radii and the
			// plane traversal both need fresh lists.
			if err := s.FindNearestNeighbors(DefaultNearestNeighbors); err != nil {
				return err
			}
			current++
			monitoring.Logf("refinement pass %d/%d (%s)", current, total, step.Method)
			switch step.Method {
			case "gaussian":
				// A rotation-frozen pass first settles sigma and amplitude,
				// then a free pass refines the full shape.
				frozen := opts
				frozen.RotationEnabled = false
				if err := s.RefineAtomPositionsGaussian(ctx, img, frozen); err != nil {
					return err
				}
				free := opts
				free.RotationEnabled = true
				if err := s.RefineAtomPositionsGaussian(ctx, img, free); err != nil {
					return err
				}
			case "center_of_mass":
				if err := s.RefineAtomPositionsCenterOfMass(ctx, img, opts); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown refinement method %q", step.Method)
			}
		}
	}
	return nil
}

// FeatureDensityPoint is one sample of the feature-density sweep.
type FeatureDensityPoint struct {
	Separation int
	PeakCount  int
}

// FindFeatureDensity runs peak finding across a range of separations,
// giving a measure of feature density and a basis for choosing the peak
// separation for the initial sublattice. Progress is reported per
// separation and the context aborts the sweep between iterations.
func FindFeatureDensity(ctx context.Context, img *Image, sepMin, sepMax, sepStep int,
	thresholdRel float64, progress func(done, total int)) ([]FeatureDensityPoint, error) {

	if sepMin > sepMax {
		return nil, fmt.Errorf("separation range lower end (%d) larger than upper end (%d)", sepMin, sepMax)
	}
	if sepMin < 1 {
		return nil, fmt.Errorf("separation range lower end can not be below 1, got %d", sepMin)
	}
	if sepStep < 1 {
		sepStep = 1
	}

	var out []FeatureDensityPoint
	total := (sepMax - sepMin + sepStep - 1) / sepStep
	done := 0
	for sep := sepMin; sep < sepMax; sep += sepStep {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		peaks, err := FindAtomPositions(img, nil, sep, thresholdRel)
		if err != nil && !IsConvergenceWarning(err) {
			return out, err
		}
		out = append(out, FeatureDensityPoint{Separation: sep, PeakCount: len(peaks)})
		done++
		if progress != nil {
			progress(done, total)
		}
	}
	return out, nil
}
