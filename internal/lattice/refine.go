package lattice

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/quantem-data/lattice.report/internal/monitoring"
)

// RadiusPolicy decides the refinement mask radius for an atom. It is a
// tagged union: either a fixed pixel radius, or a fraction of the distance
// to the atom's nearest neighbor. The two are mutually exclusive by
// construction; use RadiusPolicyFrom when translating external parameters
// that could specify both.
type RadiusPolicy struct {
	fixed    bool
	radius   float64
	fraction float64
}

// FixedRadius masks a constant pixel radius around every atom.
func FixedRadius(radius float64) RadiusPolicy {
	return RadiusPolicy{fixed: true, radius: radius}
}

// PercentToNN masks each atom with fraction times the distance to its
// nearest neighbor. Requires populated neighbor lists.
func PercentToNN(fraction float64) RadiusPolicy {
	return RadiusPolicy{fraction: fraction}
}

// RadiusPolicyFrom converts the external maskRadius / percentToNN parameter
// pair into a policy. Setting both is a validation error; setting neither
// yields the default percent-to-NN policy.
func RadiusPolicyFrom(maskRadius, percentToNN float64) (RadiusPolicy, error) {
	if maskRadius > 0 && percentToNN > 0 {
		return RadiusPolicy{}, fmt.Errorf(
			"both percent_to_nn and mask_radius are specified, only one of them should be set")
	}
	if maskRadius > 0 {
		return FixedRadius(maskRadius), nil
	}
	if percentToNN > 0 {
		return PercentToNN(percentToNN), nil
	}
	return RadiusPolicy{}, nil
}

func (p RadiusPolicy) isZero() bool { return !p.fixed && p.fraction == 0 }

// resolve turns the policy into a concrete pixel radius for atom i.
func (p RadiusPolicy) resolve(s *Sublattice, i int) (float64, error) {
	if p.fixed {
		return p.radius, nil
	}
	if len(s.Atoms[i].Neighbors) == 0 {
		return 0, ErrMissingNeighborList
	}
	return s.closestNeighborDistance(i) * p.fraction, nil
}

// shrink returns the policy with its radius reduced by the retry factor.
func (p RadiusPolicy) shrink() RadiusPolicy {
	if p.fixed {
		p.radius *= FitShrinkFactor
	} else {
		p.fraction *= FitShrinkFactor
	}
	return p
}

// FitOptions controls one joint Gaussian fit.
type FitOptions struct {
	Radius          RadiusPolicy
	RotationEnabled bool
	// CentreFree, when false, freezes the centre positions so sigma and
	// amplitude can settle without the centres causing bad fitting.
	CentreFree bool
}

// fitState is the explicit refinement state machine. A fit attempt either
// succeeds (→ stateDone) or fails validity checks (→ stateShrinking); after
// MaxFitAttempts failed attempts the position falls back to center of mass
// (→ stateFallback → stateDone).
type fitState int

const (
	stateFitting fitState = iota
	stateShrinking
	stateFallback
	stateDone
)

// FitAtomPositionsGaussian jointly fits one 2-D Gaussian per listed atom to
// the image region covering the group, and writes the fitted centre, shape
// and amplitude back into the atoms. Previous positions are appended to the
// atoms' history first.
//
// This kind of fitting is error-prone where atoms are close together or the
// image is noisy, so a rejected fit shrinks the mask radius by 5% and tries
// again, up to MaxFitAttempts. If no attempt passes the validity checks the
// atoms get a center-of-mass position update with amplitude reset to 0, and
// a non-fatal ConvergenceWarning is returned.
func FitAtomPositionsGaussian(s *Sublattice, atomIdxs []int, img *Image, opts FitOptions) error {
	if len(atomIdxs) == 0 {
		return fmt.Errorf("no atoms to fit")
	}
	if img == nil {
		img = s.Image
	}
	policy := opts.Radius
	if policy.isZero() {
		policy = PercentToNN(DefaultPercentToNN)
	}

	radii, positions, err := resolveRadii(s, atomIdxs, policy)
	if err != nil {
		return err
	}
	region := regionAroundAtoms(img, positions, radii)

	// Too small a region can never support a Gaussian fit; go straight to
	// the fallback.
	state := stateFitting
	if region.samples() < MinFitSamples {
		state = stateFallback
	}

	var fitted []*Gaussian2D
	attempts := 0
	for state != stateDone {
		switch state {
		case stateFitting:
			fitted = attemptJointFit(s, atomIdxs, img, region, positions, radii, opts)
			if fitted != nil {
				applyFit(s, atomIdxs, fitted)
				state = stateDone
			} else {
				state = stateShrinking
			}

		case stateShrinking:
			attempts++
			if attempts >= MaxFitAttempts {
				state = stateFallback
				continue
			}
			// Bad fitting is often caused by intensity bleeding in from
			// neighboring atoms; a smaller mask can exclude it.
			policy = policy.shrink()
			if radii, positions, err = resolveRadii(s, atomIdxs, policy); err != nil {
				return err
			}
			state = stateFitting

		case stateFallback:
			for _, i := range atomIdxs {
				x, y, comErr := centerOfMassPosition(s, i, img, policy)
				if comErr != nil {
					return comErr
				}
				a := s.Atoms[i]
				a.recordPosition()
				a.X, a.Y = x, y
				a.Amplitude = 0
				a.GaussianFitted = false
			}
			return &ConvergenceWarning{Stage: "gaussian fit", Iterations: attempts}
		}
	}
	return nil
}

func resolveRadii(s *Sublattice, atomIdxs []int, policy RadiusPolicy) ([]float64, [][2]float64, error) {
	radii := make([]float64, len(atomIdxs))
	positions := make([][2]float64, len(atomIdxs))
	for n, i := range atomIdxs {
		r, err := policy.resolve(s, i)
		if err != nil {
			return nil, nil, err
		}
		radii[n] = r
		positions[n] = [2]float64{s.Atoms[i].X, s.Atoms[i].Y}
	}
	return radii, positions, nil
}

// attemptJointFit runs one masked joint fit and returns the fitted
// components, or nil if the fit failed any validity check.
func attemptJointFit(s *Sublattice, atomIdxs []int, img *Image, region cropRegion,
	positions [][2]float64, radii []float64, opts FitOptions) []*Gaussian2D {

	crop := img.Crop(region.x0, region.y0, region.x1, region.y1)
	shifted := make([][2]float64, len(positions))
	for i, p := range positions {
		shifted[i] = [2]float64{p[0] - float64(region.x0), p[1] - float64(region.y0)}
	}
	mask := makeMaskFromPositions(shifted, radii, region.height(), region.width())
	maskedValues := applyMask(crop, mask)
	if len(maskedValues) == 0 {
		return nil
	}
	background := findBackgroundValue(maskedValues, 0.03)
	subtractBackground(crop, mask, background)

	// The upper-percentile heuristic overshoots badly on clean data; a seed
	// far above the true peak starts the solver in a degenerate basin, so
	// cap it at the brightest background-subtracted pixel.
	amplitudeSeed := findMedianUpperPercentile(maskedValues, 0.03) * 10
	if peak := maxFloat(maskedValues) - background; amplitudeSeed > peak {
		amplitudeSeed = peak
	}
	gaussians := make([]*Gaussian2D, len(atomIdxs))
	for n, i := range atomIdxs {
		gaussians[n] = gaussianFromAtom(s.Atoms[i], shifted[n][0], shifted[n][1], amplitudeSeed)
	}

	if !solveJointFit(crop, gaussians, opts) {
		return nil
	}
	if !fitIsValid(crop, mask, gaussians) {
		return nil
	}
	// Map the centres back into image coordinates.
	for _, g := range gaussians {
		g.CentreX += float64(region.x0)
		g.CentreY += float64(region.y0)
	}
	return gaussians
}

// Levenberg-Marquardt tuning for solveJointFit. The damping floor keeps the
// normal equations solvable when a parameter has no effect on the residual,
// e.g. the rotation of a circular component.
const (
	lmMaxIterations  = 60
	lmDiffStep       = 1e-6
	lmInitialDamping = 1e-3
	lmDampingUp      = 10
	lmDampingDown    = 0.1
	lmDampingMin     = 1e-12
	lmDampingMax     = 1e10
	lmDampingFloor   = 1e-9
	lmRelImprovement = 1e-10
)

// solveJointFit minimises the shared sum-of-squares residual of all
// components over the crop by Levenberg-Marquardt on the per-pixel
// residual, with centre and rotation optionally frozen. The Jacobian is
// built by forward differences with parameter-scaled steps. Returns false
// if the solver failed outright.
func solveJointFit(crop *mat.Dense, gaussians []*Gaussian2D, opts FitOptions) bool {
	refs := packParams(gaussians, opts)
	nParams := len(refs)
	rows, cols := crop.Dims()
	nPixels := rows * cols
	if nPixels < nParams {
		return false
	}

	params := make([]float64, nParams)
	for i, r := range refs {
		params[i] = *r
	}
	// residuals writes data minus model per pixel and returns the sum of
	// squares.
	residuals := func(p, out []float64) float64 {
		for i, r := range refs {
			*r = p[i]
		}
		var ssr float64
		k := 0
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				model := 0.0
				for _, g := range gaussians {
					model += g.Eval(float64(x), float64(y))
				}
				d := crop.At(y, x) - model
				out[k] = d
				ssr += d * d
				k++
			}
		}
		return ssr
	}

	res := make([]float64, nPixels)
	ssr := residuals(params, res)

	jac := mat.NewDense(nPixels, nParams, nil)
	perturbed := make([]float64, nPixels)
	trial := make([]float64, nParams)
	lambda := lmInitialDamping
	for iter := 0; iter < lmMaxIterations; iter++ {
		for j := 0; j < nParams; j++ {
			h := lmDiffStep * math.Max(math.Abs(params[j]), 1)
			copy(trial, params)
			trial[j] += h
			residuals(trial, perturbed)
			for k := 0; k < nPixels; k++ {
				jac.Set(k, j, (perturbed[k]-res[k])/h)
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		jtr := mat.NewVecDense(nParams, nil)
		jtr.MulVec(jac.T(), mat.NewVecDense(nPixels, res))
		for j := 0; j < nParams; j++ {
			d := jtj.At(j, j)
			jtj.Set(j, j, d+lambda*math.Max(d, lmDampingFloor))
		}

		var step mat.VecDense
		if err := step.SolveVec(&jtj, jtr); err != nil {
			lambda *= lmDampingUp
			if lambda > lmDampingMax {
				break
			}
			continue
		}
		// The residual is data minus model, so the Gauss-Newton step is
		// subtracted.
		for j := 0; j < nParams; j++ {
			trial[j] = params[j] - step.AtVec(j)
		}
		trialSSR := residuals(trial, perturbed)
		if !math.IsNaN(trialSSR) && trialSSR < ssr {
			improved := ssr - trialSSR
			copy(params, trial)
			copy(res, perturbed)
			ssr = trialSSR
			lambda = math.Max(lambda*lmDampingDown, lmDampingMin)
			if improved <= lmRelImprovement*math.Max(ssr, 1) {
				break
			}
		} else {
			lambda *= lmDampingUp
			if lambda > lmDampingMax {
				break
			}
		}
	}

	for i, r := range refs {
		if math.IsNaN(params[i]) || math.IsInf(params[i], 0) {
			return false
		}
		*r = params[i]
	}
	return true
}

func maxFloat(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

// packParams collects pointers to the free parameters of each component.
func packParams(gaussians []*Gaussian2D, opts FitOptions) []*float64 {
	var refs []*float64
	for _, g := range gaussians {
		if opts.CentreFree {
			refs = append(refs, &g.CentreX, &g.CentreY)
		}
		refs = append(refs, &g.SigmaX, &g.SigmaY)
		if opts.RotationEnabled {
			refs = append(refs, &g.Rotation)
		}
		refs = append(refs, &g.Amplitude)
	}
	return refs
}

// fitIsValid applies the post-fit rejection rules: every fitted centre must
// lie inside the crop and inside the union mask, amplitudes must be
// non-negative, and the sigma aspect ratio must not exceed the limit.
func fitIsValid(crop *mat.Dense, mask *Mask, gaussians []*Gaussian2D) bool {
	rows, cols := crop.Dims()
	for _, g := range gaussians {
		if math.IsNaN(g.CentreX) || math.IsNaN(g.CentreY) {
			return false
		}
		if !(g.CentreY > 0 && g.CentreY < float64(rows)) {
			return false
		}
		if !(g.CentreX > 0 && g.CentreX < float64(cols)) {
			return false
		}
		if !mask.At(int(g.CentreX), int(g.CentreY)) {
			return false
		}
		if g.Amplitude < 0 {
			return false
		}
		maxSigma := math.Max(math.Abs(g.SigmaX), math.Abs(g.SigmaY))
		minSigma := math.Min(math.Abs(g.SigmaX), math.Abs(g.SigmaY))
		if minSigma == 0 || maxSigma/minSigma > DefaultSigmaRatioLimit {
			return false
		}
	}
	return true
}

// applyFit copies fitted parameters into the atoms. Negative sigmas are
// mirrored; rotation is normalised to [0, π).
func applyFit(s *Sublattice, atomIdxs []int, gaussians []*Gaussian2D) {
	for n, i := range atomIdxs {
		a := s.Atoms[i]
		g := gaussians[n]
		a.recordPosition()
		a.X = g.CentreX
		a.Y = g.CentreY
		a.SigmaX = math.Abs(g.SigmaX)
		a.SigmaY = math.Abs(g.SigmaY)
		rot := math.Mod(g.Rotation, math.Pi)
		if rot < 0 {
			rot += math.Pi
		}
		a.Rotation = rot
		a.Amplitude = g.Amplitude
		a.GaussianFitted = true
	}
}

// centerOfMassPosition returns the first-moment position of the masked,
// background-subtracted region around atom i, in image coordinates.
func centerOfMassPosition(s *Sublattice, i int, img *Image, policy RadiusPolicy) (float64, float64, error) {
	if policy.isZero() {
		policy = PercentToNN(DefaultPercentToNNCoM)
	}
	radius, err := policy.resolve(s, i)
	if err != nil {
		return 0, 0, err
	}
	a := s.Atoms[i]
	region := regionAroundAtoms(img, [][2]float64{{a.X, a.Y}}, []float64{radius})
	if region.samples() == 0 {
		return a.X, a.Y, nil
	}
	crop := img.Crop(region.x0, region.y0, region.x1, region.y1)
	mask := newMask(region.height(), region.width())
	mask.addCircle(a.X-float64(region.x0), a.Y-float64(region.y0), radius)
	values := applyMask(crop, mask)
	if len(values) == 0 {
		return a.X, a.Y, nil
	}
	subtractBackground(crop, mask, findBackgroundValue(values, 0.03))
	cx, cy := centerOfMass(crop)
	return cx + float64(region.x0), cy + float64(region.y0), nil
}

// RefineOptions controls a whole-sublattice refinement pass.
type RefineOptions struct {
	Radius          RadiusPolicy
	RotationEnabled bool
	// Workers fans independent per-atom fits out across goroutines. Mask
	// radii are resolved from the pre-pass coordinates before any worker
	// starts, so each worker only touches its own atom's fields. Neighbor
	// rebuilds must happen strictly between passes. 0 means sequential.
	Workers int
	// Progress, if set, is called after each atom completes.
	Progress func(done, total int)
}

// RefineAtomPositionsGaussian runs a per-atom Gaussian refinement pass over
// every refine-enabled atom. Individual fit failures are contained: those
// atoms receive the center-of-mass fallback and are visible to the caller
// only through amplitude 0 and a cleared fit flag. The context aborts the
// pass between atoms.
//
// Neighbor lists must be populated on the current coordinates when the
// radius policy is percent-to-NN, and must be rebuilt after this pass
// before any further topology work.
func (s *Sublattice) RefineAtomPositionsGaussian(ctx context.Context, img *Image, opts RefineOptions) error {
	if opts.Radius.isZero() {
		opts.Radius = PercentToNN(DefaultPercentToNN)
	}
	if !opts.Radius.fixed {
		if err := s.checkNeighborLists(); err != nil {
			return err
		}
	}
	radii, err := s.snapshotRadii(opts.Radius)
	if err != nil {
		return err
	}
	fallbacks, err := s.refineEach(ctx, func(i int) error {
		return FitAtomPositionsGaussian(s, []int{i}, img, FitOptions{
			Radius:          FixedRadius(radii[i]),
			RotationEnabled: opts.RotationEnabled,
			CentreFree:      true,
		})
	}, opts.Workers, opts.Progress)
	if err != nil {
		return err
	}
	if fallbacks > 0 {
		monitoring.Logf("gaussian refinement: %d/%d atoms fell back to center of mass",
			fallbacks, len(s.Atoms))
	}
	return nil
}

// RefineAtomPositionsCenterOfMass runs the simpler center-of-mass-only
// refinement pass: same masking and background logic, no least-squares fit.
func (s *Sublattice) RefineAtomPositionsCenterOfMass(ctx context.Context, img *Image, opts RefineOptions) error {
	if opts.Radius.isZero() {
		opts.Radius = PercentToNN(DefaultPercentToNNCoM)
	}
	if !opts.Radius.fixed {
		if err := s.checkNeighborLists(); err != nil {
			return err
		}
	}
	if img == nil {
		img = s.Image
	}
	radii, err := s.snapshotRadii(opts.Radius)
	if err != nil {
		return err
	}
	_, err = s.refineEach(ctx, func(i int) error {
		x, y, err := centerOfMassPosition(s, i, img, FixedRadius(radii[i]))
		if err != nil {
			return err
		}
		a := s.Atoms[i]
		a.recordPosition()
		a.X, a.Y = x, y
		return nil
	}, opts.Workers, opts.Progress)
	return err
}

// snapshotRadii resolves the radius policy for every refine-enabled atom
// before any coordinates move. Workers then fit against fixed per-atom
// radii, so no worker ever reads a neighbor position another worker is
// updating.
func (s *Sublattice) snapshotRadii(policy RadiusPolicy) (map[int]float64, error) {
	radii := make(map[int]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		if !a.RefinePosition {
			continue
		}
		r, err := policy.resolve(s, i)
		if err != nil {
			return nil, err
		}
		radii[i] = r
	}
	return radii, nil
}

// refineEach applies fn to every refine-enabled atom, optionally fanned out
// over a worker pool. Convergence warnings are counted, not propagated; any
// other error aborts the pass.
func (s *Sublattice) refineEach(ctx context.Context, fn func(i int) error, workers int,
	progress func(done, total int)) (fallbacks int, err error) {

	var targets []int
	for i, a := range s.Atoms {
		if a.RefinePosition {
			targets = append(targets, i)
		}
	}
	total := len(targets)
	if total == 0 {
		return 0, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	var (
		mu       sync.Mutex
		done     int
		firstErr error
	)
	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				fnErr := fn(i)
				mu.Lock()
				if fnErr != nil {
					if IsConvergenceWarning(fnErr) {
						fallbacks++
					} else if firstErr == nil {
						firstErr = fnErr
					}
				}
				done++
				if progress != nil {
					progress(done, total)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, i := range targets {
		select {
		case <-ctx.Done():
			break feed
		case work <- i:
		}
	}
	close(work)
	wg.Wait()

	if firstErr != nil {
		return fallbacks, firstErr
	}
	return fallbacks, ctx.Err()
}
