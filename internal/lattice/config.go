package lattice

// Constants for peak finding and topology construction.
const (
	// DefaultPeakSeparation is the default minimum pixel distance between
	// detected atomic columns.
	DefaultPeakSeparation = 5
	// DefaultThresholdRel is the default relative intensity threshold for
	// peak detection.
	DefaultThresholdRel = 0.02
	// DefaultTooCloseMaxIter caps the iterative too-close-atom removal as a
	// back-stop against an infinite loop.
	DefaultTooCloseMaxIter = 20
	// DefaultNearestNeighbors is the neighbor list size used for position
	// refinement.
	DefaultNearestNeighbors = 9
	// DefaultZoneAxisNeighbors is the neighbor list size used when
	// constructing zone axes. Increase to discover more atom planes.
	DefaultZoneAxisNeighbors = 15
	// DefaultPlaneTolerance scales the pixel separation into the search
	// radius used when jumping one zone vector during plane construction.
	DefaultPlaneTolerance = 0.5
	// DefaultFingerprintRadiusFactor scales the pixel separation into the
	// radius of the displacement cloud used for translation-symmetry search.
	DefaultFingerprintRadiusFactor = 7
	// DefaultBadPlaneRatio is the fraction of 2-atom planes above which a
	// zone vector is considered fragmented and removed. Empirically chosen.
	DefaultBadPlaneRatio = 0.6
	// DefaultSigmaRatioLimit rejects Gaussian fits whose sigma aspect ratio
	// exceeds this value. Empirically chosen.
	DefaultSigmaRatioLimit = 4.0
	// DefaultPercentToNN is the default refinement mask radius expressed as
	// a fraction of the distance to the nearest neighbor.
	DefaultPercentToNN = 0.40
	// DefaultPercentToNNCoM is the default fraction used by the
	// center-of-mass refinement path.
	DefaultPercentToNNCoM = 0.25
	// MaxFitAttempts bounds the shrink-and-retry loop in Gaussian fitting.
	MaxFitAttempts = 10
	// FitShrinkFactor shrinks the mask radius between failed fit attempts.
	FitShrinkFactor = 0.95
	// MinFitSamples is the minimum number of data samples needed for a
	// joint Gaussian fit.
	MinFitSamples = 6
)

// ClusterParams contains parameters for density clustering of the
// displacement cloud.
type ClusterParams struct {
	Eps    float64 // neighborhood radius in pixels
	MinPts int     // minimum displacement vectors to form a cluster
}

// DefaultClusterParams returns clustering parameters scaled to the
// characteristic pixel separation of a sublattice. Eps must be small enough
// to separate adjacent lattice translations and large enough to absorb
// position noise within one translation.
func DefaultClusterParams(pixelSeparation float64, cloudSize int) ClusterParams {
	minPts := cloudSize / 50
	if minPts < 4 {
		minPts = 4
	}
	return ClusterParams{
		Eps:    pixelSeparation * 0.3,
		MinPts: minPts,
	}
}
