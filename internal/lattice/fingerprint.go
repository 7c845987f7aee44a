package lattice

import (
	"math"
	"sort"
)

// =============================================================================
// Translation-symmetry fingerprinting
// =============================================================================
//
// The dominant lattice translations of a sublattice are found from the cloud
// of pairwise atom displacements: every repeating translation shows up as a
// dense clump in displacement space. A density clusterer over that cloud
// returns one representative vector per clump; parallel and antiparallel
// duplicates are then collapsed into unique zone vectors.

// Displacement is one pairwise atom displacement (dx, dy) in pixels.
type Displacement struct {
	DX, DY float64
}

// DisplacementCloud computes the full pairwise displacement set between all
// atoms, keeping only vectors shorter than radius. Self-pairs are excluded.
// This is O(n²) in atom count and memory-bounded; it is impractical above
// roughly 30k atoms.
func (s *Sublattice) DisplacementCloud(radius float64) []Displacement {
	r2 := radius * radius
	var cloud []Displacement
	for i, a := range s.Atoms {
		for j, b := range s.Atoms {
			if i == j {
				continue
			}
			dx, dy := b.X-a.X, b.Y-a.Y
			if dx*dx+dy*dy < r2 {
				cloud = append(cloud, Displacement{DX: dx, DY: dy})
			}
		}
	}
	return cloud
}

// displacementCluster is a cluster of near-identical displacement vectors.
type displacementCluster struct {
	Center     Displacement
	Population int
}

// clusterDisplacements runs density clustering over the displacement cloud
// using a grid spatial index with cell size eps. Vectors in sparse regions
// are noise. Cluster centers are population means; the result is sorted by
// descending population, ties broken by (dx, dy), so cluster order is
// deterministic and index-stable for zone-axis selection lists.
func clusterDisplacements(cloud []Displacement, params ClusterParams) []displacementCluster {
	if len(cloud) == 0 {
		return nil
	}

	idx := newDisplacementIndex(params.Eps)
	idx.build(cloud)

	n := len(cloud)
	labels := make([]int, n) // 0=unvisited, -1=noise, >0=clusterID
	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}
		neighbors := idx.regionQuery(cloud, i, params.Eps)
		if len(neighbors) < params.MinPts {
			labels[i] = -1
			continue
		}
		clusterID++
		expandDisplacementCluster(cloud, idx, labels, i, neighbors, clusterID, params)
	}

	clusters := make([]displacementCluster, 0, clusterID)
	for cid := 1; cid <= clusterID; cid++ {
		var sumX, sumY float64
		var count int
		for i, label := range labels {
			if label != cid {
				continue
			}
			sumX += cloud[i].DX
			sumY += cloud[i].DY
			count++
		}
		if count == 0 {
			continue
		}
		clusters = append(clusters, displacementCluster{
			Center:     Displacement{DX: sumX / float64(count), DY: sumY / float64(count)},
			Population: count,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Population != clusters[j].Population {
			return clusters[i].Population > clusters[j].Population
		}
		if clusters[i].Center.DX != clusters[j].Center.DX {
			return clusters[i].Center.DX < clusters[j].Center.DX
		}
		return clusters[i].Center.DY < clusters[j].Center.DY
	})
	return clusters
}

func expandDisplacementCluster(cloud []Displacement, idx *displacementIndex, labels []int,
	seed int, neighbors []int, clusterID int, params ClusterParams) {

	labels[seed] = clusterID
	for j := 0; j < len(neighbors); j++ {
		i := neighbors[j]
		if labels[i] == -1 {
			labels[i] = clusterID // noise becomes border point
		}
		if labels[i] != 0 {
			continue
		}
		labels[i] = clusterID
		newNeighbors := idx.regionQuery(cloud, i, params.Eps)
		if len(newNeighbors) >= params.MinPts {
			neighbors = append(neighbors, newNeighbors...)
		}
	}
}

// displacementIndex is a regular-grid spatial index over displacement
// vectors. Cell size should approximately match the clustering eps.
type displacementIndex struct {
	cellSize float64
	grid     map[int64][]int
}

func newDisplacementIndex(cellSize float64) *displacementIndex {
	return &displacementIndex{cellSize: cellSize, grid: make(map[int64][]int)}
}

func (di *displacementIndex) build(cloud []Displacement) {
	for i, d := range cloud {
		id := di.cellID(d.DX, d.DY)
		di.grid[id] = append(di.grid[id], i)
	}
}

// cellID pairs the signed cell coordinates into one key using zigzag
// encoding and Szudzik's pairing function.
func (di *displacementIndex) cellID(x, y float64) int64 {
	return pairCells(
		int64(math.Floor(x/di.cellSize)),
		int64(math.Floor(y/di.cellSize)),
	)
}

func pairCells(cellX, cellY int64) int64 {
	var a, b int64
	if cellX >= 0 {
		a = 2 * cellX
	} else {
		a = -2*cellX - 1
	}
	if cellY >= 0 {
		b = 2 * cellY
	} else {
		b = -2*cellY - 1
	}
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

// regionQuery returns indices of all displacements within eps of cloud[i].
func (di *displacementIndex) regionQuery(cloud []Displacement, i int, eps float64) []int {
	p := cloud[i]
	eps2 := eps * eps
	baseX := int64(math.Floor(p.DX / di.cellSize))
	baseY := int64(math.Floor(p.DY / di.cellSize))

	var neighbors []int
	for cx := baseX - 1; cx <= baseX+1; cx++ {
		for cy := baseY - 1; cy <= baseY+1; cy++ {
			for _, j := range di.grid[pairCells(cx, cy)] {
				dx := cloud[j].DX - p.DX
				dy := cloud[j].DY - p.DY
				if dx*dx+dy*dy <= eps2 {
					neighbors = append(neighbors, j)
				}
			}
		}
	}
	return neighbors
}

// Fingerprint returns the candidate zone vectors of the sublattice: the
// cluster centers of the displacement cloud within radius, quantised to
// 2-decimal precision, ordered by descending cluster population. Parallel
// duplicates are not yet removed.
func (s *Sublattice) Fingerprint(radius float64, params ClusterParams) []ZoneVector {
	cloud := s.DisplacementCloud(radius)
	if params == (ClusterParams{}) {
		params = DefaultClusterParams(s.PixelSeparation(), len(cloud))
	}
	clusters := clusterDisplacements(cloud, params)
	out := make([]ZoneVector, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, ZoneVector{X: c.Center.DX, Y: c.Center.DY}.Rounded())
	}
	return out
}

// RemoveParallelVectors collapses direction vectors that describe the same
// zone axis: one the negation of the other (or near-identical) within the
// distance tolerance. The first vector of each equivalence class survives,
// preserving input (population) order. Idempotent.
func RemoveParallelVectors(vectors []ZoneVector, tolerance float64) []ZoneVector {
	var unique []ZoneVector
	for _, v := range vectors {
		duplicate := false
		for _, u := range unique {
			if v.EquivalentTo(u, tolerance) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			unique = append(unique, v)
		}
	}
	return unique
}

// ZoneAxisSelection keeps one discovered zone vector under a custom name.
// Index refers to the pre-dedup cluster order returned by Fingerprint.
type ZoneAxisSelection struct {
	Index int
	Name  string
}

// MakeTranslationSymmetry discovers the sublattice's zone vectors from the
// displacement cloud and populates ZoneAxes and ZoneAxisNames. The
// displacement radius is radiusFactor times the pixel separation; the dedup
// tolerance is pixelSeparation / 1.5. An optional selection list keeps only
// specific pre-dedup clusters under custom names.
func (s *Sublattice) MakeTranslationSymmetry(radiusFactor float64, selections []ZoneAxisSelection) error {
	if len(s.Atoms) == 0 {
		return ErrNoAtoms
	}
	if radiusFactor <= 0 {
		radiusFactor = DefaultFingerprintRadiusFactor
	}
	psep := s.PixelSeparation()
	candidates := s.Fingerprint(psep*radiusFactor, ClusterParams{})

	if selections != nil {
		var vectors []ZoneVector
		var names []string
		for _, sel := range selections {
			if sel.Index < 0 || sel.Index >= len(candidates) {
				continue
			}
			vectors = append(vectors, candidates[sel.Index])
			names = append(names, sel.Name)
		}
		s.ZoneAxes = vectors
		s.ZoneAxisNames = names
		return nil
	}

	unique := RemoveParallelVectors(candidates, psep/1.5)
	s.ZoneAxes = unique
	s.ZoneAxisNames = make([]string, len(unique))
	for i, v := range unique {
		s.ZoneAxisNames[i] = v.Name()
	}
	return nil
}
