package lattice

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"
)

// atomPoint adapts an atom position to the kd-tree Comparable interface,
// carrying the arena index so query results map back to atoms.
type atomPoint struct {
	x, y float64
	idx  int
}

func (p atomPoint) coord(d kdtree.Dim) float64 {
	if d == 0 {
		return p.x
	}
	return p.y
}

func (p atomPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(atomPoint)
	return p.coord(d) - q.coord(d)
}

func (p atomPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance, matching the metric the
// kd-tree uses internally.
func (p atomPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(atomPoint)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}

type atomPoints []atomPoint

func (p atomPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p atomPoints) Len() int                      { return len(p) }
func (p atomPoints) Pivot(d kdtree.Dim) int {
	return atomPointPlane{atomPoints: p, Dim: d}.Pivot()
}
func (p atomPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// atomPointPlane implements the kd-tree SortSlicer over one dimension.
type atomPointPlane struct {
	kdtree.Dim
	atomPoints
}

func (p atomPointPlane) Less(i, j int) bool {
	return p.atomPoints[i].coord(p.Dim) < p.atomPoints[j].coord(p.Dim)
}
func (p atomPointPlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}
func (p atomPointPlane) Slice(start, end int) kdtree.SortSlicer {
	p.atomPoints = p.atomPoints[start:end]
	return p
}
func (p atomPointPlane) Swap(i, j int) {
	p.atomPoints[i], p.atomPoints[j] = p.atomPoints[j], p.atomPoints[i]
}

func (s *Sublattice) buildTree() (*kdtree.Tree, atomPoints) {
	pts := make(atomPoints, len(s.Atoms))
	for i, a := range s.Atoms {
		pts[i] = atomPoint{x: a.X, y: a.Y, idx: i}
	}
	// The tree partitions its input in place; keep an untouched copy for
	// issuing queries by index.
	treePts := make(atomPoints, len(pts))
	copy(treePts, pts)
	return kdtree.New(treePts, false), pts
}

// kNearest returns the indices of the k nearest atoms to query point q,
// ascending by distance, excluding the atom at excludeIdx.
func kNearest(tree *kdtree.Tree, q atomPoint, k, excludeIdx int) []int {
	keep := kdtree.NewNKeeper(k + 1)
	tree.NearestSet(keep, q)

	type hit struct {
		idx  int
		dist float64
	}
	hits := make([]hit, 0, keep.Len())
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		p := cd.Comparable.(atomPoint)
		if p.idx == excludeIdx {
			continue
		}
		hits = append(hits, hit{idx: p.idx, dist: cd.Dist})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].idx < hits[j].idx
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}

// FindNearestNeighbors populates each atom's neighbor list with the k
// nearest other atoms, ordered by ascending distance. It must be run before
// plane construction and before refinement driven by percent-to-NN radii,
// and must be re-run after any pass that moves atom coordinates: the lists
// are snapshots, not live views.
func (s *Sublattice) FindNearestNeighbors(k int) error {
	if len(s.Atoms) == 0 {
		return ErrNoAtoms
	}
	if k <= 0 {
		k = DefaultNearestNeighbors
	}
	if k > len(s.Atoms)-1 {
		k = len(s.Atoms) - 1
	}
	tree, pts := s.buildTree()
	for i, a := range s.Atoms {
		a.Neighbors = kNearest(tree, pts[i], k, i)
	}
	return nil
}

// computePixelSeparation estimates the characteristic lattice spacing as
// the median nearest-neighbor distance divided by 2.
func (s *Sublattice) computePixelSeparation() float64 {
	if len(s.Atoms) < 2 {
		return 0
	}
	tree, pts := s.buildTree()
	distances := make([]float64, 0, len(s.Atoms))
	for i := range s.Atoms {
		nn := kNearest(tree, pts[i], 1, i)
		if len(nn) == 1 {
			distances = append(distances, s.Atoms[i].Distance(s.Atoms[nn[0]]))
		}
	}
	sort.Float64s(distances)
	return stat.Quantile(0.5, stat.Empirical, distances, nil) / 2
}
