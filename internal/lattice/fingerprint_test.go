package lattice

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplacementCloud_RadiusMaskAndSelfExclusion(t *testing.T) {
	s := gridSublattice(t, 3, 3, 10)
	cloud := s.DisplacementCloud(11)
	// Only the 4-connected grid displacements survive an 11 px radius:
	// 6 horizontal and 6 vertical adjacent pairs, counted in both
	// directions.
	require.Len(t, cloud, 24)
	for _, d := range cloud {
		norm := math.Hypot(d.DX, d.DY)
		assert.Greater(t, norm, 0.0, "self-pair leaked into cloud")
		assert.Less(t, norm, 11.0)
	}
}

func TestClusterDisplacements_PopulationOrder(t *testing.T) {
	var cloud []Displacement
	for i := 0; i < 40; i++ {
		cloud = append(cloud, Displacement{DX: 10, DY: 0})
	}
	for i := 0; i < 20; i++ {
		cloud = append(cloud, Displacement{DX: 0, DY: 10})
	}
	// A lone vector is noise, not a cluster.
	cloud = append(cloud, Displacement{DX: 55, DY: 55})

	clusters := clusterDisplacements(cloud, ClusterParams{Eps: 1.5, MinPts: 4})
	require.Len(t, clusters, 2)
	assert.Equal(t, Displacement{DX: 10, DY: 0}, clusters[0].Center)
	assert.Equal(t, 40, clusters[0].Population)
	assert.Equal(t, Displacement{DX: 0, DY: 10}, clusters[1].Center)
}

func TestRemoveParallelVectors_AntiparallelCollapse(t *testing.T) {
	vectors := []ZoneVector{
		{10, 0}, {-10, 0}, {0, 10}, {0, -10}, {10, 10},
	}
	got := RemoveParallelVectors(vectors, 3)
	want := []ZoneVector{{10, 0}, {0, 10}, {10, 10}}
	assert.Equal(t, want, got)
}

func TestRemoveParallelVectors_Idempotent(t *testing.T) {
	vectors := []ZoneVector{{10, 0}, {-10, 0}, {0.4, 10}, {0, -10.2}}
	once := RemoveParallelVectors(vectors, 3)
	twice := RemoveParallelVectors(once, 3)
	assert.Equal(t, once, twice)
}

func TestZoneVector_Equivalence(t *testing.T) {
	v := ZoneVector{10, 0}
	assert.True(t, v.EquivalentTo(ZoneVector{-10, 0.5}, 1))
	assert.True(t, v.EquivalentTo(ZoneVector{10.2, 0}, 1))
	assert.False(t, v.EquivalentTo(ZoneVector{0, 10}, 1))
}

func TestZoneVector_RoundedAndName(t *testing.T) {
	v := ZoneVector{10.00123, 0.0049}
	assert.Equal(t, ZoneVector{10.0, 0.0}, v.Rounded())
	assert.Equal(t, "(10.00, 0.00)", ZoneVector{10.0, 0.0}.Name())
}

// TestMakeTranslationSymmetry_SquareGrid is the fixed-fixture regression
// oracle for zone vector discovery: a 20x20 grid with 10 px spacing and a
// displacement radius just above the diagonal spacing yields exactly the 4
// unique lattice directions.
func TestMakeTranslationSymmetry_SquareGrid(t *testing.T) {
	s := gridSublattice(t, 20, 20, 10)
	require.InDelta(t, 5.0, s.PixelSeparation(), 1e-9)

	// radiusFactor 3.2 -> radius 16: keeps the (10,0) and (10,10) families,
	// excludes the (20,0) family.
	err := s.MakeTranslationSymmetry(3.2, nil)
	require.NoError(t, err)
	require.Len(t, s.ZoneAxes, 4)
	require.Len(t, s.ZoneAxisNames, 4)

	// Compare up to sign: dedup keeps one arbitrary representative per
	// antiparallel pair.
	want := []ZoneVector{{10, 0}, {0, 10}, {10, 10}, {10, -10}}
	for _, w := range want {
		found := false
		for _, got := range s.ZoneAxes {
			if got == w || got == w.Neg() {
				found = true
				break
			}
		}
		assert.True(t, found, "zone vector %v not discovered", w)
	}

	// No two stored vectors are equivalent under the dedup tolerance.
	tol := s.PixelSeparation() / 1.5
	for i := 0; i < len(s.ZoneAxes); i++ {
		for j := i + 1; j < len(s.ZoneAxes); j++ {
			assert.False(t, s.ZoneAxes[i].EquivalentTo(s.ZoneAxes[j], tol),
				"vectors %v and %v are equivalent", s.ZoneAxes[i], s.ZoneAxes[j])
		}
	}
}

func TestMakeTranslationSymmetry_SelectionList(t *testing.T) {
	s := gridSublattice(t, 10, 10, 10)
	err := s.MakeTranslationSymmetry(3.2, []ZoneAxisSelection{
		{Index: 0, Name: "a-axis"},
		{Index: 99, Name: "out of range"},
	})
	require.NoError(t, err)
	require.Len(t, s.ZoneAxes, 1)
	assert.Equal(t, []string{"a-axis"}, s.ZoneAxisNames)
}
