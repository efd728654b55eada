package projection

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/config"
)

func testConfig() config.ProjectionConfig {
	return config.ProjectionConfig{NNeighbors: 15, MinDist: 0.1, NClusters: 5}
}

// syntheticItems builds three well-separated groups of vectors so clustering
// has real structure to find.
func syntheticItems(perGroup int) []Item {
	rng := rand.New(rand.NewSource(7))
	centers := [][]float32{
		{1, 0, 0, 0, 0, 0, 0, 0},
		{0, 0, 0, 1, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 1, 0},
	}
	titles := []string{"Docker deployment tips", "Recipe ideas for dinner", "Guitar practice routine"}
	topicSets := [][]string{{"docker", "devops"}, {"cooking", "food"}, {"music", "guitar"}}

	var items []Item
	for g, c := range centers {
		for i := 0; i < perGroup; i++ {
			v := make([]float32, len(c))
			for d := range v {
				v[d] = c[d] + float32(rng.NormFloat64())*0.05
			}
			items = append(items, Item{
				ID:     string(rune('a'+g)) + string(rune('0'+i)),
				Vector: v,
				Title:  titles[g],
				Topics: topicSets[g],
			})
		}
	}
	return items
}

func TestRunRequiresTwoItems(t *testing.T) {
	e := New(testConfig(), "", nil)

	_, err := e.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientData, apperr.KindOf(err))

	_, err = e.Run(context.Background(), []Item{{ID: "only", Vector: []float32{1, 0}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Need at least 2 conversations")
}

func TestRunDeterministic(t *testing.T) {
	e := New(testConfig(), "", nil)
	items := syntheticItems(5)

	first, err := e.Run(context.Background(), items)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), items)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].ClusterID, second[i].ClusterID)
		for d := 0; d < 3; d++ {
			assert.InDelta(t, first[i].Position[d], second[i].Position[d], 1e-12)
		}
	}
}

func TestRunScaleBound(t *testing.T) {
	e := New(testConfig(), "", nil)
	placements, err := e.Run(context.Background(), syntheticItems(4))
	require.NoError(t, err)

	var maxAbs float64
	for _, p := range placements {
		for d := 0; d < 3; d++ {
			if abs := math.Abs(p.Position[d]); abs > maxAbs {
				maxAbs = abs
			}
		}
		assert.InDelta(t, math.Sqrt(p.Position[0]*p.Position[0]+p.Position[1]*p.Position[1]+p.Position[2]*p.Position[2]), p.Magnitude, 1e-9)
	}
	assert.InDelta(t, positionScale, maxAbs, 1e-9)
}

func TestRunClusterCountCapped(t *testing.T) {
	e := New(testConfig(), "", nil)
	items := syntheticItems(1) // 3 items, fewer than the 5 configured clusters
	placements, err := e.Run(context.Background(), items)
	require.NoError(t, err)

	for _, p := range placements {
		assert.Less(t, p.ClusterID, 3)
		assert.GreaterOrEqual(t, p.ClusterID, 0)
	}
}

func TestRunSavesModels(t *testing.T) {
	dir := t.TempDir()
	e := New(testConfig(), dir, nil)
	items := syntheticItems(4)

	placements, err := e.Run(context.Background(), items)
	require.NoError(t, err)

	proj, err := LoadProjector(dir)
	require.NoError(t, err)
	assert.Equal(t, 15, proj.NNeighbors)
	assert.InDelta(t, 0.1, proj.MinDist, 1e-12)
	require.Len(t, proj.Positions, len(items))
	for _, p := range placements {
		assert.Equal(t, p.Position, proj.Positions[p.ID])
	}

	clust, err := LoadClusterer(dir)
	require.NoError(t, err)
	assert.Equal(t, clust.K, len(clust.Centroids))
	assert.Len(t, clust.Names, clust.K)
	for _, p := range placements {
		assert.Less(t, p.ClusterID, clust.K)
		assert.Equal(t, clust.Names[p.ClusterID], p.ClusterName)
	}
	assert.False(t, clust.FittedAt.IsZero())
}

func TestLoadModelsMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadProjector(dir)
	assert.Error(t, err)
	_, err = LoadClusterer(dir)
	assert.Error(t, err)
}

func TestNormalizePositionsDegenerate(t *testing.T) {
	pos := [][3]float64{{2, 2, 2}, {2, 2, 2}, {2, 2, 2}}
	normalizePositions(pos, 10)
	for _, p := range pos {
		assert.Equal(t, [3]float64{}, p)
	}
}

func TestKMeansDeterministicSeparation(t *testing.T) {
	points := [][3]float64{
		{0, 0, 0}, {0.1, 0, 0}, {0.2, 0.1, 0},
		{9, 9, 9}, {9.1, 9, 8.9}, {8.9, 9.2, 9},
	}
	assign, centroids := kMeans(points, 2)
	assert.Equal(t, assign[0], assign[1])
	assert.Equal(t, assign[0], assign[2])
	assert.Equal(t, assign[3], assign[4])
	assert.Equal(t, assign[3], assign[5])
	assert.NotEqual(t, assign[0], assign[3])
	assert.Len(t, centroids, 2)

	again, _ := kMeans(points, 2)
	assert.Equal(t, assign, again)
}

func TestClusterNames(t *testing.T) {
	assign := []int{0, 0, 1, 2}
	titles := []string{
		"Docker deployment guide",
		"Docker compose networking",
		"", // falls back to topics
		"", // falls back to the default
	}
	topics := [][]string{nil, nil, {"cooking", "pasta"}, nil}

	names := clusterNames(assign, 3, titles, topics)
	assert.Equal(t, "Docker & Compose", names[0])
	assert.Equal(t, "Cooking & Pasta", names[1])
	assert.Equal(t, "Cluster 2", names[2])
}

func TestTitleTokens(t *testing.T) {
	toks := titleTokens("How to use Docker-Compose with the Go API!")
	assert.Equal(t, []string{"docker", "compose", "api"}, toks)
}

func TestTopTwoNameTieBreak(t *testing.T) {
	// Equal counts: alphabetical order decides.
	name := topTwoName(map[string]int{"zebra": 1, "apple": 1, "mango": 1})
	assert.Equal(t, "Apple & Mango", name)

	assert.Equal(t, "Solo", topTwoName(map[string]int{"solo": 2}))
	assert.Equal(t, "", topTwoName(nil))
}

func TestColorFor(t *testing.T) {
	assert.Equal(t, "#9333ea", ColorFor(0))
	assert.Equal(t, "#3b82f6", ColorFor(1))
	assert.Equal(t, "#9333ea", ColorFor(10))
	assert.Equal(t, "#ec4899", ColorFor(9))
}

func TestNormalizePositions(t *testing.T) {
	pos := [][3]float64{{1, 1, 1}, {3, 1, 1}}
	normalizePositions(pos, 10)
	assert.Equal(t, [3]float64{-10, 0, 0}, pos[0])
	assert.Equal(t, [3]float64{10, 0, 0}, pos[1])
}
