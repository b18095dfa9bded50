package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-apnea/internal/models"
)

func twoNights() []models.ApneaEvent {
	const day = 24 * 3600
	return []models.ApneaEvent{
		apnea(day+30, 12), apnea(0, 10), apnea(10, 11), apnea(20, 14),
		apnea(day, 15), apnea(day+15, 20),
	}
}

func TestKMeansConvergesOnSeparatedGroups(t *testing.T) {
	p := DefaultParams()
	p.K = 2

	set := KMeans(twoNights(), p)

	require.NotNil(t, set.Meta)
	assert.True(t, set.Meta.Converged)
	assert.False(t, set.Meta.MaxIterationsReached)
	assert.Less(t, set.Meta.Iterations, p.MaxIterations)
	assert.Equal(t, 2, set.Meta.Iterations)
	assert.InDelta(t, 650.0, set.Meta.WCSS, 1e-6)
	assert.False(t, set.Meta.KOverspecified)

	require.Len(t, set.Clusters, 2)
	assert.Equal(t, 6, totalCount(set.Clusters))
	assert.Equal(t, 3, set.Clusters[0].Count)
	assert.True(t, set.Clusters[0].Start.Equal(at(0)))
	assert.True(t, set.Clusters[0].End.Equal(at(34)))
	assert.True(t, set.Clusters[0].End.Before(set.Clusters[1].Start))
}

func TestKMeansIterationCap(t *testing.T) {
	p := DefaultParams()
	p.K = 2
	p.MaxIterations = 1

	set := KMeans(twoNights(), p)

	assert.False(t, set.Meta.Converged)
	assert.True(t, set.Meta.MaxIterationsReached)
	assert.Equal(t, 1, set.Meta.Iterations)
	assert.Equal(t, 6, totalCount(set.Clusters), "best-effort partition is still returned")
}

func TestKMeansOverspecifiedK(t *testing.T) {
	p := DefaultParams()
	p.K = 5

	set := KMeans([]models.ApneaEvent{apnea(0, 10), apnea(600, 10)}, p)

	assert.True(t, set.Meta.KOverspecified)
	require.Len(t, set.Clusters, 2)
	for _, c := range set.Clusters {
		assert.Equal(t, 1, c.Count)
	}
}

func TestKMeansEmpty(t *testing.T) {
	set := KMeans(nil, DefaultParams())
	assert.Empty(t, set.Clusters)
	require.NotNil(t, set.Meta)
	assert.Zero(t, set.Meta.Iterations)
}

func TestKMeansConservesEvents(t *testing.T) {
	p := DefaultParams()
	for _, k := range []int{1, 2, 3, 4, 11} {
		p.K = k
		set := KMeans(mixedNight(), p)
		assert.Equal(t, len(mixedNight()), totalCount(set.Clusters), "k=%d", k)
		for i := 0; i+1 < len(set.Clusters); i++ {
			assert.False(t, set.Clusters[i].Start.After(set.Clusters[i+1].Start))
		}
	}
}

func TestKMeansHugeKMatchesEventCount(t *testing.T) {
	events := []models.ApneaEvent{apnea(0, 10), apnea(300, 10), apnea(900, 10)}
	p := DefaultParams()

	p.K = 1 << 50
	huge, err := ClusterApneaEvents(AlgorithmKMeans, events, nil, p)
	require.NoError(t, err)

	p.K = len(events)
	exact, err := ClusterApneaEvents(AlgorithmKMeans, events, nil, p)
	require.NoError(t, err)

	require.Len(t, huge.Clusters, 3)
	assert.True(t, huge.Meta.KOverspecified)
	assert.True(t, huge.Meta.Converged)
	assert.Zero(t, huge.Meta.WCSS)
	for i := range exact.Clusters {
		assert.True(t, exact.Clusters[i].Start.Equal(huge.Clusters[i].Start))
		assert.Equal(t, exact.Clusters[i].Count, huge.Clusters[i].Count)
	}
}
