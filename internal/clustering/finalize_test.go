package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-apnea/internal/models"
)

func finalizeFixture() []models.Cluster {
	return Annotate([]models.Cluster{
		newCluster([]models.ApneaEvent{apnea(0, 20), apnea(60, 20), apnea(120, 20)}),
		newCluster([]models.ApneaEvent{apnea(1000, 40), apnea(1050, 40)}),
		newCluster([]models.ApneaEvent{apnea(2000, 10), apnea(2030, 10), apnea(2060, 10)}),
		newCluster([]models.ApneaEvent{apnea(3000, 30), apnea(3150, 30), apnea(3280, 30)}),
		newCluster([]models.ApneaEvent{apnea(5000, 25), apnea(5040, 25), apnea(5080, 25), apnea(5120, 25)}),
	})
}

func TestFinalizeAppliesThresholds(t *testing.T) {
	kept := Finalize(finalizeFixture(), DefaultThresholds())

	require.Len(t, kept, 2)
	assert.True(t, kept[0].Start.Equal(at(0)))
	assert.True(t, kept[1].Start.Equal(at(5000)))
}

func TestFinalizeIsIdempotent(t *testing.T) {
	th := DefaultThresholds()
	once := Finalize(finalizeFixture(), th)
	twice := Finalize(once, th)
	assert.Equal(t, once, twice)
}

func TestFinalizeDoesNotMutateInput(t *testing.T) {
	input := finalizeFixture()
	snapshot := append([]models.Cluster(nil), input...)

	Finalize(input, DefaultThresholds())
	assert.Equal(t, snapshot, input)
}

func TestFinalizeMinDensity(t *testing.T) {
	th := DefaultThresholds()
	th.MinDensity = 1.5

	// the first survivor spreads three events over 140s, about 1.29 per minute
	kept := Finalize(finalizeFixture(), th)
	require.Len(t, kept, 1)
	assert.True(t, kept[0].Start.Equal(at(5000)))
}
