package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelta(t *testing.T) {
	previous := map[string]float64{"followers": 1000, "likes": 50}
	measurements := map[string]float64{"followers": 1010, "likes": 80}

	d := ComputeDelta(previous, measurements)

	assert.Equal(t, map[string]float64{"followers": 1000, "likes": 50}, d.Previous)
	assert.Equal(t, float64(10), d.Changes["followers"])
	assert.Equal(t, float64(30), d.Changes["likes"])
}

func TestComputeDeltaFirstSnapshot(t *testing.T) {
	measurements := map[string]float64{"followers": 500, "reach": 1200}

	d := ComputeDelta(nil, measurements)

	// With no prior row, changes equal the measurements themselves.
	assert.Equal(t, measurements, d.Changes)
	assert.Empty(t, d.Previous)
}

func TestComputeDeltaNewField(t *testing.T) {
	previous := map[string]float64{"followers": 100}
	measurements := map[string]float64{"followers": 100, "saves": 7}

	d := ComputeDelta(previous, measurements)

	assert.Equal(t, float64(0), d.Changes["followers"])
	// Absent previous fields default to 0.
	assert.Equal(t, float64(7), d.Changes["saves"])
}

func TestWithDerived(t *testing.T) {
	out := WithDerived(map[string]float64{
		"likes":      120,
		"mediaCount": 40,
		"reach":      5000,
		"followers":  1000,
	})

	assert.Equal(t, float64(3), out["averageLikesPerPost"])
	assert.Equal(t, float64(500), out["reachRate"])
}

func TestWithDerivedSkipsZeroDenominators(t *testing.T) {
	out := WithDerived(map[string]float64{"likes": 120, "reach": 5000})

	_, hasAvg := out["averageLikesPerPost"]
	_, hasRate := out["reachRate"]
	assert.False(t, hasAvg, "averageLikesPerPost should be skipped without mediaCount")
	assert.False(t, hasRate, "reachRate should be skipped without followers")
}
