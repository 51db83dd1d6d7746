package num

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddStaysExact(t *testing.T) {
	filled := 0.0
	for i := 0; i < 10; i++ {
		filled = Add(filled, 0.1)
	}
	assert.Equal(t, 1.0, filled)
	assert.Equal(t, 0.0, Sub(filled, 1.0))
}

func TestWeightedAvg(t *testing.T) {
	assert.Equal(t, 105.0, WeightedAvg(100, 100, 100, 110))
	assert.Equal(t, 0.0, WeightedAvg(0, 10, 0, 20))
	assert.InDelta(t, 101.666666, WeightedAvg(20, 100, 10, 105), 1e-6)
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(1e-12))
	assert.False(t, IsZero(0.0001))
}

func TestDecAndFits(t *testing.T) {
	assert.Equal(t, "7.2", Dec(7.2).String())
	assert.True(t, Dec(4.896).Add(Dec(2.304)).Equal(Dec(7.2)))

	assert.True(t, Fits(7.2))
	assert.True(t, Fits(0.00000001))
	assert.False(t, Fits(0.000000001))
	assert.False(t, Fits(22.0/3))
}
