package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	assert.Equal(t, 0, h.MedianEstimate())

	for i := 0; i < 10; i++ {
		h.AddSample(100)
	}
	h.AddSample(1 << 20)

	assert.Equal(t, int64(11), h.Count())
	assert.Equal(t, (10*100+(1<<20))/11, h.AverageSize())
	// 100 bytes fall into the (64, 256] bucket
	assert.Equal(t, (64+256)/2, h.MedianEstimate())
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10})
	assert.InDelta(t, 1.0, even.DistributionQuality, 1e-9)

	skewed := NewDistributionStats([]float64{1, 100})
	assert.Less(t, skewed.DistributionQuality, even.DistributionQuality)

	assert.Equal(t, Stats{}, NewStats(nil))
}
