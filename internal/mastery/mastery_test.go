package mastery

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pavelanni/studyledger/internal/model"
)

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		pct  float64
		want model.MasteryTier
	}{
		{100, model.TierMastered},
		{90, model.TierMastered},
		{89.99, model.TierSolid},
		{80, model.TierSolid},
		{79.99, model.TierDeveloping},
		{65, model.TierDeveloping},
		{64.99, model.TierNeedsUrgentReview},
		{0, model.TierNeedsUrgentReview},
		{-5, model.TierNeedsUrgentReview},
		{math.NaN(), model.TierNeedsUrgentReview},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.pct), "Classify(%v)", tt.pct)
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 70.0, Percentage(7, 10))
	assert.Equal(t, 65.0, Percentage(26, 40))
	assert.Equal(t, 66.67, Percentage(2, 3))
	assert.Equal(t, 33.33, Percentage(1, 3))
	assert.Equal(t, 0.0, Percentage(0, 0))
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, model.TierNotMeasured, TierFor(0, 0))
	assert.Equal(t, model.TierNeedsUrgentReview, TierFor(0, 5))
	// 8999/10000 rounds to 89.99.
	assert.Equal(t, model.TierSolid, TierFor(8999, 10000))
	// 89.996% rounds to 90.00 before classification.
	assert.Equal(t, model.TierMastered, TierFor(22499, 25000))
}
