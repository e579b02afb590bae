// Package mastery maps correctness percentages to mastery tiers.
package mastery

import (
	"math"

	"github.com/pavelanni/studyledger/internal/model"
)

// Tier thresholds, inclusive lower bounds.
const (
	MasteredMin   = 90.0
	SolidMin      = 80.0
	DevelopingMin = 65.0
)

// Classify maps a percentage to a tier. It is total: anything below
// DevelopingMin, including negatives and NaN, needs urgent review.
func Classify(percentage float64) model.MasteryTier {
	switch {
	case percentage >= MasteredMin:
		return model.TierMastered
	case percentage >= SolidMin:
		return model.TierSolid
	case percentage >= DevelopingMin:
		return model.TierDeveloping
	default:
		return model.TierNeedsUrgentReview
	}
}

// Percentage returns correct/total*100 rounded to 2 decimals, or 0 when total is 0.
func Percentage(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round2(float64(correct) / float64(total) * 100)
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// TierFor returns the tier for the given totals, NotMeasured when nothing was attempted.
func TierFor(correct, total int) model.MasteryTier {
	if total <= 0 {
		return model.TierNotMeasured
	}
	return Classify(Percentage(correct, total))
}
