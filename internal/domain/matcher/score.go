package matcher

import (
	"math"
	"time"
)

// Base confidences per strategy. Only payment-index hits clear the
// auto-verify threshold on their own; name and house matches land in the
// review queue.
const (
	ScorePaymentIndex = 0.9
	ScoreHouseBase    = 0.85
	ScoreManual       = 1.0

	// Name similarity is discounted by where the candidate name came
	// from. A verified alias is stronger evidence than the registered
	// name because it was confirmed against this exact bank vocabulary.
	FactorVerifiedAlias   = 0.8
	FactorUnverifiedAlias = 0.7
	FactorPrimaryName     = 0.6

	// AutoVerifyThreshold separates MATCHED_AUTO from MATCHED_PENDING.
	AutoVerifyThreshold = 0.8

	// paymentBoost is the full confidence lift from a corroborating
	// equal-amount payment inside the date window.
	paymentBoost = 0.05
)

// proximityBoost returns the confidence lift a corroborating payment earns
// from its date gap. The full boost applies inside the window on either
// side, then decays linearly and reaches zero at twice the window.
func proximityBoost(gap time.Duration, windowDays int) float64 {
	if windowDays <= 0 {
		return 0
	}
	days := math.Abs(gap.Hours()) / 24
	window := float64(windowDays)
	switch {
	case days <= window:
		return paymentBoost
	case days >= 2*window:
		return 0
	default:
		return paymentBoost * (2 - days/window)
	}
}

// corroborate lifts a base score by payment evidence. Adding evidence never
// lowers a score, and the result never exceeds 1.0.
func corroborate(base, boost float64) float64 {
	score := base + boost
	if score > 1.0 {
		return 1.0
	}
	return score
}
