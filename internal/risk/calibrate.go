package risk

import (
	"math"
	"time"
)

const (
	// coldStartCap bounds the score for accounts with no successful history.
	coldStartCap = 55

	// deviceAgeHalfLifeDays is a policy constant, not part of RiskConfig.
	deviceAgeHalfLifeDays = 30.0
)

// Calibrate applies the post-linear policy corrections: the cold-start cap,
// then device-age half-life decay for devices first seen more than a day
// ago. Pure and total; the result is re-clamped to [0,100].
func Calibrate(score int, priorSuccesses int, deviceFirstSeen *time.Time, now time.Time) int {
	if priorSuccesses == 0 && score > coldStartCap {
		score = coldStartCap
	}

	if deviceFirstSeen != nil {
		days := int(now.Sub(*deviceFirstSeen).Hours() / 24)
		if days < 0 {
			days = 0
		}
		if days > 0 {
			factor := math.Pow(0.5, float64(days)/deviceAgeHalfLifeDays)
			score = int(math.Round(float64(score) * factor))
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
