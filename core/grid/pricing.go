package grid

import (
	"math"

	"github.com/kilianp07/gridx/core/model"
)

// Display thresholds of the uptime based health level.
const (
	UptimeHealthy = 95.0
	UptimeWarning = 85.0
)

// maxImbalanceForHealth is the absolute imbalance (kW) at which HealthScore
// reaches zero.
const maxImbalanceForHealth = 20.0

// ClassifyStatus maps an imbalance (demand minus supply) to a grid status.
// Positive imbalance means demand exceeds supply.
func ClassifyStatus(imbalance, threshold float64) model.GridStatus {
	switch {
	case math.Abs(imbalance) < threshold:
		return model.StatusBalanced
	case imbalance > 0:
		return model.StatusShortage
	default:
		return model.StatusOversupply
	}
}

// TargetPrice is the raw imbalance-driven price clamped to the config bounds.
func TargetPrice(cfg model.GridConfig, imbalance float64) float64 {
	raw := cfg.BasePrice + cfg.Elasticity*imbalance
	return Clamp(raw, cfg.MinPrice, cfg.MaxPrice)
}

// Smooth applies one exponential moving average step.
func Smooth(alpha, target, prev float64) float64 {
	return alpha*target + (1-alpha)*prev
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}

// HealthScore is a display metric in [0, 100] derived from the imbalance
// magnitude. It never feeds back into pricing.
func HealthScore(imbalance float64) float64 {
	return Round2(math.Max(0, 100-math.Abs(imbalance)/maxImbalanceForHealth*100))
}

// HealthLevel names an uptime health bucket.
type HealthLevel string

const (
	LevelHealthy  HealthLevel = "healthy"
	LevelWarning  HealthLevel = "warning"
	LevelCritical HealthLevel = "critical"
)

// UptimeHealth grades the average node uptime percentage. It is independent
// of HealthScore.
func UptimeHealth(avgUptime float64) (float64, HealthLevel) {
	score := Round2(Clamp(avgUptime, 0, 100))
	switch {
	case score >= UptimeHealthy:
		return score, LevelHealthy
	case score >= UptimeWarning:
		return score, LevelWarning
	default:
		return score, LevelCritical
	}
}

// roundingSlack absorbs binary representation error at the half step, so
// 6.135 rounds to 6.14 even when stored as 6.13499999.
const roundingSlack = 1e-9

// Round2 rounds half away from zero to two decimals.
func Round2(x float64) float64 {
	return math.Round(x*100+math.Copysign(roundingSlack, x)) / 100
}
