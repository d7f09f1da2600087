package model

import (
	"math"
	"time"
)

// Tunable constants of the forgetting curve. These are the only knobs in the
// core and every component must read them from here.
const (
	// BaseDecayDays stretches the half-life of a fully stable,
	// zero-importance memory.
	BaseDecayDays = 30.0
	// ImportanceBoostFactor scales how much importance extends retention.
	ImportanceBoostFactor = 2.0
	// InitialStability is assigned to every freshly written memory.
	InitialStability = 0.3
	// StabilityStep is the base stability gain per reinforcement.
	StabilityStep = 0.1
	// SpacingBonusDays is the recall interval that earns one full
	// StabilityStep; wider intervals earn up to SpacingBonusCap steps.
	SpacingBonusDays = 7.0
	// SpacingBonusCap bounds the spacing bonus.
	SpacingBonusCap = 2.0
)

const secondsPerDay = 86400.0

// Retention computes the instantaneous probability-of-recall proxy in [0,1].
// Exponential forgetting with a time constant stretched by both stability
// (how well-consolidated) and importance (how much we care). Recomputed on
// demand, never stored.
func Retention(stability, importance float64, lastAccessed, now time.Time) float64 {
	daysElapsed := now.Sub(lastAccessed).Seconds() / secondsPerDay
	boost := 1.0 + importance*ImportanceBoostFactor
	tau := stability * boost * BaseDecayDays
	if tau < 1 {
		tau = 1
	}
	return Clamp(math.Exp(-daysElapsed/tau), 0, 1)
}

// ReinforcedStability returns the stability after one reinforcement at time
// now. Memories recalled at wider intervals consolidate more; a burst of
// back-to-back retrievals contributes roughly zero bonus.
func ReinforcedStability(stability float64, lastAccessed, now time.Time) float64 {
	daysSinceAccess := now.Sub(lastAccessed).Seconds() / secondsPerDay
	bonus := math.Min(SpacingBonusCap, daysSinceAccess/SpacingBonusDays)
	return math.Min(1.0, stability+StabilityStep*bonus)
}

// Clamp bounds val to [minVal, maxVal].
func Clamp(val, minVal, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
