// Package scoring holds the score policies injected into the orchestrator.
package scoring

// Strategy maps the seconds left on the clock to a score for a won attempt.
// Results are clamped to [0, Max] by the orchestrator.
type Strategy func(remaining, maxTime int) int

const (
	Max = 100

	DefaultBase         = 50
	DefaultBonusStepSec = 10
	DefaultBonusPerStep = 1
)

// TimeBonus returns base plus perStep points for every full stepSec seconds
// remaining, capped at limit.
func TimeBonus(base, stepSec, perStep, limit int) Strategy {
	if stepSec <= 0 {
		stepSec = 1
	}
	if limit <= 0 || limit > Max {
		limit = Max
	}
	return func(remaining, _ int) int {
		if remaining < 0 {
			remaining = 0
		}
		return Clamp(base+(remaining/stepSec)*perStep, limit)
	}
}

// Default is 50 + floor(remaining/10), capped at 100.
func Default() Strategy {
	return TimeBonus(DefaultBase, DefaultBonusStepSec, DefaultBonusPerStep, Max)
}

// Flat awards the same score for every win regardless of time.
func Flat(points int) Strategy {
	return func(int, int) int { return Clamp(points, Max) }
}

// Clamp bounds v to [0, limit].
func Clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
