package bandit

// rewardEpsilon keeps zero-duration, zero-cost jobs from blowing up the
// reward denominator.
const rewardEpsilon = 0.1

// Reward converts an observed outcome into the scalar the arms learn on:
//
//	reward = success / (duration_minutes + cost_penalty + 0.1)
//
// where cost_penalty = cost_per_minute * duration_minutes. The cost penalty
// is in minute-equivalents: one currency unit per minute weighs the same as
// one extra minute of runtime. Failures earn zero regardless of duration.
func Reward(success bool, durationSeconds, costPerMinute float64) float64 {
	if !success {
		return 0.0
	}
	durationMinutes := durationSeconds / 60.0
	costPenalty := costPerMinute * durationMinutes
	return 1.0 / (durationMinutes + costPenalty + rewardEpsilon)
}
