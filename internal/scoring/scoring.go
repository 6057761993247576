// Package scoring computes correctness and points for a single answer.
package scoring

import (
	"math"

	"github.com/stemsi/trivia-engine/internal/model"
)

// Result is the outcome of scoring one answer.
type Result struct {
	IsCorrect    bool
	PointsEarned int
}

// Score grades selectedIndex against q. timeSpentMs is optional; a nil value
// disables the speed bonus for this answer. Timing-window validation is the
// caller's job.
func Score(q model.Question, selectedIndex int, timeSpentMs *int64, settings model.Settings) Result {
	if selectedIndex != q.CorrectIndex {
		return Result{}
	}

	points := q.Points
	if settings.SpeedBonusEnabled && timeSpentMs != nil {
		points += SpeedBonus(q.TimeLimitMs(), *timeSpentMs, settings.MaxSpeedBonus)
	}
	return Result{IsCorrect: true, PointsEarned: points}
}

// SpeedBonus returns floor(remaining/limit*maxBonus) clamped at zero.
func SpeedBonus(limitMs, timeSpentMs int64, maxBonus int) int {
	if limitMs <= 0 || maxBonus <= 0 {
		return 0
	}
	remaining := limitMs - timeSpentMs
	bonus := int(math.Floor(float64(remaining) / float64(limitMs) * float64(maxBonus)))
	if bonus < 0 {
		return 0
	}
	return bonus
}
