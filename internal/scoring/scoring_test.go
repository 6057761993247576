package scoring

import (
	"testing"

	"github.com/stemsi/trivia-engine/internal/model"
)

func ms(v int64) *int64 { return &v }

func TestScore(t *testing.T) {
	q := model.Question{CorrectIndex: 2, TimeLimit: 30, Points: 100}
	bonus := model.Settings{SpeedBonusEnabled: true, MaxSpeedBonus: 50}

	tests := []struct {
		name       string
		selected   int
		timeSpent  *int64
		settings   model.Settings
		wantOK     bool
		wantPoints int
	}{
		{"half time remaining", 2, ms(15000), bonus, true, 125},
		{"instant answer", 2, ms(0), bonus, true, 150},
		{"time fully consumed", 2, ms(30000), bonus, true, 100},
		{"over the limit clamps bonus", 2, ms(30900), bonus, true, 100},
		{"bonus floors", 2, ms(29999), bonus, true, 100},
		{"no time supplied", 2, nil, bonus, true, 100},
		{"bonus disabled", 2, ms(1000), model.Settings{MaxSpeedBonus: 50}, true, 100},
		{"wrong answer", 1, ms(1000), bonus, false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(q, tc.selected, tc.timeSpent, tc.settings)
			if got.IsCorrect != tc.wantOK {
				t.Errorf("IsCorrect = %v, want %v", got.IsCorrect, tc.wantOK)
			}
			if got.PointsEarned != tc.wantPoints {
				t.Errorf("PointsEarned = %d, want %d", got.PointsEarned, tc.wantPoints)
			}
		})
	}
}

func TestSpeedBonusApproachesMax(t *testing.T) {
	if got := SpeedBonus(20000, 1, 1000); got != 999 {
		t.Fatalf("SpeedBonus = %d, want 999", got)
	}
	if got := SpeedBonus(0, 0, 50); got != 0 {
		t.Fatalf("zero limit should yield no bonus, got %d", got)
	}
}
