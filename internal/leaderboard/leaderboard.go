// Package leaderboard derives ranked standings from a session's players.
package leaderboard

import (
	"math"
	"sort"

	"github.com/stemsi/trivia-engine/internal/model"
)

// Calculate ranks players that are connected or have answered at least once.
//
// Ordering: score descending, then lower average time per answered question,
// then earlier join, then user id. Players without answers sort after those
// with answers at the same score. Ranks are dense positions (index+1), so equal scores
// still receive distinct ranks.
func Calculate(s *model.Session) []model.LeaderboardEntry {
	players := make([]*model.Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.IsConnected || p.AnsweredQuestions > 0 {
			players = append(players, p)
		}
	}

	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if c := compareAvgTime(a, b); c != 0 {
			return c < 0
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})

	entries := make([]model.LeaderboardEntry, len(players))
	for i, p := range players {
		entries[i] = model.LeaderboardEntry{
			Rank:              i + 1,
			UserID:            p.UserID,
			Name:              p.Name,
			Score:             p.Score,
			CorrectAnswers:    p.CorrectAnswers,
			AnsweredQuestions: p.AnsweredQuestions,
			Accuracy:          Accuracy(p.CorrectAnswers, p.AnsweredQuestions),
			TotalTimeMs:       p.TotalTimeMs(),
		}
	}
	return entries
}

// compareAvgTime orders by mean answer time without dividing:
// ta/na < tb/nb  <=>  ta*nb < tb*na.
func compareAvgTime(a, b *model.Player) int {
	na, nb := int64(len(a.Answers)), int64(len(b.Answers))
	switch {
	case na == 0 && nb == 0:
		return 0
	case na == 0:
		return 1
	case nb == 0:
		return -1
	}
	l, r := a.TotalTimeMs()*nb, b.TotalTimeMs()*na
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

// Accuracy returns round(correct/answered*100), or 0 when nothing was answered.
func Accuracy(correct, answered int) int {
	if answered <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(answered) * 100))
}

// RankOf returns the rank of userID in entries, or 0 if absent.
func RankOf(entries []model.LeaderboardEntry, userID string) int {
	for _, e := range entries {
		if e.UserID == userID {
			return e.Rank
		}
	}
	return 0
}
