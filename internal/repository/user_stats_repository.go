package repository

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/trivia-engine/internal/model"
)

// UserStatsRepository applies game results to the user_stats table.
type UserStatsRepository struct {
	pool *pgxpool.Pool
}

// NewUserStatsRepository creates a new UserStatsRepository.
func NewUserStatsRepository(pool *pgxpool.Pool) *UserStatsRepository {
	return &UserStatsRepository{pool: pool}
}

// ----------------------------------------------------------------
// BULK upsert using UNNEST + alias
// ----------------------------------------------------------------

// RecordBatch folds results per user, updates existing rows and inserts the
// rest in one statement.
func (r *UserStatsRepository) RecordBatch(ctx context.Context, results []model.GameResult) error {
	if len(results) == 0 {
		return nil
	}
	folded := foldByUser(results)
	n := len(folded)

	users := make([]string, 0, n)
	points := make([]int64, 0, n)
	games := make([]int32, 0, n)
	wins := make([]int32, 0, n)
	streaks := make([]int32, 0, n)
	resets := make([]bool, 0, n)
	playedAts := make([]time.Time, 0, n)

	for _, f := range folded {
		users = append(users, f.userID)
		points = append(points, f.points)
		games = append(games, f.games)
		wins = append(wins, f.wins)
		streaks = append(streaks, f.trailingWins)
		resets = append(resets, f.reset)
		playedAts = append(playedAts, f.lastPlayed)
	}

	query := `
		WITH u AS (
			SELECT *
			FROM UNNEST(
				$1::text[],
				$2::bigint[],
				$3::int[],
				$4::int[],
				$5::int[],
				$6::bool[],
				$7::timestamptz[]
			) AS t (user_id, points, games, wins, streak, reset, played_at)
		),
		updated AS (
			UPDATE user_stats AS s
			SET total_points   = s.total_points + u.points,
			    games_played   = s.games_played + u.games,
			    games_won      = s.games_won + u.wins,
			    current_streak = CASE WHEN u.reset THEN u.streak ELSE s.current_streak + u.streak END,
			    best_streak    = GREATEST(s.best_streak,
			                     CASE WHEN u.reset THEN u.streak ELSE s.current_streak + u.streak END),
			    last_played_at = GREATEST(s.last_played_at, u.played_at),
			    updated_at     = NOW()
			FROM u
			WHERE s.user_id = u.user_id
			RETURNING s.user_id
		)
		INSERT INTO user_stats (user_id, total_points, games_played, games_won, current_streak, best_streak, last_played_at)
		SELECT u.user_id, u.points, u.games, u.wins, u.streak, u.streak, u.played_at
		FROM u
		WHERE u.user_id NOT IN (SELECT user_id FROM updated)
	`

	_, err := r.pool.Exec(ctx, query, users, points, games, wins, streaks, resets, playedAts)
	return err
}

// ----------------------------------------------------------------
// FALLBACK single update
// ----------------------------------------------------------------

// RecordOne applies a single result.
func (r *UserStatsRepository) RecordOne(ctx context.Context, res model.GameResult) error {
	won := 0
	if res.Won {
		won = 1
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_stats AS s (user_id, total_points, games_played, games_won, current_streak, best_streak, last_played_at)
		 VALUES ($1, $2, 1, $3, $3, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		     total_points   = s.total_points + EXCLUDED.total_points,
		     games_played   = s.games_played + 1,
		     games_won      = s.games_won + EXCLUDED.games_won,
		     current_streak = CASE WHEN $5 THEN s.current_streak + 1 ELSE 0 END,
		     best_streak    = GREATEST(s.best_streak, CASE WHEN $5 THEN s.current_streak + 1 ELSE 0 END),
		     last_played_at = GREATEST(s.last_played_at, EXCLUDED.last_played_at),
		     updated_at     = NOW()`,
		res.UserID, res.Score, won, res.PlayedAt, res.Won,
	)
	return err
}

// GetByUser reads one user's stats.
func (r *UserStatsRepository) GetByUser(ctx context.Context, userID string) (*model.UserStats, error) {
	st := &model.UserStats{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT total_points, games_played, games_won, current_streak, best_streak, last_played_at
		 FROM user_stats WHERE user_id = $1`, userID,
	).Scan(&st.TotalPoints, &st.GamesPlayed, &st.GamesWon, &st.CurrentStreak, &st.BestStreak, &st.LastPlayedAt)
	if err != nil {
		return nil, notFoundAs(err, model.ErrNotFound)
	}
	return st, nil
}

type userAggregate struct {
	userID       string
	points       int64
	games        int32
	wins         int32
	trailingWins int32
	reset        bool
	lastPlayed   time.Time
}

// foldByUser collapses results per user in PlayedAt order. trailingWins counts
// wins after the user's last loss in the batch; reset marks that a loss occurred.
func foldByUser(results []model.GameResult) []userAggregate {
	sorted := append([]model.GameResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PlayedAt.Before(sorted[j].PlayedAt) })

	index := make(map[string]int)
	out := make([]userAggregate, 0, len(sorted))
	for _, r := range sorted {
		i, ok := index[r.UserID]
		if !ok {
			i = len(out)
			index[r.UserID] = i
			out = append(out, userAggregate{userID: r.UserID})
		}
		a := &out[i]
		a.points += int64(r.Score)
		a.games++
		if r.Won {
			a.wins++
			a.trailingWins++
		} else {
			a.trailingWins = 0
			a.reset = true
		}
		if r.PlayedAt.After(a.lastPlayed) {
			a.lastPlayed = r.PlayedAt
		}
	}
	return out
}
