package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// JoinCodeKey returns the cache key reserving a join code for a live session
func (r *CacheKeyStruct) JoinCodeKey(code string) string {
	return fmt.Sprintf("joincode:%s", code)
}

// LeaderboardKey returns the sorted-set key holding a session's scores
func (r *CacheKeyStruct) LeaderboardKey(sessionID string) string {
	return fmt.Sprintf("session:%s:leaderboard", sessionID)
}

// LeaderboardSnapshotKey returns the key of a session's full leaderboard JSON
func (r *CacheKeyStruct) LeaderboardSnapshotKey(sessionID string) string {
	return fmt.Sprintf("session:%s:leaderboard:snapshot", sessionID)
}

// JoinRateLimitKey returns the rate limit bucket key for join attempts from an IP
func (r *CacheKeyStruct) JoinRateLimitKey(ip string) string {
	return fmt.Sprintf("ratelimit:join:%s", ip)
}

var CacheKey = NewCacheKeyStruct()
