package rediskey

import "fmt"

// Gamification keys (global convention across handlers)
const (
	LeaderboardPrefix = "gamification:leaderboard"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLeaderboardKey returns "gamification:leaderboard:{limit}"
func BuildLeaderboardKey(limit int) string {
	return NamespaceKey(LeaderboardPrefix, fmt.Sprintf("%d", limit))
}
