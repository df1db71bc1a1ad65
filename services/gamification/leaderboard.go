package gamification

import (
	"context"
	"encoding/json"
	"time"

	"termhub-engine/pkg/errutil"
	"termhub-engine/pkg/rediskey"

	"go.uber.org/zap"
)

const leaderboardCacheTTL = 30 * time.Second

// Leaderboard returns up to limit users ordered by points descending, ties
// broken by username so pagination stays deterministic. Results are cached in
// redis for a short TTL when a client is wired; staleness is bounded by the
// TTL, never invalidated explicitly.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, errutil.ValidationFailed("limit must be positive", nil)
	}

	cacheKey := rediskey.BuildLeaderboardKey(limit)
	if s.redis != nil {
		raw, err := s.redis.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var cached []LeaderboardEntry
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var users []UserStats
	if err := s.db.WithContext(ctx).
		Order("points DESC").Order("username ASC").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for i, u := range users {
		entries = append(entries, LeaderboardEntry{
			Rank:     i + 1,
			UserID:   u.UserID,
			Username: u.Username,
			Points:   u.Points,
			Streak:   u.Streak,
		})
	}

	if s.redis != nil {
		if raw, err := json.Marshal(entries); err == nil {
			if err := s.redis.Set(ctx, cacheKey, raw, leaderboardCacheTTL).Err(); err != nil {
				zap.L().Debug("leaderboard cache write failed", zap.Error(err))
			}
		}
	}

	return entries, nil
}

// Rank returns the 1-based leaderboard position of a user: one plus the number
// of users with strictly more points or equal points and a lexically smaller
// username.
func (s *Service) Rank(ctx context.Context, userID string) (int, error) {
	stats, err := s.Stats(ctx, userID)
	if err != nil {
		return 0, err
	}

	var ahead int64
	if err := s.db.WithContext(ctx).Model(&UserStats{}).
		Where("points > ? OR (points = ? AND username < ?)", stats.Points, stats.Points, stats.Username).
		Count(&ahead).Error; err != nil {
		return 0, err
	}

	return int(ahead) + 1, nil
}
