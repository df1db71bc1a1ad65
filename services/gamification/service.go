package gamification

import (
	"context"
	"errors"
	"time"

	"termhub-engine/pkg/celengine"
	"termhub-engine/pkg/config"
	"termhub-engine/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultDailyGoalTarget  = 5
	defaultDailyGoalBonus   = 50
	defaultSessionIdleAfter = 30 * time.Minute
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	redis *redis.Client

	goalTarget int
	goalBonus  int64
	idleAfter  time.Duration
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Redis  *redis.Client  `optional:"true"`
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:         p.DB,
		node:       p.Node,
		redis:      p.Redis,
		goalTarget: defaultDailyGoalTarget,
		goalBonus:  defaultDailyGoalBonus,
		idleAfter:  defaultSessionIdleAfter,
	}
	if p.Config != nil {
		if p.Config.Engine.DailyGoalTarget > 0 {
			s.goalTarget = p.Config.Engine.DailyGoalTarget
		}
		if p.Config.Engine.DailyGoalBonus > 0 {
			s.goalBonus = p.Config.Engine.DailyGoalBonus
		}
		if p.Config.Engine.SessionIdleAfter > 0 {
			s.idleAfter = p.Config.Engine.SessionIdleAfter
		}
	}
	return s
}

// OutcomeResult reports what one recorded outcome changed.
type OutcomeResult struct {
	PointsEarned        int64    `json:"points_earned"`
	Streak              int      `json:"streak"`
	GoalCompleted       bool     `json:"goal_completed"`
	ChallengesCompleted []string `json:"challenges_completed,omitempty"`
}

// EnsureUser creates the stats row for a user if absent.
func (s *Service) EnsureUser(ctx context.Context, userID, username string) error {
	if username == "" {
		username = userID
	}
	stats := UserStats{
		ID:       s.node.Generate().String(),
		UserID:   userID,
		Username: username,
	}
	return s.db.WithContext(ctx).
		Where(UserStats{UserID: userID}).
		Attrs(stats).
		FirstOrCreate(&UserStats{}).Error
}

// RecordOutcome applies one completed unit of work to the user's points,
// streak, daily goal, daily challenges, lifetime counters and flow session,
// all in one transaction with the stats row locked.
//
// The caller invokes this after the underlying transition commits. A retry
// after a reported failure is safe for the goal and challenge bonuses, which
// are flag-guarded; raw counters must not be re-sent for an outcome that was
// already recorded successfully.
func (s *Service) RecordOutcome(ctx context.Context, userID string, outcome Outcome, language string) (*OutcomeResult, error) {
	if !outcome.Valid() {
		return nil, errutil.ValidationFailed("unknown outcome kind", nil,
			errutil.WithDetails(errutil.Detail{Field: "outcome", Message: string(outcome)}))
	}

	now := time.Now().UTC()
	day := today(now)
	result := &OutcomeResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stats, err := s.lockStats(tx, userID)
		if err != nil {
			return err
		}

		earned := outcomePoints[outcome]

		s.applyStreak(stats, day)
		result.Streak = stats.Streak

		switch outcome {
		case OutcomeTranslate:
			stats.TranslationsCount++
		case OutcomeApprove, OutcomeReject:
			stats.ReviewsCount++
		}

		if outcome.terminal() {
			bonus, completed, err := s.advanceDailyGoal(tx, userID, day)
			if err != nil {
				return err
			}
			earned += bonus
			result.GoalCompleted = completed
		}

		challengeBonus, completedTypes, err := s.advanceChallenges(tx, userID, day, outcome, language)
		if err != nil {
			return err
		}
		earned += challengeBonus
		result.ChallengesCompleted = completedTypes

		if err := s.touchFlowSession(tx, userID, outcome, earned, now); err != nil {
			return err
		}

		stats.Points += earned
		stats.UpdatedAt = now
		result.PointsEarned = earned

		return tx.Save(stats).Error
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("outcome recorded",
		zap.String("user_id", userID),
		zap.String("outcome", string(outcome)),
		zap.Int64("points_earned", result.PointsEarned),
		zap.Int("streak", result.Streak),
	)

	return result, nil
}

// Stats returns the user's stats record.
func (s *Service) Stats(ctx context.Context, userID string) (*UserStats, error) {
	var stats UserStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("user stats not found", err)
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// DailyProgress returns today's goal row, creating it lazily.
func (s *Service) DailyProgress(ctx context.Context, userID string) (*DailyGoal, error) {
	day := today(time.Now())
	var goal DailyGoal
	err := s.db.WithContext(ctx).
		Where(DailyGoal{UserID: userID, Date: day}).
		Attrs(DailyGoal{
			ID:     s.node.Generate().String(),
			Target: s.goalTarget,
		}).
		FirstOrCreate(&goal).Error
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

func (s *Service) lockStats(tx *gorm.DB, userID string) (*UserStats, error) {
	var stats UserStats
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stats = UserStats{
			ID:       s.node.Generate().String(),
			UserID:   userID,
			Username: userID,
		}
		if err := tx.Create(&stats).Error; err != nil {
			return nil, err
		}
		return &stats, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// applyStreak implements the daily-boundary rules: same day no change, exactly
// one day earlier increments, anything else resets to 1.
func (s *Service) applyStreak(stats *UserStats, day time.Time) {
	switch {
	case stats.LastActiveDate == nil:
		stats.Streak = 1
	case stats.LastActiveDate.Equal(day):
		// already active today
	case stats.LastActiveDate.Equal(day.AddDate(0, 0, -1)):
		stats.Streak++
	default:
		stats.Streak = 1
	}

	if stats.Streak > stats.LongestStreak {
		stats.LongestStreak = stats.Streak
	}

	d := day
	stats.LastActiveDate = &d
}

func (s *Service) advanceDailyGoal(tx *gorm.DB, userID string, day time.Time) (bonus int64, completedNow bool, err error) {
	var goal DailyGoal
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(DailyGoal{UserID: userID, Date: day}).
		Attrs(DailyGoal{
			ID:     s.node.Generate().String(),
			Target: s.goalTarget,
		}).
		FirstOrCreate(&goal).Error
	if err != nil {
		return 0, false, err
	}

	goal.Count++
	if goal.Count >= goal.Target && !goal.Completed {
		goal.Completed = true
		completedNow = true
	}
	if goal.Completed && !goal.Rewarded {
		goal.Rewarded = true
		bonus = s.goalBonus
	}

	if err := tx.Save(&goal).Error; err != nil {
		return 0, false, err
	}
	return bonus, completedNow, nil
}

func (s *Service) advanceChallenges(tx *gorm.DB, userID string, day time.Time, outcome Outcome, language string) (bonus int64, completedTypes []string, err error) {
	var challenges []DailyChallenge
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND date = ? AND completed = ?", userID, day, false).
		Find(&challenges).Error; err != nil {
		return 0, nil, err
	}

	attrs := map[string]interface{}{
		"outcome":  string(outcome),
		"language": language,
	}
	env, err := celengine.GetOrBuildEnv(attrs)
	if err != nil {
		return 0, nil, err
	}

	for i := range challenges {
		ch := &challenges[i]

		matched, err := celengine.Evaluate(env, ch.Trigger, attrs)
		if err != nil {
			zap.L().Warn("challenge trigger failed to evaluate",
				zap.String("challenge_type", ch.Type),
				zap.String("trigger", ch.Trigger),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}

		ch.Count++
		if ch.Count >= ch.Target && !ch.Completed {
			ch.Completed = true
			bonus += ch.Reward
			completedTypes = append(completedTypes, ch.Type)
		}

		if err := tx.Save(ch).Error; err != nil {
			return 0, nil, err
		}
	}

	return bonus, completedTypes, nil
}

// touchFlowSession extends the user's open session or starts a new one after
// the idle cutoff.
func (s *Service) touchFlowSession(tx *gorm.DB, userID string, outcome Outcome, earned int64, now time.Time) error {
	var session FlowSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND ended_at IS NULL", userID).
		Order("started_at DESC").
		First(&session).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		session = FlowSession{
			ID:             s.node.Generate().String(),
			UserID:         userID,
			StartedAt:      now,
			LastActivityAt: now,
		}
	case err != nil:
		return err
	case now.Sub(session.LastActivityAt) > s.idleAfter:
		ended := session.LastActivityAt
		session.EndedAt = &ended
		if err := tx.Save(&session).Error; err != nil {
			return err
		}
		session = FlowSession{
			ID:             s.node.Generate().String(),
			UserID:         userID,
			StartedAt:      now,
			LastActivityAt: now,
		}
	default:
		session.LastActivityAt = now
	}

	switch outcome {
	case OutcomeTranslate:
		session.Translations++
	case OutcomeApprove, OutcomeReject:
		session.Reviews++
	}
	session.PointsEarned += earned

	return tx.Save(&session).Error
}
