package gamification

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"termhub-engine/pkg/errutil"
	"termhub-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&UserStats{},
		&DailyGoal{},
		&ChallengeTemplate{},
		&DailyChallenge{},
		&FlowSession{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node}), db
}

func mustStats(t *testing.T, svc *Service, userID string) *UserStats {
	t.Helper()
	stats, err := svc.Stats(context.Background(), userID)
	require.NoError(t, err)
	return stats
}

func TestRecordOutcomePoints(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		outcome Outcome
		points  int64
	}{
		{OutcomeTranslate, 20},
		{OutcomeApprove, 10},
		{OutcomeReject, 5},
		{OutcomeDiscuss, 0},
	}

	for _, tc := range cases {
		result, err := svc.RecordOutcome(ctx, "user-"+string(tc.outcome), tc.outcome, "nl")
		require.NoError(t, err)
		require.Equal(t, tc.points, result.PointsEarned, "outcome %s", tc.outcome)
	}
}

func TestRecordOutcomeUnknownKind(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.RecordOutcome(context.Background(), "alice", Outcome("promote"), "nl")
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestRecordOutcomeCreatesStatsLazily(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Stats(ctx, "alice")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	_, err = svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "nl")
	require.NoError(t, err)

	stats := mustStats(t, svc, "alice")
	require.Equal(t, int64(20), stats.Points)
	require.Equal(t, int64(1), stats.TranslationsCount)
	require.Equal(t, int64(0), stats.ReviewsCount)
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureUser(ctx, "alice", "Alice"))
	require.NoError(t, svc.EnsureUser(ctx, "alice", "Alice Renamed"))

	stats := mustStats(t, svc, "alice")
	require.Equal(t, "Alice", stats.Username)
	require.Equal(t, int64(0), stats.Points)
}

func TestStreakRules(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	// first ever outcome starts a streak
	result, err := svc.RecordOutcome(ctx, "alice", OutcomeApprove, "nl")
	require.NoError(t, err)
	require.Equal(t, 1, result.Streak)

	// a second outcome on the same day does not advance it
	result, err = svc.RecordOutcome(ctx, "alice", OutcomeApprove, "nl")
	require.NoError(t, err)
	require.Equal(t, 1, result.Streak)

	// last active yesterday: consecutive day increments
	yesterday := today(time.Now()).AddDate(0, 0, -1)
	require.NoError(t, db.Model(&UserStats{}).
		Where("user_id = ?", "alice").
		Update("last_active_date", yesterday).Error)

	result, err = svc.RecordOutcome(ctx, "alice", OutcomeApprove, "nl")
	require.NoError(t, err)
	require.Equal(t, 2, result.Streak)

	// a gap resets to 1, longest streak is retained
	lastWeek := today(time.Now()).AddDate(0, 0, -7)
	require.NoError(t, db.Model(&UserStats{}).
		Where("user_id = ?", "alice").
		Update("last_active_date", lastWeek).Error)

	result, err = svc.RecordOutcome(ctx, "alice", OutcomeApprove, "nl")
	require.NoError(t, err)
	require.Equal(t, 1, result.Streak)

	stats := mustStats(t, svc, "alice")
	require.Equal(t, 2, stats.LongestStreak)
}

func TestDailyGoalBonusGrantedOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	// four terminal outcomes leave the goal open
	for i := 0; i < 4; i++ {
		result, err := svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "nl")
		require.NoError(t, err)
		require.False(t, result.GoalCompleted)
		require.Equal(t, int64(20), result.PointsEarned)
	}

	// the fifth completes it and pays the bonus
	result, err := svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "nl")
	require.NoError(t, err)
	require.True(t, result.GoalCompleted)
	require.Equal(t, int64(20+50), result.PointsEarned)

	// the sixth earns base points only
	result, err = svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "nl")
	require.NoError(t, err)
	require.False(t, result.GoalCompleted)
	require.Equal(t, int64(20), result.PointsEarned)

	goal, err := svc.DailyProgress(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 6, goal.Count)
	require.True(t, goal.Completed)
	require.True(t, goal.Rewarded)

	stats := mustStats(t, svc, "alice")
	require.Equal(t, int64(6*20+50), stats.Points)
}

func TestDiscussionDoesNotAdvanceDailyGoal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordOutcome(ctx, "alice", OutcomeDiscuss, "nl")
	require.NoError(t, err)

	goal, err := svc.DailyProgress(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 0, goal.Count)
}

func TestDailyProgressLazyCreate(t *testing.T) {
	svc, _ := newService(t)

	goal, err := svc.DailyProgress(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 5, goal.Target)
	require.Equal(t, 0, goal.Count)
	require.False(t, goal.Completed)
}

func TestChallengeTriggerCompletion(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	day := today(time.Now())

	require.NoError(t, db.Create(&DailyChallenge{
		ID:      "ch-1",
		UserID:  "alice",
		Date:    day,
		Type:    "translator",
		Trigger: `outcome == "translate"`,
		Target:  2,
		Reward:  30,
	}).Error)
	require.NoError(t, db.Create(&DailyChallenge{
		ID:      "ch-2",
		UserID:  "alice",
		Date:    day,
		Type:    "dutch_day",
		Trigger: `language == "nl"`,
		Target:  1,
		Reward:  15,
	}).Error)

	// an approval matches only the language challenge
	result, err := svc.RecordOutcome(ctx, "alice", OutcomeApprove, "nl")
	require.NoError(t, err)
	require.Equal(t, []string{"dutch_day"}, result.ChallengesCompleted)
	require.Equal(t, int64(10+15), result.PointsEarned)

	// first translate advances the translator challenge without completing it
	result, err = svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "de")
	require.NoError(t, err)
	require.Empty(t, result.ChallengesCompleted)
	require.Equal(t, int64(20), result.PointsEarned)

	// second translate completes it
	result, err = svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "de")
	require.NoError(t, err)
	require.Equal(t, []string{"translator"}, result.ChallengesCompleted)
	require.Equal(t, int64(20+30), result.PointsEarned)

	// completed challenges never pay again
	result, err = svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "nl")
	require.NoError(t, err)
	require.Empty(t, result.ChallengesCompleted)
	require.Equal(t, int64(20), result.PointsEarned)
}

func TestChallengeBrokenTriggerIsSkipped(t *testing.T) {
	svc, db := newService(t)
	day := today(time.Now())

	require.NoError(t, db.Create(&DailyChallenge{
		ID:      "ch-broken",
		UserID:  "alice",
		Date:    day,
		Type:    "broken",
		Trigger: `no_such_attr == "x"`,
		Target:  1,
		Reward:  100,
	}).Error)

	result, err := svc.RecordOutcome(context.Background(), "alice", OutcomeTranslate, "nl")
	require.NoError(t, err)
	require.Empty(t, result.ChallengesCompleted)
	require.Equal(t, int64(20), result.PointsEarned)
}

func TestLeaderboardOrderingAndRank(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	seed := []UserStats{
		{ID: "s1", UserID: "u1", Username: "carol", Points: 100},
		{ID: "s2", UserID: "u2", Username: "alice", Points: 250},
		{ID: "s3", UserID: "u3", Username: "bob", Points: 100},
		{ID: "s4", UserID: "u4", Username: "dave", Points: 40},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	entries, err := svc.Leaderboard(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "alice", entries[0].Username)
	// ties break by username ascending
	require.Equal(t, "bob", entries[1].Username)
	require.Equal(t, "carol", entries[2].Username)
	require.Equal(t, 1, entries[0].Rank)
	require.Equal(t, 3, entries[2].Rank)

	rank, err := svc.Rank(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, rank)

	rank, err = svc.Rank(ctx, "u4")
	require.NoError(t, err)
	require.Equal(t, 4, rank)

	_, err = svc.Leaderboard(ctx, 0)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestFlowSessionRotatesAfterIdle(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	_, err := svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "nl")
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, "alice", OutcomeApprove, "nl")
	require.NoError(t, err)

	var sessions []FlowSession
	require.NoError(t, db.Order("started_at ASC").Find(&sessions).Error)
	require.Len(t, sessions, 1)
	require.Equal(t, 1, sessions[0].Translations)
	require.Equal(t, 1, sessions[0].Reviews)
	require.Equal(t, int64(30), sessions[0].PointsEarned)

	// push the open session past the idle cutoff
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&FlowSession{}).
		Where("user_id = ?", "alice").
		Update("last_activity_at", stale).Error)

	_, err = svc.RecordOutcome(ctx, "alice", OutcomeTranslate, "nl")
	require.NoError(t, err)

	require.NoError(t, db.Order("started_at ASC").Find(&sessions).Error)
	require.Len(t, sessions, 2)
	require.NotNil(t, sessions[0].EndedAt)
	require.Nil(t, sessions[1].EndedAt)
	require.Equal(t, 1, sessions[1].Translations)
}
