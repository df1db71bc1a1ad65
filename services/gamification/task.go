package gamification

import (
	"context"
	"time"

	"termhub-engine/pkg/celengine"
	"termhub-engine/pkg/config"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var TaskModule = fx.Module("task.gamification",
	fx.Provide(NewTask),
)

type Task struct {
	db        *gorm.DB
	node      *snowflake.Node
	idleAfter time.Duration
}

type TaskParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config `optional:"true"`
}

func NewTask(p TaskParams) *Task {
	t := &Task{
		db:        p.DB,
		node:      p.Node,
		idleAfter: defaultSessionIdleAfter,
	}
	if p.Config != nil && p.Config.Engine.SessionIdleAfter > 0 {
		t.idleAfter = p.Config.Engine.SessionIdleAfter
	}
	return t
}

// HandleSeedDailyChallenges creates today's challenge rows for every known
// user from the active templates. Templates whose trigger does not compile
// are skipped and logged; the unique index makes re-runs idempotent.
func (t *Task) HandleSeedDailyChallenges(ctx context.Context, _ *asynq.Task) error {
	day := today(time.Now())

	zapLog := zap.L().With(
		zap.String("task_type", TaskSeedDailyChallenges),
		zap.Time("date", day),
	)
	zapLog.Info("seeding daily challenges")

	var templates []ChallengeTemplate
	if err := t.db.WithContext(ctx).Where("active = ?", true).Find(&templates).Error; err != nil {
		zapLog.Error("failed to load challenge templates", zap.Error(err))
		return err
	}

	attrs := map[string]interface{}{"outcome": "", "language": ""}
	env, err := celengine.GetOrBuildEnv(attrs)
	if err != nil {
		return err
	}

	valid := templates[:0]
	for _, tpl := range templates {
		if err := celengine.ValidateExpression(env, tpl.Trigger); err != nil {
			zapLog.Warn("skipping template with invalid trigger",
				zap.String("type", tpl.Type),
				zap.String("trigger", tpl.Trigger),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, tpl)
	}

	var userIDs []string
	if err := t.db.WithContext(ctx).Model(&UserStats{}).Pluck("user_id", &userIDs).Error; err != nil {
		zapLog.Error("failed to list users", zap.Error(err))
		return err
	}

	var seeded int
	for _, userID := range userIDs {
		for _, tpl := range valid {
			challenge := DailyChallenge{
				ID:      t.node.Generate().String(),
				UserID:  userID,
				Date:    day,
				Type:    tpl.Type,
				Trigger: tpl.Trigger,
				Target:  tpl.Target,
				Reward:  tpl.Reward,
			}
			res := t.db.WithContext(ctx).
				Where(DailyChallenge{UserID: userID, Date: day, Type: tpl.Type}).
				Attrs(challenge).
				FirstOrCreate(&DailyChallenge{})
			if res.Error != nil {
				zapLog.Error("failed to seed challenge",
					zap.String("user_id", userID),
					zap.String("type", tpl.Type),
					zap.Error(res.Error),
				)
				return res.Error
			}
			if res.RowsAffected > 0 {
				seeded++
			}
		}
	}

	zapLog.Info("daily challenges seeded", zap.Int("created", seeded), zap.Int("users", len(userIDs)))
	return nil
}

// HandleCloseIdleSessions ends flow sessions whose last activity is older
// than the idle cutoff.
func (t *Task) HandleCloseIdleSessions(ctx context.Context, _ *asynq.Task) error {
	cutoff := time.Now().UTC().Add(-t.idleAfter)

	res := t.db.WithContext(ctx).Model(&FlowSession{}).
		Where("ended_at IS NULL AND last_activity_at < ?", cutoff).
		Update("ended_at", gorm.Expr("last_activity_at"))
	if res.Error != nil {
		zap.L().Error("failed to close idle sessions", zap.Error(res.Error))
		return res.Error
	}

	if res.RowsAffected > 0 {
		zap.L().Info("idle flow sessions closed", zap.Int64("count", res.RowsAffected))
	}
	return nil
}
