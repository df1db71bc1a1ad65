package main

import (
	"context"
	"log"
	"os"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"termhub-engine/internal/httpapi"
	"termhub-engine/pkg/config"
	"termhub-engine/pkg/db"
	"termhub-engine/pkg/gen"
	"termhub-engine/pkg/health"
	"termhub-engine/pkg/logger"
	"termhub-engine/pkg/redis"
	"termhub-engine/pkg/server"
	"termhub-engine/services/assignment"
	"termhub-engine/services/communitygoal"
	"termhub-engine/services/gamification"
	"termhub-engine/services/translation"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		fx.Provide(
			registerServeMux,
			registerAsynqServer,
			registerScheduler,
		),
		fx.Invoke(
			migrate,
			registerHandlers,
			runAsynq,
		),
		translation.Module,
		assignment.Module,
		gamification.Module,
		gamification.TaskModule,
		communitygoal.Module,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func migrate(database *gorm.DB) {
	if err := database.AutoMigrate(
		&translation.Field{},
		&translation.Unit{},
		&translation.ActivityEntry{},
		&gamification.UserStats{},
		&gamification.DailyGoal{},
		&gamification.ChallengeTemplate{},
		&gamification.DailyChallenge{},
		&gamification.FlowSession{},
		&communitygoal.Goal{},
	); err != nil {
		zap.L().Error("[DB] Failed to run migrations", zap.Error(err))
		os.Exit(1)
	}
}

func registerServeMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

func registerAsynqServer(cfg *config.Config) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    10,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues: map[string]int{
				"gamification": 10,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				zap.L().Error("asynq task permanently failed", zap.String("task_type", task.Type()), zap.Error(err))
			}),
		},
	)
}

// registerScheduler enqueues the recurring jobs. Recurring scheduling lives
// here in the composition root; the engine services never schedule themselves.
func registerScheduler(cfg *config.Config) *asynq.Scheduler {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		&asynq.SchedulerOpts{},
	)

	if _, err := scheduler.Register("5 0 * * *",
		asynq.NewTask(gamification.TaskSeedDailyChallenges, nil),
		asynq.Queue("gamification"),
	); err != nil {
		zap.L().Error("[Asynq] Failed to register challenge seeding", zap.Error(err))
		os.Exit(1)
	}

	if _, err := scheduler.Register("*/15 * * * *",
		asynq.NewTask(gamification.TaskCloseIdleSessions, nil),
		asynq.Queue("gamification"),
	); err != nil {
		zap.L().Error("[Asynq] Failed to register session sweep", zap.Error(err))
		os.Exit(1)
	}

	return scheduler
}

func registerHandlers(mux *asynq.ServeMux, task *gamification.Task) {
	mux.HandleFunc(gamification.TaskSeedDailyChallenges, task.HandleSeedDailyChallenges)
	mux.HandleFunc(gamification.TaskCloseIdleSessions, task.HandleCloseIdleSessions)
}

func runAsynq(lc fx.Lifecycle, srv *asynq.Server, mux *asynq.ServeMux, scheduler *asynq.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(mux); err != nil {
					zap.L().Error("[Asynq] Failed to start Asynq server", zap.Error(err))
					os.Exit(1)
				}
			}()
			go func() {
				if err := scheduler.Start(); err != nil {
					zap.L().Error("[Asynq] Failed to start Asynq scheduler", zap.Error(err))
				}
			}()
			zap.L().Info("[Asynq] Asynq server started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Shutdown()
			srv.Stop()
			return nil
		},
	})
}
