package gamification

// Asynq task type names. The composition root schedules these; the engine
// itself never enqueues.
const (
	TaskSeedDailyChallenges = "gamification:seed_daily_challenges"
	TaskCloseIdleSessions   = "gamification:close_idle_sessions"
)
