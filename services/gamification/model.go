package gamification

import (
	"time"
)

// Outcome is a completed unit of work reported by the hosting application
// after a state-machine transition commits.
type Outcome string

const (
	OutcomeTranslate Outcome = "translate"
	OutcomeApprove   Outcome = "approve"
	OutcomeReject    Outcome = "reject"
	OutcomeDiscuss   Outcome = "discuss"
)

// Points per outcome. A reviewer is rewarded for completing a review
// regardless of decision; discussion is not a terminal decision.
var outcomePoints = map[Outcome]int64{
	OutcomeTranslate: 20,
	OutcomeApprove:   10,
	OutcomeReject:    5,
	OutcomeDiscuss:   0,
}

// Valid reports whether o is a known outcome kind.
func (o Outcome) Valid() bool {
	_, ok := outcomePoints[o]
	return ok
}

// terminal reports whether the outcome counts toward the daily goal.
func (o Outcome) terminal() bool {
	return o != OutcomeDiscuss
}

// UserStats is the per-user engagement record, written only by this service.
type UserStats struct {
	ID                string     `gorm:"column:id;primaryKey"`
	UserID            string     `gorm:"column:user_id;uniqueIndex;not null"`
	Username          string     `gorm:"column:username;index;not null"`
	Points            int64      `gorm:"column:points;not null;default:0"`
	Streak            int        `gorm:"column:streak;not null;default:0"`
	LongestStreak     int        `gorm:"column:longest_streak;not null;default:0"`
	LastActiveDate    *time.Time `gorm:"column:last_active_date"`
	TranslationsCount int64      `gorm:"column:translations_count;not null;default:0"`
	ReviewsCount      int64      `gorm:"column:reviews_count;not null;default:0"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// DailyGoal is the per-(user, day) activity target. The unique index makes
// concurrent lazy creates safe; Rewarded guards the bonus against retries.
type DailyGoal struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_goal_user_date;not null"`
	Date      time.Time `gorm:"column:date;uniqueIndex:idx_goal_user_date;not null"`
	Target    int       `gorm:"column:target;not null"`
	Count     int       `gorm:"column:count;not null;default:0"`
	Completed bool      `gorm:"column:completed;not null;default:false"`
	Rewarded  bool      `gorm:"column:rewarded;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// ChallengeTemplate is an administrator-defined challenge type. Trigger is a
// CEL expression over {outcome, language}, e.g. `outcome == "translate"`.
type ChallengeTemplate struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Type      string    `gorm:"column:type;uniqueIndex;not null"`
	Trigger   string    `gorm:"column:trigger;type:text;not null"`
	Target    int       `gorm:"column:target;not null"`
	Reward    int64     `gorm:"column:reward;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// DailyChallenge is one per (user, day, type), seeded from templates. Same
// idempotent-reward discipline as DailyGoal via Completed.
type DailyChallenge struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_challenge_user_date_type;not null"`
	Date      time.Time `gorm:"column:date;uniqueIndex:idx_challenge_user_date_type;not null"`
	Type      string    `gorm:"column:type;uniqueIndex:idx_challenge_user_date_type;not null"`
	Trigger   string    `gorm:"column:trigger;type:text;not null"`
	Target    int       `gorm:"column:target;not null"`
	Count     int       `gorm:"column:count;not null;default:0"`
	Completed bool      `gorm:"column:completed;not null;default:false"`
	Reward    int64     `gorm:"column:reward;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// FlowSession is a contiguous work session. Purely observational; it gates
// nothing.
type FlowSession struct {
	ID             string     `gorm:"column:id;primaryKey"`
	UserID         string     `gorm:"column:user_id;index;not null"`
	StartedAt      time.Time  `gorm:"column:started_at;not null"`
	LastActivityAt time.Time  `gorm:"column:last_activity_at;not null"`
	EndedAt        *time.Time `gorm:"column:ended_at"`
	Translations   int        `gorm:"column:translations;not null;default:0"`
	Reviews        int        `gorm:"column:reviews;not null;default:0"`
	PointsEarned   int64      `gorm:"column:points_earned;not null;default:0"`
}

// LeaderboardEntry is a read model for ranked user stats.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Points   int64  `json:"points"`
	Streak   int    `json:"streak"`
}

// today truncates t to its UTC calendar day. Daily boundaries are UTC; user
// timezones are a hosting-app concern.
func today(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
