package communitygoal

import (
	"time"
)

// Goal is an administrator-defined platform-wide translation target. Progress
// is derived at read time, never stored.
type Goal struct {
	ID         string     `gorm:"column:id;primaryKey"`
	Title      string     `gorm:"column:title;not null"`
	Target     int64      `gorm:"column:target;not null"`
	Language   string     `gorm:"column:language;type:varchar(10)"`
	Collection string     `gorm:"column:collection"`
	StartsAt   *time.Time `gorm:"column:starts_at"`
	EndsAt     *time.Time `gorm:"column:ends_at"`
	Recurring  string     `gorm:"column:recurring;type:varchar(20)"` // "", "weekly", "monthly"
	CreatedBy  string     `gorm:"column:created_by"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

// Progress is a point-in-time snapshot of a goal.
type Progress struct {
	GoalID     string  `json:"goal_id"`
	Current    int64   `json:"current"`
	Target     int64   `json:"target"`
	Percentage float64 `json:"percentage"`
	Complete   bool    `json:"complete"`
}
