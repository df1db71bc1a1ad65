package communitygoal

import (
	"context"
	"errors"
	"strings"
	"time"

	"termhub-engine/pkg/errutil"
	"termhub-engine/services/translation"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
	}
}

// Create stores a new goal definition.
func (s *Service) Create(ctx context.Context, goal *Goal) (*Goal, error) {
	if strings.TrimSpace(goal.Title) == "" {
		return nil, errutil.ValidationFailed("goal title must not be empty", nil)
	}
	if goal.Target <= 0 {
		return nil, errutil.ValidationFailed("goal target must be positive", nil)
	}
	if goal.StartsAt != nil && goal.EndsAt != nil && goal.EndsAt.Before(*goal.StartsAt) {
		return nil, errutil.ValidationFailed("goal window ends before it starts", nil)
	}

	goal.ID = s.node.Generate().String()
	now := time.Now().UTC()
	goal.CreatedAt = now
	goal.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(goal).Error; err != nil {
		return nil, err
	}

	zap.L().Info("community goal created",
		zap.String("goal_id", goal.ID),
		zap.Int64("target", goal.Target),
		zap.String("language", goal.Language),
	)

	return goal, nil
}

// Get returns a goal by ID.
func (s *Service) Get(ctx context.Context, goalID string) (*Goal, error) {
	var goal Goal
	err := s.db.WithContext(ctx).Where("id = ?", goalID).First(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("community goal not found", err)
	}
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

// List returns all goals, newest first.
func (s *Service) List(ctx context.Context) ([]Goal, error) {
	var goals []Goal
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Find(&goals).Error; err != nil {
		return nil, err
	}
	return goals, nil
}

// CurrentProgress computes the goal's progress by counting qualifying units at
// read time. A unit qualifies when it is approved or merged, matches the
// goal's language and collection filters, and its last transition falls inside
// the window. Nothing is cached or stored, so there is no staleness to manage.
func (s *Service) CurrentProgress(ctx context.Context, goalID string) (*Progress, error) {
	goal, err := s.Get(ctx, goalID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&translation.Unit{}).
		Where("status IN ?", []translation.Status{translation.StatusApproved, translation.StatusMerged})

	if goal.Language != "" {
		query = query.Where("language = ?", goal.Language)
	}
	if goal.Collection != "" {
		query = query.Where("collection = ?", goal.Collection)
	}
	if goal.StartsAt != nil {
		query = query.Where("updated_at >= ?", *goal.StartsAt)
	}
	if goal.EndsAt != nil {
		query = query.Where("updated_at <= ?", *goal.EndsAt)
	}

	var current int64
	if err := query.Count(&current).Error; err != nil {
		return nil, err
	}

	percentage := float64(0)
	if goal.Target > 0 {
		percentage = float64(current) / float64(goal.Target) * 100
		if percentage > 100 {
			percentage = 100
		}
	}

	return &Progress{
		GoalID:     goal.ID,
		Current:    current,
		Target:     goal.Target,
		Percentage: percentage,
		Complete:   current >= goal.Target,
	}, nil
}
