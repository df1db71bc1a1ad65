package assignment

import (
	"context"
	"fmt"
	"strings"

	"termhub-engine/services/translation"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TaskKind identifies which pool a task came from.
type TaskKind string

const (
	KindRework     TaskKind = "rework"
	KindDiscussion TaskKind = "discussion"
	KindReview     TaskKind = "review"
	KindTranslate  TaskKind = "translate"
)

// Task is one unit of work offered to a user. Key is what the caller feeds
// back in the exclusion set to skip the task for the rest of the session;
// assignment holds no session state itself.
type Task struct {
	Kind  TaskKind           `json:"kind"`
	Key   string             `json:"key"`
	Unit  *translation.Unit  `json:"unit,omitempty"`
	Field *translation.Field `json:"field,omitempty"`
	// Language is set for translate tasks, where no unit exists yet.
	Language string `json:"language,omitempty"`
}

// TranslateKey builds the exclusion key for a translate task, which has no
// unit to key on. Unit-backed tasks use the unit ID directly.
func TranslateKey(fieldID, language string) string {
	return fmt.Sprintf("%s:%s", fieldID, language)
}

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

// discussionScanLimit bounds how many open discussions are inspected for
// participation per call.
const discussionScanLimit = 50

// NextTask selects the single next unit of work for a user.
//
// Pool priority: rework > discussion > review > translate. A contributor's own
// rejected work is the only thing blocking its field/language pair, so it
// outranks everything; an open discussion already has two people invested, so
// it outranks fresh reviews. Within a pool the oldest unit wins.
//
// The result is advisory, not a reservation: two callers may be offered the
// same unit, and the later committer fails with CONFLICT at transition time.
func (s *Service) NextTask(ctx context.Context, userID string, languages []string, exclude []string) (*Task, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, k := range exclude {
		excluded[k] = struct{}{}
	}

	if task, err := s.nextRework(ctx, userID, exclude); err != nil || task != nil {
		return task, err
	}
	if task, err := s.nextDiscussion(ctx, userID, exclude); err != nil || task != nil {
		return task, err
	}
	if task, err := s.nextReview(ctx, userID, languages, exclude); err != nil || task != nil {
		return task, err
	}
	if task, err := s.nextTranslate(ctx, languages, excluded); err != nil || task != nil {
		return task, err
	}

	zap.L().Debug("no task available",
		zap.String("user_id", userID),
		zap.Strings("languages", languages),
	)
	return nil, nil
}

func (s *Service) nextRework(ctx context.Context, userID string, exclude []string) (*Task, error) {
	var unit translation.Unit
	query := s.db.WithContext(ctx).
		Where("status = ? AND created_by = ?", translation.StatusRejected, userID)
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}
	err := query.Order("created_at ASC").Order("id ASC").First(&unit).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Task{Kind: KindRework, Key: unit.ID, Unit: &unit}, nil
}

// nextDiscussion offers open discussions where the user already participates
// (as creator or message author) and is not the only participant, i.e. someone
// is waiting on them.
func (s *Service) nextDiscussion(ctx context.Context, userID string, exclude []string) (*Task, error) {
	var units []translation.Unit
	query := s.db.WithContext(ctx).
		Where("status = ?", translation.StatusDiscussion)
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}
	if err := query.Order("created_at ASC").Order("id ASC").
		Limit(discussionScanLimit).
		Find(&units).Error; err != nil {
		return nil, err
	}

	for i := range units {
		unit := &units[i]

		var actors []string
		if err := s.db.WithContext(ctx).Model(&translation.ActivityEntry{}).
			Distinct("actor_id").
			Where("unit_id = ? AND action = ?", unit.ID, translation.ActionDiscussion).
			Pluck("actor_id", &actors).Error; err != nil {
			return nil, err
		}

		participants := map[string]struct{}{unit.CreatedBy: {}}
		for _, a := range actors {
			participants[a] = struct{}{}
		}

		if _, ok := participants[userID]; !ok {
			continue
		}
		if len(participants) < 2 {
			continue
		}

		return &Task{Kind: KindDiscussion, Key: unit.ID, Unit: unit}, nil
	}

	return nil, nil
}

func (s *Service) nextReview(ctx context.Context, userID string, languages, exclude []string) (*Task, error) {
	if len(languages) == 0 {
		return nil, nil
	}

	var unit translation.Unit
	query := s.db.WithContext(ctx).
		Where("status = ? AND language IN ? AND created_by <> ?", translation.StatusReview, languages, userID)
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}
	err := query.Order("created_at ASC").Order("id ASC").First(&unit).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Task{Kind: KindReview, Key: unit.ID, Unit: &unit}, nil
}

// nextTranslate finds the oldest field lacking an active unit in one of the
// user's preferred languages. Languages are tried in preference order so the
// first preference fills up first. No self-review filter applies here: there
// is no creator yet.
func (s *Service) nextTranslate(ctx context.Context, languages []string, excluded map[string]struct{}) (*Task, error) {
	if len(languages) == 0 {
		return nil, nil
	}

	for _, language := range languages {
		var skipFields []string
		for key := range excluded {
			if fieldID, lang, ok := splitTranslateKey(key); ok && lang == language {
				skipFields = append(skipFields, fieldID)
			}
		}

		query := s.db.WithContext(ctx).Model(&translation.Field{}).
			Where("NOT EXISTS (?)",
				s.db.Model(&translation.Unit{}).
					Select("1").
					Where("units.field_id = fields.id AND units.language = ? AND units.status IN ?", language, translation.ActiveStatuses),
			)
		if len(skipFields) > 0 {
			query = query.Where("id NOT IN ?", skipFields)
		}

		var field translation.Field
		err := query.Order("created_at ASC").Order("id ASC").First(&field).Error
		if err == gorm.ErrRecordNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}

		return &Task{Kind: KindTranslate, Key: TranslateKey(field.ID, language), Field: &field, Language: language}, nil
	}

	return nil, nil
}

func splitTranslateKey(key string) (fieldID, language string, ok bool) {
	i := strings.LastIndex(key, ":")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
