package translation

import (
	"context"
	"errors"
	"strings"
	"time"

	"termhub-engine/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReviewAction is a reviewer's decision on a unit awaiting review.
type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionReject  ReviewAction = "reject"
	ActionDiscuss ReviewAction = "discuss"
)

// Notifier is the hosting application's notification sink. Discussion replies
// are pushed to it after the transaction commits.
type Notifier interface {
	NotifyDiscussion(ctx context.Context, unit *Unit, actorID, message string)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	notifier Notifier
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Notifier Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		notifier: p.Notifier,
	}
}

// SubmitTranslation creates a unit for (field, language) and puts it straight
// into review. Fails with CONFLICT when an active unit already holds the pair.
func (s *Service) SubmitTranslation(ctx context.Context, userID, fieldID, language, value string) (*Unit, error) {
	if strings.TrimSpace(value) == "" {
		return nil, errutil.ValidationFailed("translation value must not be empty", nil)
	}
	if strings.TrimSpace(language) == "" {
		return nil, errutil.ValidationFailed("language must not be empty", nil)
	}

	var unit *Unit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Concurrent submissions for the same field serialize on the field row;
		// the active-unit count below runs under that lock. Locking the unit
		// rows themselves would not help: with no active unit yet there is
		// nothing to lock.
		var field Field
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", fieldID).
			First(&field).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("field not found", err)
			}
			return err
		}

		var count int64
		if err := tx.Model(&Unit{}).
			Where("field_id = ? AND language = ? AND status IN ?", fieldID, language, ActiveStatuses).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errutil.Conflict("an active translation already exists for this field and language", nil)
		}

		now := time.Now().UTC()
		unit = &Unit{
			ID:         s.node.Generate().String(),
			TermID:     field.TermID,
			FieldID:    field.ID,
			FieldRole:  field.Role,
			Language:   language,
			Collection: field.Collection,
			Value:      value,
			Status:     StatusReview,
			CreatedBy:  userID,
			ModifiedBy: userID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(unit).Error; err != nil {
			return err
		}

		return s.appendEntry(tx, unit.ID, userID, CreatedPayload{From: StatusDraft, To: StatusReview})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("translation submitted",
		zap.String("unit_id", unit.ID),
		zap.String("field_id", fieldID),
		zap.String("language", language),
		zap.String("user_id", userID),
	)

	return unit, nil
}

// SubmitReviewDecision applies approve, reject or discuss to a unit in review
// or discussion. Reject and discuss require non-empty text, checked before any
// write. The creator may add discussion messages to an already open discussion
// but may never open one, approve or reject.
func (s *Service) SubmitReviewDecision(ctx context.Context, userID, unitID string, action ReviewAction, text string) (*Unit, error) {
	text = strings.TrimSpace(text)
	switch action {
	case ActionApprove:
	case ActionReject:
		if text == "" {
			return nil, errutil.ValidationFailed("a rejection requires a reason", nil)
		}
	case ActionDiscuss:
		if text == "" {
			return nil, errutil.ValidationFailed("a discussion requires a message", nil)
		}
	default:
		return nil, errutil.ValidationFailed("unknown review action", nil,
			errutil.WithDetails(errutil.Detail{Field: "action", Message: string(action)}))
	}

	var unit Unit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockUnit(tx, unitID, &unit); err != nil {
			return err
		}

		if unit.Status != StatusReview && unit.Status != StatusDiscussion {
			return errutil.Conflict("unit is no longer awaiting review", nil)
		}

		// Message appends inside an open discussion are the one case where the
		// creator participates.
		if unit.CreatedBy == userID && !(action == ActionDiscuss && unit.Status == StatusDiscussion) {
			return errutil.Forbidden("reviewing your own submission is not allowed", nil)
		}

		switch action {
		case ActionApprove:
			from := unit.Status
			updates := map[string]any{
				"status":      StatusApproved,
				"reviewed_by": userID,
				"updated_at":  time.Now().UTC(),
			}
			if err := tx.Model(&Unit{}).Where("id = ?", unit.ID).Updates(updates).Error; err != nil {
				return err
			}
			unit.Status = StatusApproved
			unit.ReviewedBy = userID
			return s.appendEntry(tx, unit.ID, userID, ApprovedPayload{From: from, To: StatusApproved})

		case ActionReject:
			from := unit.Status
			updates := map[string]any{
				"status":           StatusRejected,
				"reviewed_by":      userID,
				"rejection_reason": text,
				"updated_at":       time.Now().UTC(),
			}
			if err := tx.Model(&Unit{}).Where("id = ?", unit.ID).Updates(updates).Error; err != nil {
				return err
			}
			unit.Status = StatusRejected
			unit.ReviewedBy = userID
			unit.RejectionReason = text
			return s.appendEntry(tx, unit.ID, userID, RejectedPayload{From: from, To: StatusRejected, Reason: text})

		default: // ActionDiscuss
			if unit.Status == StatusReview {
				updates := map[string]any{
					"status":     StatusDiscussion,
					"updated_at": time.Now().UTC(),
				}
				if err := tx.Model(&Unit{}).Where("id = ?", unit.ID).Updates(updates).Error; err != nil {
					return err
				}
				unit.Status = StatusDiscussion
			}
			// discussion -> discussion appends a message without a status write
			return s.appendEntry(tx, unit.ID, userID, DiscussPayload{Message: text})
		}
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("review decision applied",
		zap.String("unit_id", unit.ID),
		zap.String("action", string(action)),
		zap.String("user_id", userID),
	)

	if action == ActionDiscuss && s.notifier != nil {
		s.notifier.NotifyDiscussion(ctx, &unit, userID, text)
	}

	return &unit, nil
}

// Resubmit moves a rejected unit back into review with an improved value. Only
// the original creator may resubmit; the previous value stays in history.
func (s *Service) Resubmit(ctx context.Context, userID, unitID, newValue, motivation string) (*Unit, error) {
	if strings.TrimSpace(newValue) == "" {
		return nil, errutil.ValidationFailed("translation value must not be empty", nil)
	}
	motivation = strings.TrimSpace(motivation)

	var unit Unit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockUnit(tx, unitID, &unit); err != nil {
			return err
		}

		if unit.CreatedBy != userID {
			return errutil.Forbidden("only the original creator may resubmit", nil)
		}
		if unit.Status != StatusRejected {
			return errutil.Conflict("unit is not in rejected status", nil)
		}

		updates := map[string]any{
			"status":     StatusReview,
			"value":      newValue,
			"motivation": motivation,
			"updated_at": time.Now().UTC(),
		}
		if err := tx.Model(&Unit{}).Where("id = ?", unit.ID).Updates(updates).Error; err != nil {
			return err
		}
		unit.Status = StatusReview
		unit.Value = newValue
		unit.Motivation = motivation

		return s.appendEntry(tx, unit.ID, userID, ResubmitPayload{From: StatusRejected, To: StatusReview, Motivation: motivation})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("unit resubmitted",
		zap.String("unit_id", unit.ID),
		zap.String("user_id", userID),
	)

	return &unit, nil
}

// Promote moves an approved unit to merged. The hosting application decides
// when a translation becomes the canonical published value; the engine only
// guards the edge.
func (s *Service) Promote(ctx context.Context, actorID, unitID string) (*Unit, error) {
	var unit Unit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockUnit(tx, unitID, &unit); err != nil {
			return err
		}

		if unit.Status != StatusApproved {
			return errutil.Conflict("only approved units can be merged", nil)
		}

		updates := map[string]any{
			"status":     StatusMerged,
			"updated_at": time.Now().UTC(),
		}
		if err := tx.Model(&Unit{}).Where("id = ?", unit.ID).Updates(updates).Error; err != nil {
			return err
		}
		unit.Status = StatusMerged

		return s.appendEntry(tx, unit.ID, actorID, StatusChangePayload{From: StatusApproved, To: StatusMerged})
	})
	if err != nil {
		return nil, err
	}

	return &unit, nil
}

// Get returns a unit by ID.
func (s *Service) Get(ctx context.Context, unitID string) (*Unit, error) {
	var unit Unit
	if err := s.db.WithContext(ctx).Where("id = ?", unitID).First(&unit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("unit not found", err)
		}
		return nil, err
	}
	return &unit, nil
}

// History returns the unit's activity entries, oldest first. Snowflake IDs are
// monotonic, so the id tie-break preserves insertion order within a timestamp.
func (s *Service) History(ctx context.Context, unitID string) ([]ActivityEntry, error) {
	if _, err := s.Get(ctx, unitID); err != nil {
		return nil, err
	}

	var entries []ActivityEntry
	if err := s.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("created_at ASC").Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) lockUnit(tx *gorm.DB, unitID string, dst *Unit) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", unitID).
		First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errutil.NotFound("unit not found", err)
	}
	return err
}

func (s *Service) appendEntry(tx *gorm.DB, unitID, actorID string, payload EntryPayload) error {
	entry := &ActivityEntry{
		ID:        s.node.Generate().String(),
		UnitID:    unitID,
		ActorID:   actorID,
		Action:    payload.Action(),
		Payload:   marshalPayload(payload),
		CreatedAt: time.Now().UTC(),
	}
	return tx.Create(entry).Error
}
