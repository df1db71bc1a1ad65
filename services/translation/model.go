package translation

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a translatable unit.
type Status string

const (
	StatusOriginal   Status = "original"
	StatusDraft      Status = "draft"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDiscussion Status = "discussion"
	StatusMerged     Status = "merged"
)

// Active reports whether the status blocks a new submission for the same
// field/language pair. Rejected units are not active: the rework flow owns them.
func (s Status) Active() bool {
	switch s {
	case StatusDraft, StatusReview, StatusDiscussion, StatusApproved, StatusMerged:
		return true
	default:
		return false
	}
}

// ActiveStatuses is the set used in "no competing submission" queries.
var ActiveStatuses = []Status{StatusDraft, StatusReview, StatusDiscussion, StatusApproved, StatusMerged}

type FieldRole string

const (
	RoleLabel        FieldRole = "label"
	RoleReference    FieldRole = "reference"
	RoleTranslatable FieldRole = "translatable"
)

// Field is a source-side term field available for translation. Rows are seeded
// by the hosting application's vocabulary ingestion, never written here.
type Field struct {
	ID         string    `gorm:"column:id;primaryKey"`
	TermID     string    `gorm:"column:term_id;index;not null"`
	Role       FieldRole `gorm:"column:role;type:varchar(20);not null"`
	Collection string    `gorm:"column:collection;index"`
	SourceText string    `gorm:"column:source_text;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// Unit is one (field, target language) translation record.
type Unit struct {
	ID              string    `gorm:"column:id;primaryKey"`
	TermID          string    `gorm:"column:term_id;index;not null"`
	FieldID         string    `gorm:"column:field_id;index:idx_unit_field_lang;not null"`
	FieldRole       FieldRole `gorm:"column:field_role;type:varchar(20);not null"`
	Language        string    `gorm:"column:language;index:idx_unit_field_lang;type:varchar(10);not null"`
	Collection      string    `gorm:"column:collection;index"`
	Value           string    `gorm:"column:value;type:text"`
	Status          Status    `gorm:"column:status;type:varchar(20);index;not null"`
	CreatedBy       string    `gorm:"column:created_by;index;not null"`
	ModifiedBy      string    `gorm:"column:modified_by"`
	ReviewedBy      string    `gorm:"column:reviewed_by"`
	RejectionReason string    `gorm:"column:rejection_reason;type:text"`
	Motivation      string    `gorm:"column:motivation;type:text"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// Action is the kind of an activity entry.
type Action string

const (
	ActionCreated       Action = "created"
	ActionEdited        Action = "edited"
	ActionApproved      Action = "approved"
	ActionRejected      Action = "rejected"
	ActionStatusChanged Action = "status_changed"
	ActionDiscussion    Action = "discussion_message"
)

// ActivityEntry is an immutable fact about one transition. Rows are inserted
// inside the same transaction as the status write and never updated.
type ActivityEntry struct {
	ID        string         `gorm:"column:id;primaryKey"`
	UnitID    string         `gorm:"column:unit_id;index;not null"`
	ActorID   string         `gorm:"column:actor_id;index;not null"`
	Action    Action         `gorm:"column:action;type:varchar(30);not null"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
}

// EntryPayload is the closed set of per-action payload variants. Each action
// kind carries a statically known shape instead of a free-form map.
type EntryPayload interface {
	Action() Action
}

type StatusChangePayload struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

func (StatusChangePayload) Action() Action { return ActionStatusChanged }

type CreatedPayload struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

func (CreatedPayload) Action() Action { return ActionCreated }

type ApprovedPayload struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

func (ApprovedPayload) Action() Action { return ActionApproved }

type RejectedPayload struct {
	From   Status `json:"from"`
	To     Status `json:"to"`
	Reason string `json:"reason"`
}

func (RejectedPayload) Action() Action { return ActionRejected }

type DiscussPayload struct {
	Message string `json:"message"`
}

func (DiscussPayload) Action() Action { return ActionDiscussion }

type ResubmitPayload struct {
	From       Status `json:"from"`
	To         Status `json:"to"`
	Motivation string `json:"motivation,omitempty"`
}

func (ResubmitPayload) Action() Action { return ActionEdited }

func marshalPayload(p EntryPayload) datatypes.JSON {
	b, err := json.Marshal(p)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}
