package assignment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"termhub-engine/services/testutil"
	"termhub-engine/services/translation"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &translation.Field{}, &translation.Unit{}, &translation.ActivityEntry{})
	return NewService(ServiceParams{DB: db}), db
}

var seededAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedField(t *testing.T, db *gorm.DB, id string, age time.Duration) {
	t.Helper()
	require.NoError(t, db.Create(&translation.Field{
		ID:         id,
		TermID:     "term-" + id,
		Role:       translation.RoleLabel,
		SourceText: "source " + id,
		CreatedAt:  seededAt.Add(-age),
	}).Error)
}

func seedUnit(t *testing.T, db *gorm.DB, id, fieldID, language, creator string, status translation.Status, age time.Duration) {
	t.Helper()
	require.NoError(t, db.Create(&translation.Unit{
		ID:        id,
		TermID:    "term-" + fieldID,
		FieldID:   fieldID,
		FieldRole: translation.RoleLabel,
		Language:  language,
		Status:    status,
		CreatedBy: creator,
		CreatedAt: seededAt.Add(-age),
		UpdatedAt: seededAt.Add(-age),
	}).Error)
}

func seedDiscussionMessage(t *testing.T, db *gorm.DB, id, unitID, actorID string) {
	t.Helper()
	require.NoError(t, db.Create(&translation.ActivityEntry{
		ID:        id,
		UnitID:    unitID,
		ActorID:   actorID,
		Action:    translation.ActionDiscussion,
		CreatedAt: seededAt,
	}).Error)
}

func TestPoolPriorityReworkFirst(t *testing.T) {
	svc, db := newService(t)
	seedField(t, db, "f1", time.Hour)
	seedField(t, db, "f2", time.Hour)

	// one of each kind is available to alice
	seedUnit(t, db, "u-rework", "f1", "nl", "alice", translation.StatusRejected, time.Minute)
	seedUnit(t, db, "u-review", "f2", "nl", "bob", translation.StatusReview, 2*time.Hour)

	task, err := svc.NextTask(context.Background(), "alice", []string{"nl"}, nil)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, KindRework, task.Kind)
	require.Equal(t, "u-rework", task.Unit.ID)
}

func TestDiscussionOutranksReview(t *testing.T) {
	svc, db := newService(t)
	seedField(t, db, "f1", time.Hour)
	seedField(t, db, "f2", time.Hour)

	seedUnit(t, db, "u-disc", "f1", "nl", "alice", translation.StatusDiscussion, time.Minute)
	seedDiscussionMessage(t, db, "m1", "u-disc", "bob")
	seedUnit(t, db, "u-review", "f2", "nl", "bob", translation.StatusReview, 2*time.Hour)

	task, err := svc.NextTask(context.Background(), "alice", []string{"nl"}, nil)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, KindDiscussion, task.Kind)
	require.Equal(t, "u-disc", task.Unit.ID)
}

func TestDiscussionRequiresAnotherParticipant(t *testing.T) {
	svc, db := newService(t)
	seedField(t, db, "f1", time.Hour)

	// alice created the unit but nobody has replied: nothing to act on
	seedUnit(t, db, "u-disc", "f1", "nl", "alice", translation.StatusDiscussion, time.Minute)

	task, err := svc.NextTask(context.Background(), "alice", nil, nil)
	require.NoError(t, err)
	require.Nil(t, task)

	// an outsider is not a participant either
	seedDiscussionMessage(t, db, "m1", "u-disc", "bob")
	task, err = svc.NextTask(context.Background(), "carol", nil, nil)
	require.NoError(t, err)
	require.Nil(t, task)

	// bob replied, so both alice and bob now hold the task
	task, err = svc.NextTask(context.Background(), "bob", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, KindDiscussion, task.Kind)
}

func TestReviewExcludesOwnUnitsAndLanguages(t *testing.T) {
	svc, db := newService(t)
	seedField(t, db, "f1", time.Hour)
	seedField(t, db, "f2", time.Hour)
	seedField(t, db, "f3", time.Hour)

	seedUnit(t, db, "u-own", "f1", "nl", "alice", translation.StatusReview, 3*time.Hour)
	seedUnit(t, db, "u-other-lang", "f2", "fr", "bob", translation.StatusReview, 2*time.Hour)
	seedUnit(t, db, "u-reviewable", "f3", "nl", "bob", translation.StatusReview, time.Hour)

	task, err := svc.NextTask(context.Background(), "alice", []string{"nl"}, nil)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, KindReview, task.Kind)
	require.Equal(t, "u-reviewable", task.Unit.ID)
}

func TestReviewOldestFirst(t *testing.T) {
	svc, db := newService(t)
	for i := 1; i <= 3; i++ {
		seedField(t, db, fmt.Sprintf("f%d", i), time.Hour)
	}
	seedUnit(t, db, "u-new", "f1", "nl", "bob", translation.StatusReview, time.Minute)
	seedUnit(t, db, "u-old", "f2", "nl", "bob", translation.StatusReview, 3*time.Hour)
	seedUnit(t, db, "u-mid", "f3", "nl", "bob", translation.StatusReview, time.Hour)

	task, err := svc.NextTask(context.Background(), "alice", []string{"nl"}, nil)
	require.NoError(t, err)
	require.Equal(t, "u-old", task.Unit.ID)
}

func TestSkipWithinSession(t *testing.T) {
	svc, db := newService(t)
	seedField(t, db, "f1", time.Hour)
	seedField(t, db, "f2", time.Hour)
	seedUnit(t, db, "u1", "f1", "nl", "bob", translation.StatusReview, 2*time.Hour)
	seedUnit(t, db, "u2", "f2", "nl", "bob", translation.StatusReview, time.Hour)

	task, err := svc.NextTask(context.Background(), "alice", []string{"nl"}, nil)
	require.NoError(t, err)
	require.Equal(t, "u1", task.Unit.ID)

	exclude := []string{task.Key}
	task, err = svc.NextTask(context.Background(), "alice", []string{"nl"}, exclude)
	require.NoError(t, err)
	require.Equal(t, "u2", task.Unit.ID)

	exclude = append(exclude, task.Key)
	task, err = svc.NextTask(context.Background(), "alice", []string{"nl"}, exclude)
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestTranslatePoolFindsUntranslatedField(t *testing.T) {
	svc, db := newService(t)
	seedField(t, db, "f-covered", 2*time.Hour)
	seedField(t, db, "f-open", time.Hour)

	// f-covered already has an active nl unit
	seedUnit(t, db, "u1", "f-covered", "nl", "bob", translation.StatusApproved, time.Hour)

	task, err := svc.NextTask(context.Background(), "alice", []string{"nl"}, nil)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, KindTranslate, task.Kind)
	require.Equal(t, "f-open", task.Field.ID)
	require.Equal(t, "nl", task.Language)
	require.Equal(t, TranslateKey("f-open", "nl"), task.Key)
}

func TestTranslatePoolRespectsExclusionAndPreferenceOrder(t *testing.T) {
	svc, db := newService(t)
	seedField(t, db, "f1", time.Hour)

	task, err := svc.NextTask(context.Background(), "alice", []string{"nl", "de"}, nil)
	require.NoError(t, err)
	require.Equal(t, "nl", task.Language)

	// skipping nl for the field falls through to the next preference
	exclude := []string{TranslateKey("f1", "nl")}
	task, err = svc.NextTask(context.Background(), "alice", []string{"nl", "de"}, exclude)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, "de", task.Language)
}

func TestNoTaskAvailable(t *testing.T) {
	svc, _ := newService(t)

	task, err := svc.NextTask(context.Background(), "alice", []string{"nl"}, nil)
	require.NoError(t, err)
	require.Nil(t, task)
}
