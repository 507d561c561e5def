package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yoavra/yoman/calendar/domain"
)

var repoNow = time.Date(2025, 10, 10, 7, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *CalendarGormRepository {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo := NewCalendarGormRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func repoEvent(userID string) domain.Event {
	return domain.Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     "פגישה",
		Status:    domain.EventActive,
		StartUTC:  repoNow.Add(time.Hour),
		CreatedAt: repoNow,
		UpdatedAt: repoNow,
	}
}

func TestParticipants_DuplicateNameIsNoOp(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	e := repoEvent("u1")
	e.Participants = []domain.Participant{{Name: "דני"}, {Name: "נועה", Role: "companion"}}
	require.NoError(t, repo.CreateEvent(ctx, e))

	// Same name again hits the unique index and is silently dropped.
	require.NoError(t, repo.AddParticipant(ctx, e.ID, domain.Participant{Name: "דני"}, repoNow))

	got, err := repo.ListParticipants(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "דני", got[0].Name)
	assert.Equal(t, "primary", got[0].Role)
	assert.Equal(t, "companion", got[1].Role)

	hydrated, err := repo.GetEvent(ctx, "u1", e.ID)
	require.NoError(t, err)
	assert.Len(t, hydrated.Participants, 2)
}

func TestDeleteEvent_CascadesParticipantsAndComments(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	e := repoEvent("u1")
	e.Participants = []domain.Participant{{Name: "דני"}}
	require.NoError(t, repo.CreateEvent(ctx, e))
	require.NoError(t, repo.AddComment(ctx, domain.EventComment{
		ID: uuid.NewString(), EventID: e.ID, UserID: "u1",
		Text: "להביא מסמכים", Priority: domain.CommentHigh, CreatedAt: repoNow,
	}))

	require.NoError(t, repo.DeleteEvent(ctx, "u1", e.ID))

	participants, err := repo.ListParticipants(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)
	comments, err := repo.ListComments(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestComments_RoundTripPriorityAndTags(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	e := repoEvent("u1")
	require.NoError(t, repo.CreateEvent(ctx, e))
	require.NoError(t, repo.AddComment(ctx, domain.EventComment{
		ID: uuid.NewString(), EventID: e.ID, UserID: "u1",
		Text: "לא לאחר", Priority: domain.CommentUrgent,
		Tags: []string{"חשוב", "בוקר"}, ReminderID: "r1", CreatedAt: repoNow,
	}))

	got, err := repo.ListComments(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.CommentUrgent, got[0].Priority)
	assert.Equal(t, []string{"חשוב", "בוקר"}, got[0].Tags)
	assert.Equal(t, "r1", got[0].ReminderID)
}

func TestSaveComparison_MaterializesReviewColumns(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveComparison(ctx, NLPComparison{
		ID: "c1", UserID: "u1", Text: "קבע פגישה",
		Results:   []map[string]any{{"provider": "openai"}},
		Final:     "create_event", Agreement: 2,
		IntentMatch: true, ConfidenceDiff: 0.2,
		CostUSD: 0.003, CreatedAt: repoNow,
	}))

	// The flag and the spread live in their own columns, queryable without
	// unpacking the results JSON.
	var row nlpComparisonModel
	require.NoError(t, repo.db.First(&row, "id = ?", "c1").Error)
	assert.True(t, row.IntentMatch)
	assert.InDelta(t, 0.2, row.ConfidenceDiff, 1e-9)
	assert.Equal(t, "create_event", row.Final)
}

func TestAICostLedger_AppendAndSum(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendAICost(ctx, domain.AICostEntry{
		UserID: "u1", Model: "gpt-4o-mini", Operation: "nlu_analyze",
		CostUSD: 0.002, TokensUsed: 900, CreatedAt: repoNow,
	}))
	require.NoError(t, repo.AppendAICost(ctx, domain.AICostEntry{
		Model: "gemini-2.0-flash", Operation: "nlu_analyze",
		CostUSD: 0.001, TokensUsed: 700, CreatedAt: repoNow.Add(-40 * 24 * time.Hour),
	}))

	total, err := repo.SumAICostSince(ctx, repoNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.002, total, 1e-9)

	rows, err := repo.ListAICosts(ctx, repoNow.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "gpt-4o-mini", rows[0].Model)
	assert.NotEmpty(t, rows[0].ID)
}
