package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/hebrew/fuzzy"
	"github.com/yoavra/yoman/pkg/clock"
)

func newReminderService(t *testing.T) (*ReminderService, *repository.CalendarGormRepository, domain.User) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	return NewReminderService(repo, clock.Fixed{Instant: testNow}), repo, user
}

func TestReminderCreate(t *testing.T) {
	svc, _, user := newReminderService(t)
	rem, err := svc.Create(context.Background(), CreateReminderRequest{
		User: user, Title: "להתקשר לאמא", DueUTC: testNow.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderActive, rem.Status)
	assert.Nil(t, rem.LastFiredUTC)
}

func TestReminderCreate_RejectsPastOneOff(t *testing.T) {
	svc, _, user := newReminderService(t)
	_, err := svc.Create(context.Background(), CreateReminderRequest{
		User: user, Title: "מאוחר מדי", DueUTC: testNow.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, domain.ErrPastInstant)
}

func TestReminderCreate_RecurringPastStartAllowed(t *testing.T) {
	svc, _, user := newReminderService(t)
	// A series anchored in the past still has future occurrences.
	rem, err := svc.Create(context.Background(), CreateReminderRequest{
		User: user, Title: "כדור יומי", DueUTC: testNow.Add(-24 * time.Hour),
		RecurrenceRule: "FREQ=DAILY",
	})
	require.NoError(t, err)
	assert.Equal(t, "FREQ=DAILY", rem.RecurrenceRule)
}

func TestReminderSnooze(t *testing.T) {
	svc, _, user := newReminderService(t)
	ctx := context.Background()
	rem, err := svc.Create(ctx, CreateReminderRequest{
		User: user, Title: "לקחת תרופה", DueUTC: testNow.Add(time.Hour),
	})
	require.NoError(t, err)

	snoozed, err := svc.Snooze(ctx, user, rem.ID, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(10*time.Minute), snoozed.DueUTC)

	_, err = svc.Snooze(ctx, user, rem.ID, -time.Minute)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReminderFind(t *testing.T) {
	svc, _, user := newReminderService(t)
	ctx := context.Background()
	for _, title := range []string{"להתקשר לרופא", "לקנות מתנה"} {
		_, err := svc.Create(ctx, CreateReminderRequest{User: user, Title: title, DueUTC: testNow.Add(time.Hour)})
		require.NoError(t, err)
	}

	rem, _, err := svc.Find(ctx, user, "רופא", fuzzy.SearchThreshold)
	require.NoError(t, err)
	assert.Equal(t, "להתקשר לרופא", rem.Title)

	_, _, err = svc.Find(ctx, user, "משהו אחר לגמרי", fuzzy.SearchThreshold)
	assert.ErrorIs(t, err, domain.ErrNoMatch)
}

func TestReminderUpdate(t *testing.T) {
	svc, _, user := newReminderService(t)
	ctx := context.Background()
	rem, err := svc.Create(ctx, CreateReminderRequest{
		User: user, Title: "להתקשר לרופא", DueUTC: testNow.Add(time.Hour),
	})
	require.NoError(t, err)

	title := "להתקשר לרופא שיניים"
	updated, err := svc.Update(ctx, UpdateReminderRequest{User: user, ReminderID: rem.ID, NewTitle: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, rem.DueUTC, updated.DueUTC)

	due := testNow.Add(5 * time.Hour)
	updated, err = svc.Update(ctx, UpdateReminderRequest{User: user, ReminderID: rem.ID, NewDueUTC: &due})
	require.NoError(t, err)
	assert.Equal(t, due, updated.DueUTC)
	assert.Equal(t, title, updated.Title)

	past := testNow.Add(-time.Hour)
	_, err = svc.Update(ctx, UpdateReminderRequest{User: user, ReminderID: rem.ID, NewDueUTC: &past})
	assert.ErrorIs(t, err, domain.ErrPastInstant)
}

func TestReminderMarkFired_AtMostOnce(t *testing.T) {
	svc, repo, user := newReminderService(t)
	ctx := context.Background()
	rem, err := svc.Create(ctx, CreateReminderRequest{
		User: user, Title: "תור לרופא", DueUTC: testNow.Add(time.Hour),
	})
	require.NoError(t, err)

	occurrence := rem.DueUTC

	won, err := repo.MarkFired(ctx, rem.ID, occurrence)
	require.NoError(t, err)
	assert.True(t, won)

	// A second worker claiming the same occurrence must lose.
	won, err = repo.MarkFired(ctx, rem.ID, occurrence)
	require.NoError(t, err)
	assert.False(t, won)

	// An older occurrence never moves the watermark backwards.
	won, err = repo.MarkFired(ctx, rem.ID, occurrence.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, won)

	// The next occurrence of a series is claimable again.
	won, err = repo.MarkFired(ctx, rem.ID, occurrence.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, won)
}

func TestReminderAdvance_RecurringMovesToNext(t *testing.T) {
	svc, repo, user := newReminderService(t)
	ctx := context.Background()
	rem, err := svc.Create(ctx, CreateReminderRequest{
		User: user, Title: "כדור יומי", DueUTC: testNow.Add(time.Hour),
		RecurrenceRule: "FREQ=DAILY",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Advance(ctx, rem, rem.DueUTC))
	advanced, err := repo.GetReminder(ctx, user.ID, rem.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderActive, advanced.Status)
	assert.Equal(t, rem.DueUTC.Add(24*time.Hour), advanced.DueUTC)
}

func TestReminderAdvance_OneOffDone(t *testing.T) {
	svc, repo, user := newReminderService(t)
	ctx := context.Background()
	rem, err := svc.Create(ctx, CreateReminderRequest{
		User: user, Title: "חד פעמי", DueUTC: testNow.Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Advance(ctx, rem, rem.DueUTC))
	_, err = repo.GetReminder(ctx, user.ID, rem.ID)
	require.NoError(t, err)
	reminders, err := svc.List(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestReminderCancelExcludedFromDue(t *testing.T) {
	svc, repo, user := newReminderService(t)
	ctx := context.Background()
	rem, err := svc.Create(ctx, CreateReminderRequest{
		User: user, Title: "לבטל אותי", DueUTC: testNow.Add(time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, user, rem.ID))

	due, err := repo.ListDueReminders(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}
