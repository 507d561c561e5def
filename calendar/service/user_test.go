package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/pkg/clock"
)

func newUserService(t *testing.T) (*UserService, domain.User) {
	repo := newTestRepo(t)
	user := newTestUser(t, repo)
	return NewUserService(repo, clock.Fixed{Instant: testNow}), user
}

func TestUpdatePreferences_PersistsChanges(t *testing.T) {
	svc, user := newUserService(t)
	ctx := context.Background()

	lang := "en"
	hour := 7
	memos := true
	updated, err := svc.UpdatePreferences(ctx, user, PreferencesUpdate{
		Language:     &lang,
		SummaryHour:  &hour,
		SummaryMemos: &memos,
	})
	require.NoError(t, err)
	assert.Equal(t, "en", updated.Language)
	assert.Equal(t, 7, updated.SummaryHour)
	assert.True(t, updated.SummaryMemos)

	stored, err := svc.ByPhone(ctx, user.Phone)
	require.NoError(t, err)
	assert.Equal(t, "en", stored.Language)
	assert.True(t, stored.SummaryMemos)
}

func TestUpdatePreferences_Validation(t *testing.T) {
	svc, user := newUserService(t)
	ctx := context.Background()

	badZone := "Mars/Olympus"
	_, err := svc.UpdatePreferences(ctx, user, PreferencesUpdate{Timezone: &badZone})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	badLang := "fr"
	_, err = svc.UpdatePreferences(ctx, user, PreferencesUpdate{Language: &badLang})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	badHour := 25
	_, err = svc.UpdatePreferences(ctx, user, PreferencesUpdate{SummaryHour: &badHour})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	badDuration := 2
	_, err = svc.UpdatePreferences(ctx, user, PreferencesUpdate{DefaultDurationMin: &badDuration})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
