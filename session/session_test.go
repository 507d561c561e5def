package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionAndReset(t *testing.T) {
	s := New("972501234567")
	assert.Equal(t, StateIdle, s.State)

	s.Transition(StateClarifyEvent, map[string]string{"candidates": "a,b"})
	assert.Equal(t, StateClarifyEvent, s.State)
	assert.Equal(t, "a,b", s.Context["candidates"])

	s.QuotedEventID = "ev1"
	s.Reset()
	assert.Equal(t, StateIdle, s.State)
	assert.Empty(t, s.Context)
	assert.Empty(t, s.QuotedEventID)
}

func TestRememberBoundsHistory(t *testing.T) {
	s := New("972501234567")
	for i := 0; i < 30; i++ {
		s.Remember("user", "הודעה", time.Now())
	}
	assert.Len(t, s.History, maxHistory)

	turns := s.RecentTurns(3)
	assert.Len(t, turns, 3)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	got, err := store.Get(ctx, "972501234567")
	require.NoError(t, err)
	assert.Nil(t, got)

	s := New("972501234567")
	s.Transition(StateAwaitingPIN, nil)
	require.NoError(t, store.Save(ctx, s, time.Minute))

	got, err = store.Get(ctx, "972501234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StateAwaitingPIN, got.State)

	// The stored session is a copy, not an alias.
	got.State = StateIdle
	again, err := store.Get(ctx, "972501234567")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPIN, again.State)

	require.NoError(t, store.Delete(ctx, "972501234567"))
	got, err = store.Get(ctx, "972501234567")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New("972501234567")
	require.NoError(t, store.Save(ctx, s, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	got, err := store.Get(ctx, "972501234567")
	require.NoError(t, err)
	assert.Nil(t, got)
}
