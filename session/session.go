// Package session keeps the per-user conversation state between messages.
// Sessions are ephemeral: they live in Valkey under a TTL and losing one only
// costs the user an in-flight clarification, never calendar data.
package session

import (
	"context"
	"time"
)

type State string

const (
	StateIdle State = "idle"

	// Registration and login flow.
	StateAwaitingName State = "awaiting_name"
	StateAwaitingPIN  State = "awaiting_pin"

	// Mid-operation clarifications.
	StateClarifyIntent   State = "clarify_intent"
	StateClarifyEvent    State = "clarify_event"
	StateClarifyReminder State = "clarify_reminder"
	StateClarifyTask     State = "clarify_task"
	StateAwaitingTitle   State = "awaiting_title"
	StateAwaitingDate    State = "awaiting_date"
	StateAwaitingTime    State = "awaiting_time"
	StateConfirmDelete   State = "confirm_delete"
	StateConfirmOverlap  State = "confirm_overlap"
)

// Turn is one message in the rolling conversation window fed to the language
// models.
type Turn struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// maxHistory bounds the rolling window so sessions stay small in Valkey.
const maxHistory = 20

// Session is the conversation state for one sender.
type Session struct {
	Phone    string `json:"phone"`
	UserID   string `json:"user_id,omitempty"`
	State    State  `json:"state"`
	Language string `json:"language,omitempty"`

	// Context carries whatever the pending state needs: candidate IDs for a
	// clarification, the half-built event for a missing-time prompt.
	Context map[string]string `json:"context,omitempty"`

	// QuotedEventID is set when the user replied to an event card, scoping
	// the next operation to that event.
	QuotedEventID string `json:"quoted_event_id,omitempty"`

	History   []Turn    `json:"history,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(phone string) *Session {
	return &Session{Phone: phone, State: StateIdle, Context: map[string]string{}}
}

// Transition moves to a new state with a fresh context payload.
func (s *Session) Transition(state State, ctx map[string]string) {
	s.State = state
	if ctx == nil {
		ctx = map[string]string{}
	}
	s.Context = ctx
}

// Reset drops any pending operation but keeps identity and history.
func (s *Session) Reset() {
	s.State = StateIdle
	s.Context = map[string]string{}
	s.QuotedEventID = ""
}

// Remember appends a turn, trimming the window from the front.
func (s *Session) Remember(role, text string, at time.Time) {
	s.History = append(s.History, Turn{Role: role, Text: text, At: at})
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
}

// RecentTurns returns up to n latest turns, oldest first.
func (s *Session) RecentTurns(n int) []Turn {
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// Store persists sessions keyed by sender phone. Get returns (nil, nil) when
// no session exists.
type Store interface {
	Get(ctx context.Context, phone string) (*Session, error)
	Save(ctx context.Context, sess *Session, ttl time.Duration) error
	Delete(ctx context.Context, phone string) error
}
