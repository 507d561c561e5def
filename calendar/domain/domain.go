// Package domain holds the calendar entities shared by repositories,
// services and the conversation router. All instants are UTC; rendering in
// the user's zone happens at the edges.
package domain

import "time"

type EventStatus string

const (
	EventActive    EventStatus = "active"
	EventCancelled EventStatus = "cancelled"
)

type ReminderStatus string

const (
	ReminderActive    ReminderStatus = "active"
	ReminderDone      ReminderStatus = "done"
	ReminderCancelled ReminderStatus = "cancelled"
)

// User is a registered WhatsApp account. Phone is E.164 without the plus.
type User struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	PINHash  string `json:"-"`
	Timezone string `json:"timezone"`
	Language string `json:"language"`

	DefaultCity        string `json:"default_city,omitempty"`
	DefaultDurationMin int    `json:"default_duration_min"`

	// Morning summary settings. Days is a bitset with Sunday as bit 0.
	SummaryEnabled bool `json:"summary_enabled"`
	SummaryHour    int  `json:"summary_hour"`
	SummaryDays    int  `json:"summary_days"`
	SummaryMemos   bool `json:"summary_memos"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SummaryDue reports whether the user should get a morning summary on the
// given local weekday.
func (u User) SummaryDue(wd time.Weekday) bool {
	return u.SummaryEnabled && u.SummaryDays&(1<<int(wd)) != 0
}

// Contact is a person the user references by name when inviting participants.
// Aliases capture alternative spellings learned from past messages.
type Contact struct {
	ID      string   `json:"id"`
	UserID  string   `json:"user_id"`
	Name    string   `json:"name"`
	Phone   string   `json:"phone,omitempty"`
	Aliases []string `json:"aliases,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type Participant struct {
	ContactID string `json:"contact_id,omitempty"`
	Name      string `json:"name"`
	// Role is "primary" for the person the event is with, "companion" for
	// anyone tagging along.
	Role string `json:"role,omitempty"`
}

type Event struct {
	ID     string      `json:"id"`
	UserID string      `json:"user_id"`
	Title  string      `json:"title"`
	Status EventStatus `json:"status"`

	StartUTC time.Time  `json:"start_utc"`
	EndUTC   *time.Time `json:"end_utc,omitempty"`

	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`

	// RecurrenceRule is an RFC 5545 RRULE. Empty means a one-off event.
	// Exclusions are cancelled occurrences of the series.
	RecurrenceRule string      `json:"recurrence_rule,omitempty"`
	Exclusions     []time.Time `json:"exclusions,omitempty"`

	Participants []Participant `json:"participants,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recurring reports whether the event is a series.
func (e Event) Recurring() bool { return e.RecurrenceRule != "" }

type CommentPriority string

const (
	CommentNormal CommentPriority = "normal"
	CommentHigh   CommentPriority = "high"
	CommentUrgent CommentPriority = "urgent"
)

// Urgentish reports whether the comment is worth surfacing in digests.
func (p CommentPriority) Urgentish() bool {
	return p == CommentHigh || p == CommentUrgent
}

type EventComment struct {
	ID       string          `json:"id"`
	EventID  string          `json:"event_id"`
	UserID   string          `json:"user_id"`
	Text     string          `json:"text"`
	Priority CommentPriority `json:"priority"`
	Tags     []string        `json:"tags,omitempty"`

	// ReminderID links the comment to a reminder spawned from it.
	ReminderID string    `json:"reminder_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Reminder fires a WhatsApp message at DueUTC. A reminder may stand alone or
// be attached to an event with a lead offset; attached reminders track the
// event when it moves.
type Reminder struct {
	ID     string         `json:"id"`
	UserID string         `json:"user_id"`
	Title  string         `json:"title"`
	Status ReminderStatus `json:"status"`

	DueUTC         time.Time `json:"due_utc"`
	RecurrenceRule string    `json:"recurrence_rule,omitempty"`

	EventID     string `json:"event_id,omitempty"`
	LeadMinutes int    `json:"lead_minutes,omitempty"`

	// LastFiredUTC is the occurrence instant most recently delivered. It is
	// the compare-and-set guard against double delivery.
	LastFiredUTC *time.Time `json:"last_fired_utc,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Task struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Notes  string `json:"notes,omitempty"`

	DueUTC      *time.Time `json:"due_utc,omitempty"`
	Done        bool       `json:"done"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AICostEntry is one model call's spend, appended per provider invocation.
// The log is the durable ledger behind the month-to-date counter.
type AICostEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Model      string    `json:"model"`
	Operation  string    `json:"operation"`
	CostUSD    float64   `json:"cost_usd"`
	TokensUsed int       `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageLog is one inbound or outbound chat message, kept for audit and for
// the recent-turns window fed to the language models.
type MessageLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Direction string    `json:"direction"` // "in" or "out"
	Text      string    `json:"text"`
	Intent    string    `json:"intent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
