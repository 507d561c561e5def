// Package nlu turns free-form Hebrew chat messages into structured intents by
// asking several language models in parallel and voting on their answers.
package nlu

import (
	"context"
	"time"

	"github.com/yoavra/yoman/config"
)

type Intent string

const (
	IntentCreateEvent    Intent = "create_event"
	IntentCreateReminder Intent = "create_reminder"
	IntentCreateTask     Intent = "create_task"
	IntentListAgenda     Intent = "list_agenda"
	IntentListReminders  Intent = "list_reminders"
	IntentSearch         Intent = "search"
	IntentUpdateEvent    Intent = "update_event"
	IntentUpdateReminder Intent = "update_reminder"
	IntentCancelEvent    Intent = "cancel_event"
	IntentCancelReminder Intent = "cancel_reminder"
	IntentCompleteTask   Intent = "complete_task"
	IntentAddParticipant Intent = "add_participant"
	IntentAddComment     Intent = "add_comment"
	IntentViewComments   Intent = "view_comments"
	IntentDeleteComment  Intent = "delete_comment"
	IntentUpdateComment  Intent = "update_comment"
	IntentPreferences    Intent = "preferences"
	IntentDashboard      Intent = "dashboard"
	IntentHelp           Intent = "help"
	IntentSmallTalk      Intent = "small_talk"
	IntentUnknown        Intent = "unknown"
)

// Destructive reports whether acting on the intent loses user data, which
// demands a higher confidence bar.
func (i Intent) Destructive() bool {
	switch i {
	case IntentCancelEvent, IntentCancelReminder, IntentUpdateEvent,
		IntentUpdateReminder, IntentDeleteComment, IntentUpdateComment:
		return true
	}
	return false
}

// Entities are the slots extracted alongside the intent. All values are raw
// text; date and time phrases are resolved later by the Hebrew parser so the
// models never invent concrete instants.
type Entities struct {
	Title      string `json:"title,omitempty"`
	DateText   string `json:"date_text,omitempty"`
	TimeText   string `json:"time_text,omitempty"`
	Location   string `json:"location,omitempty"`
	Person     string `json:"person,omitempty"`
	Recurrence string `json:"recurrence,omitempty"`
	Lead       string `json:"lead,omitempty"`
	Query      string `json:"query,omitempty"`
	Field      string `json:"field,omitempty"`
	Value      string `json:"value,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

// Result is one model's reading of a message.
type Result struct {
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities"`
}

type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Turn is one message of the recent conversation window.
type Turn struct {
	Role string
	Text string
}

// Prompt is everything a provider needs for one analysis call.
type Prompt struct {
	System   string
	Turns    []Turn
	UserText string
}

// Provider is a single model backend.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, prompt Prompt) (Result, Usage, error)
}

// ProviderResult is one provider's outcome inside an ensemble round.
type ProviderResult struct {
	Provider string
	Result   Result
	Usage    Usage
	Err      error
	Latency  time.Duration
}

// Cost prices a call from the configured price table. Unknown models, like
// self-hosted compat endpoints, cost nothing.
func Cost(model string, input, output int) float64 {
	pricing, ok := config.ModelPrices[model]
	if !ok {
		return 0
	}
	return float64(input)*pricing.InputPerMToken/1_000_000 +
		float64(output)*pricing.OutputPerMToken/1_000_000
}
