package nlu

import (
	"fmt"
	"strings"
	"time"
)

// intentCatalog lists every intent with a short cue. Shared verbatim by all
// providers so the vote compares like with like.
const intentCatalog = `create_event: schedule something at a time (קבע, פגישה, תקבע לי)
create_reminder: ask to be reminded (תזכיר לי, תזכורת)
create_task: note something to do with no time (משימה, לא לשכוח)
list_agenda: ask what is scheduled (מה יש לי, היומן שלי)
list_reminders: ask which reminders are set (אילו תזכורות, התזכורות שלי)
search: look for a specific item (מתי ה..., תמצא)
update_event: move or edit an existing event (תזיז, תעדכן, תדחה)
update_reminder: change an existing reminder's time or title
cancel_event: cancel or delete an event (תבטל, תמחק)
cancel_reminder: cancel a reminder
complete_task: mark a task done (סיימתי, בוצע)
add_participant: add a person to an event (תוסיף את, תצרף)
add_comment: attach a note to an event (תוסיף הערה)
view_comments: read the notes on an event (מה ההערות, תראה הערות)
delete_comment: remove a note from an event (תמחק את ההערה)
update_comment: rewrite a note on an event (תעדכן את ההערה)
preferences: change settings (עיר, שפה, אזור זמן, סיכום בוקר)
dashboard: ask for the web view (לינק, דשבורד)
help: ask what the bot can do
small_talk: greeting or chit-chat with no request
unknown: none of the above`

// BuildPrompt renders the analysis request. The current wall time in the
// user's zone anchors every relative phrase the models see; without it מחר is
// meaningless.
func BuildPrompt(userText string, now time.Time, loc *time.Location, language string, contacts []string, turns []Turn) Prompt {
	local := now.In(loc)

	var b strings.Builder
	b.WriteString("You are the intent analyzer of a Hebrew WhatsApp calendar assistant.\n")
	fmt.Fprintf(&b, "Current local time: %s (%s).\n", local.Format("Monday, 02/01/2006 15:04"), loc.String())
	fmt.Fprintf(&b, "User language: %s.\n\n", language)
	b.WriteString("Classify the last user message into exactly one intent:\n")
	b.WriteString(intentCatalog)
	b.WriteString("\n\nExtract entities as the raw words the user wrote. Never resolve dates ")
	b.WriteString("or times yourself; copy phrases like מחר בשלוש into date_text/time_text as-is.\n")
	b.WriteString("For delete_comment/update_comment set field to the selector (a 1-based number, ")
	b.WriteString("\"last\", or \"text\"). For delete_comment put the matching words in value; ")
	b.WriteString("for update_comment put the matching words in query and the replacement in value. ")
	b.WriteString("For add_comment set priority to high or urgent when the user marks it as important.\n")
	if len(contacts) > 0 {
		fmt.Fprintf(&b, "Known contact names: %s.\n", strings.Join(contacts, ", "))
	}
	b.WriteString("Set confidence in [0,1] for how sure you are about the intent.\n")
	b.WriteString("Answer only with the JSON object.")

	// The models only get a short window; older turns add cost, not signal.
	const window = 3
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	return Prompt{System: b.String(), Turns: turns, UserText: userText}
}

// ResultSchema is the JSON schema every provider constrains its output to.
func ResultSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type": "string",
				"enum": []string{
					"create_event", "create_reminder", "create_task",
					"list_agenda", "list_reminders", "search",
					"update_event", "update_reminder", "cancel_event",
					"cancel_reminder", "complete_task", "add_participant",
					"add_comment", "view_comments", "delete_comment",
					"update_comment", "preferences", "dashboard", "help",
					"small_talk", "unknown",
				},
			},
			"confidence": map[string]any{"type": "number"},
			"entities": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":      map[string]any{"type": "string"},
					"date_text":  map[string]any{"type": "string"},
					"time_text":  map[string]any{"type": "string"},
					"location":   map[string]any{"type": "string"},
					"person":     map[string]any{"type": "string"},
					"recurrence": map[string]any{"type": "string"},
					"lead":       map[string]any{"type": "string"},
					"query":      map[string]any{"type": "string"},
					"field":      map[string]any{"type": "string"},
					"value":      map[string]any{"type": "string"},
					"priority":   map[string]any{"type": "string"},
				},
				"required": []string{
					"title", "date_text", "time_text", "location", "person",
					"recurrence", "lead", "query", "field", "value", "priority",
				},
				"additionalProperties": false,
			},
		},
		"required":             []string{"intent", "confidence", "entities"},
		"additionalProperties": false,
	}
}
