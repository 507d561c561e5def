package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/hebrew/recurrence"
)

var hebrewWeekdayNames = [...]string{"ראשון", "שני", "שלישי", "רביעי", "חמישי", "שישי", "שבת"}

func formatInstant(t time.Time, loc *time.Location, lang string) string {
	lt := t.In(loc)
	if lang == "en" {
		return lt.Format("Mon 02/01 15:04")
	}
	return fmt.Sprintf("יום %s %s", hebrewWeekdayNames[int(lt.Weekday())], lt.Format("02/01 15:04"))
}

func formatDay(t time.Time, loc *time.Location, lang string) string {
	lt := t.In(loc)
	if lang == "en" {
		return lt.Format("Mon 02/01")
	}
	return fmt.Sprintf("יום %s %s", hebrewWeekdayNames[int(lt.Weekday())], lt.Format("02/01"))
}

func formatEvent(e domain.Event, loc *time.Location, lang string) string {
	var b strings.Builder
	b.WriteString(e.Title)
	b.WriteString(" - ")
	b.WriteString(formatInstant(e.StartUTC, loc, lang))
	if e.Location != "" {
		b.WriteString(" (")
		b.WriteString(e.Location)
		b.WriteString(")")
	}
	if e.Recurring() {
		if desc := recurrence.Describe(e.RecurrenceRule); desc != "" {
			b.WriteString(", ")
			b.WriteString(desc)
		}
	}
	if len(e.Participants) > 0 {
		names := make([]string, 0, len(e.Participants))
		for _, p := range e.Participants {
			names = append(names, p.Name)
		}
		if lang == "en" {
			b.WriteString(" with ")
		} else {
			b.WriteString(" עם ")
		}
		b.WriteString(strings.Join(names, ", "))
	}
	return b.String()
}

func formatOccurrence(o service.Occurrence, loc *time.Location, lang string) string {
	s := formatInstant(o.StartUTC, loc, lang) + " " + o.Event.Title
	if o.Event.Location != "" {
		s += " (" + o.Event.Location + ")"
	}
	return s
}

func formatAgenda(occ []service.Occurrence, loc *time.Location, lang string) string {
	lines := make([]string, 0, len(occ)+1)
	lines = append(lines, reply(lang, "agenda_header"))
	for _, o := range occ {
		lines = append(lines, "- "+formatOccurrence(o, loc, lang))
	}
	return strings.Join(lines, "\n")
}

func formatReminder(r domain.Reminder, loc *time.Location, lang string) string {
	s := r.Title + " - " + formatInstant(r.DueUTC, loc, lang)
	if r.RecurrenceRule != "" {
		if desc := recurrence.Describe(r.RecurrenceRule); desc != "" {
			s += ", " + desc
		}
	}
	return s
}

func formatTask(t domain.Task, loc *time.Location, lang string) string {
	s := t.Title
	if t.DueUTC != nil {
		if lang == "en" {
			s += " (due " + formatDay(*t.DueUTC, loc, lang) + ")"
		} else {
			s += " (עד " + formatDay(*t.DueUTC, loc, lang) + ")"
		}
	}
	return s
}

// formatComments renders a numbered note list, flagging anything above
// normal priority.
func formatComments(comments []domain.EventComment, lang string) string {
	lines := make([]string, len(comments))
	for i, c := range comments {
		line := c.Text
		if c.Priority.Urgentish() {
			if lang == "en" {
				line += " (" + string(c.Priority) + ")"
			} else {
				line += " (חשוב)"
			}
		}
		lines[i] = line
	}
	return formatNumbered(lines)
}

// formatNumbered renders a 1-based pick list for clarification prompts.
func formatNumbered(items []string) string {
	lines := make([]string, 0, len(items))
	for i, it := range items {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, it))
	}
	return strings.Join(lines, "\n")
}
