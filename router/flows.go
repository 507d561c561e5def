package router

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/hebrew/dateparse"
	"github.com/yoavra/yoman/nlu"
	"github.com/yoavra/yoman/session"
)

// advanceFlow feeds the message into whatever conversational state is
// pending. Unrecognized input keeps the state and re-prompts; /cancel is
// handled upstream by the command phase.
func (r *Router) advanceFlow(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	switch sess.State {
	case session.StateAwaitingName, session.StateAwaitingPIN:
		return r.advanceAuthFlow(ctx, sess, text)
	case session.StateAwaitingTitle:
		return r.advanceTitle(ctx, sess, user, text)
	case session.StateAwaitingDate:
		return r.advanceDate(ctx, sess, user, text)
	case session.StateAwaitingTime:
		return r.advanceTime(ctx, sess, user, text)
	case session.StateClarifyIntent:
		return r.advanceClarifyIntent(ctx, sess, user, text)
	case session.StateClarifyEvent:
		return r.advanceClarifyEvent(ctx, sess, user, text)
	case session.StateClarifyReminder:
		return r.advanceClarifyReminder(ctx, sess, user, text)
	case session.StateClarifyTask:
		return r.advanceClarifyTask(ctx, sess, user, text)
	case session.StateConfirmDelete:
		return r.advanceConfirmDelete(ctx, sess, user, text)
	case session.StateConfirmOverlap:
		return r.advanceConfirmOverlap(ctx, sess, user, text)
	}
	// Unknown state blob, probably from an old build: start over.
	sess.Reset()
	return r.dispatchNLU(ctx, sess, user, text)
}

func copyContext(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *Router) advanceTitle(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	title := strings.TrimSpace(text)
	if utf8.RuneCountInString(title) < 2 {
		r.say(ctx, sess, user, reply(user.Language, "missing_title"))
		return nil
	}
	pending := copyContext(sess.Context)
	pending["title"] = title

	// Tasks do not need a date; everything else does.
	if pending["op"] == "create_task" && pending["when"] == "" {
		task, err := r.tasks.Create(ctx, service.CreateTaskRequest{User: user, Title: title})
		if err != nil {
			return err
		}
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "task_created", formatTask(task, userLocation(user), user.Language)))
		return nil
	}
	return r.resolveWhen(ctx, sess, user, pending, pending["when"])
}

func (r *Router) advanceDate(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	pending := copyContext(sess.Context)
	delete(pending, "date")
	return r.resolveWhen(ctx, sess, user, pending, text)
}

func (r *Router) advanceTime(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	pending := copyContext(sess.Context)
	day, err := time.Parse(time.RFC3339, pending["date"])
	if err != nil {
		// Lost the day somehow, ask for the whole thing again.
		sess.Transition(session.StateAwaitingDate, pending)
		r.say(ctx, sess, user, reply(user.Language, "ask_when"))
		return nil
	}

	loc := userLocation(user)
	q := dateparse.Parse(text, loc, r.clock.Now())
	if !q.Success || q.Instant == nil || !q.HasTime {
		r.say(ctx, sess, user, reply(user.Language, "ask_time"))
		return nil
	}

	d := day.In(loc)
	t := q.Instant.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc).UTC()
	return r.completePending(ctx, sess, user, pending, start)
}

// parsePick reads a 1-based selection out of a clarification answer.
func parsePick(text string, n int) (int, bool) {
	t := strings.Trim(strings.TrimSpace(text), ".)")
	pick, err := strconv.Atoi(t)
	if err != nil || pick < 1 || pick > n {
		return 0, false
	}
	return pick, true
}

func (r *Router) advanceClarifyIntent(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	n, _ := strconv.Atoi(sess.Context["n"])
	pick, ok := parsePick(text, n)
	if !ok {
		r.say(ctx, sess, user, reply(user.Language, "pick_number"))
		return nil
	}
	intent := nlu.Intent(sess.Context[strconv.Itoa(pick)])
	var entities nlu.Entities
	if raw := sess.Context["entities"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &entities)
	}
	sess.Reset()
	return r.dispatchIntent(ctx, sess, user, intent, entities)
}

func (r *Router) advanceClarifyEvent(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	n, _ := strconv.Atoi(sess.Context["n"])
	pick, ok := parsePick(text, n)
	if !ok {
		r.say(ctx, sess, user, reply(user.Language, "pick_number"))
		return nil
	}
	sctx := sess.Context
	event, err := r.events.Get(ctx, user, sctx[strconv.Itoa(pick)])
	if errors.Is(err, domain.ErrEventNotFound) {
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "no_match", text))
		return nil
	}
	if err != nil {
		return err
	}

	op := sctx["op"]
	sess.Reset()
	switch op {
	case "update":
		return r.applyEventUpdate(ctx, sess, user, event, sctx["field"], sctx["value"])
	case "cancel":
		return r.confirmEventCancel(ctx, sess, user, event, nlu.Entities{DateText: sctx["date_text"]})
	case "comment":
		priority := domain.CommentPriority(sctx["priority"])
		if _, cerr := r.events.Comment(ctx, user, event.ID, sctx["text"], priority, nil); cerr != nil {
			return cerr
		}
		r.say(ctx, sess, user, reply(user.Language, "comment_added", event.Title))
		return nil
	case "view_comments":
		comments, cerr := r.events.Comments(ctx, user, event.ID)
		if cerr != nil {
			return cerr
		}
		if len(comments) == 0 {
			r.say(ctx, sess, user, reply(user.Language, "no_comments", event.Title))
			return nil
		}
		r.say(ctx, sess, user, reply(user.Language, "comments_header", event.Title)+"\n"+formatComments(comments, user.Language))
		return nil
	case "delete_comment":
		return r.deleteComment(ctx, sess, user, event, sctx["selector"], sctx["text"])
	case "update_comment":
		return r.updateComment(ctx, sess, user, event, sctx["selector"], sctx["match"], sctx["text"])
	case "participant":
		return r.addParticipant(ctx, sess, user, event, sctx["person"])
	default: // "show"
		r.sayEvent(ctx, sess, user, formatEvent(event, userLocation(user), user.Language), event.ID)
		return nil
	}
}

func (r *Router) advanceClarifyReminder(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	n, _ := strconv.Atoi(sess.Context["n"])
	pick, ok := parsePick(text, n)
	if !ok {
		r.say(ctx, sess, user, reply(user.Language, "pick_number"))
		return nil
	}
	sctx := sess.Context
	rem, err := r.reminders.Get(ctx, user, sctx[strconv.Itoa(pick)])
	if errors.Is(err, domain.ErrReminderNotFound) {
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "no_match", text))
		return nil
	}
	if err != nil {
		return err
	}
	if sctx["op"] == "update" {
		sess.Reset()
		return r.applyReminderUpdate(ctx, sess, user, rem, sctx["field"], sctx["value"])
	}
	sess.Transition(session.StateConfirmDelete, map[string]string{"type": "reminder", "id": rem.ID, "title": rem.Title})
	r.say(ctx, sess, user, reply(user.Language, "confirm_cancel", rem.Title))
	return nil
}

func (r *Router) advanceClarifyTask(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	n, _ := strconv.Atoi(sess.Context["n"])
	pick, ok := parsePick(text, n)
	if !ok {
		r.say(ctx, sess, user, reply(user.Language, "pick_number"))
		return nil
	}
	id := sess.Context[strconv.Itoa(pick)]
	sess.Reset()
	task, err := r.tasks.Complete(ctx, user, id)
	if errors.Is(err, domain.ErrTaskNotFound) {
		r.say(ctx, sess, user, reply(user.Language, "no_match", text))
		return nil
	}
	if err != nil {
		return err
	}
	r.say(ctx, sess, user, reply(user.Language, "task_completed", task.Title))
	return nil
}

var confirmWords = map[string]struct{}{
	"כן": {}, "בטח": {}, "אישור": {}, "אשר": {}, "yes": {}, "y": {}, "ok": {}, "אוקיי": {},
}

func isConfirmation(text string) bool {
	t := strings.ToLower(strings.Trim(text, " !?.,"))
	_, ok := confirmWords[t]
	return ok
}

var declineWords = map[string]struct{}{
	"לא": {}, "עזוב": {}, "בטל": {}, "no": {}, "n": {}, "nope": {}, "cancel": {},
}

func isDecline(text string) bool {
	t := strings.ToLower(strings.Trim(text, " !?.,"))
	_, ok := declineWords[t]
	return ok
}

// advanceConfirmOverlap holds a create whose slot is already taken. Yes books
// it anyway, no drops it; anything else re-prompts.
func (r *Router) advanceConfirmOverlap(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	sctx := copyContext(sess.Context)
	switch {
	case isConfirmation(text):
		start, err := time.Parse(time.RFC3339, sctx["start"])
		if err != nil {
			sess.Reset()
			r.say(ctx, sess, user, reply(user.Language, "generic_error"))
			return nil
		}
		sess.Reset()
		sctx["force"] = "1"
		return r.completePending(ctx, sess, user, sctx, start)
	case isDecline(text):
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "not_scheduled"))
		return nil
	default:
		r.say(ctx, sess, user, reply(user.Language, "confirm_or_no"))
		return nil
	}
}

func (r *Router) advanceConfirmDelete(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	sctx := sess.Context
	sess.Reset()
	if !isConfirmation(text) {
		r.say(ctx, sess, user, reply(user.Language, "confirm_or_no"))
		return nil
	}

	switch sctx["type"] {
	case "reminder":
		err := r.reminders.Cancel(ctx, user, sctx["id"])
		if errors.Is(err, domain.ErrReminderNotFound) {
			r.say(ctx, sess, user, reply(user.Language, "no_match", sctx["title"]))
			return nil
		}
		if err != nil {
			return err
		}
		r.say(ctx, sess, user, reply(user.Language, "reminder_cancelled", sctx["title"]))
		return nil

	default: // event
		var occurrence *time.Time
		if raw := sctx["occurrence"]; raw != "" {
			if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
				occurrence = &t
			}
		}
		event, err := r.events.Cancel(ctx, user, sctx["id"], occurrence)
		if errors.Is(err, domain.ErrEventNotFound) {
			r.say(ctx, sess, user, reply(user.Language, "no_match", sctx["title"]))
			return nil
		}
		if err != nil {
			return err
		}
		if occurrence != nil {
			day := formatDay(*occurrence, userLocation(user), user.Language)
			r.say(ctx, sess, user, reply(user.Language, "occurrence_cancelled", event.Title, day))
		} else {
			r.say(ctx, sess, user, reply(user.Language, "event_cancelled", event.Title))
		}
		return nil
	}
}
