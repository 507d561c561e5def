package router

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/hebrew/dateparse"
	"github.com/yoavra/yoman/hebrew/recurrence"
	"github.com/yoavra/yoman/nlu"
	"github.com/yoavra/yoman/session"
)

// dispatchNLU classifies a free-text message and routes it to the matching
// intent handler, or into a clarification flow when the ensemble is unsure.
func (r *Router) dispatchNLU(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	loc := userLocation(user)

	var names []string
	if contacts, err := r.contacts.List(ctx, user); err == nil {
		for _, c := range contacts {
			names = append(names, c.Name)
		}
	}

	recent := sess.RecentTurns(7)
	turns := make([]nlu.Turn, 0, len(recent))
	for _, t := range recent {
		// The current message goes in as UserText, not as history.
		if t.Text == text && t.Role == "user" {
			continue
		}
		turns = append(turns, nlu.Turn{Role: t.Role, Text: t.Text})
	}

	prompt := nlu.BuildPrompt(text, r.clock.Now(), loc, user.Language, names, turns)
	decision, err := r.classifier.Analyze(ctx, prompt)
	if err != nil {
		// Total ensemble failure reads as a shrug, not an outage.
		logrus.WithError(err).Warn("[ROUTER] nlu ensemble failed")
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	if r.costs != nil {
		if cerr := r.costs.RecordRound(ctx, user.ID, "nlu_analyze", decision); cerr != nil {
			logrus.WithError(cerr).Warn("[ROUTER] cost record failed")
		}
	}
	if r.shadow != nil {
		// Off the message path; the user never waits on the shadow write.
		go func(userID, text string, decision nlu.Decision) {
			defer func() {
				if rec := recover(); rec != nil {
					logrus.WithField("panic", rec).Error("[ROUTER] shadow log panicked")
				}
			}()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.shadow.Log(sctx, userID, text, decision)
		}(user.ID, text, decision)
	}

	res := decision.Result
	threshold := config.NLUCreateThreshold
	switch {
	case res.Intent.Destructive():
		threshold = config.NLUDestructive
	case res.Intent == nlu.IntentSearch, res.Intent == nlu.IntentListAgenda:
		threshold = config.NLUSearchThreshold
	}
	if decision.Split || res.Intent == nlu.IntentUnknown || res.Confidence < threshold {
		return r.clarifyIntent(ctx, sess, user, decision)
	}
	return r.dispatchIntent(ctx, sess, user, res.Intent, res.Entities)
}

func (r *Router) dispatchIntent(ctx context.Context, sess *session.Session, user domain.User, intent nlu.Intent, e nlu.Entities) error {
	switch intent {
	case nlu.IntentCreateEvent:
		return r.handleCreateEvent(ctx, sess, user, e)
	case nlu.IntentCreateReminder:
		return r.handleCreateReminder(ctx, sess, user, e)
	case nlu.IntentCreateTask:
		return r.handleCreateTask(ctx, sess, user, e)
	case nlu.IntentListAgenda:
		return r.handleAgenda(ctx, sess, user, e)
	case nlu.IntentListReminders:
		return r.handleListReminders(ctx, sess, user)
	case nlu.IntentSearch:
		return r.handleSearch(ctx, sess, user, e)
	case nlu.IntentUpdateEvent:
		return r.handleUpdateEvent(ctx, sess, user, e)
	case nlu.IntentUpdateReminder:
		return r.handleUpdateReminder(ctx, sess, user, e)
	case nlu.IntentCancelEvent:
		return r.handleCancelEvent(ctx, sess, user, e)
	case nlu.IntentCancelReminder:
		return r.handleCancelReminder(ctx, sess, user, e)
	case nlu.IntentCompleteTask:
		return r.handleCompleteTask(ctx, sess, user, e)
	case nlu.IntentAddParticipant:
		return r.handleAddParticipant(ctx, sess, user, e)
	case nlu.IntentAddComment:
		return r.handleAddComment(ctx, sess, user, e)
	case nlu.IntentViewComments:
		return r.handleViewComments(ctx, sess, user, e)
	case nlu.IntentDeleteComment:
		return r.handleDeleteComment(ctx, sess, user, e)
	case nlu.IntentUpdateComment:
		return r.handleUpdateComment(ctx, sess, user, e)
	case nlu.IntentPreferences:
		return r.handlePreferences(ctx, sess, user, e)
	case nlu.IntentDashboard:
		return r.handleDashboard(ctx, sess, user)
	case nlu.IntentHelp:
		r.say(ctx, sess, user, reply(user.Language, "help"))
	case nlu.IntentSmallTalk:
		r.say(ctx, sess, user, reply(user.Language, "small_talk"))
	default:
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
	}
	return nil
}

// intentLabels are shown in the clarification pick list.
var intentLabels = map[nlu.Intent]replyText{
	nlu.IntentCreateEvent:    {he: "לקבוע אירוע", en: "schedule an event"},
	nlu.IntentCreateReminder: {he: "להוסיף תזכורת", en: "add a reminder"},
	nlu.IntentCreateTask:     {he: "להוסיף משימה", en: "add a task"},
	nlu.IntentListAgenda:     {he: "להציג את היומן", en: "show the agenda"},
	nlu.IntentSearch:         {he: "לחפש אירוע", en: "find an event"},
	nlu.IntentUpdateEvent:    {he: "לעדכן אירוע", en: "update an event"},
	nlu.IntentCancelEvent:    {he: "לבטל אירוע", en: "cancel an event"},
	nlu.IntentCancelReminder: {he: "לבטל תזכורת", en: "cancel a reminder"},
	nlu.IntentCompleteTask:   {he: "לסמן משימה כבוצעה", en: "complete a task"},
	nlu.IntentAddComment:     {he: "להוסיף הערה לאירוע", en: "add a note to an event"},
	nlu.IntentAddParticipant: {he: "להוסיף משתתף", en: "add a participant"},
	nlu.IntentListReminders:  {he: "להציג את התזכורות", en: "show the reminders"},
	nlu.IntentUpdateReminder: {he: "לעדכן תזכורת", en: "update a reminder"},
	nlu.IntentViewComments:   {he: "להציג הערות", en: "show the notes"},
	nlu.IntentDeleteComment:  {he: "למחוק הערה", en: "delete a note"},
	nlu.IntentUpdateComment:  {he: "לעדכן הערה", en: "edit a note"},
}

// clarifyIntent offers up to three intent candidates from the split ensemble
// round as a numbered pick list.
func (r *Router) clarifyIntent(ctx context.Context, sess *session.Session, user domain.User, decision nlu.Decision) error {
	seen := map[nlu.Intent]bool{}
	var candidates []nlu.Intent
	for _, p := range decision.Providers {
		in := p.Result.Intent
		if p.Err != nil || in == "" || in == nlu.IntentUnknown || seen[in] {
			continue
		}
		if _, labeled := intentLabels[in]; !labeled {
			continue
		}
		seen[in] = true
		candidates = append(candidates, in)
		if len(candidates) == 3 {
			break
		}
	}
	if len(candidates) == 0 {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}

	sctx := map[string]string{"n": strconv.Itoa(len(candidates))}
	if raw, err := json.Marshal(decision.Result.Entities); err == nil {
		sctx["entities"] = string(raw)
	}
	labels := make([]string, len(candidates))
	for i, in := range candidates {
		sctx[strconv.Itoa(i+1)] = string(in)
		labels[i] = intentLabels[in].pick(user.Language)
	}
	sess.Transition(session.StateClarifyIntent, sctx)
	r.say(ctx, sess, user, reply(user.Language, "which_one")+"\n"+formatNumbered(labels))
	return nil
}

// pendingContext snapshots create-flow entities so a follow-up answer can
// finish the operation.
func pendingContext(op string, e nlu.Entities) map[string]string {
	m := map[string]string{"op": op}
	if e.Title != "" {
		m["title"] = e.Title
	}
	if e.Location != "" {
		m["location"] = e.Location
	}
	if e.Person != "" {
		m["person"] = e.Person
	}
	if e.Recurrence != "" {
		m["recurrence"] = e.Recurrence
	}
	if e.Lead != "" {
		m["lead"] = e.Lead
	}
	if when := joinDateText(e); when != "" {
		m["when"] = when
	}
	return m
}

func joinDateText(e nlu.Entities) string {
	return strings.TrimSpace(strings.TrimSpace(e.DateText) + " " + strings.TrimSpace(e.TimeText))
}

func (r *Router) handleCreateEvent(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	pending := pendingContext("create_event", e)
	if strings.TrimSpace(e.Title) == "" {
		sess.Transition(session.StateAwaitingTitle, pending)
		r.say(ctx, sess, user, reply(user.Language, "missing_title"))
		return nil
	}
	return r.resolveWhen(ctx, sess, user, pending, joinDateText(e))
}

func (r *Router) handleCreateReminder(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	// Replying to an event card with a lead phrase attaches the reminder to
	// that event.
	if sess.QuotedEventID != "" {
		lead, ok := dateparse.ParseLeadTime(e.Lead)
		if !ok {
			lead, ok = dateparse.ParseLeadTime(joinDateText(e))
		}
		if ok {
			rem, err := r.reminders.CreateForEvent(ctx, user, sess.QuotedEventID, lead)
			switch {
			case errors.Is(err, domain.ErrPastInstant):
				sess.Reset()
				r.say(ctx, sess, user, reply(user.Language, "past_date"))
				return nil
			case errors.Is(err, domain.ErrEventNotFound):
				// Quoted card points at a gone event; fall through to the
				// plain reminder flow.
			case err != nil:
				return err
			default:
				sess.Reset()
				r.say(ctx, sess, user, reply(user.Language, "reminder_created", formatReminder(rem, userLocation(user), user.Language)))
				return nil
			}
		}
	}

	pending := pendingContext("create_reminder", e)
	if strings.TrimSpace(e.Title) == "" {
		sess.Transition(session.StateAwaitingTitle, pending)
		r.say(ctx, sess, user, reply(user.Language, "missing_title"))
		return nil
	}
	return r.resolveWhen(ctx, sess, user, pending, joinDateText(e))
}

// resolveWhen parses the date phrase of a pending create. Missing or broken
// pieces turn into follow-up prompts instead of failures.
func (r *Router) resolveWhen(ctx context.Context, sess *session.Session, user domain.User, pending map[string]string, dateText string) error {
	if dateText == "" {
		sess.Transition(session.StateAwaitingDate, pending)
		r.say(ctx, sess, user, reply(user.Language, "ask_when"))
		return nil
	}

	loc := userLocation(user)
	q := dateparse.Parse(dateText, loc, r.clock.Now())
	if !q.Success || q.Instant == nil {
		sess.Transition(session.StateAwaitingDate, pending)
		r.say(ctx, sess, user, reply(user.Language, "bad_date"))
		return nil
	}
	if q.HasDate && !q.HasTime {
		pending["date"] = q.Instant.Format(time.RFC3339)
		sess.Transition(session.StateAwaitingTime, pending)
		r.say(ctx, sess, user, reply(user.Language, "ask_time"))
		return nil
	}
	return r.completePending(ctx, sess, user, pending, *q.Instant)
}

// completePending executes the create carried in the session context at the
// resolved instant.
func (r *Router) completePending(ctx context.Context, sess *session.Session, user domain.User, pending map[string]string, start time.Time) error {
	loc := userLocation(user)
	var rule string
	if phrase := pending["recurrence"]; phrase != "" {
		rule, _ = recurrence.ParsePhrase(phrase, loc, r.clock.Now())
	}

	switch pending["op"] {
	case "create_reminder":
		rem, err := r.reminders.Create(ctx, service.CreateReminderRequest{
			User:           user,
			Title:          pending["title"],
			DueUTC:         start,
			RecurrenceRule: rule,
		})
		if errors.Is(err, domain.ErrPastInstant) {
			sess.Transition(session.StateAwaitingDate, pending)
			r.say(ctx, sess, user, reply(user.Language, "past_date"))
			return nil
		}
		if err != nil {
			return err
		}
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "reminder_created", formatReminder(rem, loc, user.Language)))
		return nil

	case "create_task":
		due := start
		task, err := r.tasks.Create(ctx, service.CreateTaskRequest{
			User:   user,
			Title:  pending["title"],
			DueUTC: &due,
		})
		if err != nil {
			return err
		}
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "task_created", formatTask(task, loc, user.Language)))
		return nil
	}

	var participants []domain.Participant
	if person := strings.TrimSpace(pending["person"]); person != "" {
		p := domain.Participant{Name: person}
		if contact, found, err := r.contacts.Resolve(ctx, user, person); err == nil && found {
			p.ContactID = contact.ID
			p.Name = contact.Name
		} else if err == nil {
			// New name: remember it for future prompts.
			if created, cerr := r.contacts.Create(ctx, user, person, ""); cerr == nil {
				p.ContactID = created.ID
			}
		}
		participants = append(participants, p)
	}

	result, err := r.events.Create(ctx, service.CreateEventRequest{
		User:           user,
		Title:          pending["title"],
		StartUTC:       start,
		Location:       pending["location"],
		RecurrenceRule: rule,
		Participants:   participants,
		AllowOverlap:   pending["force"] == "1",
	})
	if errors.Is(err, domain.ErrPastInstant) {
		sess.Transition(session.StateAwaitingDate, pending)
		r.say(ctx, sess, user, reply(user.Language, "past_date"))
		return nil
	}
	if errors.Is(err, domain.ErrOverlap) {
		// Nothing was stored; hold the pending create until the user
		// confirms the double booking.
		pending["start"] = start.Format(time.RFC3339)
		sess.Transition(session.StateConfirmOverlap, pending)
		titles := make([]string, len(result.Overlaps))
		for i, o := range result.Overlaps {
			titles[i] = formatEvent(o, loc, user.Language)
		}
		r.say(ctx, sess, user, reply(user.Language, "event_conflict", strings.Join(titles, "\n")))
		return nil
	}
	if err != nil {
		return err
	}

	if lead, ok := dateparse.ParseLeadTime(pending["lead"]); ok {
		if _, rerr := r.reminders.CreateForEvent(ctx, user, result.Event.ID, lead); rerr != nil {
			logrus.WithError(rerr).Warn("[ROUTER] lead reminder creation failed")
		}
	}

	sess.Reset()
	card := formatEvent(result.Event, loc, user.Language)
	r.sayEvent(ctx, sess, user, reply(user.Language, "event_created", card), result.Event.ID)
	return nil
}

func (r *Router) handleCreateTask(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	if strings.TrimSpace(e.Title) == "" {
		pending := pendingContext("create_task", e)
		sess.Transition(session.StateAwaitingTitle, pending)
		r.say(ctx, sess, user, reply(user.Language, "missing_title"))
		return nil
	}

	var due *time.Time
	if dt := joinDateText(e); dt != "" {
		q := dateparse.Parse(dt, userLocation(user), r.clock.Now())
		if q.Success && q.Instant != nil {
			due = q.Instant
		}
	}
	task, err := r.tasks.Create(ctx, service.CreateTaskRequest{User: user, Title: e.Title, DueUTC: due})
	if err != nil {
		return err
	}
	r.say(ctx, sess, user, reply(user.Language, "task_created", formatTask(task, userLocation(user), user.Language)))
	return nil
}

func (r *Router) handleAgenda(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	loc := userLocation(user)
	now := r.clock.Now()

	from := dayStartIn(now, loc)
	to := from.Add(7 * 24 * time.Hour)
	if dt := strings.TrimSpace(e.DateText); dt != "" {
		q := dateparse.Parse(dt, loc, now)
		switch {
		case q.Success && q.RangeStart != nil && q.RangeEnd != nil:
			from, to = *q.RangeStart, *q.RangeEnd
		case q.Success && q.Instant != nil:
			from = dayStartIn(*q.Instant, loc)
			to = from.Add(24 * time.Hour)
		}
	}

	occ, err := r.events.Agenda(ctx, user, from, to)
	if err != nil {
		return err
	}
	if len(occ) == 0 {
		r.say(ctx, sess, user, reply(user.Language, "agenda_empty"))
		return nil
	}
	r.say(ctx, sess, user, formatAgenda(occ, loc, user.Language))
	return nil
}

func dayStartIn(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc).UTC()
}

func searchQuery(e nlu.Entities) string {
	if q := strings.TrimSpace(e.Query); q != "" {
		return q
	}
	return strings.TrimSpace(e.Title)
}

func (r *Router) handleSearch(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	query := searchQuery(e)
	if query == "" {
		return r.handleAgenda(ctx, sess, user, e)
	}
	event, candidates, err := r.events.Find(ctx, user, query, fuzzyThreshold)
	switch {
	case err == nil:
		r.sayEvent(ctx, sess, user, formatEvent(event, userLocation(user), user.Language), event.ID)
	case errors.Is(err, domain.ErrAmbiguousMatch):
		return r.clarifyEvents(ctx, sess, user, "show", candidates, nil)
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_match", query))
	default:
		return err
	}
	return nil
}

const fuzzyThreshold = 0.5

// clarifyEvents stores up to three candidate events and asks for a number.
// extra carries the parameters of the operation waiting on the pick.
func (r *Router) clarifyEvents(ctx context.Context, sess *session.Session, user domain.User, op string, candidates []domain.Event, extra map[string]string) error {
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	sctx := map[string]string{"op": op, "n": strconv.Itoa(len(candidates))}
	for k, v := range extra {
		sctx[k] = v
	}
	labels := make([]string, len(candidates))
	loc := userLocation(user)
	for i, ev := range candidates {
		sctx[strconv.Itoa(i+1)] = ev.ID
		labels[i] = formatEvent(ev, loc, user.Language)
	}
	sess.Transition(session.StateClarifyEvent, sctx)
	r.say(ctx, sess, user, reply(user.Language, "which_one")+"\n"+formatNumbered(labels))
	return nil
}

func (r *Router) handleUpdateEvent(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	query := searchQuery(e)
	if query == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	value := strings.TrimSpace(e.Value)
	if value == "" {
		value = joinDateText(e)
	}
	event, candidates, err := r.events.Find(ctx, user, query, fuzzyThreshold)
	switch {
	case err == nil:
		return r.applyEventUpdate(ctx, sess, user, event, e.Field, value)
	case errors.Is(err, domain.ErrAmbiguousMatch):
		return r.clarifyEvents(ctx, sess, user, "update", candidates, map[string]string{"field": e.Field, "value": value})
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_match", query))
		return nil
	default:
		return err
	}
}

func (r *Router) applyEventUpdate(ctx context.Context, sess *session.Session, user domain.User, event domain.Event, field, value string) error {
	loc := userLocation(user)
	req := service.UpdateEventRequest{User: user, EventID: event.ID}

	switch normalizeField(field) {
	case "time":
		q := dateparse.Parse(value, loc, r.clock.Now())
		if !q.Success || q.Instant == nil {
			r.say(ctx, sess, user, reply(user.Language, "bad_date"))
			return nil
		}
		start := *q.Instant
		if q.HasTime && !q.HasDate {
			// A bare time keeps the event's day.
			d := event.StartUTC.In(loc)
			nt := start.In(loc)
			merged := time.Date(d.Year(), d.Month(), d.Day(), nt.Hour(), nt.Minute(), 0, 0, loc).UTC()
			start = merged
		}
		req.NewStartUTC = &start
	case "location":
		req.NewLocation = &value
	case "title":
		req.NewTitle = &value
	default:
		// No recognizable field: a date-looking value means a move.
		q := dateparse.Parse(value, loc, r.clock.Now())
		if q.Success && q.Instant != nil {
			req.NewStartUTC = q.Instant
		} else {
			r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
			return nil
		}
	}

	updated, err := r.events.Update(ctx, req)
	if errors.Is(err, domain.ErrPastInstant) {
		r.say(ctx, sess, user, reply(user.Language, "past_date"))
		return nil
	}
	if err != nil {
		return err
	}
	r.say(ctx, sess, user, reply(user.Language, "event_updated", formatEvent(updated, loc, user.Language)))
	return nil
}

func normalizeField(field string) string {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "time", "date", "start", "שעה", "תאריך", "מועד", "זמן":
		return "time"
	case "location", "place", "מיקום", "מקום":
		return "location"
	case "title", "name", "שם", "כותרת":
		return "title"
	}
	return ""
}

func (r *Router) handleCancelEvent(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	query := searchQuery(e)
	if query == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	event, candidates, err := r.events.Find(ctx, user, query, fuzzyThreshold)
	switch {
	case err == nil:
		return r.confirmEventCancel(ctx, sess, user, event, e)
	case errors.Is(err, domain.ErrAmbiguousMatch):
		return r.clarifyEvents(ctx, sess, user, "cancel", candidates, map[string]string{"date_text": e.DateText})
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_match", query))
		return nil
	default:
		return err
	}
}

// confirmEventCancel asks before anything is lost. For a recurring event with
// a specific day mentioned, only that occurrence goes.
func (r *Router) confirmEventCancel(ctx context.Context, sess *session.Session, user domain.User, event domain.Event, e nlu.Entities) error {
	sctx := map[string]string{"type": "event", "id": event.ID, "title": event.Title}
	if occ := r.occurrenceOn(event, e.DateText, user); occ != nil {
		sctx["occurrence"] = occ.Format(time.RFC3339)
	}
	sess.Transition(session.StateConfirmDelete, sctx)
	r.say(ctx, sess, user, reply(user.Language, "confirm_cancel", event.Title))
	return nil
}

// occurrenceOn resolves a mentioned day to a concrete occurrence of a
// recurring event, or nil when the whole series is meant.
func (r *Router) occurrenceOn(event domain.Event, dateText string, user domain.User) *time.Time {
	if !event.Recurring() || strings.TrimSpace(dateText) == "" {
		return nil
	}
	loc := userLocation(user)
	q := dateparse.Parse(dateText, loc, r.clock.Now())
	if !q.Success || q.Instant == nil {
		return nil
	}
	day := dayStartIn(*q.Instant, loc)
	hits, err := recurrence.Between(event.RecurrenceRule, event.StartUTC, day, day.Add(24*time.Hour), event.Exclusions)
	if err != nil || len(hits) == 0 {
		return nil
	}
	return &hits[0]
}

func (r *Router) handleCancelReminder(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	query := searchQuery(e)
	if query == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	rem, candidates, err := r.reminders.Find(ctx, user, query, fuzzyThreshold)
	switch {
	case err == nil:
		sess.Transition(session.StateConfirmDelete, map[string]string{"type": "reminder", "id": rem.ID, "title": rem.Title})
		r.say(ctx, sess, user, reply(user.Language, "confirm_cancel", rem.Title))
		return nil
	case errors.Is(err, domain.ErrAmbiguousMatch):
		if len(candidates) > 3 {
			candidates = candidates[:3]
		}
		sctx := map[string]string{"op": "cancel", "n": strconv.Itoa(len(candidates))}
		labels := make([]string, len(candidates))
		loc := userLocation(user)
		for i, c := range candidates {
			sctx[strconv.Itoa(i+1)] = c.ID
			labels[i] = formatReminder(c, loc, user.Language)
		}
		sess.Transition(session.StateClarifyReminder, sctx)
		r.say(ctx, sess, user, reply(user.Language, "which_one")+"\n"+formatNumbered(labels))
		return nil
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_match", query))
		return nil
	default:
		return err
	}
}

func (r *Router) handleCompleteTask(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	query := searchQuery(e)
	if query == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	task, candidates, err := r.tasks.Find(ctx, user, query, fuzzyThreshold)
	switch {
	case err == nil:
		done, derr := r.tasks.Complete(ctx, user, task.ID)
		if derr != nil {
			return derr
		}
		r.say(ctx, sess, user, reply(user.Language, "task_completed", done.Title))
		return nil
	case errors.Is(err, domain.ErrAmbiguousMatch):
		if len(candidates) > 3 {
			candidates = candidates[:3]
		}
		sctx := map[string]string{"op": "complete", "n": strconv.Itoa(len(candidates))}
		labels := make([]string, len(candidates))
		loc := userLocation(user)
		for i, c := range candidates {
			sctx[strconv.Itoa(i+1)] = c.ID
			labels[i] = formatTask(c, loc, user.Language)
		}
		sess.Transition(session.StateClarifyTask, sctx)
		r.say(ctx, sess, user, reply(user.Language, "which_one")+"\n"+formatNumbered(labels))
		return nil
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_match", query))
		return nil
	default:
		return err
	}
}

func (r *Router) handleAddParticipant(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	person := strings.TrimSpace(e.Person)
	query := searchQuery(e)
	if person == "" || query == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	event, candidates, err := r.events.Find(ctx, user, query, fuzzyThreshold)
	switch {
	case err == nil:
		return r.addParticipant(ctx, sess, user, event, person)
	case errors.Is(err, domain.ErrAmbiguousMatch):
		return r.clarifyEvents(ctx, sess, user, "participant", candidates, map[string]string{"person": person})
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_match", query))
		return nil
	default:
		return err
	}
}

func (r *Router) addParticipant(ctx context.Context, sess *session.Session, user domain.User, event domain.Event, person string) error {
	p := domain.Participant{Name: person}
	if contact, found, err := r.contacts.Resolve(ctx, user, person); err == nil && found {
		p.ContactID = contact.ID
		p.Name = contact.Name
	} else if err == nil {
		if created, cerr := r.contacts.Create(ctx, user, person, ""); cerr == nil {
			p.ContactID = created.ID
		}
	}
	updated, err := r.events.AddParticipant(ctx, user, event.ID, p)
	if err != nil {
		return err
	}
	r.say(ctx, sess, user, reply(user.Language, "participant_added", p.Name, updated.Title))
	return nil
}

func commentPriority(e nlu.Entities) domain.CommentPriority {
	switch strings.ToLower(strings.TrimSpace(e.Priority)) {
	case "high", "גבוהה", "חשוב":
		return domain.CommentHigh
	case "urgent", "דחוף":
		return domain.CommentUrgent
	}
	return domain.CommentNormal
}

func (r *Router) handleAddComment(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	query := searchQuery(e)
	text := strings.TrimSpace(e.Value)
	if text == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	priority := commentPriority(e)
	if query == "" && sess.QuotedEventID != "" {
		event, err := r.events.Get(ctx, user, sess.QuotedEventID)
		if err != nil {
			return err
		}
		if _, cerr := r.events.Comment(ctx, user, event.ID, text, priority, nil); cerr != nil {
			return cerr
		}
		r.say(ctx, sess, user, reply(user.Language, "comment_added", event.Title))
		return nil
	}
	if query == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	event, candidates, err := r.events.Find(ctx, user, query, fuzzyThreshold)
	switch {
	case err == nil:
		if _, cerr := r.events.Comment(ctx, user, event.ID, text, priority, nil); cerr != nil {
			return cerr
		}
		r.say(ctx, sess, user, reply(user.Language, "comment_added", event.Title))
		return nil
	case errors.Is(err, domain.ErrAmbiguousMatch):
		return r.clarifyEvents(ctx, sess, user, "comment", candidates,
			map[string]string{"text": text, "priority": string(priority)})
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_match", query))
		return nil
	default:
		return err
	}
}

// commentTarget resolves which event a comment operation refers to: an
// explicit title query wins, otherwise a quoted event card.
func (r *Router) commentTarget(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) (domain.Event, []domain.Event, error) {
	query := searchQuery(e)
	if query == "" && sess.QuotedEventID != "" {
		event, err := r.events.Get(ctx, user, sess.QuotedEventID)
		return event, nil, err
	}
	if query == "" {
		return domain.Event{}, nil, domain.ErrNoMatch
	}
	return r.events.Find(ctx, user, query, fuzzyThreshold)
}

func (r *Router) handleViewComments(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	event, candidates, err := r.commentTarget(ctx, sess, user, e)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAmbiguousMatch):
		return r.clarifyEvents(ctx, sess, user, "view_comments", candidates, nil)
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	default:
		return err
	}
	comments, err := r.events.Comments(ctx, user, event.ID)
	if err != nil {
		return err
	}
	if len(comments) == 0 {
		r.say(ctx, sess, user, reply(user.Language, "no_comments", event.Title))
		return nil
	}
	r.say(ctx, sess, user, reply(user.Language, "comments_header", event.Title)+"\n"+formatComments(comments, user.Language))
	return nil
}

func (r *Router) handleDeleteComment(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	event, candidates, err := r.commentTarget(ctx, sess, user, e)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAmbiguousMatch):
		return r.clarifyEvents(ctx, sess, user, "delete_comment", candidates,
			map[string]string{"selector": e.Field, "text": strings.TrimSpace(e.Value)})
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	default:
		return err
	}
	return r.deleteComment(ctx, sess, user, event, e.Field, strings.TrimSpace(e.Value))
}

func (r *Router) deleteComment(ctx context.Context, sess *session.Session, user domain.User, event domain.Event, selector, text string) error {
	deleted, err := r.events.DeleteComment(ctx, user, event.ID, selector, text)
	switch {
	case err == nil:
		r.say(ctx, sess, user, reply(user.Language, "comment_deleted", deleted.Text))
		return nil
	case errors.Is(err, domain.ErrAmbiguousMatch):
		r.say(ctx, sess, user, reply(user.Language, "comment_ambiguous"))
		return nil
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_comments", event.Title))
		return nil
	case errors.Is(err, domain.ErrInvalidInput):
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	default:
		return err
	}
}

func (r *Router) handleUpdateComment(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	newText := strings.TrimSpace(e.Value)
	if newText == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	event, candidates, err := r.commentTarget(ctx, sess, user, e)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAmbiguousMatch):
		return r.clarifyEvents(ctx, sess, user, "update_comment", candidates,
			map[string]string{"selector": e.Field, "match": strings.TrimSpace(e.Query), "text": newText})
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	default:
		return err
	}
	return r.updateComment(ctx, sess, user, event, e.Field, strings.TrimSpace(e.Query), newText)
}

func (r *Router) updateComment(ctx context.Context, sess *session.Session, user domain.User, event domain.Event, selector, match, newText string) error {
	updated, err := r.events.UpdateComment(ctx, user, event.ID, selector, match, newText)
	switch {
	case err == nil:
		r.say(ctx, sess, user, reply(user.Language, "comment_updated", updated.Text))
		return nil
	case errors.Is(err, domain.ErrAmbiguousMatch):
		r.say(ctx, sess, user, reply(user.Language, "comment_ambiguous"))
		return nil
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_comments", event.Title))
		return nil
	case errors.Is(err, domain.ErrInvalidInput):
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	default:
		return err
	}
}

func (r *Router) handleListReminders(ctx context.Context, sess *session.Session, user domain.User) error {
	reminders, err := r.reminders.List(ctx, user)
	if err != nil {
		return err
	}
	if len(reminders) == 0 {
		r.say(ctx, sess, user, reply(user.Language, "no_reminders"))
		return nil
	}
	loc := userLocation(user)
	lines := make([]string, len(reminders))
	for i, rem := range reminders {
		lines[i] = formatReminder(rem, loc, user.Language)
	}
	r.say(ctx, sess, user, reply(user.Language, "reminders_header")+"\n"+formatNumbered(lines))
	return nil
}

func (r *Router) handleUpdateReminder(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	query := searchQuery(e)
	if query == "" {
		r.say(ctx, sess, user, reply(user.Language, "did_not_understand"))
		return nil
	}
	value := strings.TrimSpace(e.Value)
	if value == "" {
		value = joinDateText(e)
	}
	rem, candidates, err := r.reminders.Find(ctx, user, query, fuzzyThreshold)
	switch {
	case err == nil:
		return r.applyReminderUpdate(ctx, sess, user, rem, e.Field, value)
	case errors.Is(err, domain.ErrAmbiguousMatch):
		if len(candidates) > 3 {
			candidates = candidates[:3]
		}
		sctx := map[string]string{"op": "update", "field": e.Field, "value": value, "n": strconv.Itoa(len(candidates))}
		labels := make([]string, len(candidates))
		loc := userLocation(user)
		for i, c := range candidates {
			sctx[strconv.Itoa(i+1)] = c.ID
			labels[i] = formatReminder(c, loc, user.Language)
		}
		sess.Transition(session.StateClarifyReminder, sctx)
		r.say(ctx, sess, user, reply(user.Language, "which_one")+"\n"+formatNumbered(labels))
		return nil
	case errors.Is(err, domain.ErrNoMatch):
		r.say(ctx, sess, user, reply(user.Language, "no_match", query))
		return nil
	default:
		return err
	}
}

func (r *Router) applyReminderUpdate(ctx context.Context, sess *session.Session, user domain.User, rem domain.Reminder, field, value string) error {
	loc := userLocation(user)
	req := service.UpdateReminderRequest{User: user, ReminderID: rem.ID}

	if normalizeField(field) == "title" {
		req.NewTitle = &value
	} else {
		q := dateparse.Parse(value, loc, r.clock.Now())
		if !q.Success || q.Instant == nil {
			r.say(ctx, sess, user, reply(user.Language, "bad_date"))
			return nil
		}
		due := *q.Instant
		if q.HasTime && !q.HasDate {
			// A bare time keeps the reminder's day.
			d := rem.DueUTC.In(loc)
			nt := due.In(loc)
			due = time.Date(d.Year(), d.Month(), d.Day(), nt.Hour(), nt.Minute(), 0, 0, loc).UTC()
		}
		req.NewDueUTC = &due
	}

	updated, err := r.reminders.Update(ctx, req)
	if errors.Is(err, domain.ErrPastInstant) {
		r.say(ctx, sess, user, reply(user.Language, "past_date"))
		return nil
	}
	if err != nil {
		return err
	}
	r.say(ctx, sess, user, reply(user.Language, "reminder_updated", formatReminder(updated, loc, user.Language)))
	return nil
}

func (r *Router) handlePreferences(ctx context.Context, sess *session.Session, user domain.User, e nlu.Entities) error {
	value := strings.TrimSpace(e.Value)
	var upd service.PreferencesUpdate

	switch strings.ToLower(strings.TrimSpace(e.Field)) {
	case "language", "שפה":
		lang := value
		switch strings.ToLower(value) {
		case "עברית", "hebrew", "he":
			lang = "he"
		case "אנגלית", "english", "en":
			lang = "en"
		}
		upd.Language = &lang
	case "timezone", "אזור זמן":
		upd.Timezone = &value
	case "duration", "משך":
		n, ok := leadingInt(value)
		if !ok {
			r.say(ctx, sess, user, reply(user.Language, "prefs_unknown"))
			return nil
		}
		upd.DefaultDurationMin = &n
	case "summary", "סיכום", "שעת סיכום":
		n, ok := leadingInt(value)
		if !ok {
			r.say(ctx, sess, user, reply(user.Language, "prefs_unknown"))
			return nil
		}
		enabled := true
		upd.SummaryHour = &n
		upd.SummaryEnabled = &enabled
	case "memos", "הערות בסיכום":
		on := truthy(value)
		upd.SummaryMemos = &on
	default:
		r.say(ctx, sess, user, reply(user.Language, "prefs_unknown"))
		return nil
	}

	updated, err := r.users.UpdatePreferences(ctx, user, upd)
	if errors.Is(err, domain.ErrInvalidInput) {
		r.say(ctx, sess, user, reply(user.Language, "prefs_unknown"))
		return nil
	}
	if err != nil {
		return err
	}
	r.say(ctx, sess, updated, reply(updated.Language, "prefs_updated"))
	return nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true", "1", "כן", "פעיל":
		return true
	}
	return false
}

func leadingInt(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *Router) handleDashboard(ctx context.Context, sess *session.Session, user domain.User) error {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := r.kv.Set(ctx, "dashboard:token:"+token, user.ID, config.DashboardTokenTTL); err != nil {
		return err
	}
	link := config.DashboardBaseURL + "/dashboard/" + token
	r.say(ctx, sess, user, reply(user.Language, "dashboard_link", link))
	return nil
}
