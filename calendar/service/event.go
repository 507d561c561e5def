package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/hebrew/fuzzy"
	"github.com/yoavra/yoman/hebrew/recurrence"
	"github.com/yoavra/yoman/pkg/clock"
)

type EventService struct {
	repo  *repository.CalendarGormRepository
	clock clock.Clock
}

func NewEventService(repo *repository.CalendarGormRepository, clk clock.Clock) *EventService {
	return &EventService{repo: repo, clock: clk}
}

type CreateEventRequest struct {
	User  domain.User
	Title string

	StartUTC time.Time
	EndUTC   *time.Time

	Location string
	Notes    string

	RecurrenceRule string
	Participants   []domain.Participant

	// AllowOverlap books the slot even when another event already occupies
	// it. Set after the user explicitly confirms the double booking.
	AllowOverlap bool
}

// CreateEventResult carries the stored event. When the slot is taken, Overlaps
// lists the occupying events and the error is ErrOverlap; nothing is stored
// until the caller retries with AllowOverlap.
type CreateEventResult struct {
	Event    domain.Event
	Overlaps []domain.Event
}

func (s *EventService) Create(ctx context.Context, req CreateEventRequest) (CreateEventResult, error) {
	if err := validation.ValidateStructWithContext(ctx, &req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&req.StartUTC, validation.Required),
	); err != nil {
		return CreateEventResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}

	now := s.clock.Now()
	if !config.AllowPastEvents && req.StartUTC.Before(now) && req.RecurrenceRule == "" {
		return CreateEventResult{}, domain.ErrPastInstant
	}

	end := req.EndUTC
	if end == nil {
		d := req.User.DefaultDurationMin
		if d <= 0 {
			d = 60
		}
		e := req.StartUTC.Add(time.Duration(d) * time.Minute)
		end = &e
	}

	event := domain.Event{
		ID:             uuid.NewString(),
		UserID:         req.User.ID,
		Title:          req.Title,
		Status:         domain.EventActive,
		StartUTC:       req.StartUTC.UTC(),
		EndUTC:         end,
		Location:       req.Location,
		Notes:          req.Notes,
		RecurrenceRule: req.RecurrenceRule,
		Participants:   req.Participants,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if event.RecurrenceRule == "" {
		overlaps, err := s.repo.FindOverlapping(ctx, req.User.ID, event.StartUTC, *end)
		if err != nil {
			return CreateEventResult{}, err
		}
		if len(overlaps) > 0 && !req.AllowOverlap {
			return CreateEventResult{Overlaps: overlaps}, domain.ErrOverlap
		}
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return CreateEventResult{}, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":  req.User.ID,
		"event_id": event.ID,
		"start":    event.StartUTC,
	}).Info("[EVENT] created")
	return CreateEventResult{Event: event}, nil
}

// Occurrence is one concrete calendar slot. For a recurring event the times
// come from the series expansion, not from the stored row.
type Occurrence struct {
	Event    domain.Event
	StartUTC time.Time
	EndUTC   *time.Time
}

// Agenda returns every occurrence inside the half-open window [from, to),
// one-offs and expanded series together, ordered by start.
func (s *EventService) Agenda(ctx context.Context, user domain.User, from, to time.Time) ([]Occurrence, error) {
	oneOffs, err := s.repo.ListEventsInRange(ctx, user.ID, from, to)
	if err != nil {
		return nil, err
	}
	var out []Occurrence
	for _, e := range oneOffs {
		out = append(out, Occurrence{Event: e, StartUTC: e.StartUTC, EndUTC: e.EndUTC})
	}

	series, err := s.repo.ListRecurringEvents(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range series {
		occ, err := recurrence.Between(e.RecurrenceRule, e.StartUTC, from, to, e.Exclusions)
		if err != nil {
			logrus.WithError(err).WithField("event_id", e.ID).Warn("[EVENT] skipping series with bad rule")
			continue
		}
		var span time.Duration
		if e.EndUTC != nil {
			span = e.EndUTC.Sub(e.StartUTC)
		}
		for _, start := range occ {
			o := Occurrence{Event: e, StartUTC: start.UTC()}
			if span > 0 {
				end := start.Add(span).UTC()
				o.EndUTC = &end
			}
			out = append(out, o)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartUTC.Before(out[j].StartUTC) })
	return out, nil
}

// Find resolves a fuzzy title reference to a single active event. When the
// reference is ambiguous the passing candidates come back with
// ErrAmbiguousMatch so the caller can ask the user to choose.
func (s *EventService) Find(ctx context.Context, user domain.User, query string, threshold float64) (domain.Event, []domain.Event, error) {
	events, err := s.repo.ListActiveEvents(ctx, user.ID)
	if err != nil {
		return domain.Event{}, nil, err
	}
	titles := make([]string, len(events))
	for i, e := range events {
		titles[i] = e.Title
	}
	best, ambiguous, ok := fuzzy.Resolve(query, titles, threshold)
	if ok {
		return events[best.Index], nil, nil
	}
	if len(ambiguous) > 0 {
		candidates := make([]domain.Event, len(ambiguous))
		for i, m := range ambiguous {
			candidates[i] = events[m.Index]
		}
		return domain.Event{}, candidates, domain.ErrAmbiguousMatch
	}
	return domain.Event{}, nil, domain.ErrNoMatch
}

type UpdateEventRequest struct {
	User    domain.User
	EventID string

	NewTitle    *string
	NewStartUTC *time.Time
	NewEndUTC   *time.Time
	NewLocation *string
	NewNotes    *string
}

// Update rewrites event fields. Moving the start also retargets every lead
// reminder attached to the event.
func (s *EventService) Update(ctx context.Context, req UpdateEventRequest) (domain.Event, error) {
	event, err := s.repo.GetEvent(ctx, req.User.ID, req.EventID)
	if err != nil {
		return domain.Event{}, err
	}

	if req.NewTitle != nil {
		event.Title = *req.NewTitle
	}
	if req.NewLocation != nil {
		event.Location = *req.NewLocation
	}
	if req.NewNotes != nil {
		event.Notes = *req.NewNotes
	}
	if req.NewStartUTC != nil {
		if !config.AllowPastEvents && req.NewStartUTC.Before(s.clock.Now()) && !event.Recurring() {
			return domain.Event{}, domain.ErrPastInstant
		}
		if event.EndUTC != nil && req.NewEndUTC == nil {
			span := event.EndUTC.Sub(event.StartUTC)
			end := req.NewStartUTC.Add(span)
			event.EndUTC = &end
		}
		event.StartUTC = req.NewStartUTC.UTC()
	}
	if req.NewEndUTC != nil {
		event.EndUTC = req.NewEndUTC
	}
	event.UpdatedAt = s.clock.Now()

	if err := s.repo.UpdateEvent(ctx, event); err != nil {
		return domain.Event{}, err
	}

	if req.NewStartUTC != nil {
		if err := s.retargetReminders(ctx, event); err != nil {
			logrus.WithError(err).WithField("event_id", event.ID).Error("[EVENT] failed to retarget reminders")
		}
	}
	return event, nil
}

func (s *EventService) retargetReminders(ctx context.Context, event domain.Event) error {
	reminders, err := s.repo.ListRemindersForEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	for _, rem := range reminders {
		rem.DueUTC = event.StartUTC.Add(-time.Duration(rem.LeadMinutes) * time.Minute)
		rem.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateReminder(ctx, rem); err != nil {
			return err
		}
	}
	return nil
}

// Cancel removes the event from the agenda. For a recurring event with an
// occurrence given, only that occurrence is excluded and the series lives on.
func (s *EventService) Cancel(ctx context.Context, user domain.User, eventID string, occurrence *time.Time) (domain.Event, error) {
	event, err := s.repo.GetEvent(ctx, user.ID, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if occurrence != nil && event.Recurring() {
		event.Exclusions = append(event.Exclusions, occurrence.UTC())
	} else {
		event.Status = domain.EventCancelled
	}
	event.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateEvent(ctx, event); err != nil {
		return domain.Event{}, err
	}
	logrus.WithFields(logrus.Fields{"event_id": event.ID, "whole": occurrence == nil}).Info("[EVENT] cancelled")
	return event, nil
}

func (s *EventService) Delete(ctx context.Context, user domain.User, eventID string) error {
	if _, err := s.repo.GetEvent(ctx, user.ID, eventID); err != nil {
		return err
	}
	return s.repo.DeleteEvent(ctx, user.ID, eventID)
}

func (s *EventService) Get(ctx context.Context, user domain.User, eventID string) (domain.Event, error) {
	return s.repo.GetEvent(ctx, user.ID, eventID)
}

// AddParticipant attaches a person to the event. A name already on the list
// is a no-op; the unique index in the store enforces that under concurrency.
func (s *EventService) AddParticipant(ctx context.Context, user domain.User, eventID string, p domain.Participant) (domain.Event, error) {
	if p.Name == "" {
		return domain.Event{}, fmt.Errorf("%w: participant name required", domain.ErrInvalidInput)
	}
	if _, err := s.repo.GetEvent(ctx, user.ID, eventID); err != nil {
		return domain.Event{}, err
	}
	if err := s.repo.AddParticipant(ctx, eventID, p, s.clock.Now()); err != nil {
		return domain.Event{}, err
	}
	return s.repo.GetEvent(ctx, user.ID, eventID)
}

// Comment attaches a note to the event. Priority defaults to normal; high and
// urgent notes surface in the morning summary.
func (s *EventService) Comment(ctx context.Context, user domain.User, eventID, text string, priority domain.CommentPriority, tags []string) (domain.EventComment, error) {
	if text == "" {
		return domain.EventComment{}, fmt.Errorf("%w: empty comment", domain.ErrInvalidInput)
	}
	switch priority {
	case "":
		priority = domain.CommentNormal
	case domain.CommentNormal, domain.CommentHigh, domain.CommentUrgent:
	default:
		return domain.EventComment{}, fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidInput, priority)
	}
	if _, err := s.repo.GetEvent(ctx, user.ID, eventID); err != nil {
		return domain.EventComment{}, err
	}
	comment := domain.EventComment{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    user.ID,
		Text:      text,
		Priority:  priority,
		Tags:      tags,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.AddComment(ctx, comment); err != nil {
		return domain.EventComment{}, err
	}
	return comment, nil
}

func (s *EventService) Comments(ctx context.Context, user domain.User, eventID string) ([]domain.EventComment, error) {
	if _, err := s.repo.GetEvent(ctx, user.ID, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, eventID)
}

// ResolveComment picks one comment of the event by selector: a 1-based index,
// the word "last", or free text matched fuzzily against the comment bodies.
// An ambiguous text match is rejected, not guessed.
func (s *EventService) ResolveComment(ctx context.Context, user domain.User, eventID, selector, text string) (domain.EventComment, error) {
	comments, err := s.Comments(ctx, user, eventID)
	if err != nil {
		return domain.EventComment{}, err
	}
	if len(comments) == 0 {
		return domain.EventComment{}, domain.ErrNoMatch
	}
	switch {
	case selector == "last":
		return comments[len(comments)-1], nil
	case isIndexSelector(selector):
		n := indexSelector(selector)
		if n < 1 || n > len(comments) {
			return domain.EventComment{}, domain.ErrNoMatch
		}
		return comments[n-1], nil
	}
	if text == "" {
		return domain.EventComment{}, fmt.Errorf("%w: comment reference required", domain.ErrInvalidInput)
	}
	bodies := make([]string, len(comments))
	for i, c := range comments {
		bodies[i] = c.Text
	}
	best, ambiguous, ok := fuzzy.Resolve(text, bodies, commentMatchThreshold)
	if ok {
		return comments[best.Index], nil
	}
	if len(ambiguous) > 0 {
		return domain.EventComment{}, domain.ErrAmbiguousMatch
	}
	return domain.EventComment{}, domain.ErrNoMatch
}

const commentMatchThreshold = 0.5

func isIndexSelector(s string) bool { return indexSelector(s) > 0 }

func indexSelector(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// DeleteComment removes the comment picked by selector/text.
func (s *EventService) DeleteComment(ctx context.Context, user domain.User, eventID, selector, text string) (domain.EventComment, error) {
	comment, err := s.ResolveComment(ctx, user, eventID, selector, text)
	if err != nil {
		return domain.EventComment{}, err
	}
	if err := s.repo.DeleteComment(ctx, eventID, comment.ID); err != nil {
		return domain.EventComment{}, err
	}
	logrus.WithFields(logrus.Fields{"event_id": eventID, "comment_id": comment.ID}).Info("[EVENT] comment deleted")
	return comment, nil
}

// UpdateComment rewrites the body of the comment picked by selector/text.
func (s *EventService) UpdateComment(ctx context.Context, user domain.User, eventID, selector, text, newText string) (domain.EventComment, error) {
	if newText == "" {
		return domain.EventComment{}, fmt.Errorf("%w: empty comment", domain.ErrInvalidInput)
	}
	comment, err := s.ResolveComment(ctx, user, eventID, selector, text)
	if err != nil {
		return domain.EventComment{}, err
	}
	comment.Text = newText
	if err := s.repo.UpdateComment(ctx, comment); err != nil {
		return domain.EventComment{}, err
	}
	return comment, nil
}

// NextOccurrence reports when a recurring event fires next, after now.
func (s *EventService) NextOccurrence(ctx context.Context, user domain.User, eventID string) (*time.Time, error) {
	event, err := s.repo.GetEvent(ctx, user.ID, eventID)
	if err != nil {
		return nil, err
	}
	if !event.Recurring() {
		if event.StartUTC.After(s.clock.Now()) {
			t := event.StartUTC
			return &t, nil
		}
		return nil, nil
	}
	return recurrence.NextAfter(event.RecurrenceRule, event.StartUTC, s.clock.Now(), event.Exclusions)
}
