package service

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/hebrew/fuzzy"
	"github.com/yoavra/yoman/hebrew/recurrence"
	"github.com/yoavra/yoman/pkg/clock"
)

type ReminderService struct {
	repo  *repository.CalendarGormRepository
	clock clock.Clock
}

func NewReminderService(repo *repository.CalendarGormRepository, clk clock.Clock) *ReminderService {
	return &ReminderService{repo: repo, clock: clk}
}

type CreateReminderRequest struct {
	User           domain.User
	Title          string
	DueUTC         time.Time
	RecurrenceRule string
}

func (s *ReminderService) Create(ctx context.Context, req CreateReminderRequest) (domain.Reminder, error) {
	if err := validation.ValidateStructWithContext(ctx, &req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&req.DueUTC, validation.Required),
	); err != nil {
		return domain.Reminder{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}
	now := s.clock.Now()
	if req.DueUTC.Before(now) && req.RecurrenceRule == "" {
		return domain.Reminder{}, domain.ErrPastInstant
	}

	rem := domain.Reminder{
		ID:             uuid.NewString(),
		UserID:         req.User.ID,
		Title:          req.Title,
		Status:         domain.ReminderActive,
		DueUTC:         req.DueUTC.UTC(),
		RecurrenceRule: req.RecurrenceRule,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateReminder(ctx, rem); err != nil {
		return domain.Reminder{}, err
	}
	logrus.WithFields(logrus.Fields{"user_id": req.User.ID, "reminder_id": rem.ID, "due": rem.DueUTC}).
		Info("[REMINDER] created")
	return rem, nil
}

// CreateForEvent attaches a lead reminder to an event. The due instant is
// derived from the event start and tracks it when the event moves.
func (s *ReminderService) CreateForEvent(ctx context.Context, user domain.User, eventID string, leadMinutes int) (domain.Reminder, error) {
	if leadMinutes <= 0 {
		return domain.Reminder{}, fmt.Errorf("%w: lead must be positive", domain.ErrInvalidInput)
	}
	event, err := s.repo.GetEvent(ctx, user.ID, eventID)
	if err != nil {
		return domain.Reminder{}, err
	}
	due := event.StartUTC.Add(-time.Duration(leadMinutes) * time.Minute)
	if due.Before(s.clock.Now()) && !event.Recurring() {
		return domain.Reminder{}, domain.ErrPastInstant
	}

	now := s.clock.Now()
	rem := domain.Reminder{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Title:       event.Title,
		Status:      domain.ReminderActive,
		DueUTC:      due,
		EventID:     event.ID,
		LeadMinutes: leadMinutes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateReminder(ctx, rem); err != nil {
		return domain.Reminder{}, err
	}
	return rem, nil
}

func (s *ReminderService) List(ctx context.Context, user domain.User) ([]domain.Reminder, error) {
	return s.repo.ListActiveReminders(ctx, user.ID)
}

func (s *ReminderService) Get(ctx context.Context, user domain.User, id string) (domain.Reminder, error) {
	return s.repo.GetReminder(ctx, user.ID, id)
}

// Find resolves a fuzzy title reference among active reminders.
func (s *ReminderService) Find(ctx context.Context, user domain.User, query string, threshold float64) (domain.Reminder, []domain.Reminder, error) {
	reminders, err := s.repo.ListActiveReminders(ctx, user.ID)
	if err != nil {
		return domain.Reminder{}, nil, err
	}
	titles := make([]string, len(reminders))
	for i, r := range reminders {
		titles[i] = r.Title
	}
	best, ambiguous, ok := fuzzy.Resolve(query, titles, threshold)
	if ok {
		return reminders[best.Index], nil, nil
	}
	if len(ambiguous) > 0 {
		candidates := make([]domain.Reminder, len(ambiguous))
		for i, m := range ambiguous {
			candidates[i] = reminders[m.Index]
		}
		return domain.Reminder{}, candidates, domain.ErrAmbiguousMatch
	}
	return domain.Reminder{}, nil, domain.ErrNoMatch
}

type UpdateReminderRequest struct {
	User       domain.User
	ReminderID string

	NewTitle  *string
	NewDueUTC *time.Time
}

// Update rewrites reminder fields. A new due instant in the past is rejected
// unless the reminder recurs.
func (s *ReminderService) Update(ctx context.Context, req UpdateReminderRequest) (domain.Reminder, error) {
	rem, err := s.repo.GetReminder(ctx, req.User.ID, req.ReminderID)
	if err != nil {
		return domain.Reminder{}, err
	}
	if req.NewTitle != nil {
		rem.Title = *req.NewTitle
	}
	if req.NewDueUTC != nil {
		if req.NewDueUTC.Before(s.clock.Now()) && rem.RecurrenceRule == "" {
			return domain.Reminder{}, domain.ErrPastInstant
		}
		rem.DueUTC = req.NewDueUTC.UTC()
	}
	rem.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateReminder(ctx, rem); err != nil {
		return domain.Reminder{}, err
	}
	logrus.WithFields(logrus.Fields{"reminder_id": rem.ID, "due": rem.DueUTC}).Info("[REMINDER] updated")
	return rem, nil
}

// Snooze pushes the next delivery by the given offset from now.
func (s *ReminderService) Snooze(ctx context.Context, user domain.User, id string, by time.Duration) (domain.Reminder, error) {
	if by <= 0 {
		return domain.Reminder{}, fmt.Errorf("%w: snooze must be positive", domain.ErrInvalidInput)
	}
	rem, err := s.repo.GetReminder(ctx, user.ID, id)
	if err != nil {
		return domain.Reminder{}, err
	}
	rem.DueUTC = s.clock.Now().Add(by).UTC()
	rem.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateReminder(ctx, rem); err != nil {
		return domain.Reminder{}, err
	}
	return rem, nil
}

func (s *ReminderService) Complete(ctx context.Context, user domain.User, id string) error {
	return s.setStatus(ctx, user, id, domain.ReminderDone)
}

func (s *ReminderService) Cancel(ctx context.Context, user domain.User, id string) error {
	return s.setStatus(ctx, user, id, domain.ReminderCancelled)
}

func (s *ReminderService) setStatus(ctx context.Context, user domain.User, id string, status domain.ReminderStatus) error {
	rem, err := s.repo.GetReminder(ctx, user.ID, id)
	if err != nil {
		return err
	}
	rem.Status = status
	rem.UpdatedAt = s.clock.Now()
	return s.repo.UpdateReminder(ctx, rem)
}

// Advance moves a fired recurring reminder to its next occurrence, or marks
// a one-off done. Called by the delivery worker after a successful send.
func (s *ReminderService) Advance(ctx context.Context, rem domain.Reminder, fired time.Time) error {
	if rem.RecurrenceRule == "" {
		rem.Status = domain.ReminderDone
		rem.UpdatedAt = s.clock.Now()
		return s.repo.UpdateReminder(ctx, rem)
	}
	next, err := recurrence.NextAfter(rem.RecurrenceRule, rem.DueUTC, fired, nil)
	if err != nil {
		return err
	}
	if next == nil {
		rem.Status = domain.ReminderDone
	} else {
		rem.DueUTC = next.UTC()
	}
	rem.UpdatedAt = s.clock.Now()
	return s.repo.UpdateReminder(ctx, rem)
}
