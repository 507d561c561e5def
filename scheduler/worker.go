package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/pkg/clock"
	"github.com/yoavra/yoman/transport"
)

// Pool delivers scheduled jobs with bounded concurrency, a global dispatch
// rate limit and per-job retries. The compare-and-set on the reminder
// watermark makes delivery at-most-once per occurrence no matter how many
// workers or processes race.
type Pool struct {
	repo      *repository.CalendarGormRepository
	reminders *service.ReminderService
	events    *service.EventService
	tasks     *service.TaskService
	kv        ephemeral.KV
	egress    transport.Egress
	clock     clock.Clock

	jobs    chan Job
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

func NewPool(
	repo *repository.CalendarGormRepository,
	reminders *service.ReminderService,
	events *service.EventService,
	tasks *service.TaskService,
	kv ephemeral.KV,
	egress transport.Egress,
	clk clock.Clock,
) *Pool {
	return &Pool{
		repo:      repo,
		reminders: reminders,
		events:    events,
		tasks:     tasks,
		kv:        kv,
		egress:    egress,
		clock:     clk,
		jobs:      make(chan Job, 4*config.WorkerConcurrency),
		limiter:   rate.NewLimiter(rate.Limit(config.WorkerDispatchPerSec), config.WorkerDispatchPerSec),
	}
}

// Start launches the worker goroutines. They drain until ctx ends.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < config.WorkerConcurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.jobs:
					p.execute(ctx, job)
				}
			}
		}()
	}
}

func (p *Pool) Wait() { p.wg.Wait() }

// Submit queues a job, blocking until a worker frees up or ctx ends.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) execute(ctx context.Context, job Job) {
	jctx, cancel := context.WithTimeout(ctx, config.JobDeadline)
	defer cancel()

	var err error
	switch job.Kind {
	case jobKindSummary:
		err = p.deliverSummary(jctx, job)
	default:
		err = p.deliverReminder(jctx, job)
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"kind":        job.Kind,
			"reminder_id": job.ReminderID,
			"user_id":     job.UserID,
		}).Error("[WORKER] job failed")
	}
}

// deliverReminder claims the occurrence before sending. Losing the claim
// means another worker already has it, which is success, not failure.
func (p *Pool) deliverReminder(ctx context.Context, job Job) error {
	rem, err := p.repo.GetReminder(ctx, job.UserID, job.ReminderID)
	if errors.Is(err, domain.ErrReminderNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rem.Status != domain.ReminderActive {
		return nil
	}

	claimed, err := p.repo.MarkFired(ctx, job.ReminderID, job.Occurrence)
	if err != nil {
		return err
	}
	if !claimed {
		logrus.WithField("reminder_id", job.ReminderID).Debug("[WORKER] occurrence already claimed")
		return nil
	}

	user, err := p.repo.GetUserByID(ctx, job.UserID)
	if err != nil {
		return err
	}

	if err := p.sendWithRetry(ctx, user.Phone, reminderText(rem, user)); err != nil {
		// Terminal failure: the watermark stays advanced, the occurrence is
		// not retried. Recorded and moved past.
		return fmt.Errorf("terminal delivery failure: %w", err)
	}
	return p.reminders.Advance(ctx, rem, job.Occurrence)
}

func reminderText(rem domain.Reminder, user domain.User) string {
	if user.Language == "en" {
		return "⏰ Reminder: " + rem.Title
	}
	return "⏰ תזכורת: " + rem.Title
}

// deliverSummary renders today's agenda and open tasks. A date-stamped
// marker keeps restarts from sending the same morning twice.
func (p *Pool) deliverSummary(ctx context.Context, job Job) error {
	day := job.Occurrence.UTC().Format("2006-01-02")
	created, err := p.kv.SetNX(ctx, "summary:sent:"+job.UserID+":"+day, "1", 48*time.Hour)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	user, err := p.repo.GetUserByID(ctx, job.UserID)
	if err != nil {
		return err
	}
	text, err := p.buildSummary(ctx, user)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return p.sendWithRetry(ctx, user.Phone, text)
}

func (p *Pool) buildSummary(ctx context.Context, user domain.User) (string, error) {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	lt := p.clock.Now().In(loc)
	from := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc).UTC()
	to := from.Add(24 * time.Hour)

	occ, err := p.events.Agenda(ctx, user, from, to)
	if err != nil {
		return "", err
	}
	tasks, err := p.tasks.List(ctx, user, true)
	if err != nil {
		return "", err
	}
	if len(occ) == 0 && len(tasks) == 0 {
		return "", nil
	}

	var b strings.Builder
	if user.Language == "en" {
		fmt.Fprintf(&b, "Good morning %s!\n", user.Name)
	} else {
		fmt.Fprintf(&b, "בוקר טוב %s!\n", user.Name)
	}
	if len(occ) > 0 {
		if user.Language == "en" {
			b.WriteString("Today:\n")
		} else {
			b.WriteString("היום:\n")
		}
		for _, o := range occ {
			line := o.StartUTC.In(loc).Format("15:04") + " " + o.Event.Title
			if o.Event.Location != "" {
				line += " (" + o.Event.Location + ")"
			}
			b.WriteString("- " + line + "\n")
			if user.SummaryMemos {
				comments, cerr := p.repo.ListComments(ctx, o.Event.ID)
				if cerr == nil {
					// Only high and urgent notes make the morning cut.
					for _, cm := range comments {
						if cm.Priority.Urgentish() {
							b.WriteString("  📝 " + cm.Text + "\n")
						}
					}
				}
			}
		}
	}
	if len(tasks) > 0 {
		if user.Language == "en" {
			b.WriteString("Open tasks:\n")
		} else {
			b.WriteString("משימות פתוחות:\n")
		}
		for _, t := range tasks {
			b.WriteString("- " + t.Title + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// sendWithRetry dispatches under the global rate limit, retrying transient
// transport errors with exponential backoff.
func (p *Pool) sendWithRetry(ctx context.Context, phone, text string) error {
	backoff := config.WorkerBackoffBase
	var lastErr error
	for attempt := 1; attempt <= config.WorkerMaxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, lastErr = p.egress.SendText(ctx, phone, text); lastErr == nil {
			return nil
		}
		logrus.WithError(lastErr).WithField("attempt", attempt).Warn("[WORKER] send attempt failed")
		if attempt == config.WorkerMaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > config.WorkerBackoffCap {
			backoff = config.WorkerBackoffCap
		}
	}
	return lastErr
}
