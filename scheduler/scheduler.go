// Package scheduler promotes due work from the relational store into an
// execution-time queue and dispatches it to a bounded worker pool. The queue
// lives in the ephemeral store; the durable truth stays in the reminders
// table, so a cold start simply re-promotes.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/pkg/clock"
)

const (
	jobsKey      = "scheduler:jobs"
	promoLockTTL = 55 * time.Second
	lookAhead    = 24 * time.Hour
)

type Scheduler struct {
	repo  *repository.CalendarGormRepository
	kv    ephemeral.KV
	pool  *Pool
	clock clock.Clock
}

func New(repo *repository.CalendarGormRepository, kv ephemeral.KV, pool *Pool, clk clock.Clock) *Scheduler {
	return &Scheduler{repo: repo, kv: kv, pool: pool, clock: clk}
}

// Run is the adaptive loop: execute whatever matured, then sleep until the
// next queued instant, waking early on the safety ticker to re-promote.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.Promote(ctx); err != nil {
		logrus.WithError(err).Error("[SCHEDULER] initial promotion failed")
	}

	safety := time.NewTicker(5 * time.Minute)
	defer safety.Stop()

	for {
		nextAt := s.ExecDue(ctx)

		sleep := time.Hour
		if !nextAt.IsZero() {
			sleep = time.Until(nextAt)
			if sleep < 0 {
				sleep = time.Second
			}
			if sleep > time.Hour {
				sleep = time.Hour
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-safety.C:
			timer.Stop()
			if err := s.Promote(ctx); err != nil {
				logrus.WithError(err).Error("[SCHEDULER] promotion failed")
			}
		case <-timer.C:
		}
	}
}

// Promote hydrates the queue from the reminders table, one process at a time
// via the promotion lock, and plans today's morning summaries once the daily
// trigger hour has passed.
func (s *Scheduler) Promote(ctx context.Context) error {
	got, err := s.kv.SetNX(ctx, "lock:scheduler:promo", "1", promoLockTTL)
	if err != nil {
		return err
	}
	if !got {
		return nil
	}

	now := s.clock.Now()
	due, err := s.repo.ListDueReminders(ctx, now.Add(lookAhead))
	if err != nil {
		return err
	}
	for _, rem := range due {
		job := Job{Kind: jobKindReminder, ReminderID: rem.ID, UserID: rem.UserID, Occurrence: rem.DueUTC}
		if err := s.kv.ZAdd(ctx, jobsKey, float64(rem.DueUTC.Unix()), encodeJob(job)); err != nil {
			return err
		}
	}
	if len(due) > 0 {
		logrus.WithField("count", len(due)).Debug("[SCHEDULER] reminders promoted")
	}

	return s.planSummaries(ctx, now)
}

// planSummaries runs the daily pass at the configured UTC hour: every user
// whose local weekday is in their summary set gets a job at their local hour.
func (s *Scheduler) planSummaries(ctx context.Context, now time.Time) error {
	trigger, err := parseDailyTrigger(now, config.DailySchedulerUTC)
	if err != nil {
		return err
	}
	if now.Before(trigger) {
		return nil
	}
	date := now.UTC().Format("2006-01-02")
	planned, err := s.kv.SetNX(ctx, "summary:planned:"+date, "1", 48*time.Hour)
	if err != nil {
		return err
	}
	if !planned {
		return nil
	}

	users, err := s.repo.ListSummaryUsers(ctx)
	if err != nil {
		return err
	}
	count := 0
	for _, user := range users {
		loc, lerr := time.LoadLocation(user.Timezone)
		if lerr != nil || loc == nil {
			loc = time.UTC
		}
		lt := now.In(loc)
		if !user.SummaryDue(lt.Weekday()) {
			continue
		}
		fireAt := time.Date(lt.Year(), lt.Month(), lt.Day(), user.SummaryHour, 0, 0, 0, loc).UTC()
		job := Job{Kind: jobKindSummary, UserID: user.ID, Occurrence: fireAt}
		if err := s.kv.ZAdd(ctx, jobsKey, float64(fireAt.Unix()), encodeJob(job)); err != nil {
			return err
		}
		count++
	}
	logrus.WithFields(logrus.Fields{"date": date, "count": count}).Info("[SCHEDULER] morning summaries planned")
	return nil
}

func parseDailyTrigger(now time.Time, hhmm string) (time.Time, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("bad daily trigger %q", hhmm)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("bad daily trigger %q", hhmm)
	}
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), h, m, 0, 0, time.UTC), nil
}

// ExecDue hands matured queue entries to the pool and reports when the next
// entry matures, for the adaptive sleep.
func (s *Scheduler) ExecDue(ctx context.Context) time.Time {
	now := s.clock.Now()
	members, err := s.kv.ZDue(ctx, jobsKey, float64(now.Unix()), 100)
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] queue read failed")
		return time.Time{}
	}
	for _, member := range members {
		job, derr := decodeJob(member)
		if derr != nil {
			logrus.WithError(derr).Warn("[SCHEDULER] dropping bad queue member")
			_ = s.kv.ZRem(ctx, jobsKey, member)
			continue
		}
		if err := s.pool.Submit(ctx, job); err != nil {
			return time.Time{}
		}
		_ = s.kv.ZRem(ctx, jobsKey, member)
	}

	_, score, ok, err := s.kv.ZNext(ctx, jobsKey)
	if err != nil || !ok {
		return time.Time{}
	}
	return time.Unix(int64(score), 0)
}
