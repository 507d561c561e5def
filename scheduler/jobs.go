package scheduler

import (
	"fmt"
	"strings"
	"time"
)

const (
	jobKindReminder = "reminder"
	jobKindSummary  = "summary"
)

// Job is one unit of scheduled work: deliver a reminder occurrence or send a
// morning summary.
type Job struct {
	Kind       string
	ReminderID string
	UserID     string
	Occurrence time.Time
}

// encodeJob packs a job into a queue member. The occurrence is part of the
// member so a rescheduled reminder gets a distinct entry.
func encodeJob(j Job) string {
	switch j.Kind {
	case jobKindSummary:
		return fmt.Sprintf("%s|%s|%s", jobKindSummary, j.UserID, j.Occurrence.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s|%s|%s|%s", jobKindReminder, j.ReminderID, j.UserID, j.Occurrence.UTC().Format(time.RFC3339))
	}
}

func decodeJob(member string) (Job, error) {
	parts := strings.Split(member, "|")
	switch {
	case len(parts) == 3 && parts[0] == jobKindSummary:
		at, err := time.Parse(time.RFC3339, parts[2])
		if err != nil {
			return Job{}, fmt.Errorf("bad summary member %q: %w", member, err)
		}
		return Job{Kind: jobKindSummary, UserID: parts[1], Occurrence: at.UTC()}, nil
	case len(parts) == 4 && parts[0] == jobKindReminder:
		at, err := time.Parse(time.RFC3339, parts[3])
		if err != nil {
			return Job{}, fmt.Errorf("bad reminder member %q: %w", member, err)
		}
		return Job{Kind: jobKindReminder, ReminderID: parts[1], UserID: parts[2], Occurrence: at.UTC()}, nil
	}
	return Job{}, fmt.Errorf("unrecognized queue member %q", member)
}
