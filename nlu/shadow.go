package nlu

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/pkg/clock"
)

// ShadowLogger persists each ensemble round so model quality and
// disagreement patterns can be reviewed offline. Logging failures never
// affect the user-facing flow.
type ShadowLogger struct {
	repo  *repository.CalendarGormRepository
	clock clock.Clock
}

func NewShadowLogger(repo *repository.CalendarGormRepository, clk clock.Clock) *ShadowLogger {
	return &ShadowLogger{repo: repo, clock: clk}
}

type shadowEntry struct {
	Provider   string   `json:"provider"`
	Intent     Intent   `json:"intent,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Entities   Entities `json:"entities,omitempty"`
	Error      string   `json:"error,omitempty"`
	LatencyMS  int64    `json:"latency_ms"`
}

func (l *ShadowLogger) Log(ctx context.Context, userID, text string, decision Decision) {
	if !config.ShadowLoggingEnabled {
		return
	}
	entries := make([]shadowEntry, 0, len(decision.Providers))
	for _, p := range decision.Providers {
		e := shadowEntry{
			Provider:   p.Provider,
			Intent:     p.Result.Intent,
			Confidence: p.Result.Confidence,
			Entities:   p.Result.Entities,
			LatencyMS:  p.Latency.Milliseconds(),
		}
		if p.Err != nil {
			e.Error = p.Err.Error()
		}
		entries = append(entries, e)
	}

	match, spread := agreementStats(decision)
	err := l.repo.SaveComparison(ctx, repository.NLPComparison{
		ID:             uuid.NewString(),
		UserID:         userID,
		Text:           text,
		Results:        entries,
		Final:          string(decision.Result.Intent),
		Agreement:      decision.Agreement,
		IntentMatch:    match,
		ConfidenceDiff: spread,
		CostUSD:        decision.CostUSD,
		CreatedAt:      l.clock.Now(),
	})
	if err != nil {
		logrus.WithError(err).Warn("[NLU] failed to save shadow comparison")
	}
}

// agreementStats reduces a round to the two numbers the offline review
// queries on. The match counts full agreement of everyone who answered;
// failures don't count against it. The spread is the confidence gap between
// the most and least sure providers, zero when fewer than two answered.
func agreementStats(decision Decision) (match bool, spread float64) {
	answered, minConf, maxConf := 0, 1.0, 0.0
	for _, p := range decision.Providers {
		if p.Err != nil {
			continue
		}
		answered++
		if p.Result.Confidence < minConf {
			minConf = p.Result.Confidence
		}
		if p.Result.Confidence > maxConf {
			maxConf = p.Result.Confidence
		}
	}
	if answered < 2 {
		return answered > 0 && decision.Agreement == answered, 0
	}
	return decision.Agreement == answered, maxConf - minConf
}
