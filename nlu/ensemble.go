package nlu

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yoavra/yoman/config"
)

// Decision is the ensemble's combined answer.
type Decision struct {
	Result    Result
	Agreement int
	// Split marks a round where no two providers agreed on the intent.
	// The router should ask the user instead of acting.
	Split     bool
	Providers []ProviderResult
	CostUSD   float64
}

// Ensemble fans one message out to every configured provider and votes on
// the answers. A slow or failing provider never blocks the round beyond the
// shared deadline.
type Ensemble struct {
	providers []Provider
	deadline  time.Duration
}

func NewEnsemble(providers ...Provider) *Ensemble {
	return &Ensemble{providers: providers, deadline: config.EnsembleDeadline}
}

func (e *Ensemble) Analyze(ctx context.Context, prompt Prompt) (Decision, error) {
	if len(e.providers) == 0 {
		return Decision{}, fmt.Errorf("no nlu providers configured")
	}

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	results := make([]ProviderResult, len(e.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range e.providers {
		g.Go(func() error {
			started := time.Now()
			res, usage, err := p.Analyze(gctx, prompt)
			results[i] = ProviderResult{
				Provider: p.Name(),
				Result:   res,
				Usage:    usage,
				Err:      err,
				Latency:  time.Since(started),
			}
			// Provider failures are recorded, not propagated: the vote
			// works with whoever answered.
			return nil
		})
	}
	_ = g.Wait()

	return e.vote(results)
}

func (e *Ensemble) vote(results []ProviderResult) (Decision, error) {
	decision := Decision{Providers: results}

	var ok []ProviderResult
	for _, r := range results {
		decision.CostUSD += r.Usage.CostUSD
		if r.Err != nil {
			logrus.WithError(r.Err).WithField("provider", r.Provider).Warn("[NLU] provider failed")
			continue
		}
		ok = append(ok, r)
	}
	if len(ok) == 0 {
		return decision, fmt.Errorf("all nlu providers failed")
	}

	votes := make(map[Intent][]ProviderResult)
	for _, r := range ok {
		votes[r.Result.Intent] = append(votes[r.Result.Intent], r)
	}

	var winner Intent
	for intent, group := range votes {
		if winner == "" {
			winner = intent
			continue
		}
		best := votes[winner]
		switch {
		case len(group) > len(best):
			winner = intent
		case len(group) == len(best) && maxConfidence(group) > maxConfidence(best):
			winner = intent
		}
	}

	agreeing := votes[winner]
	decision.Agreement = len(agreeing)
	decision.Result.Intent = winner
	decision.Result.Entities = mergeEntities(agreeing)

	// Cross-model agreement is worth more than any single model's
	// self-reported confidence.
	switch {
	case len(agreeing) >= 3:
		decision.Result.Confidence = 0.95
	case len(agreeing) == 2:
		decision.Result.Confidence = 0.85
	default:
		decision.Split = len(ok) > 1
		c := maxConfidence(agreeing)
		if c > 0.60 {
			c = 0.60
		}
		decision.Result.Confidence = c
	}

	logrus.WithFields(logrus.Fields{
		"intent":    decision.Result.Intent,
		"agreement": decision.Agreement,
		"answered":  len(ok),
		"cost_usd":  fmt.Sprintf("$%.6f", decision.CostUSD),
	}).Debug("[NLU] ensemble decision")

	return decision, nil
}

func maxConfidence(group []ProviderResult) float64 {
	var m float64
	for _, r := range group {
		if r.Result.Confidence > m {
			m = r.Result.Confidence
		}
	}
	return m
}

// mergeEntities combines slot values from the agreeing providers. For each
// field the most confident provider with a non-empty value wins.
func mergeEntities(group []ProviderResult) Entities {
	sorted := make([]ProviderResult, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Result.Confidence > sorted[j].Result.Confidence
	})

	var merged Entities
	for _, r := range sorted {
		e := r.Result.Entities
		fill(&merged.Title, e.Title)
		fill(&merged.DateText, e.DateText)
		fill(&merged.TimeText, e.TimeText)
		fill(&merged.Location, e.Location)
		fill(&merged.Person, e.Person)
		fill(&merged.Recurrence, e.Recurrence)
		fill(&merged.Lead, e.Lead)
		fill(&merged.Query, e.Query)
		fill(&merged.Field, e.Field)
		fill(&merged.Value, e.Value)
		fill(&merged.Priority, e.Priority)
	}
	return merged
}

func fill(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
