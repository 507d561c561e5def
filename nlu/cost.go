package nlu

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/pkg/clock"
)

// Notifier delivers an out-of-band message to the operator.
type Notifier interface {
	NotifyOperator(ctx context.Context, text string) error
}

// CostLedger is the durable append-only spend log.
type CostLedger interface {
	AppendAICost(ctx context.Context, e domain.AICostEntry) error
	SumAICostSince(ctx context.Context, from time.Time) (float64, error)
}

// CostAccountant writes every model call to the durable ledger and keeps a
// fast month-to-date counter in Valkey for alerting. The crossing marker is a
// SETNX key, so restarts and concurrent workers never duplicate an alert.
type CostAccountant struct {
	ledger   CostLedger
	kv       ephemeral.KV
	notifier Notifier
	clock    clock.Clock
}

func NewCostAccountant(ledger CostLedger, kv ephemeral.KV, notifier Notifier, clk clock.Clock) *CostAccountant {
	return &CostAccountant{ledger: ledger, kv: kv, notifier: notifier, clock: clk}
}

const costTTL = 40 * 24 * time.Hour

func (c *CostAccountant) month() string {
	return c.clock.Now().Format("2006-01")
}

// RecordRound appends one ledger row per provider call of the round, then
// feeds the alert counter with the round total. A ledger write failure is
// logged and the row lost; the counter still advances.
func (c *CostAccountant) RecordRound(ctx context.Context, userID, operation string, decision Decision) error {
	for _, p := range decision.Providers {
		if p.Err != nil || p.Usage.Model == "" {
			continue
		}
		entry := domain.AICostEntry{
			UserID:     userID,
			Model:      p.Usage.Model,
			Operation:  operation,
			CostUSD:    p.Usage.CostUSD,
			TokensUsed: p.Usage.InputTokens + p.Usage.OutputTokens,
			CreatedAt:  c.clock.Now(),
		}
		if err := c.ledger.AppendAICost(ctx, entry); err != nil {
			logrus.WithError(err).WithField("model", entry.Model).Warn("[COST] failed to append ledger row")
		}
	}
	return c.Record(ctx, decision.CostUSD)
}

// Record adds a round's cost and fires alerts for any newly crossed steps.
func (c *CostAccountant) Record(ctx context.Context, costUSD float64) error {
	if costUSD <= 0 {
		return nil
	}
	month := c.month()
	key := "cost:total:" + month

	// Cents as an integer counter keeps the accumulation atomic.
	cents := int64(math.Round(costUSD * 100))
	if cents == 0 {
		cents = 1
	}
	total, err := c.kv.IncrBy(ctx, key, cents, costTTL)
	if err != nil {
		return err
	}

	step := config.CostAlertStepUSD
	if step <= 0 || c.notifier == nil {
		return nil
	}
	crossed := int(float64(total) / 100 / step)
	for level := 1; level <= crossed; level++ {
		marker := fmt.Sprintf("cost:alert:%s:%d", month, level)
		created, err := c.kv.SetNX(ctx, marker, "1", costTTL)
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		text := fmt.Sprintf("הוצאות מודלים החודש עברו $%.0f (סהכ $%.2f)", float64(level)*step, float64(total)/100)
		if err := c.notifier.NotifyOperator(ctx, text); err != nil {
			logrus.WithError(err).Warn("[COST] failed to alert operator")
		}
	}
	return nil
}

// MonthToDateUSD reports the running total for the current month. When the
// counter is missing, after a Valkey flush, the total is rebuilt from the
// ledger.
func (c *CostAccountant) MonthToDateUSD(ctx context.Context) (float64, error) {
	raw, ok, err := c.kv.Get(ctx, "cost:total:"+c.month())
	if err != nil {
		return 0, err
	}
	if ok {
		if cents, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			return float64(cents) / 100, nil
		}
	}
	if c.ledger == nil {
		return 0, nil
	}
	now := c.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return c.ledger.SumAICostSince(ctx, monthStart)
}
