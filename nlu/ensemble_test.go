package nlu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/pkg/clock"
)

type fakeProvider struct {
	name   string
	result Result
	err    error
	cost   float64
	delay  time.Duration
}

func (f fakeProvider) Name() string { return f.name }

func (f fakeProvider) Analyze(ctx context.Context, _ Prompt) (Result, Usage, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, Usage{}, ctx.Err()
		}
	}
	return f.result, Usage{CostUSD: f.cost}, f.err
}

func create(conf float64, title string) Result {
	return Result{Intent: IntentCreateEvent, Confidence: conf, Entities: Entities{Title: title}}
}

func TestEnsemble_UnanimousVote(t *testing.T) {
	e := NewEnsemble(
		fakeProvider{name: "a", result: create(0.7, "פגישה")},
		fakeProvider{name: "b", result: create(0.8, "פגישה")},
		fakeProvider{name: "c", result: create(0.6, "פגישה")},
	)
	d, err := e.Analyze(context.Background(), Prompt{UserText: "קבע פגישה"})
	require.NoError(t, err)
	assert.Equal(t, IntentCreateEvent, d.Result.Intent)
	assert.Equal(t, 3, d.Agreement)
	assert.Equal(t, 0.95, d.Result.Confidence)
	assert.False(t, d.Split)
}

func TestEnsemble_MajorityVote(t *testing.T) {
	e := NewEnsemble(
		fakeProvider{name: "a", result: create(0.7, "פגישה")},
		fakeProvider{name: "b", result: create(0.9, "פגישה")},
		fakeProvider{name: "c", result: Result{Intent: IntentCreateReminder, Confidence: 0.99}},
	)
	d, err := e.Analyze(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.Equal(t, IntentCreateEvent, d.Result.Intent)
	assert.Equal(t, 2, d.Agreement)
	assert.Equal(t, 0.85, d.Result.Confidence)
}

func TestEnsemble_ThreeWaySplit(t *testing.T) {
	e := NewEnsemble(
		fakeProvider{name: "a", result: Result{Intent: IntentCreateEvent, Confidence: 0.9}},
		fakeProvider{name: "b", result: Result{Intent: IntentCreateReminder, Confidence: 0.8}},
		fakeProvider{name: "c", result: Result{Intent: IntentSearch, Confidence: 0.7}},
	)
	d, err := e.Analyze(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.True(t, d.Split)
	assert.Equal(t, 1, d.Agreement)
	// Self-reported confidence is capped so a split never clears the bar.
	assert.LessOrEqual(t, d.Result.Confidence, 0.60)
}

func TestEnsemble_FailedProviderDoesNotBlockVote(t *testing.T) {
	e := NewEnsemble(
		fakeProvider{name: "a", result: create(0.7, "פגישה"), cost: 0.001},
		fakeProvider{name: "b", err: errors.New("rate limited"), cost: 0},
		fakeProvider{name: "c", result: create(0.8, "פגישה"), cost: 0.002},
	)
	d, err := e.Analyze(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Agreement)
	assert.Equal(t, 0.85, d.Result.Confidence)
	assert.InDelta(t, 0.003, d.CostUSD, 1e-9)
}

func TestEnsemble_AllFailed(t *testing.T) {
	e := NewEnsemble(
		fakeProvider{name: "a", err: errors.New("down")},
		fakeProvider{name: "b", err: errors.New("down")},
	)
	_, err := e.Analyze(context.Background(), Prompt{})
	assert.Error(t, err)
}

func TestEnsemble_SlowProviderCutByDeadline(t *testing.T) {
	e := NewEnsemble(
		fakeProvider{name: "fast", result: create(0.9, "פגישה")},
		fakeProvider{name: "slow", result: create(0.9, "אחר"), delay: 30 * time.Second},
	)
	e.deadline = 50 * time.Millisecond

	start := time.Now()
	d, err := e.Analyze(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, IntentCreateEvent, d.Result.Intent)
	assert.Equal(t, 1, d.Agreement)
}

func TestEnsemble_EntityMergePrefersConfident(t *testing.T) {
	a := create(0.6, "")
	a.Entities.DateText = "מחר"
	b := create(0.9, "פגישה עם דני")
	e := NewEnsemble(
		fakeProvider{name: "a", result: a},
		fakeProvider{name: "b", result: b},
	)
	d, err := e.Analyze(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.Equal(t, "פגישה עם דני", d.Result.Entities.Title)
	assert.Equal(t, "מחר", d.Result.Entities.DateText)
}

type fakeNotifier struct{ sent []string }

func (f *fakeNotifier) NotifyOperator(_ context.Context, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

type fakeLedger struct{ rows []domain.AICostEntry }

func (f *fakeLedger) AppendAICost(_ context.Context, e domain.AICostEntry) error {
	f.rows = append(f.rows, e)
	return nil
}

func (f *fakeLedger) SumAICostSince(_ context.Context, from time.Time) (float64, error) {
	var total float64
	for _, r := range f.rows {
		if !r.CreatedAt.Before(from) {
			total += r.CostUSD
		}
	}
	return total, nil
}

func TestCost_UsesConfiguredPriceTable(t *testing.T) {
	// gpt-4o-mini: $0.15 in / $0.60 out per million tokens.
	assert.InDelta(t, 0.000735, Cost("gpt-4o-mini", 2500, 600), 1e-9)
	// Unknown models, like self-hosted compat endpoints, are free.
	assert.Zero(t, Cost("llama-local", 2500, 600))
}

func TestCostAccountant_AlertsOncePerStep(t *testing.T) {
	ctx := context.Background()
	kv := ephemeral.NewMemoryKV()
	notifier := &fakeNotifier{}
	clk := clock.Fixed{Instant: time.Date(2025, 10, 10, 7, 0, 0, 0, time.UTC)}
	acc := NewCostAccountant(&fakeLedger{}, kv, notifier, clk)

	// Below the first step: no alert.
	require.NoError(t, acc.Record(ctx, 4.0))
	assert.Empty(t, notifier.sent)

	// Crossing $10 fires exactly one alert.
	require.NoError(t, acc.Record(ctx, 7.0))
	assert.Len(t, notifier.sent, 1)

	// More spend below the next step stays quiet.
	require.NoError(t, acc.Record(ctx, 2.0))
	assert.Len(t, notifier.sent, 1)

	// Jumping over two steps at once fires both.
	require.NoError(t, acc.Record(ctx, 20.0))
	assert.Len(t, notifier.sent, 3)

	total, err := acc.MonthToDateUSD(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 33.0, total, 0.01)
}

func TestCostAccountant_IgnoresZero(t *testing.T) {
	ctx := context.Background()
	kv := ephemeral.NewMemoryKV()
	acc := NewCostAccountant(&fakeLedger{}, kv, &fakeNotifier{}, clock.System())
	require.NoError(t, acc.Record(ctx, 0))
	total, err := acc.MonthToDateUSD(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCostAccountant_RecordRoundAppendsLedgerRows(t *testing.T) {
	ctx := context.Background()
	kv := ephemeral.NewMemoryKV()
	ledger := &fakeLedger{}
	clk := clock.Fixed{Instant: time.Date(2025, 10, 10, 7, 0, 0, 0, time.UTC)}
	acc := NewCostAccountant(ledger, kv, &fakeNotifier{}, clk)

	decision := Decision{
		CostUSD: 0.003,
		Providers: []ProviderResult{
			{Provider: "openai", Usage: Usage{Model: "gpt-4o-mini", InputTokens: 900, OutputTokens: 100, CostUSD: 0.001}},
			{Provider: "gemini", Usage: Usage{Model: "gemini-2.0-flash", InputTokens: 800, OutputTokens: 200, CostUSD: 0.002}},
			{Provider: "compat", Err: errors.New("down")},
		},
	}
	require.NoError(t, acc.RecordRound(ctx, "u1", "nlu_analyze", decision))

	// One durable row per answering provider, none for the failure.
	require.Len(t, ledger.rows, 2)
	assert.Equal(t, "gpt-4o-mini", ledger.rows[0].Model)
	assert.Equal(t, "nlu_analyze", ledger.rows[0].Operation)
	assert.Equal(t, 1000, ledger.rows[0].TokensUsed)
	assert.Equal(t, "u1", ledger.rows[0].UserID)
	assert.InDelta(t, 0.002, ledger.rows[1].CostUSD, 1e-9)
}

func TestCostAccountant_MonthToDateFallsBackToLedger(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fixed{Instant: time.Date(2025, 10, 10, 7, 0, 0, 0, time.UTC)}
	ledger := &fakeLedger{rows: []domain.AICostEntry{
		{CostUSD: 1.5, CreatedAt: time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC)},
		// Last month's row stays out of the total.
		{CostUSD: 9.0, CreatedAt: time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)},
	}}
	acc := NewCostAccountant(ledger, ephemeral.NewMemoryKV(), &fakeNotifier{}, clk)

	total, err := acc.MonthToDateUSD(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, total, 1e-9)
}
