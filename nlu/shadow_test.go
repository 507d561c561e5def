package nlu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func shadowRound(agreement int, confs []float64, failed int) Decision {
	d := Decision{Agreement: agreement}
	for _, c := range confs {
		d.Providers = append(d.Providers, ProviderResult{
			Provider: "p",
			Result:   Result{Intent: IntentCreateEvent, Confidence: c},
		})
	}
	for i := 0; i < failed; i++ {
		d.Providers = append(d.Providers, ProviderResult{Provider: "q", Err: errors.New("down")})
	}
	return d
}

func TestAgreementStats(t *testing.T) {
	// Unanimous round.
	match, spread := agreementStats(shadowRound(3, []float64{0.7, 0.9, 0.8}, 0))
	assert.True(t, match)
	assert.InDelta(t, 0.2, spread, 1e-9)

	// Majority is not a full match.
	match, spread = agreementStats(shadowRound(2, []float64{0.7, 0.9, 0.8}, 0))
	assert.False(t, match)
	assert.InDelta(t, 0.2, spread, 1e-9)

	// A failed provider does not spoil the match and adds no spread.
	match, spread = agreementStats(shadowRound(2, []float64{0.7, 0.9}, 1))
	assert.True(t, match)
	assert.InDelta(t, 0.2, spread, 1e-9)

	// A single answer has nothing to diverge from.
	match, spread = agreementStats(shadowRound(1, []float64{0.7}, 2))
	assert.True(t, match)
	assert.Zero(t, spread)

	// Nobody answered.
	match, spread = agreementStats(shadowRound(0, nil, 3))
	assert.False(t, match)
	assert.Zero(t, spread)
}
