package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_ExactMatch(t *testing.T) {
	assert.Equal(t, 1.0, Score("פגישה עם דני", "פגישה עם דני"))
	assert.Equal(t, 1.0, Score("Team Sync", "team sync"))
}

func TestScore_PunctuationAndWhitespaceNormalized(t *testing.T) {
	assert.Equal(t, 1.0, Score("פגישה  עם   דני!", "פגישה עם דני"))
	assert.Equal(t, 1.0, Score("צה״ל", "צהל"))
}

func TestScore_Substring(t *testing.T) {
	assert.Equal(t, 0.9, Score("פגישה", "פגישה עם דני"))
	assert.Equal(t, 0.9, Score("dentist appointment tomorrow", "dentist"))
}

func TestScore_TokenOverlap(t *testing.T) {
	// Shared tokens {פגישת, צוות} of union size 3 -> Jaccard 2/3.
	s := Score("צוות פגישת", "פגישת צוות חשובה")
	assert.InDelta(t, 0.7+0.2*(2.0/3.0), s, 1e-9)
}

func TestScore_StopWordsIgnored(t *testing.T) {
	// עם is a stop word on both sides, so only content tokens count.
	a := Score("דני פגישה", "פגישה עם דני חשובה")
	b := Score("דני פגישה", "פגישה דני חשובה")
	assert.Equal(t, a, b)
}

func TestScore_NoOverlap(t *testing.T) {
	assert.Equal(t, 0.0, Score("רופא שיניים", "חתונה של יוסי"))
	assert.Equal(t, 0.0, Score("", "anything"))
}

func TestScore_Deterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.Equal(t, Score("פגישה עם דני", "פגישת דני"), Score("פגישה עם דני", "פגישת דני"))
	}
}

func TestRank_OrdersByScore(t *testing.T) {
	matches := Rank("פגישה", []string{"חתונה", "פגישה עם דני", "פגישה"})
	require.Len(t, matches, 2)
	assert.Equal(t, "פגישה", matches[0].Candidate)
	assert.Equal(t, 2, matches[0].Index)
	assert.Equal(t, "פגישה עם דני", matches[1].Candidate)
}

func TestResolve_SingleWinner(t *testing.T) {
	best, ambiguous, ok := Resolve("רופא שיניים", []string{"רופא שיניים", "חתונה"}, DestructiveThreshold)
	require.True(t, ok)
	assert.Nil(t, ambiguous)
	assert.Equal(t, 0, best.Index)
}

func TestResolve_AmbiguousDuplicates(t *testing.T) {
	// Two events with the same title must trigger disambiguation, never an
	// arbitrary pick.
	_, ambiguous, ok := Resolve("פגישה", []string{"פגישה", "פגישה"}, DestructiveThreshold)
	require.False(t, ok)
	assert.Len(t, ambiguous, 2)
}

func TestResolve_LeadOverRunnerUp(t *testing.T) {
	// Exact match (1.0) leads a substring match (0.9) by only 0.1 < MinLead.
	_, ambiguous, ok := Resolve("פגישה", []string{"פגישה", "פגישה עם דני"}, SearchThreshold)
	assert.False(t, ok)
	assert.Len(t, ambiguous, 2)
}

func TestResolve_NothingPasses(t *testing.T) {
	_, ambiguous, ok := Resolve("ריצה בפארק", []string{"חתונה", "מסיבה"}, SearchThreshold)
	assert.False(t, ok)
	assert.Nil(t, ambiguous)
}
