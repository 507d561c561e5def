package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoc = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		panic(err)
	}
	return loc
}()

func testNow() time.Time {
	return time.Date(2025, 10, 10, 10, 0, 0, 0, testLoc)
}

func TestParsePhrase_Frequencies(t *testing.T) {
	cases := []struct {
		text string
		rule string
	}{
		{"כל יום", "FREQ=DAILY"},
		{"מדי יום", "FREQ=DAILY"},
		{"כל שבוע", "FREQ=WEEKLY"},
		{"כל שבועיים", "FREQ=WEEKLY;INTERVAL=2"},
		{"כל חודש", "FREQ=MONTHLY"},
		{"כל שנה", "FREQ=YEARLY"},
		{"כל 3 ימים", "FREQ=DAILY;INTERVAL=3"},
	}
	for _, c := range cases {
		rule, ok := ParsePhrase(c.text, testLoc, testNow())
		require.True(t, ok, c.text)
		assert.Equal(t, c.rule, rule, c.text)
	}
}

func TestParsePhrase_WeekdayBeatsPlainDaily(t *testing.T) {
	// כל יום שלישי contains כל יום, so the weekday must win.
	rule, ok := ParsePhrase("כל יום שלישי", testLoc, testNow())
	require.True(t, ok)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=TU", rule)

	rule, ok = ParsePhrase("ימי חמישי", testLoc, testNow())
	require.True(t, ok)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=TH", rule)
}

func TestParsePhrase_MonthDay(t *testing.T) {
	rule, ok := ParsePhrase("ב-10 לכל חודש", testLoc, testNow())
	require.True(t, ok)
	assert.Equal(t, "FREQ=MONTHLY;BYMONTHDAY=10", rule)
}

func TestParsePhrase_Count(t *testing.T) {
	rule, ok := ParsePhrase("כל יום 5 פעמים", testLoc, testNow())
	require.True(t, ok)
	assert.Equal(t, "FREQ=DAILY;COUNT=5", rule)
}

func TestParsePhrase_Until(t *testing.T) {
	rule, ok := ParsePhrase("כל שבוע עד 15/11", testLoc, testNow())
	require.True(t, ok)
	assert.Contains(t, rule, "FREQ=WEEKLY")
	assert.Contains(t, rule, "UNTIL=")
}

func TestParsePhrase_NotRecurring(t *testing.T) {
	_, ok := ParsePhrase("פגישה מחר בשלוש", testLoc, testNow())
	assert.False(t, ok)
	_, ok = ParsePhrase("", testLoc, testNow())
	assert.False(t, ok)
}

func TestNextAfter_Daily(t *testing.T) {
	dtstart := time.Date(2025, 10, 10, 8, 0, 0, 0, time.UTC)
	next, err := NextAfter("FREQ=DAILY", dtstart, time.Date(2025, 10, 10, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, 10, 11, 8, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextAfter_SkipsExclusions(t *testing.T) {
	dtstart := time.Date(2025, 10, 10, 8, 0, 0, 0, time.UTC)
	excluded := time.Date(2025, 10, 11, 8, 0, 0, 0, time.UTC)
	next, err := NextAfter("FREQ=DAILY", dtstart, dtstart, []time.Time{excluded})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, 10, 12, 8, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextAfter_ExhaustedSeries(t *testing.T) {
	dtstart := time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)
	next, err := NextAfter("FREQ=DAILY;COUNT=3", dtstart, time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestBetween_WeeklyWindow(t *testing.T) {
	dtstart := time.Date(2025, 10, 7, 18, 0, 0, 0, time.UTC) // Tuesday
	from := time.Date(2025, 10, 8, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 10, 29, 0, 0, 0, 0, time.UTC)
	occ, err := Between("FREQ=WEEKLY;BYDAY=TU", dtstart, from, to, nil)
	require.NoError(t, err)
	require.Len(t, occ, 3)
	assert.Equal(t, time.Date(2025, 10, 14, 18, 0, 0, 0, time.UTC), occ[0].UTC())
	assert.Equal(t, time.Date(2025, 10, 28, 18, 0, 0, 0, time.UTC), occ[2].UTC())
}

func TestBetween_HalfOpenWindow(t *testing.T) {
	dtstart := time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC)
	from := dtstart
	to := time.Date(2025, 10, 12, 0, 0, 0, 0, time.UTC)
	occ, err := Between("FREQ=DAILY", dtstart, from, to, nil)
	require.NoError(t, err)
	// The 12th itself is outside the window.
	require.Len(t, occ, 2)
}

func TestBetween_InvalidRule(t *testing.T) {
	_, err := Between("FREQ=SOMETIMES", time.Now(), time.Now(), time.Now().Add(time.Hour), nil)
	assert.Error(t, err)
}

func TestIsRecurring(t *testing.T) {
	assert.True(t, IsRecurring("FREQ=DAILY"))
	assert.True(t, IsRecurring("RRULE:FREQ=WEEKLY;BYDAY=MO"))
	assert.False(t, IsRecurring(""))
	assert.False(t, IsRecurring("once"))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "כל יום", Describe("FREQ=DAILY"))
	assert.Equal(t, "כל יום שלישי", Describe("FREQ=WEEKLY;BYDAY=TU"))
	assert.Equal(t, "כל שבועיים", Describe("FREQ=WEEKLY;INTERVAL=2"))
	assert.Equal(t, "ב-10 לכל חודש", Describe("FREQ=MONTHLY;BYMONTHDAY=10"))
	assert.Equal(t, "כל יום, 5 פעמים", Describe("FREQ=DAILY;COUNT=5"))
}
