package dateparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoc = mustLoadLocation("Asia/Jerusalem")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Friday morning. Every relative expression below resolves against this.
func testNow() time.Time {
	return time.Date(2025, 10, 10, 10, 0, 0, 0, testLoc)
}

func localUTC(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, testLoc).UTC()
}

func TestParse_TomorrowWithBareAfternoonHour(t *testing.T) {
	q := Parse("מחר ב-3", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	require.NotNil(t, q.Instant)
	// A bare 3 means 15:00, never 03:00.
	assert.Equal(t, localUTC(2025, 10, 11, 15, 0), *q.Instant)
	assert.True(t, q.HasDate)
	assert.True(t, q.HasTime)
}

func TestParse_BareNumberIsEveningHour(t *testing.T) {
	q := Parse("פגישה ב 21", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	require.NotNil(t, q.Instant)
	assert.Equal(t, localUTC(2025, 10, 10, 21, 0), *q.Instant)
}

func TestParse_ThisWeekRange(t *testing.T) {
	q := Parse("מה יש לי השבוע", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.True(t, q.IsWeekRange)
	require.NotNil(t, q.RangeStart)
	require.NotNil(t, q.RangeEnd)
	// Week starts Sunday at local midnight, half-open seven days.
	assert.Equal(t, localUTC(2025, 10, 5, 0, 0), *q.RangeStart)
	assert.Equal(t, localUTC(2025, 10, 12, 0, 0), *q.RangeEnd)
	assert.Nil(t, q.Instant)
}

func TestParse_NextWeekRange(t *testing.T) {
	q := Parse("שבוע הבא", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 12, 0, 0), *q.RangeStart)
	assert.Equal(t, localUTC(2025, 10, 19, 0, 0), *q.RangeEnd)
}

func TestParse_ThisMonthRange(t *testing.T) {
	q := Parse("החודש", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.True(t, q.IsMonthRange)
	assert.Equal(t, localUTC(2025, 10, 1, 0, 0), *q.RangeStart)
	assert.Equal(t, localUTC(2025, 11, 1, 0, 0), *q.RangeEnd)
}

func TestParse_WeekdayResolvesToNextOccurrence(t *testing.T) {
	// Friday anchor, so שלישי is the coming Tuesday.
	q := Parse("ביום שלישי ב-10", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 14, 10, 0), *q.Instant)
}

func TestParse_SameWeekdayMeansNextWeek(t *testing.T) {
	// Saying שישי on a Friday points a week ahead, not today.
	q := Parse("שישי הקרוב", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.False(t, q.HasTime)
	assert.Equal(t, localUTC(2025, 10, 17, 0, 0), *q.Instant)
}

func TestParse_ExplicitDateNoTime(t *testing.T) {
	q := Parse("15/10", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.True(t, q.HasDate)
	assert.False(t, q.HasTime)
	assert.Equal(t, localUTC(2025, 10, 15, 0, 0), *q.Instant)
}

func TestParse_PastDateWithoutYearRollsForward(t *testing.T) {
	q := Parse("5/3", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2026, 3, 5, 0, 0), *q.Instant)
}

func TestParse_ExplicitYearDoesNotRoll(t *testing.T) {
	q := Parse("5/3/2025 14:00", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 3, 5, 14, 0), *q.Instant)
}

func TestParse_InvalidCalendarDate(t *testing.T) {
	q := Parse("31/2", testLoc, testNow())
	assert.False(t, q.Success)
	assert.NotEmpty(t, q.Err)
}

func TestParse_BareLargeNumberIsDayOfMonth(t *testing.T) {
	q := Parse("ב 28", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.True(t, q.HasDate)
	assert.False(t, q.HasTime)
	assert.Equal(t, localUTC(2025, 10, 28, 0, 0), *q.Instant)
}

func TestParse_ClockTime(t *testing.T) {
	q := Parse("מחר 14:30", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 11, 14, 30), *q.Instant)
	assert.Equal(t, "11/10/2025 14:30", q.Description)
}

func TestParse_NoonStaysNoon(t *testing.T) {
	q := Parse("מחר ב-12 בצהריים", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 11, 12, 0), *q.Instant)
}

func TestParse_MorningMarkerKeepsSmallHour(t *testing.T) {
	// 09:00 already passed this morning, so it rolls to tomorrow.
	q := Parse("ב-9 בבוקר", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 11, 9, 0), *q.Instant)
}

func TestParse_EveningMarker(t *testing.T) {
	q := Parse("מחר בשמונה בערב", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 11, 20, 0), *q.Instant)
}

func TestParse_MultiWordHourPhrase(t *testing.T) {
	q := Parse("מחר בשעה שתים עשרה", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 11, 12, 0), *q.Instant)
}

func TestParse_RelativeDays(t *testing.T) {
	q := Parse("בעוד 3 ימים ב-9", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 13, 9, 0), *q.Instant)
}

func TestParse_RelativeDaysOutOfRange(t *testing.T) {
	q := Parse("בעוד 500 ימים", testLoc, testNow())
	assert.False(t, q.Success)
}

func TestParse_YesterdayParsesAsPast(t *testing.T) {
	// Past instants parse fine. Rejecting them is the caller's decision.
	q := Parse("אתמול", testLoc, testNow())
	require.True(t, q.Success, q.Err)
	assert.Equal(t, localUTC(2025, 10, 9, 0, 0), *q.Instant)
}

func TestParse_Unrecognized(t *testing.T) {
	for _, text := range []string{"", "סתם טקסט בלי כלום", "xyz"} {
		q := Parse(text, testLoc, testNow())
		assert.False(t, q.Success, text)
	}
}

func TestParse_NilLocationDefaultsToUTC(t *testing.T) {
	now := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)
	q := Parse("מחר 08:00", nil, now)
	require.True(t, q.Success, q.Err)
	assert.Equal(t, time.Date(2025, 10, 11, 8, 0, 0, 0, time.UTC), *q.Instant)
}

func TestParseLeadTime(t *testing.T) {
	cases := []struct {
		text    string
		minutes int
		ok      bool
	}{
		{"שעה לפני", 60, true},
		{"שעתיים לפני", 120, true},
		{"חצי שעה לפני", 30, true},
		{"יום לפני", 1440, true},
		{"שבוע לפני", 10080, true},
		{"3 שעות לפני", 180, true},
		{"45 דקות לפני", 45, true},
		{"an hour before", 60, true},
		{"a day before", 1440, true},
		{"30 שעות לפני", 0, false},
		{"תזכורת רגילה", 0, false},
	}
	for _, c := range cases {
		m, ok := ParseLeadTime(c.text)
		assert.Equal(t, c.ok, ok, c.text)
		assert.Equal(t, c.minutes, m, c.text)
	}
}
