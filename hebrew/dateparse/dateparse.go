// Package dateparse resolves free Hebrew/English date and time expressions
// against a user's zone and a reference instant. All returned instants are UTC.
package dateparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Query is the outcome of parsing a date expression. Exactly one of Instant
// or RangeStart/RangeEnd is populated on success. Ranges are half-open
// [RangeStart, RangeEnd).
type Query struct {
	Success bool
	Err     string

	Instant *time.Time

	RangeStart   *time.Time
	RangeEnd     *time.Time
	IsWeekRange  bool
	IsMonthRange bool

	// HasDate/HasTime report which components the user actually provided,
	// so flows can prompt for the missing one.
	HasDate bool
	HasTime bool

	// Description echoes the resolved moment in the user's zone.
	Description string
}

func failure(msg string) Query {
	return Query{Success: false, Err: msg}
}

var hebrewWeekdays = map[string]time.Weekday{
	"ראשון": time.Sunday, "שני": time.Monday, "שלישי": time.Tuesday,
	"רביעי": time.Wednesday, "חמישי": time.Thursday, "שישי": time.Friday,
	"שבת": time.Saturday,
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var hebrewHourWords = map[string]int{
	"אחת": 1, "שתיים": 2, "שלוש": 3, "ארבע": 4, "חמש": 5, "שש": 6,
	"שבע": 7, "שמונה": 8, "תשע": 9, "עשר": 10,
}

var (
	reExplicitDate = regexp.MustCompile(`\b(\d{1,2})[./-](\d{1,2})(?:[./-](\d{2,4}))?\b`)
	reClockTime    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reHourMarker   = regexp.MustCompile(`(?:לשעה|בשעה|ב-|ל-|at)\s*(\d{1,2})\b`)
	reRelativeDays = regexp.MustCompile(`(?:בעוד|עוד|in)\s+(\d{1,3})\s+(?:ימים|יום|days|day)`)
	reBareNumber   = regexp.MustCompile(`(?:^|\s)(\d{1,2})(?:\s|$)`)
)

// Parse interprets text as a date/time expression in the user's zone.
// now anchors every relative keyword; it may be in any zone.
func Parse(text string, loc *time.Location, now time.Time) Query {
	if loc == nil {
		loc = time.UTC
	}
	localNow := now.In(loc)
	t := normalize(text)
	if t == "" {
		return failure("empty expression")
	}

	// Week and month ranges short-circuit: a range query carries no time.
	if q, ok := parseRange(t, loc, localNow); ok {
		return q
	}

	day, hasDate, errMsg := extractDate(&t, loc, localNow)
	if errMsg != "" {
		return failure(errMsg)
	}
	hour, minute, hasTime := extractTime(&t, hasDate)

	// Bare-number disambiguation happens only after explicit tokens are
	// consumed from the text.
	if !hasTime {
		if m := reBareNumber.FindStringSubmatch(t); m != nil {
			n, _ := strconv.Atoi(m[1])
			switch {
			case n <= 23:
				hour, minute = disambiguateHour(n), 0
				hasTime = true
			case n <= 31 && !hasDate:
				day = dayOfMonth(localNow, n, loc)
				hasDate = true
			}
		}
	}

	if !hasDate && !hasTime {
		return failure("no date or time recognized")
	}

	if !hasDate {
		// Time only: today, rolling to tomorrow when already past.
		day = dayStart(localNow, loc)
		candidate := day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
		if !candidate.After(localNow) {
			day = day.AddDate(0, 0, 1)
		}
	}

	local := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	utc := local.UTC()
	desc := local.Format("02/01/2006")
	if hasTime {
		desc = local.Format("02/01/2006 15:04")
	}
	return Query{
		Success:     true,
		Instant:     &utc,
		HasDate:     true,
		HasTime:     hasTime,
		Description: desc,
	}
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "?", " ")
	s = strings.ReplaceAll(s, "!", " ")
	s = strings.ReplaceAll(s, ",", " ")
	return strings.Join(strings.Fields(s), " ")
}

func parseRange(t string, loc *time.Location, localNow time.Time) (Query, bool) {
	switch {
	case containsAny(t, "שבוע הבא", "בשבוע הבא", "next week"):
		return weekRange(localNow, loc, 1), true
	case containsWord(t, "השבוע", "בשבוע") || containsWord(t, "שבוע") || containsAny(t, "this week"):
		return weekRange(localNow, loc, 0), true
	case containsAny(t, "חודש הבא", "בחודש הבא", "next month"):
		return monthRange(localNow, loc, 1), true
	case containsWord(t, "החודש", "בחודש") || containsAny(t, "this month"):
		return monthRange(localNow, loc, 0), true
	}
	return Query{}, false
}

// weekRange returns [Sunday 00:00, next Sunday 00:00) in the user zone,
// offset by weeksAhead.
func weekRange(localNow time.Time, loc *time.Location, weeksAhead int) Query {
	start := dayStart(localNow, loc).AddDate(0, 0, -int(localNow.Weekday())+7*weeksAhead)
	end := start.AddDate(0, 0, 7)
	su, eu := start.UTC(), end.UTC()
	return Query{
		Success: true, RangeStart: &su, RangeEnd: &eu,
		IsWeekRange: true, HasDate: true,
		Description: fmt.Sprintf("%s - %s", start.Format("02/01/2006"), end.AddDate(0, 0, -1).Format("02/01/2006")),
	}
}

func monthRange(localNow time.Time, loc *time.Location, monthsAhead int) Query {
	start := time.Date(localNow.Year(), localNow.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, monthsAhead, 0)
	end := start.AddDate(0, 1, 0)
	su, eu := start.UTC(), end.UTC()
	return Query{
		Success: true, RangeStart: &su, RangeEnd: &eu,
		IsMonthRange: true, HasDate: true,
		Description: start.Format("01/2006"),
	}
}

// extractDate finds a date token, removes it from the text and returns the
// local midnight of the resolved day.
func extractDate(t *string, loc *time.Location, localNow time.Time) (day time.Time, found bool, errMsg string) {
	today := dayStart(localNow, loc)

	type kw struct {
		words  []string
		offset int
	}
	for _, k := range []kw{
		{[]string{"מחרתיים"}, 2},
		{[]string{"מחר", "tomorrow"}, 1},
		{[]string{"היום", "today"}, 0},
		{[]string{"אתמול", "yesterday"}, -1},
	} {
		for _, w := range k.words {
			if containsWord(*t, w) {
				*t = removeWord(*t, w)
				return today.AddDate(0, 0, k.offset), true, ""
			}
		}
	}

	if m := reRelativeDays.FindStringSubmatch(*t); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 365 {
			return time.Time{}, false, "day offset out of range"
		}
		*t = strings.Replace(*t, m[0], " ", 1)
		return today.AddDate(0, 0, n), true, ""
	}

	if wd, ok := findWeekday(t); ok {
		ahead := (int(wd) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), true, ""
	}

	if m := reExplicitDate.FindStringSubmatch(*t); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if d < 1 || d > 31 || mo < 1 || mo > 12 {
			return time.Time{}, false, "invalid date"
		}
		year := today.Year()
		explicitYear := false
		if m[3] != "" {
			y, _ := strconv.Atoi(m[3])
			if y < 100 {
				y += 2000
			}
			year = y
			explicitYear = true
		}
		candidate := time.Date(year, time.Month(mo), d, 0, 0, 0, 0, loc)
		if candidate.Day() != d {
			return time.Time{}, false, "invalid date"
		}
		if !explicitYear && candidate.Before(today) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		*t = strings.Replace(*t, m[0], " ", 1)
		return candidate, true, ""
	}

	return time.Time{}, false, ""
}

// findWeekday detects weekday references including the יום/ביום/ימי prefixes
// and the הקרוב/הבא suffixes, consuming the matched words.
func findWeekday(t *string) (time.Weekday, bool) {
	words := strings.Fields(*t)
	for i, name := range words {
		// Strip a leading ב/ל attached to the weekday itself (בשלישי).
		stripped := strings.TrimPrefix(strings.TrimPrefix(name, "ב"), "ל")
		wd, ok := hebrewWeekdays[name]
		if !ok {
			wd, ok = hebrewWeekdays[stripped]
		}
		if !ok {
			continue
		}
		// Consume the weekday word plus surrounding qualifiers.
		drop := map[int]bool{i: true}
		if i > 0 && (words[i-1] == "יום" || words[i-1] == "ביום" || words[i-1] == "ימי") {
			drop[i-1] = true
		}
		if i+1 < len(words) && (words[i+1] == "הקרוב" || words[i+1] == "הבא") {
			drop[i+1] = true
		}
		var rest []string
		for j, x := range words {
			if !drop[j] {
				rest = append(rest, x)
			}
		}
		*t = strings.Join(rest, " ")
		return wd, true
	}
	return 0, false
}

// extractTime finds a time-of-day token and removes it from the text.
func extractTime(t *string, hasDate bool) (hour, minute int, found bool) {
	if m := reClockTime.FindStringSubmatch(*t); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		if h <= 23 && mi <= 59 {
			*t = strings.Replace(*t, m[0], " ", 1)
			return h, mi, true
		}
	}

	if m := reHourMarker.FindStringSubmatch(*t); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h <= 23 {
			*t = strings.Replace(*t, m[0], " ", 1)
			return applyDayPart(*t, disambiguateHour(h)), 0, true
		}
	}

	// Multi-word phrases first so אחת עשרה is not read as אחת.
	for phrase, h := range map[string]int{"אחת עשרה": 11, "שתים עשרה": 12} {
		if strings.Contains(*t, phrase) {
			*t = strings.Replace(*t, phrase, " ", 1)
			return applyDayPart(*t, h), 0, true
		}
	}
	for _, f := range strings.Fields(*t) {
		stripped := strings.TrimPrefix(strings.TrimPrefix(f, "ב"), "ל")
		h, ok := hebrewHourWords[f]
		if !ok {
			h, ok = hebrewHourWords[stripped]
		}
		if ok {
			*t = removeWord(*t, f)
			return applyDayPart(*t, h), 0, true
		}
	}

	return 0, 0, false
}

// disambiguateHour maps a bare small hour to the afternoon: Hebrew speakers
// saying "ב-3" near-universally mean 15:00, not 03:00. Hours from 8 up are
// taken literally.
func disambiguateHour(h int) int {
	if h >= 1 && h <= 7 {
		return h + 12
	}
	return h
}

// applyDayPart adjusts an hour according to בוקר/צהריים/ערב markers left in
// the remaining text. Noon stays noon, never midnight.
func applyDayPart(rest string, h int) int {
	base := h % 12
	switch {
	case containsAny(rest, "בבוקר", "בוקר", "morning"):
		if base == 0 {
			return 0
		}
		return base
	case containsAny(rest, "אחרי הצהריים", "אחהצ", "afternoon"):
		if base == 12 || base == 0 {
			return 12
		}
		return base + 12
	case containsAny(rest, "בצהריים", "צהריים", "noon"):
		if base <= 5 && base != 0 {
			return base + 12
		}
		return 12
	case containsAny(rest, "בערב", "ערב", "בלילה", "evening", "night"):
		if base == 0 {
			return 0
		}
		return base + 12
	}
	return h
}

func dayOfMonth(localNow time.Time, day int, loc *time.Location) time.Time {
	candidate := time.Date(localNow.Year(), localNow.Month(), day, 0, 0, 0, 0, loc)
	if candidate.Before(dayStart(localNow, loc)) {
		candidate = candidate.AddDate(0, 1, 0)
	}
	return candidate
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func containsAny(t string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

func containsWord(t string, words ...string) bool {
	for _, f := range strings.Fields(t) {
		for _, w := range words {
			if f == w {
				return true
			}
		}
	}
	return false
}

func removeWord(t, word string) string {
	fields := strings.Fields(t)
	var out []string
	removed := false
	for _, f := range fields {
		if !removed && f == word {
			removed = true
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
