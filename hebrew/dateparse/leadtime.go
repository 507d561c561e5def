package dateparse

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reHoursBefore   = regexp.MustCompile(`(\d{1,2})\s+שעות\s+לפני`)
	reMinutesBefore = regexp.MustCompile(`(\d{1,4})\s+דקות\s+לפני`)
)

// ParseLeadTime resolves a "X before" phrase quoted against an event into an
// offset in minutes. Returns ok=false when the text carries no lead phrase.
func ParseLeadTime(text string) (minutes int, ok bool) {
	t := normalize(text)
	if !strings.Contains(t, "לפני") && !strings.Contains(t, "before") {
		return 0, false
	}

	switch {
	case strings.Contains(t, "שבוע לפני"), strings.Contains(t, "week before"):
		return 7 * 24 * 60, true
	case strings.Contains(t, "יום לפני"), strings.Contains(t, "day before"):
		return 24 * 60, true
	case strings.Contains(t, "חצי שעה לפני"), strings.Contains(t, "half an hour before"):
		return 30, true
	case strings.Contains(t, "שעתיים לפני"):
		return 120, true
	}

	if m := reHoursBefore.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= 24 {
			return n * 60, true
		}
		return 0, false
	}
	if m := reMinutesBefore.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 {
			return n, true
		}
		return 0, false
	}

	// Plain שעה לפני checked last, after שעתיים and חצי שעה were ruled out.
	if strings.Contains(t, "שעה לפני") || strings.Contains(t, "hour before") {
		return 60, true
	}
	return 0, false
}
