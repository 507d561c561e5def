// Package recurrence turns Hebrew repetition phrases into RFC 5545 RRULE
// strings and expands them into concrete occurrences.
package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/yoavra/yoman/hebrew/dateparse"
)

var weekdayNames = map[string]rrule.Weekday{
	"ראשון": rrule.SU, "שני": rrule.MO, "שלישי": rrule.TU,
	"רביעי": rrule.WE, "חמישי": rrule.TH, "שישי": rrule.FR,
	"שבת": rrule.SA,
	"sunday": rrule.SU, "monday": rrule.MO, "tuesday": rrule.TU,
	"wednesday": rrule.WE, "thursday": rrule.TH, "friday": rrule.FR,
	"saturday": rrule.SA,
}

var byDayHebrew = map[string]string{
	"SU": "ראשון", "MO": "שני", "TU": "שלישי", "WE": "רביעי",
	"TH": "חמישי", "FR": "שישי", "SA": "שבת",
}

var (
	reMonthDay = regexp.MustCompile(`(?:ב-?\s*)?(\d{1,2})\s+(?:לכל חודש|בכל חודש|לחודש)`)
	reCount    = regexp.MustCompile(`(\d{1,3})\s+פעמים`)
	reEveryN   = regexp.MustCompile(`כל\s+(\d{1,2})\s+(ימים|שבועות|חודשים)`)
)

// ParsePhrase maps a repetition phrase to an RRULE string. now and loc anchor
// an optional "עד <date>" bound. ok is false when the text carries no
// recognizable repetition.
func ParsePhrase(text string, loc *time.Location, now time.Time) (string, bool) {
	t := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if t == "" {
		return "", false
	}

	var parts []string

	// "עד <date>" caps the series. Consumed before frequency detection so
	// the date words do not confuse it.
	until, rest := extractUntil(t, loc, now)
	t = rest

	switch {
	case weekdayIn(t) != "":
		parts = append(parts, "FREQ=WEEKLY", "BYDAY="+weekdayIn(t))
	case reMonthDay.MatchString(t):
		m := reMonthDay.FindStringSubmatch(t)
		d, _ := strconv.Atoi(m[1])
		if d < 1 || d > 31 {
			return "", false
		}
		parts = append(parts, "FREQ=MONTHLY", fmt.Sprintf("BYMONTHDAY=%d", d))
	case reEveryN.MatchString(t):
		m := reEveryN.FindStringSubmatch(t)
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			return "", false
		}
		freq := map[string]string{"ימים": "DAILY", "שבועות": "WEEKLY", "חודשים": "MONTHLY"}[m[2]]
		parts = append(parts, "FREQ="+freq)
		if n > 1 {
			parts = append(parts, fmt.Sprintf("INTERVAL=%d", n))
		}
	case containsAny(t, "כל שבועיים"):
		parts = append(parts, "FREQ=WEEKLY", "INTERVAL=2")
	case containsAny(t, "כל יום", "מדי יום", "מידי יום", "יומי", "every day", "daily"):
		parts = append(parts, "FREQ=DAILY")
	case containsAny(t, "כל שבוע", "מדי שבוע", "שבועי", "every week", "weekly"):
		parts = append(parts, "FREQ=WEEKLY")
	case containsAny(t, "כל חודש", "מדי חודש", "חודשי", "every month", "monthly"):
		parts = append(parts, "FREQ=MONTHLY")
	case containsAny(t, "כל שנה", "מדי שנה", "שנתי", "every year", "yearly"):
		parts = append(parts, "FREQ=YEARLY")
	default:
		return "", false
	}

	if m := reCount.FindStringSubmatch(t); m != nil {
		parts = append(parts, "COUNT="+m[1])
	} else if until != nil {
		parts = append(parts, "UNTIL="+until.UTC().Format("20060102T150405Z"))
	}

	return strings.Join(parts, ";"), true
}

// weekdayIn finds a weekday reference like כל יום שלישי or ימי חמישי and
// returns its BYDAY token, or "".
func weekdayIn(t string) string {
	if !containsAny(t, "כל", "ימי", "every") {
		return ""
	}
	for _, f := range strings.Fields(t) {
		stripped := strings.TrimPrefix(strings.TrimPrefix(f, "ב"), "ל")
		for name, wd := range weekdayNames {
			if f == name || stripped == name {
				return wd.String()
			}
		}
	}
	return ""
}

func extractUntil(t string, loc *time.Location, now time.Time) (*time.Time, string) {
	idx := strings.Index(t, " עד ")
	if idx < 0 {
		return nil, t
	}
	q := dateparse.Parse(t[idx+len(" עד "):], loc, now)
	if !q.Success || q.Instant == nil {
		return nil, t
	}
	until := *q.Instant
	if !q.HasTime {
		// A date-only bound includes the whole day.
		until = until.Add(24*time.Hour - time.Second)
	}
	return &until, t[:idx]
}

// IsRecurring reports whether ruleStr describes a repeating series.
func IsRecurring(ruleStr string) bool {
	return ruleStr != "" && strings.Contains(strings.ToUpper(ruleStr), "FREQ=")
}

func build(ruleStr string, dtstart time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(strings.TrimPrefix(ruleStr, "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence rule %q: %w", ruleStr, err)
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

// NextAfter returns the first occurrence strictly after the given instant,
// skipping excluded occurrences. nil means the series is exhausted.
func NextAfter(ruleStr string, dtstart, after time.Time, exclusions []time.Time) (*time.Time, error) {
	rule, err := build(ruleStr, dtstart)
	if err != nil {
		return nil, err
	}
	skip := exclusionSet(exclusions)
	cursor := after
	for i := 0; i < 1000; i++ {
		next := rule.After(cursor, false)
		if next.IsZero() {
			return nil, nil
		}
		if _, excluded := skip[next.UTC().Unix()]; !excluded {
			return &next, nil
		}
		cursor = next
	}
	return nil, nil
}

// Between expands the series inside the half-open window [from, to),
// skipping excluded occurrences.
func Between(ruleStr string, dtstart, from, to time.Time, exclusions []time.Time) ([]time.Time, error) {
	rule, err := build(ruleStr, dtstart)
	if err != nil {
		return nil, err
	}
	skip := exclusionSet(exclusions)
	var out []time.Time
	for _, occ := range rule.Between(from, to, true) {
		if !occ.Before(to) {
			continue
		}
		if _, excluded := skip[occ.UTC().Unix()]; excluded {
			continue
		}
		out = append(out, occ)
	}
	return out, nil
}

func exclusionSet(exclusions []time.Time) map[int64]struct{} {
	set := make(map[int64]struct{}, len(exclusions))
	for _, e := range exclusions {
		set[e.UTC().Unix()] = struct{}{}
	}
	return set
}

// Describe renders the rule in Hebrew for chat replies.
func Describe(ruleStr string) string {
	info := make(map[string]string)
	for _, p := range strings.Split(strings.TrimPrefix(ruleStr, "RRULE:"), ";") {
		if kv := strings.SplitN(p, "=", 2); len(kv) == 2 {
			info[strings.ToUpper(kv[0])] = kv[1]
		}
	}

	var b strings.Builder
	interval := info["INTERVAL"]
	plain := interval == "" || interval == "1"
	switch info["FREQ"] {
	case "DAILY":
		if plain {
			b.WriteString("כל יום")
		} else {
			b.WriteString("כל " + interval + " ימים")
		}
	case "WEEKLY":
		switch {
		case info["BYDAY"] != "":
			var days []string
			for _, d := range strings.Split(info["BYDAY"], ",") {
				if h, ok := byDayHebrew[d]; ok {
					days = append(days, h)
				}
			}
			b.WriteString("כל יום " + strings.Join(days, " ו"))
		case plain:
			b.WriteString("כל שבוע")
		case interval == "2":
			b.WriteString("כל שבועיים")
		default:
			b.WriteString("כל " + interval + " שבועות")
		}
	case "MONTHLY":
		if d := info["BYMONTHDAY"]; d != "" {
			b.WriteString("ב-" + d + " לכל חודש")
		} else if plain {
			b.WriteString("כל חודש")
		} else {
			b.WriteString("כל " + interval + " חודשים")
		}
	case "YEARLY":
		b.WriteString("כל שנה")
	default:
		return ruleStr
	}

	if c := info["COUNT"]; c != "" {
		b.WriteString(", " + c + " פעמים")
	}
	if u := info["UNTIL"]; u != "" {
		if t, err := time.Parse("20060102T150405Z", u); err == nil {
			b.WriteString(", עד " + t.Format("02/01/2006"))
		}
	}
	return b.String()
}

func containsAny(t string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}
