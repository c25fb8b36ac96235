package recur

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const rulePrefix = "RRULE:"

const untilLayout = "20060102T150405Z"

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

var weekdaySet = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// Encode maps a Pattern and End to the provider's rule string. The mapping is
// deterministic per pattern tag; start supplies defaults (weekday, day of
// month, month) where the pattern leaves them unspecified. Custom patterns
// pass through unmodified apart from ensuring the RRULE: prefix.
func Encode(p Pattern, end End, start time.Time) (string, error) {
	if p.Kind == Custom {
		raw := strings.TrimSpace(p.Raw)
		if raw == "" {
			return "", fmt.Errorf("custom pattern has empty rule")
		}
		if !strings.HasPrefix(raw, rulePrefix) {
			raw = rulePrefix + raw
		}
		return raw, nil
	}

	var parts []string
	appendInterval := func() {
		if p.Interval > 1 {
			parts = append(parts, fmt.Sprintf("INTERVAL=%d", p.Interval))
		}
	}

	switch p.Kind {
	case Daily:
		parts = append(parts, "FREQ=DAILY")
		appendInterval()

	case Weekdays:
		parts = append(parts, "FREQ=WEEKLY")
		appendInterval()
		parts = append(parts, "BYDAY=MO,TU,WE,TH,FR")

	case Weekly:
		parts = append(parts, "FREQ=WEEKLY")
		appendInterval()
		days := p.DaysOfWeek
		if len(days) == 0 {
			days = []time.Weekday{start.Weekday()}
		}
		parts = append(parts, "BYDAY="+joinDays(days))

	case Biweekly:
		// Interval is part of the tag; an extra multiplier would double-apply.
		parts = append(parts, "FREQ=WEEKLY", "INTERVAL=2")
		parts = append(parts, "BYDAY="+dayAbbrev[start.Weekday()])

	case Monthly:
		parts = append(parts, "FREQ=MONTHLY")
		appendInterval()
		if p.WeekOfMonth > 0 {
			parts = append(parts, fmt.Sprintf("BYDAY=%d%s", p.WeekOfMonth, dayAbbrev[p.Weekday]))
		} else {
			day := p.DayOfMonth
			if day == 0 {
				day = start.Day()
			}
			parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", day))
		}

	case Quarterly:
		parts = append(parts, "FREQ=MONTHLY", "INTERVAL=3")
		day := p.DayOfMonth
		if day == 0 {
			day = start.Day()
		}
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", day))

	case Yearly:
		parts = append(parts, "FREQ=YEARLY")
		appendInterval()
		month := p.Month
		if month == 0 {
			month = start.Month()
		}
		day := p.DayOfMonth
		if day == 0 {
			day = start.Day()
		}
		parts = append(parts, fmt.Sprintf("BYMONTH=%d", int(month)))
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", day))

	default:
		return "", fmt.Errorf("unknown pattern kind %d", p.Kind)
	}

	switch end.Kind {
	case EndUntil:
		parts = append(parts, "UNTIL="+end.Until.UTC().Format(untilLayout))
	case EndCount:
		parts = append(parts, fmt.Sprintf("COUNT=%d", end.Count))
	}

	return rulePrefix + strings.Join(parts, ";"), nil
}

type ruleFields struct {
	freq       string
	interval   int
	byDay      []time.Weekday
	nthWeek    int          // n prefix on a BYDAY entry, 0 if absent
	nthWeekday time.Weekday // weekday the n prefix applies to
	byMonthDay int
	byMonth    int
	until      *time.Time
	count      int
}

// Decode is the inverse of Encode. Rules that use grammar the pattern model
// does not cover decode to a Custom pattern holding the raw rule.
func Decode(rule string) (Pattern, End, error) {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rule), rulePrefix))
	if body == "" {
		return Pattern{}, End{}, fmt.Errorf("empty rule")
	}

	f, ok := parseFields(body)
	if !ok {
		// Opaque rule: preserve it verbatim, but still surface any
		// termination tokens we can read.
		return Pattern{Kind: Custom, Raw: body}, scanEnd(body), nil
	}

	end := Never()
	if f.until != nil {
		end = Until(*f.until)
	} else if f.count > 0 {
		// A repeat count has no concrete end date; report it as a count
		// rather than guessing one.
		end = Count(f.count)
	}

	p, ok := classify(f)
	if !ok {
		// Parseable, but carrying fields the pattern model would drop.
		return Pattern{Kind: Custom, Raw: body}, end, nil
	}
	return p, end, nil
}

func parseFields(body string) (ruleFields, bool) {
	f := ruleFields{interval: 1}
	for _, part := range strings.Split(body, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return f, false
		}
		key, val := kv[0], kv[1]

		switch key {
		case "FREQ":
			f.freq = val
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return f, false
			}
			f.interval = n
		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				d = strings.TrimSpace(d)
				if len(d) > 2 {
					n, err := strconv.Atoi(d[:len(d)-2])
					if err != nil || n < 1 || n > 5 {
						return f, false
					}
					wd, ok := dayNames[d[len(d)-2:]]
					if !ok {
						return f, false
					}
					f.nthWeek = n
					f.nthWeekday = wd
					continue
				}
				wd, ok := dayNames[d]
				if !ok {
					return f, false
				}
				f.byDay = append(f.byDay, wd)
			}
		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return f, false
			}
			f.byMonthDay = n
		case "BYMONTH":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 12 {
				return f, false
			}
			f.byMonth = n
		case "UNTIL":
			t, err := parseUntil(val)
			if err != nil {
				return f, false
			}
			f.until = &t
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return f, false
			}
			f.count = n
		default:
			return f, false
		}
	}
	if f.freq == "" {
		return f, false
	}
	return f, true
}

// classify maps parsed fields onto the pattern model. It reports false when a
// field combination the model cannot carry would be dropped, so the caller
// preserves the raw rule instead.
func classify(f ruleFields) (Pattern, bool) {
	switch f.freq {
	case "DAILY":
		if len(f.byDay) > 0 || f.nthWeek > 0 || f.byMonthDay > 0 || f.byMonth > 0 {
			return Pattern{}, false
		}
		return Pattern{Kind: Daily, Interval: extraInterval(f.interval)}, true

	case "WEEKLY":
		if f.nthWeek > 0 || f.byMonthDay > 0 || f.byMonth > 0 {
			return Pattern{}, false
		}
		if f.interval == 2 && len(f.byDay) <= 1 {
			return Pattern{Kind: Biweekly}, true
		}
		if f.interval == 1 && isAllWeekdays(f.byDay) {
			return Pattern{Kind: Weekdays}, true
		}
		return Pattern{Kind: Weekly, Interval: extraInterval(f.interval), DaysOfWeek: f.byDay}, true

	case "MONTHLY":
		if len(f.byDay) > 0 || f.byMonth > 0 {
			return Pattern{}, false
		}
		if f.nthWeek > 0 {
			if f.byMonthDay > 0 {
				return Pattern{}, false
			}
			return Pattern{
				Kind:        Monthly,
				Interval:    extraInterval(f.interval),
				WeekOfMonth: f.nthWeek,
				Weekday:     f.nthWeekday,
			}, true
		}
		if f.interval == 3 {
			return Pattern{Kind: Quarterly, DayOfMonth: f.byMonthDay}, true
		}
		return Pattern{Kind: Monthly, Interval: extraInterval(f.interval), DayOfMonth: f.byMonthDay}, true

	case "YEARLY":
		if len(f.byDay) > 0 || f.nthWeek > 0 {
			return Pattern{}, false
		}
		return Pattern{
			Kind:       Yearly,
			Interval:   extraInterval(f.interval),
			Month:      time.Month(f.byMonth),
			DayOfMonth: f.byMonthDay,
		}, true
	}
	return Pattern{}, false
}

// scanEnd extracts a termination condition from a rule we otherwise treat as
// opaque, so callers still learn when a custom series stops.
func scanEnd(body string) End {
	for _, part := range strings.Split(body, ";") {
		switch {
		case strings.HasPrefix(part, "UNTIL="):
			if t, err := parseUntil(strings.TrimPrefix(part, "UNTIL=")); err == nil {
				return Until(t)
			}
		case strings.HasPrefix(part, "COUNT="):
			if n, err := strconv.Atoi(strings.TrimPrefix(part, "COUNT=")); err == nil && n > 0 {
				return Count(n)
			}
		}
	}
	return Never()
}

func parseUntil(val string) (time.Time, error) {
	t, err := time.Parse(untilLayout, val)
	if err != nil {
		t, err = time.Parse("20060102", val)
	}
	return t, err
}

func extraInterval(n int) int {
	if n > 1 {
		return n
	}
	return 0
}

func isAllWeekdays(days []time.Weekday) bool {
	if len(days) != 5 {
		return false
	}
	seen := make(map[time.Weekday]bool, 5)
	for _, d := range days {
		seen[d] = true
	}
	for _, d := range weekdaySet {
		if !seen[d] {
			return false
		}
	}
	return true
}

func joinDays(days []time.Weekday) string {
	abbrevs := make([]string, len(days))
	for i, d := range days {
		abbrevs[i] = dayAbbrev[d]
	}
	return strings.Join(abbrevs, ",")
}
