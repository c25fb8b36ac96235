package recur

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// maxIterations bounds the occurrence walk so a "never"-ending pattern (or a
// weekly pattern scanning day by day) always terminates.
const maxIterations = 1000

// Occurrences generates up to limit concrete occurrence instants for the
// pattern, starting at start. Occurrences at or before after are counted
// against the end condition but excluded from the result; pass the zero time
// to keep everything. Generation stops at limit, at the end condition, or at
// the safety iteration cap, whichever comes first.
func Occurrences(p Pattern, end End, start time.Time, limit int, after time.Time) ([]time.Time, error) {
	if limit <= 0 {
		return nil, nil
	}
	if p.Kind == Custom {
		return customOccurrences(p, end, start, limit, after)
	}

	it, err := newIterator(p, start)
	if err != nil {
		return nil, err
	}

	var results []time.Time
	total := 0
	for i := 0; i < maxIterations; i++ {
		t, emit := it.next()
		if !emit {
			continue
		}
		if end.Kind == EndUntil && t.After(endOfDay(end.Until)) {
			break
		}
		total++
		if end.Kind == EndCount && total > end.Count {
			break
		}
		if !after.IsZero() && !t.After(after) {
			continue
		}
		results = append(results, t)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// NextOccurrence returns the first occurrence strictly after the given
// instant, or false when the series has ended (or the rule cannot be parsed).
func NextOccurrence(p Pattern, end End, start, after time.Time) (time.Time, bool) {
	occ, err := Occurrences(p, end, start, 1, after)
	if err != nil || len(occ) == 0 {
		return time.Time{}, false
	}
	return occ[0], true
}

// iterator walks candidate dates for one pattern. next returns the candidate
// and whether it is an occurrence; day-scanning patterns (weekdays, weekly
// with a day set) visit every day and filter by membership.
type iterator struct {
	p     Pattern
	start time.Time
	cur   time.Time
	idx   int
	emit  func(t time.Time) bool
	step  func(i int) time.Time
}

func newIterator(p Pattern, start time.Time) (*iterator, error) {
	it := &iterator{p: p, start: start}
	interval := p.interval()

	switch p.Kind {
	case Daily:
		it.step = func(i int) time.Time { return start.AddDate(0, 0, i*interval) }

	case Weekdays:
		it.step = func(i int) time.Time { return start.AddDate(0, 0, i) }
		it.emit = func(t time.Time) bool { return isWeekday(t.Weekday()) }

	case Weekly:
		days := p.DaysOfWeek
		if len(days) == 0 {
			it.step = func(i int) time.Time { return start.AddDate(0, 0, i*7*interval) }
			break
		}
		member := make(map[time.Weekday]bool, len(days))
		for _, d := range days {
			member[d] = true
		}
		anchor := startOfWeek(start)
		it.step = func(i int) time.Time { return start.AddDate(0, 0, i) }
		it.emit = func(t time.Time) bool {
			if !member[t.Weekday()] {
				return false
			}
			// Round so a DST shift cannot skew the week index.
			weeks := int(math.Round(startOfWeek(t).Sub(anchor).Hours() / (24 * 7)))
			return weeks%interval == 0
		}

	case Biweekly:
		it.step = func(i int) time.Time { return start.AddDate(0, 0, i*14) }

	case Monthly:
		if p.WeekOfMonth > 0 {
			it.step = func(i int) time.Time {
				return nthWeekdayOfMonth(addMonths(start, i*interval, 1), p.WeekOfMonth, p.Weekday)
			}
			break
		}
		day := p.DayOfMonth
		if day == 0 {
			day = start.Day()
		}
		it.step = func(i int) time.Time { return addMonths(start, i*interval, day) }

	case Quarterly:
		day := p.DayOfMonth
		if day == 0 {
			day = start.Day()
		}
		it.step = func(i int) time.Time { return addMonths(start, i*3, day) }

	case Yearly:
		month := p.Month
		if month == 0 {
			month = start.Month()
		}
		day := p.DayOfMonth
		if day == 0 {
			day = start.Day()
		}
		it.step = func(i int) time.Time {
			year := start.Year() + i*interval
			return dateAt(start, year, month, clampDay(year, month, day))
		}

	default:
		return nil, fmt.Errorf("cannot iterate pattern kind %d", p.Kind)
	}

	return it, nil
}

func (it *iterator) next() (time.Time, bool) {
	t := it.step(it.idx)
	it.idx++
	if it.emit != nil && !it.emit(t) {
		return t, false
	}
	if t.Before(it.start) {
		return t, false
	}
	return t, true
}

func customOccurrences(p Pattern, end End, start time.Time, limit int, after time.Time) ([]time.Time, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(p.Raw), rulePrefix)
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, fmt.Errorf("parse custom rule: %w", err)
	}
	r.DTStart(start)

	var results []time.Time
	total := 0
	next := r.Iterator()
	for i := 0; i < maxIterations; i++ {
		t, ok := next()
		if !ok {
			break
		}
		if end.Kind == EndUntil && t.After(endOfDay(end.Until)) {
			break
		}
		total++
		if end.Kind == EndCount && total > end.Count {
			break
		}
		if !after.IsZero() && !t.After(after) {
			continue
		}
		results = append(results, t)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// addMonths advances start by n calendar months and pins the result to day,
// clamped to the last valid day of the target month. Anchoring on the start
// month avoids the drift AddDate causes when an intermediate month is short.
func addMonths(start time.Time, n, day int) time.Time {
	year := start.Year()
	month := int(start.Month()) - 1 + n
	year += month / 12
	month = month % 12
	if month < 0 {
		month += 12
		year--
	}
	m := time.Month(month + 1)
	return dateAt(start, year, m, clampDay(year, m, day))
}

// nthWeekdayOfMonth returns the nth given weekday of anchor's month, falling
// back to the last such weekday when the month has fewer than n.
func nthWeekdayOfMonth(anchor time.Time, n int, wd time.Weekday) time.Time {
	first := dateAt(anchor, anchor.Year(), anchor.Month(), 1)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	day := 1 + offset + (n-1)*7
	last := daysInMonth(anchor.Year(), anchor.Month())
	for day > last {
		day -= 7
	}
	return dateAt(anchor, anchor.Year(), anchor.Month(), day)
}

func dateAt(base time.Time, year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day,
		base.Hour(), base.Minute(), base.Second(), 0, base.Location())
}

func clampDay(year int, month time.Month, day int) int {
	if last := daysInMonth(year, month); day > last {
		return last
	}
	return day
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) - int(time.Monday) + 7) % 7
	d := t.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}

func isWeekday(d time.Weekday) bool {
	return d >= time.Monday && d <= time.Friday
}

// endOfDay widens a date-only UNTIL bound to include occurrences later the
// same day.
func endOfDay(t time.Time) time.Time {
	if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 {
		return t
	}
	return t.AddDate(0, 0, 1).Add(-time.Second)
}
