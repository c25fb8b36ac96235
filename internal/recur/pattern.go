package recur

import "time"

// Kind tags a recurrence pattern variant.
type Kind int

const (
	Daily Kind = iota
	Weekdays
	Weekly
	Biweekly
	Monthly
	Quarterly
	Yearly
	Custom
)

var kindNames = map[Kind]string{
	Daily:     "daily",
	Weekdays:  "weekdays",
	Weekly:    "weekly",
	Biweekly:  "biweekly",
	Monthly:   "monthly",
	Quarterly: "quarterly",
	Yearly:    "yearly",
	Custom:    "custom",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Pattern is the internal recurrence model. Which fields are meaningful
// depends on Kind:
//
//   - Weekly: DaysOfWeek (empty = weekday of the start date)
//   - Monthly: DayOfMonth, or WeekOfMonth+Weekday for "Nth weekday" patterns
//   - Quarterly: DayOfMonth (0 = day of the start date)
//   - Yearly: Month and DayOfMonth (0 = taken from the start date)
//   - Custom: Raw holds the provider rule verbatim, without the RRULE: prefix
//
// Interval is an optional extra multiplier (0 or 1 = none). Biweekly and
// Quarterly already encode their interval and ignore it.
type Pattern struct {
	Kind        Kind
	Interval    int
	DaysOfWeek  []time.Weekday
	DayOfMonth  int
	WeekOfMonth int
	Weekday     time.Weekday
	Month       time.Month
	Raw         string
}

// EndKind tags how a recurrence terminates.
type EndKind int

const (
	EndNever EndKind = iota
	EndUntil
	EndCount
)

// End is the termination condition paired with a Pattern.
type End struct {
	Kind  EndKind
	Until time.Time // inclusive, valid when Kind == EndUntil
	Count int       // valid when Kind == EndCount
}

// Never, Until and Count are convenience constructors.
func Never() End { return End{Kind: EndNever} }

func Until(t time.Time) End { return End{Kind: EndUntil, Until: t} }

func Count(n int) End { return End{Kind: EndCount, Count: n} }

func (p Pattern) interval() int {
	if p.Interval > 1 {
		return p.Interval
	}
	return 1
}
