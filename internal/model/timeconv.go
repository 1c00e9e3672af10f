package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Calendars the orchestrator can convert.
const (
	CalendarStandard           = "standard"
	CalendarProlepticGregorian = "proleptic_gregorian"
	Calendar360Day             = "360_day"
)

// Date is a calendar timestamp. Unlike time.Time it can express dates that
// only exist in model calendars, e.g. the 30th of February in a 360-day year.
type Date struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// DateOf converts a wall-clock time, in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return Date{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ",
		d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

// Time converts to a time.Time. ok is false when the date does not exist in
// the proleptic Gregorian calendar and would be silently normalized.
func (d Date) Time() (time.Time, bool) {
	t := time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second, 0, time.UTC)
	return t, DateOf(t) == d
}

// TimeConverter maps between a model's numeric time axis (a count of a unit
// since an epoch) and calendar timestamps. The unit is taken from the
// declared units string and is never assumed to be seconds.
type TimeConverter struct {
	unitSeconds float64
	calendar    string
	epoch       Date
	epochTime   time.Time
}

var unitSeconds = map[string]float64{
	"second":  1,
	"seconds": 1,
	"minute":  60,
	"minutes": 60,
	"hour":    3600,
	"hours":   3600,
	"day":     86400,
	"days":    86400,
}

// NewTimeConverter parses a units string of the form "<unit> since <epoch>",
// e.g. "days since 2000-01-01T00:00:00Z". An empty calendar means standard.
func NewTimeConverter(units, calendar string) (*TimeConverter, error) {
	if calendar == "" {
		calendar = CalendarStandard
	}
	switch calendar {
	case CalendarStandard, CalendarProlepticGregorian, Calendar360Day:
	default:
		return nil, fmt.Errorf("unsupported calendar %q", calendar)
	}
	unitName, epochStr, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return nil, fmt.Errorf("time units %q are not of the form '<unit> since <epoch>'", units)
	}
	secs, ok := unitSeconds[strings.ToLower(strings.TrimSpace(unitName))]
	if !ok {
		return nil, fmt.Errorf("unsupported time unit %q", unitName)
	}
	epoch, err := parseEpoch(strings.TrimSpace(epochStr))
	if err != nil {
		return nil, fmt.Errorf("time units %q: %w", units, err)
	}
	c := &TimeConverter{unitSeconds: secs, calendar: calendar, epoch: epoch}
	if calendar != Calendar360Day {
		t, valid := epoch.Time()
		if !valid {
			return nil, fmt.Errorf("epoch %s is not a valid date", epoch)
		}
		c.epochTime = t
	}
	return c, nil
}

// Calendar returns the converter's calendar name.
func (c *TimeConverter) Calendar() string { return c.calendar }

// NumToDate converts a model time value to a calendar timestamp.
func (c *TimeConverter) NumToDate(value float64) Date {
	seconds := value * c.unitSeconds
	if c.calendar == Calendar360Day {
		return date360(seconds360(c.epoch) + int64(math.Round(seconds)))
	}
	return DateOf(c.epochTime.Add(time.Duration(seconds * float64(time.Second))))
}

// DateToNum converts a calendar timestamp to a model time value.
func (c *TimeConverter) DateToNum(d Date) (float64, error) {
	if c.calendar == Calendar360Day {
		if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 30 {
			return 0, fmt.Errorf("date %s does not exist in the 360-day calendar", d)
		}
		return float64(seconds360(d)-seconds360(c.epoch)) / c.unitSeconds, nil
	}
	t, valid := d.Time()
	if !valid {
		return 0, fmt.Errorf("date %s does not exist in the %s calendar", d, c.calendar)
	}
	return t.Sub(c.epochTime).Seconds() / c.unitSeconds, nil
}

// seconds360 counts seconds from year zero in a calendar of twelve 30-day
// months.
func seconds360(d Date) int64 {
	days := int64(d.Year)*360 + int64(d.Month-1)*30 + int64(d.Day-1)
	return days*86400 + int64(d.Hour)*3600 + int64(d.Minute)*60 + int64(d.Second)
}

func date360(seconds int64) Date {
	days := floorDiv(seconds, 86400)
	rem := seconds - days*86400
	year := floorDiv(days, 360)
	dayOfYear := days - year*360
	return Date{
		Year:   int(year),
		Month:  int(dayOfYear/30) + 1,
		Day:    int(dayOfYear%30) + 1,
		Hour:   int(rem / 3600),
		Minute: int(rem % 3600 / 60),
		Second: int(rem % 60),
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// epochLayouts are the epoch spellings seen in the wild.
var epochLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseEpoch(s string) (Date, error) {
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	// A 360-day epoch like "2000-02-30" is valid but unparseable as a real
	// date; take it apart by hand.
	var d Date
	datePart, timePart, _ := strings.Cut(s, " ")
	if _, err := fmt.Sscanf(datePart, "%d-%d-%d", &d.Year, &d.Month, &d.Day); err != nil {
		return Date{}, fmt.Errorf("cannot parse epoch %q", s)
	}
	if timePart != "" {
		if _, err := fmt.Sscanf(timePart, "%d:%d:%d", &d.Hour, &d.Minute, &d.Second); err != nil {
			return Date{}, fmt.Errorf("cannot parse epoch %q", s)
		}
	}
	if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 {
		return Date{}, fmt.Errorf("cannot parse epoch %q", s)
	}
	return d, nil
}
