package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Weekdays is a bit set over Monday..Sunday.
type Weekdays uint8

const (
	Monday Weekdays = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayOrder = []struct {
	day  Weekdays
	name string
}{
	{Monday, "Mon"},
	{Tuesday, "Tue"},
	{Wednesday, "Wed"},
	{Thursday, "Thu"},
	{Friday, "Fri"},
	{Saturday, "Sat"},
	{Sunday, "Sun"},
}

var weekdayNames = map[string]Weekdays{
	"mon": Monday, "monday": Monday,
	"tue": Tuesday, "tues": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "thur": Thursday, "thurs": Thursday, "thursday": Thursday,
	"fri": Friday, "friday": Friday,
	"sat": Saturday, "saturday": Saturday,
	"sun": Sunday, "sunday": Sunday,
}

// String renders the set as "Mon/Wed/Fri".
func (w Weekdays) String() string {
	names := make([]string, 0, 7)
	for _, d := range weekdayOrder {
		if w&d.day != 0 {
			names = append(names, d.name)
		}
	}
	return strings.Join(names, "/")
}

// DayTimeSpec describes when a section meets: a day set and a [Start, End)
// range in minutes since midnight.
type DayTimeSpec struct {
	Days  Weekdays `json:"days"`
	Start int      `json:"start"`
	End   int      `json:"end"`
}

// String renders the spec as "Mon/Wed/Fri 09:00-10:00".
func (s DayTimeSpec) String() string {
	return fmt.Sprintf("%s %s-%s", s.Days, formatMinutes(s.Start), formatMinutes(s.End))
}

// DayTimeParseError reports a day/time string that could not be understood.
type DayTimeParseError struct {
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *DayTimeParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("parse day/time %q: %s", e.Raw, e.Reason)
}

// ParseDayTimeSpec reads strings such as "MWF 09:00-10:00", "TTh 13:00-14:30"
// or "Mon,Wed 9:00 - 10:30". It never skips unknown tokens.
func ParseDayTimeSpec(raw string) (DayTimeSpec, error) {
	trimmed := strings.TrimSpace(raw)
	idx := strings.IndexFunc(trimmed, unicode.IsDigit)
	if idx <= 0 {
		return DayTimeSpec{}, &DayTimeParseError{Raw: raw, Reason: "expected days followed by a time range"}
	}
	days, err := parseDays(trimmed[:idx])
	if err != nil {
		return DayTimeSpec{}, &DayTimeParseError{Raw: raw, Reason: err.Error()}
	}
	start, end, err := parseRange(trimmed[idx:])
	if err != nil {
		return DayTimeSpec{}, &DayTimeParseError{Raw: raw, Reason: err.Error()}
	}
	return DayTimeSpec{Days: days, Start: start, End: end}, nil
}

func parseDays(raw string) (Weekdays, error) {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == ',' || r == '/' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return 0, fmt.Errorf("no days given")
	}
	var days Weekdays
	for _, field := range fields {
		if d, ok := weekdayNames[field]; ok {
			days |= d
			continue
		}
		d, err := parseCompactDays(field)
		if err != nil {
			return 0, err
		}
		days |= d
	}
	return days, nil
}

// parseCompactDays reads registrar shorthand like "mwf", "tth" or "mtwrf".
func parseCompactDays(token string) (Weekdays, error) {
	var days Weekdays
	for i := 0; i < len(token); {
		rest := token[i:]
		switch {
		case strings.HasPrefix(rest, "th"):
			days |= Thursday
			i += 2
		case strings.HasPrefix(rest, "tu"):
			days |= Tuesday
			i += 2
		case strings.HasPrefix(rest, "sa"):
			days |= Saturday
			i += 2
		case strings.HasPrefix(rest, "su"):
			days |= Sunday
			i += 2
		default:
			switch rest[0] {
			case 'm':
				days |= Monday
			case 't':
				days |= Tuesday
			case 'w':
				days |= Wednesday
			case 'r':
				days |= Thursday
			case 'f':
				days |= Friday
			case 's':
				days |= Saturday
			case 'u':
				days |= Sunday
			default:
				return 0, fmt.Errorf("unknown day token %q", token)
			}
			i++
		}
	}
	return days, nil
}

func parseRange(raw string) (int, int, error) {
	compact := strings.ReplaceAll(raw, " ", "")
	from, to, ok := strings.Cut(compact, "-")
	if !ok {
		return 0, 0, fmt.Errorf("time range must be HH:MM-HH:MM")
	}
	start, err := parseClock(from)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(to)
	if err != nil {
		return 0, 0, err
	}
	if start >= end {
		return 0, 0, fmt.Errorf("start %s must be before end %s", from, to)
	}
	return start, end, nil
}

func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
