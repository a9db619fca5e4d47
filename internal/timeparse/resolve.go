// Package timeparse resolves structured datetime specifications (absolute
// calendar fields, relative offsets from a reference instant, or "now")
// into concrete timestamps. The model extracts the specification from the
// user's utterance; this package does the calendar arithmetic.
package timeparse

import (
	"time"
)

// Fields holds optional calendar components. In an absolute spec they are
// literal values; in a relative spec they are offsets from the reference
// instant (day=-1 is yesterday, month=1 is next month).
type Fields struct {
	Year   *int `json:"year,omitempty"`
	Month  *int `json:"month,omitempty"`
	Day    *int `json:"day,omitempty"`
	Hour   *int `json:"hour,omitempty"`
	Minute *int `json:"minute,omitempty"`
}

func (f *Fields) empty() bool {
	return f == nil || (f.Year == nil && f.Month == nil && f.Day == nil && f.Hour == nil && f.Minute == nil)
}

func (f *Fields) hasClock() bool {
	return f != nil && (f.Hour != nil || f.Minute != nil)
}

// Spec describes one point in time. Relative offsets are applied first,
// then absolute fields override the result. Now short-circuits both.
type Spec struct {
	Absolute *Fields `json:"absolute,omitempty"`
	Relative *Fields `json:"relative,omitempty"`
	Now      bool    `json:"now,omitempty"`
}

// Empty reports whether the spec carries no datetime information at all.
func (s *Spec) Empty() bool {
	if s == nil {
		return true
	}
	if s.Now {
		return false
	}
	return s.Absolute.empty() && s.Relative.empty()
}

// hasClock reports whether the spec mentions explicit time-of-day units.
func (s *Spec) hasClock() bool {
	if s == nil {
		return false
	}
	return s.Absolute.hasClock() || s.Relative.hasClock()
}

// Range is a start/end pair of specs.
type Range struct {
	Start *Spec `json:"start,omitempty"`
	End   *Spec `json:"end,omitempty"`
}

// Input is the payload handed to Resolve: exactly one of Single or Range
// should be set.
type Input struct {
	Single *Spec  `json:"single,omitempty"`
	Range  *Range `json:"range,omitempty"`
}

// Computed is one resolved endpoint: either the literal reference instant
// ("now") or a formatted local timestamp.
type Computed struct {
	Now      bool   `json:"now,omitempty"`
	DateTime string `json:"datetime,omitempty"`
}

// ComputedRange is a resolved start/end pair.
type ComputedRange struct {
	Start Computed `json:"start"`
	End   Computed `json:"end"`
}

// Result is the outcome of resolving an Input. When Parsable is false,
// Reason explains what was missing.
type Result struct {
	Parsable bool           `json:"parsable"`
	Reason   string         `json:"reason,omitempty"`
	Single   *Computed      `json:"single,omitempty"`
	Range    *ComputedRange `json:"range,omitempty"`
}

// stampLayout is the wire format for resolved timestamps.
const stampLayout = "2006-01-02T15:04:05"

// Resolve computes concrete timestamps for in, using now as the reference
// instant. It is a pure function of its inputs.
func Resolve(in Input, now time.Time) Result {
	if in.Single == nil && in.Range == nil {
		return Result{Parsable: false, Reason: "no datetime information provided in the input"}
	}

	if in.Single != nil {
		if in.Single.Empty() {
			return Result{Parsable: false, Reason: "single time specification is empty"}
		}
		c := compute(in.Single, now)
		return Result{Parsable: true, Single: &c}
	}

	r := in.Range
	startEmpty := r.Start.Empty()
	endEmpty := r.End.Empty()

	res := Result{Parsable: true}
	if startEmpty && endEmpty {
		res.Parsable = false
		res.Reason = "both range endpoints are empty"
	}

	var start, end Computed
	if r.Start.hasClock() {
		start = compute(r.Start, now)
	} else {
		start = expandEndpoint(r.Start, true, now)
	}
	if r.End.hasClock() {
		end = compute(r.End, now)
	} else {
		end = expandEndpoint(r.End, false, now)
	}

	res.Range = &ComputedRange{Start: start, End: end}
	return res
}

// compute resolves a spec that carries explicit time-of-day information
// (or is used as a single point): relative shifts first, then absolute
// overrides.
func compute(s *Spec, now time.Time) Computed {
	if s.Now {
		return Computed{Now: true}
	}

	dt := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), 0, now.Location())
	dt = applyRelative(dt, s.Relative)
	dt = applyAbsolute(dt, s.Absolute)

	return Computed{DateTime: dt.Format(stampLayout)}
}

// expandEndpoint resolves a range endpoint that has no explicit clock
// units: a day mention expands to the full day, a month to the full month,
// a year to the full year, falling back to the full current day. A lone
// relative day offset of zero means "right now", not "all of today".
func expandEndpoint(s *Spec, isStart bool, now time.Time) Computed {
	if s != nil && s.Now {
		return Computed{Now: true}
	}

	base := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), 0, now.Location())

	if s == nil || s.Empty() {
		return Computed{DateTime: dayBoundary(base, isStart).Format(stampLayout)}
	}

	base = applyRelative(base, s.Relative)
	base = applyAbsolute(base, s.Absolute)

	abs := s.Absolute
	if abs == nil {
		abs = &Fields{}
	}
	rel := s.Relative
	if rel == nil {
		rel = &Fields{}
	}

	hasDay := abs.Day != nil || rel.Day != nil
	hasMonth := abs.Month != nil || rel.Month != nil
	hasYear := abs.Year != nil || rel.Year != nil

	// "today" expressed as a relative day offset of zero with nothing else
	// refers to the current moment.
	if hasDay && !hasMonth && !hasYear &&
		abs.Day == nil && rel.Day != nil && *rel.Day == 0 {
		return Computed{DateTime: base.Format(stampLayout)}
	}

	var chosen time.Time
	switch {
	case hasDay:
		chosen = dayBoundary(base, isStart)
	case hasMonth:
		chosen = monthBoundary(base, isStart)
	case hasYear:
		chosen = yearBoundary(base, isStart)
	default:
		chosen = dayBoundary(base, isStart)
	}

	return Computed{DateTime: chosen.Format(stampLayout)}
}

// applyRelative shifts dt by the given offsets. Month arithmetic carries
// into the year rather than normalising through days, so "one month after
// January 31" lands in February, not March.
func applyRelative(dt time.Time, rel *Fields) time.Time {
	if rel == nil {
		return dt
	}
	if rel.Year != nil {
		dt = time.Date(dt.Year()+*rel.Year, dt.Month(), dt.Day(), dt.Hour(), dt.Minute(), dt.Second(), 0, dt.Location())
	}
	if rel.Month != nil {
		newMonth := int(dt.Month()) + *rel.Month
		yearOffset := floorDiv(newMonth-1, 12)
		month := floorMod(newMonth-1, 12) + 1
		dt = time.Date(dt.Year()+yearOffset, time.Month(month), dt.Day(), dt.Hour(), dt.Minute(), dt.Second(), 0, dt.Location())
	}
	if rel.Day != nil {
		dt = dt.AddDate(0, 0, *rel.Day)
	}
	if rel.Hour != nil {
		dt = dt.Add(time.Duration(*rel.Hour) * time.Hour)
	}
	if rel.Minute != nil {
		dt = dt.Add(time.Duration(*rel.Minute) * time.Minute)
	}
	return dt
}

// applyAbsolute overrides calendar fields on dt. Setting the hour without
// a minute zeroes the minute; any clock override zeroes the seconds.
func applyAbsolute(dt time.Time, abs *Fields) time.Time {
	if abs == nil {
		return dt
	}
	year, month, day := dt.Year(), dt.Month(), dt.Day()
	hour, minute, sec := dt.Hour(), dt.Minute(), dt.Second()

	if abs.Year != nil {
		year = *abs.Year
	}
	if abs.Month != nil {
		month = time.Month(*abs.Month)
	}
	if abs.Day != nil {
		day = *abs.Day
	}
	if abs.Hour != nil || abs.Minute != nil {
		if abs.Hour != nil {
			hour = *abs.Hour
			minute = 0
		}
		if abs.Minute != nil {
			minute = *abs.Minute
		}
		sec = 0
	}
	return time.Date(year, month, day, hour, minute, sec, 0, dt.Location())
}

func dayBoundary(dt time.Time, isStart bool) time.Time {
	if isStart {
		return time.Date(dt.Year(), dt.Month(), dt.Day(), 0, 0, 0, 0, dt.Location())
	}
	return time.Date(dt.Year(), dt.Month(), dt.Day(), 23, 59, 59, 0, dt.Location())
}

func monthBoundary(dt time.Time, isStart bool) time.Time {
	if isStart {
		return time.Date(dt.Year(), dt.Month(), 1, 0, 0, 0, 0, dt.Location())
	}
	firstOfNext := time.Date(dt.Year(), dt.Month(), 1, 0, 0, 0, 0, dt.Location()).AddDate(0, 1, 0)
	lastDay := firstOfNext.AddDate(0, 0, -1)
	return time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(), 23, 59, 59, 0, dt.Location())
}

func yearBoundary(dt time.Time, isStart bool) time.Time {
	if isStart {
		return time.Date(dt.Year(), time.January, 1, 0, 0, 0, 0, dt.Location())
	}
	return time.Date(dt.Year(), time.December, 31, 23, 59, 59, 0, dt.Location())
}

// floorDiv is integer division rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod is the non-negative remainder matching floorDiv.
func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
