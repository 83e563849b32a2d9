// Package timeutil builds the reporting windows used by usage analytics.
package timeutil

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidPeriod = errors.New("invalid period")

// MaxPeriod bounds how far back a usage report may look.
const MaxPeriod = 365 * 24 * time.Hour

// Window is a rolling [start, end) range anchored to a location.
type Window struct {
	period string
	start  time.Time
	end    time.Time
	loc    *time.Location
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// NewWindow builds a window ending at now for a period such as "7d" or "24h".
// A bare integer is read as days.
func NewWindow(period string, now time.Time, loc *time.Location) (Window, error) {
	loc = EnsureLocation(loc)
	p := normalizePeriod(period)
	dur, err := durationFromPeriod(p)
	if err != nil {
		return Window{}, err
	}
	now = now.In(loc)
	return Window{period: p, start: now.Add(-dur), end: now, loc: loc}, nil
}

func (w Window) Period() string { return w.period }
func (w Window) Start() time.Time { return w.start }
func (w Window) End() time.Time { return w.end }
func (w Window) Location() *time.Location { return EnsureLocation(w.loc) }
func (w Window) Contains(ts time.Time) bool { return !ts.Before(w.start) && ts.Before(w.end) }
func (w Window) Duration() time.Duration { return w.end.Sub(w.start) }

// Days returns the window length rounded up to whole days.
func (w Window) Days() int {
	d := w.Duration()
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func durationFromPeriod(p string) (time.Duration, error) {
	if p == "" {
		return 0, ErrInvalidPeriod
	}
	unit := 24 * time.Hour
	value := p
	switch p[len(p)-1] {
	case 'd':
		value = p[:len(p)-1]
	case 'h':
		unit = time.Hour
		value = p[:len(p)-1]
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, ErrInvalidPeriod
	}
	dur := time.Duration(n) * unit
	if dur > MaxPeriod {
		return 0, ErrInvalidPeriod
	}
	return dur, nil
}

func normalizePeriod(period string) string {
	p := strings.ToLower(strings.TrimSpace(period))
	if p != "" && p[len(p)-1] >= '0' && p[len(p)-1] <= '9' {
		p += "d"
	}
	return p
}
