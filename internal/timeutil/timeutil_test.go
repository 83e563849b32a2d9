package timeutil

import (
	"errors"
	"testing"
	"time"
)

func TestNewWindowDays(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2024, time.November, 7, 12, 0, 0, 0, time.UTC)
	win, err := NewWindow("7d", now, loc)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if got := win.Period(); got != "7d" {
		t.Fatalf("unexpected period %s", got)
	}
	if !win.End().Equal(now) {
		t.Fatalf("unexpected end %v", win.End())
	}
	if !win.Start().Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Fatalf("unexpected start %v", win.Start())
	}
	if win.Days() != 7 {
		t.Fatalf("unexpected days %d", win.Days())
	}
}

func TestNewWindowBareIntegerIsDays(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
	win, err := NewWindow(" 30 ", now, nil)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if win.Period() != "30d" || win.Duration() != 30*24*time.Hour {
		t.Fatalf("unexpected window %s %v", win.Period(), win.Duration())
	}
}

func TestNewWindowHours(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
	win, err := NewWindow("36h", now, time.UTC)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if !win.Contains(now.Add(-12 * time.Hour)) {
		t.Fatalf("expected timestamp within window")
	}
	if win.Contains(now.Add(-37 * time.Hour)) {
		t.Fatalf("timestamp should be outside window")
	}
	if win.Days() != 2 {
		t.Fatalf("partial days round up, got %d", win.Days())
	}
}

func TestNewWindowRejectsBadPeriods(t *testing.T) {
	now := time.Now()
	for _, p := range []string{"", "0d", "-3d", "abc", "7w", "400d"} {
		if _, err := NewWindow(p, now, time.UTC); !errors.Is(err, ErrInvalidPeriod) {
			t.Fatalf("period %q: expected ErrInvalidPeriod, got %v", p, err)
		}
	}
}

func TestTruncateToDay(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	ts := time.Date(2024, 3, 1, 22, 15, 0, 0, time.UTC)
	got := TruncateToDay(ts, loc)
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
