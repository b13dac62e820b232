package clock

import (
	"testing"
	"time"
)

// TestSystemNowUTC ensures the clock returns UTC timestamps.
func TestSystemNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := System{}.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	clk.Advance(90 * time.Second)
	if got := clk.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("expected %v, got %v", start.Add(90*time.Second), got)
	}
}
