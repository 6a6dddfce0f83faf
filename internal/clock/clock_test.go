package clock

import (
	"testing"
	"time"
)

func TestInZoneUsesTournamentZone(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	got := InZone(now, "America/Chicago", "UTC")
	if got.Location().String() != "America/Chicago" {
		t.Fatalf("expected America/Chicago, got %s", got.Location())
	}
	if !got.Equal(now) {
		t.Fatalf("expected same instant")
	}
}

func TestInZoneFallsBack(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	if got := InZone(now, "Not/AZone", "America/Denver"); got.Location().String() != "America/Denver" {
		t.Fatalf("expected fallback zone, got %s", got.Location())
	}
	if got := InZone(now, "", ""); got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %s", got.Location())
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(90 * time.Minute)
	if want := start.Add(90 * time.Minute); !c.Now().Equal(want) {
		t.Fatalf("expected %s, got %s", want, c.Now())
	}
}
