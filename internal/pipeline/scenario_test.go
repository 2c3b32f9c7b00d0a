package pipeline

import (
	"context"
	"math"
	"testing"
	"time"
)

// Walks the canonical three-report lifecycle: a fast regional report opens
// the event, a second region attaches, the slow reference report confirms.
func TestThreeSourceLifecycle(t *testing.T) {
	repo := newStubRepo()
	hub := testHub(repo, &notifyCounter{})
	ctx := context.Background()
	T := time.Date(2026, 3, 11, 5, 46, 0, 0, time.UTC)

	a := fullReport("emsc", "s1-1", "M", 7.3, T, T.Add(2*time.Second))
	a.Latitude, a.Longitude = 35.0, 139.0
	hub.handleReport(ctx, a)

	if len(hub.open) != 1 {
		t.Fatalf("report A must create an event")
	}
	ev := hub.open[0].ev
	if ev.SourceCount != 1 || !ev.FirstDetectedAt.Equal(T.Add(2*time.Second)) {
		t.Fatalf("seed state wrong: count=%d first=%v", ev.SourceCount, ev.FirstDetectedAt)
	}

	// 45 km away, 10 s later, magnitude off by 0.2: same occurrence.
	b := fullReport("geonet", "s2-1", "M", 7.1, T.Add(10*time.Second), T.Add(12*time.Second))
	b.Latitude, b.Longitude = 35.4, 139.3
	hub.handleReport(ctx, b)

	if len(hub.open) != 1 {
		t.Fatalf("report B must attach, not open a second event")
	}
	if ev.SourceCount != 2 {
		t.Fatalf("source count = %d, want 2", ev.SourceCount)
	}

	c := fullReport("usgs", "ref-1", "Mw", 7.2, T.Add(5*time.Second), T.Add(15*time.Minute+2*time.Second))
	c.Latitude, c.Longitude = 35.1, 139.1
	hub.handleReport(ctx, c)

	if ev.ConfirmedAt == nil {
		t.Fatalf("reference report must confirm")
	}
	if ev.BestMagnitude != 7.2 || ev.MagnitudeProvenance != "usgs" {
		t.Fatalf("reference moment magnitude must win: %v from %q", ev.BestMagnitude, ev.MagnitudeProvenance)
	}
	if ev.AdvantageMinutes == nil || math.Abs(*ev.AdvantageMinutes-15.0) > 0.001 {
		t.Fatalf("advantage = %v, want ~15 minutes", ev.AdvantageMinutes)
	}

	// Confirmed event is out of the pending export set.
	drainPersist(ctx, hub)
	pending, err := repo.ListPendingEvents(ctx)
	if err != nil {
		t.Fatalf("pending query: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("confirmed event must leave the pending set, got %d", len(pending))
	}
}
