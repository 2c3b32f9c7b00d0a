package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"quakewatch/internal/models"
)

func testHub(repo *stubRepo, export ExportNotifier) *Hub {
	return NewHub(HubConfig{
		Match:                matchParams,
		ReferenceSource:      "usgs",
		SignificantMagnitude: 7.0,
		MinMagnitude:         4.5,
		OpenWindow:           24 * time.Hour,
		IngestBuffer:         32,
	}, repo, export, nil)
}

func TestHubLifecycle(t *testing.T) {
	repo := newStubRepo()
	notifier := &notifyCounter{}
	hub := testHub(repo, notifier)
	ctx := context.Background()

	eventTime := time.Date(2026, 3, 11, 5, 46, 0, 0, time.UTC)

	// First report opens an event.
	first := fullReport("jma", "jma-1", "MJMA", 7.9, eventTime, eventTime.Add(90*time.Second))
	first.Latitude, first.Longitude = 38.3, 142.4
	hub.handleReport(ctx, first)

	if len(hub.open) != 1 {
		t.Fatalf("expected 1 open event, got %d", len(hub.open))
	}
	ev := hub.open[0].ev
	if !ev.Pending() || ev.SourceCount != 1 {
		t.Fatalf("unexpected event state: %+v", ev)
	}
	if notifier.count() != 1 {
		t.Fatalf("new event must notify export, got %d", notifier.count())
	}

	// Nearby report from another source merges.
	second := fullReport("emsc", "em-1", "mw", 7.7, eventTime.Add(40*time.Second), eventTime.Add(2*time.Minute))
	second.Latitude, second.Longitude = 38.5, 142.6
	hub.handleReport(ctx, second)

	if len(hub.open) != 1 {
		t.Fatalf("matching report must not open a second event")
	}
	if ev.SourceCount != 2 {
		t.Fatalf("source count = %d, want 2", ev.SourceCount)
	}

	// Reference report confirms and freezes the advantage.
	ref := fullReport("usgs", "us-1", "Mww", 9.1, eventTime, eventTime.Add(10*time.Minute))
	ref.Latitude, ref.Longitude = 38.3, 142.4
	hub.handleReport(ctx, ref)

	if ev.ConfirmedAt == nil {
		t.Fatalf("reference report must confirm the event")
	}
	if ev.AdvantageMinutes == nil || *ev.AdvantageMinutes != 8.5 {
		t.Fatalf("advantage = %v, want 8.5", ev.AdvantageMinutes)
	}
	if len(hub.open) != 1 {
		t.Fatalf("confirmed event stays in the open set until trimmed")
	}
}

func TestHubReferenceSeededEventConfirmedAtBirth(t *testing.T) {
	repo := newStubRepo()
	notifier := &notifyCounter{}
	hub := testHub(repo, notifier)
	ctx := context.Background()

	eventTime := time.Date(2026, 3, 11, 5, 46, 0, 0, time.UTC)
	rep := fullReport("usgs", "us-1", "Mww", 7.8, eventTime, eventTime.Add(5*time.Minute))
	rep.Latitude, rep.Longitude = 38.3, 142.4
	hub.handleReport(ctx, rep)

	if len(hub.open) != 1 {
		t.Fatalf("expected 1 open event, got %d", len(hub.open))
	}
	ev := hub.open[0].ev
	if ev.Pending() {
		t.Fatalf("reference-seeded event must be confirmed from birth")
	}
	if ev.ConfirmedAt == nil || !ev.ConfirmedAt.Equal(rep.ReceivedAt) {
		t.Fatalf("confirmed at = %v, want %v", ev.ConfirmedAt, rep.ReceivedAt)
	}
	if ev.AdvantageMinutes == nil || *ev.AdvantageMinutes != 0 {
		t.Fatalf("advantage = %v, want 0", ev.AdvantageMinutes)
	}
	if notifier.count() != 0 {
		t.Fatalf("a never-pending event must not re-arm the publisher, got %d", notifier.count())
	}

	// It never reaches the pending export set, in memory or durably.
	drainPersist(ctx, hub)
	pending, err := repo.ListPendingEvents(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending events, got %d", len(pending))
	}
}

func TestHubDuplicateDelivery(t *testing.T) {
	repo := newStubRepo()
	hub := testHub(repo, &notifyCounter{})
	ctx := context.Background()

	eventTime := time.Date(2026, 3, 11, 5, 46, 0, 0, time.UTC)
	rep := fullReport("jma", "jma-1", "MJMA", 7.9, eventTime, eventTime.Add(time.Minute))
	rep.Latitude, rep.Longitude = 38.3, 142.4

	hub.handleReport(ctx, rep)
	hub.handleReport(ctx, rep)
	hub.handleReport(ctx, rep)

	if len(hub.open) != 1 {
		t.Fatalf("duplicates must not open events, got %d", len(hub.open))
	}
	if got := len(hub.open[0].reports); got != 1 {
		t.Fatalf("duplicates must not attach, got %d reports", got)
	}
}

func TestHubDuplicateAcrossRestart(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()

	eventTime := time.Date(2026, 3, 11, 5, 46, 0, 0, time.UTC)
	rep := fullReport("jma", "jma-1", "MJMA", 7.9, eventTime, eventTime.Add(time.Minute))
	rep.Latitude, rep.Longitude = 38.3, 142.4

	first := testHub(repo, &notifyCounter{})
	first.handleReport(ctx, rep)
	drainPersist(ctx, first)

	// A fresh hub with an empty in-memory index must still reject the
	// replay because the report is already durable.
	second := testHub(repo, &notifyCounter{})
	second.handleReport(ctx, rep)
	if len(second.open) != 0 {
		t.Fatalf("replayed report must be rejected after restart")
	}
}

func TestHubRebuild(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()
	eventTime := time.Now().UTC().Add(-time.Hour)

	hub := testHub(repo, &notifyCounter{})
	rep := fullReport("jma", "jma-1", "MJMA", 7.9, eventTime, eventTime.Add(time.Minute))
	rep.Latitude, rep.Longitude = 38.3, 142.4
	hub.handleReport(ctx, rep)
	drainPersist(ctx, hub)

	restarted := testHub(repo, &notifyCounter{})
	if err := restarted.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if len(restarted.open) != 1 {
		t.Fatalf("expected 1 rebuilt open event, got %d", len(restarted.open))
	}
	if len(restarted.open[0].reports) != 1 {
		t.Fatalf("rebuilt event must reload its reports")
	}

	// The rebuilt state matches new reports the same way.
	more := fullReport("emsc", "em-1", "mw", 7.7, eventTime.Add(30*time.Second), eventTime.Add(2*time.Minute))
	more.Latitude, more.Longitude = 38.4, 142.5
	restarted.handleReport(ctx, more)
	if len(restarted.open) != 1 {
		t.Fatalf("report must match the rebuilt event")
	}
}

func TestHubTrimOpenSet(t *testing.T) {
	repo := newStubRepo()
	hub := testHub(repo, &notifyCounter{})
	ctx := context.Background()

	now := time.Now().UTC()
	old := fullReport("jma", "jma-old", "MJMA", 6.0, now.Add(-30*time.Hour), now.Add(-30*time.Hour))
	old.Latitude, old.Longitude = 10.0, 10.0
	fresh := fullReport("jma", "jma-new", "MJMA", 6.0, now.Add(-time.Hour), now.Add(-time.Hour))
	fresh.Latitude, fresh.Longitude = 50.0, 50.0

	hub.handleReport(ctx, old)
	hub.handleReport(ctx, fresh)
	if len(hub.open) != 2 {
		t.Fatalf("expected 2 open events, got %d", len(hub.open))
	}

	if n := hub.TrimOpenSet(now); n != 1 {
		t.Fatalf("trimmed %d, want 1", n)
	}
	if len(hub.open) != 1 || hub.open[0].ev.SourceIDs["jma"] != "jma-new" {
		t.Fatalf("wrong event trimmed")
	}

	// The trimmed event's delivery keys are released with it.
	if _, ok := hub.seen["jma|jma-old"]; ok {
		t.Fatalf("dedup key must be dropped with the event")
	}
}

func TestHubPersistQueueHoldsEveryJob(t *testing.T) {
	repo := newStubRepo()
	hub := testHub(repo, &notifyCounter{})
	ctx := context.Background()

	eventTime := time.Date(2026, 3, 11, 5, 46, 0, 0, time.UTC)
	// Far more jobs than the ingest buffer ever held.
	const jobs = 1000
	for i := 0; i < jobs; i++ {
		rep := fullReport("jma", fmt.Sprintf("jma-%d", i), "MJMA", 6.0, eventTime, eventTime.Add(time.Minute))
		rep.EventID = fmt.Sprintf("ev-%d", i)
		ev := models.Event{ID: rep.EventID, EventTime: eventTime}
		hub.enqueuePersist(persistJob{report: &rep, event: ev, created: true})
	}

	drainPersist(ctx, hub)
	repo.mu.Lock()
	got := len(repo.reports)
	repo.mu.Unlock()
	if got != jobs {
		t.Fatalf("persisted %d reports, want %d", got, jobs)
	}
}

func TestHubPersistRetriesUntilWritten(t *testing.T) {
	repo := newStubRepo()
	repo.failInserts = 3
	hub := testHub(repo, &notifyCounter{})
	hub.retryBase = time.Millisecond
	ctx := context.Background()

	eventTime := time.Date(2026, 3, 11, 5, 46, 0, 0, time.UTC)
	rep := fullReport("jma", "jma-1", "MJMA", 6.0, eventTime, eventTime.Add(time.Minute))
	rep.EventID = "ev-1"
	hub.enqueuePersist(persistJob{report: &rep, event: models.Event{ID: "ev-1", EventTime: eventTime}, created: true})

	drainPersist(ctx, hub)
	repo.mu.Lock()
	got := len(repo.reports)
	repo.mu.Unlock()
	if got != 1 {
		t.Fatalf("report must land once the store recovers, got %d rows", got)
	}
}

func drainPersist(ctx context.Context, hub *Hub) {
	for {
		hub.persistMu.Lock()
		if len(hub.persistQ) == 0 {
			hub.persistMu.Unlock()
			return
		}
		job := hub.persistQ[0]
		hub.persistQ = hub.persistQ[1:]
		hub.persistMu.Unlock()
		hub.persistOne(ctx, job)
	}
}
