package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/datatypes"

	"quakewatch/internal/models"
)

func pendingEvent(id string, mag float64, sources ...string) models.Event {
	ids := datatypes.JSONMap{}
	for _, s := range sources {
		ids[s] = s + "-1"
	}
	return models.Event{
		ID:              id,
		BestMagnitude:   mag,
		Latitude:        38.3,
		Longitude:       142.4,
		EventTime:       time.Date(2026, 3, 11, 5, 46, 0, 0, time.UTC),
		FirstDetectedAt: time.Date(2026, 3, 11, 5, 47, 30, 0, time.UTC),
		SourceIDs:       ids,
		SourceCount:     len(sources),
	}
}

func TestBuildSnapshotExcludesConfirmed(t *testing.T) {
	pending := pendingEvent("pending", 7.9, "jma", "emsc")
	confirmed := pendingEvent("confirmed", 6.1, "usgs")
	now := time.Now().UTC()
	confirmed.ConfirmedAt = &now

	snap := BuildSnapshot([]models.Event{pending, confirmed}, now)
	if snap.Count != 1 || len(snap.Events) != 1 {
		t.Fatalf("expected 1 exported event, got %d", snap.Count)
	}
	if snap.Events[0].EventID != "pending" {
		t.Fatalf("wrong event exported: %s", snap.Events[0].EventID)
	}
}

func TestBuildSnapshotAdvantageAlwaysNull(t *testing.T) {
	ev := pendingEvent("pending", 7.9, "jma")
	adv := 3.0
	ev.AdvantageMinutes = &adv

	snap := BuildSnapshot([]models.Event{ev}, time.Now().UTC())
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	val, ok := decoded.Events[0]["detection_advantage_minutes"]
	if !ok {
		t.Fatalf("advantage field must be present")
	}
	if val != nil {
		t.Fatalf("pending export must carry null advantage, got %v", val)
	}
}

func TestBuildSnapshotSourceIDsNullWhereAbsent(t *testing.T) {
	ev := pendingEvent("pending", 7.9, "emsc", "jma")
	snap := BuildSnapshot([]models.Event{ev}, time.Now().UTC())
	ids := snap.Events[0].SourceIDs

	if len(ids) != 5 {
		t.Fatalf("every known source must have a key, got %v", ids)
	}
	if ids["jma"] == nil || *ids["jma"] != "jma-1" {
		t.Fatalf("attached source id missing: %v", ids["jma"])
	}
	if ids["usgs"] != nil {
		t.Fatalf("absent source must be null, got %v", *ids["usgs"])
	}
}

func TestWriteSnapshotAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending_events.json")

	first := BuildSnapshot([]models.Event{pendingEvent("a", 5.0, "jma")}, time.Now().UTC())
	if err := WriteSnapshot(path, first); err != nil {
		t.Fatalf("write: %v", err)
	}
	second := BuildSnapshot([]models.Event{
		pendingEvent("a", 5.0, "jma"),
		pendingEvent("b", 6.0, "emsc"),
	}, time.Now().UTC())
	if err := WriteSnapshot(path, second); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("file must always hold complete json: %v", err)
	}
	if snap.Count != 2 {
		t.Fatalf("count = %d, want 2", snap.Count)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, found %d entries", len(entries))
	}
}

func runTestPublisher(t *testing.T, repo *stubRepo, debounce, fallback time.Duration) *Publisher {
	t.Helper()
	pub := NewPublisher(Config{
		Path:             filepath.Join(t.TempDir(), "pending_events.json"),
		Debounce:         debounce,
		FallbackInterval: fallback,
	}, repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pub.Run(ctx)
	return pub
}

func waitForWrites(t *testing.T, repo *stubRepo, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if repo.queries.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out at %d snapshot writes, want %d", repo.queries.Load(), want)
}

func TestPublisherRunWritesPromptlyAfterIdle(t *testing.T) {
	repo := &stubRepo{events: []models.Event{pendingEvent("pending", 7.9, "jma")}}
	pub := runTestPublisher(t, repo, 200*time.Millisecond, time.Hour)

	waitForWrites(t, repo, 1)

	// Once the quiet stretch outlasts the inter-publish interval, a
	// single mutation must hit the file without a full debounce wait.
	time.Sleep(250 * time.Millisecond)
	start := time.Now()
	pub.Notify()
	waitForWrites(t, repo, 2)
	if elapsed := time.Since(start); elapsed >= 200*time.Millisecond {
		t.Fatalf("write after idle took %v, must not wait out the debounce", elapsed)
	}
}

func TestPublisherRunCoalescesBurst(t *testing.T) {
	repo := &stubRepo{events: []models.Event{pendingEvent("pending", 7.9, "jma")}}
	pub := runTestPublisher(t, repo, 100*time.Millisecond, time.Hour)

	waitForWrites(t, repo, 1)

	// The last write just happened, so a burst right behind it is held
	// back and collapses into exactly one rewrite.
	for i := 0; i < 10; i++ {
		pub.Notify()
	}
	waitForWrites(t, repo, 2)
	time.Sleep(150 * time.Millisecond)
	if got := repo.queries.Load(); got != 2 {
		t.Fatalf("burst produced %d writes after startup, want 1", got-1)
	}
}

func TestPublisherRunFallbackRewrites(t *testing.T) {
	repo := &stubRepo{events: []models.Event{pendingEvent("pending", 7.9, "jma")}}
	runTestPublisher(t, repo, 10*time.Millisecond, 50*time.Millisecond)

	// No notifications at all: the fallback ticker alone must keep
	// rewriting the snapshot.
	waitForWrites(t, repo, 3)
}
