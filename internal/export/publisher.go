package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"quakewatch/internal/collector"
	"quakewatch/internal/metrics"
	"quakewatch/internal/models"
	"quakewatch/internal/repository"
)

// PendingEvent is the wire shape consumed by downstream alerting. The
// advantage field is always null here: it is only frozen at confirmation,
// and confirmed events never appear in this file. SourceIDs carries every
// known source, null where that source has not reported yet.
type PendingEvent struct {
	EventID          string             `json:"event_id"`
	Magnitude        float64            `json:"magnitude"`
	MagnitudeType    string             `json:"magnitude_type,omitempty"`
	Latitude         float64            `json:"latitude"`
	Longitude        float64            `json:"longitude"`
	DepthKm          *float64           `json:"depth_km"`
	LocationName     *string            `json:"location_name"`
	EventTime        time.Time          `json:"event_time"`
	FirstDetectedAt  time.Time          `json:"first_detected_at"`
	SourceIDs        map[string]*string `json:"source_ids"`
	SourceCount      int                `json:"source_count"`
	IsSignificant    bool               `json:"is_significant"`
	AdvantageMinutes *float64           `json:"detection_advantage_minutes"`
}

type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Count       int            `json:"count"`
	Events      []PendingEvent `json:"events"`
}

type Config struct {
	Path             string
	Debounce         time.Duration
	FallbackInterval time.Duration
}

// Publisher writes the pending-event snapshot atomically: a temp file in
// the target directory followed by a rename, so readers never observe a
// partial file. Notify calls are coalesced through a debounce window and
// a periodic fallback rewrite bounds staleness when notifications are lost.
type Publisher struct {
	cfg    Config
	repo   repository.Repository
	logger *zap.Logger

	wake chan struct{}
}

func NewPublisher(cfg Config, repo repository.Repository, logger *zap.Logger) *Publisher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 10 * time.Second
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = 5 * time.Minute
	}
	return &Publisher{
		cfg:    cfg,
		repo:   repo,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Notify schedules a rewrite. Safe from any goroutine; never blocks.
func (p *Publisher) Notify() {
	if p == nil {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	if p == nil {
		return nil
	}
	fallback := time.NewTicker(p.cfg.FallbackInterval)
	defer fallback.Stop()

	// Publish once at startup so the file reflects the rebuilt state.
	p.publish(ctx)
	lastWrite := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fallback.C:
			p.publish(ctx)
			lastWrite = time.Now()
		case <-p.wake:
			// The debounce is a minimum inter-publish interval, not a
			// flat delay. After an idle stretch the first mutation is
			// written out immediately; only bursts wait, and a burst
			// collapses into one write when the interval elapses.
			if wait := p.cfg.Debounce - time.Since(lastWrite); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
			p.drainWake()
			p.publish(ctx)
			lastWrite = time.Now()
		}
	}
}

func (p *Publisher) drainWake() {
	select {
	case <-p.wake:
	default:
	}
}

func (p *Publisher) publish(ctx context.Context) {
	events, err := p.repo.ListPendingEvents(ctx)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("pending snapshot query failed", zap.Error(err))
		}
		return
	}
	snap := BuildSnapshot(events, time.Now().UTC())
	if err := WriteSnapshot(p.cfg.Path, snap); err != nil {
		metrics.ExportWrites.WithLabelValues("error").Inc()
		if p.logger != nil {
			p.logger.Error("pending snapshot write failed", zap.String("path", p.cfg.Path), zap.Error(err))
		}
		return
	}
	metrics.ExportWrites.WithLabelValues("ok").Inc()
	if p.logger != nil {
		p.logger.Debug("pending snapshot written",
			zap.String("path", p.cfg.Path),
			zap.Int("events", snap.Count),
		)
	}
}

// BuildSnapshot converts pending events to the export shape. Confirmed
// events are skipped even if the caller passes them in.
func BuildSnapshot(events []models.Event, now time.Time) *Snapshot {
	out := make([]PendingEvent, 0, len(events))
	for i := range events {
		ev := events[i]
		if !ev.Pending() {
			continue
		}
		out = append(out, PendingEvent{
			EventID:         ev.ID,
			Magnitude:       ev.BestMagnitude,
			MagnitudeType:   strOrEmpty(ev.BestMagnitudeType),
			Latitude:        ev.Latitude,
			Longitude:       ev.Longitude,
			DepthKm:         ev.DepthKm,
			LocationName:    ev.LocationName,
			EventTime:       ev.EventTime.UTC(),
			FirstDetectedAt: ev.FirstDetectedAt.UTC(),
			SourceIDs:       sourceIDMap(ev),
			SourceCount:     ev.SourceCount,
			IsSignificant:   ev.IsSignificant,
		})
	}
	return &Snapshot{GeneratedAt: now, Count: len(out), Events: out}
}

var knownSources = []string{
	collector.SourceUSGS,
	collector.SourceEMSC,
	collector.SourceJMA,
	collector.SourceGeoNet,
	collector.SourceGFZ,
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sourceIDMap(ev models.Event) map[string]*string {
	out := make(map[string]*string, len(knownSources))
	for _, name := range knownSources {
		out[name] = nil
	}
	for name, v := range ev.SourceIDs {
		if s, ok := v.(string); ok {
			id := s
			out[name] = &id
		}
	}
	return out
}

// WriteSnapshot serializes the snapshot and swaps it into place with a
// rename, which is atomic on the same filesystem.
func WriteSnapshot(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pending-*.json")
	if err != nil {
		return fmt.Errorf("snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}
