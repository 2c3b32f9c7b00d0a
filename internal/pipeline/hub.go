package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"quakewatch/internal/collector"
	"quakewatch/internal/metrics"
	"quakewatch/internal/models"
	"quakewatch/internal/repository"
)

// ExportNotifier is poked after every mutation that changes the pending
// set or a pending event's canonical fields.
type ExportNotifier interface {
	Notify()
}

type HubConfig struct {
	Match                MatchParams
	ReferenceSource      string
	SignificantMagnitude float64
	MinMagnitude         float64
	OpenWindow           time.Duration
	IngestBuffer         int
}

// openEvent pairs a canonical event with every report it owns. The report
// set is what the magnitude policy recomputes from.
type openEvent struct {
	ev      *models.Event
	reports []models.Report
}

type persistJob struct {
	report  *models.Report
	event   models.Event
	created bool
}

// Hub runs the collectors and drains their reports through one writer
// goroutine. Matching, aggregation, and confirmation all happen inside
// that single writer; nothing else mutates the open-event set. Durable
// writes and export publishes run behind it and never block matching.
type Hub struct {
	cfg    HubConfig
	repo   repository.Repository
	logger *zap.Logger
	export ExportNotifier
	agg    Aggregator

	collectors map[string]collector.Collector

	ingest chan models.Report

	// Durable writes queue without bound; a slow or failing store must
	// never cost a report its audit row.
	persistMu   sync.Mutex
	persistQ    []persistJob
	persistWake chan struct{}
	retryBase   time.Duration

	mu   sync.Mutex
	open []*openEvent
	seen map[string]string
}

func NewHub(cfg HubConfig, repo repository.Repository, export ExportNotifier, logger *zap.Logger) *Hub {
	buffer := cfg.IngestBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		cfg:    cfg,
		repo:   repo,
		logger: logger,
		export: export,
		agg: Aggregator{
			ReferenceSource:      cfg.ReferenceSource,
			SignificantMagnitude: cfg.SignificantMagnitude,
		},
		collectors:  map[string]collector.Collector{},
		ingest:      make(chan models.Report, buffer),
		persistWake: make(chan struct{}, 1),
		retryBase:   time.Second,
		seen:        map[string]string{},
	}
}

func (h *Hub) Register(c collector.Collector) {
	if h == nil || c == nil {
		return
	}
	h.collectors[c.Name()] = c
}

// Rebuild reloads the open-event set and the duplicate-delivery index from
// the durable store, so a restart resumes with the same matching state.
func (h *Hub) Rebuild(ctx context.Context) error {
	if h.repo == nil {
		return nil
	}
	since := time.Now().UTC().Add(-h.cfg.OpenWindow)
	events, err := h.repo.ListOpenEvents(ctx, since, h.cfg.MinMagnitude)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = h.open[:0]
	for i := range events {
		ev := events[i]
		reports, err := h.repo.ListReportsByEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		for _, rep := range reports {
			if key := dedupKey(rep); key != "" {
				h.seen[key] = ev.ID
			}
		}
		h.open = append(h.open, &openEvent{ev: &ev, reports: reports})
	}

	pending, err := h.repo.ListPendingEvents(ctx)
	if err != nil {
		return err
	}
	metrics.PendingEvents.Set(float64(len(pending)))

	if h.logger != nil {
		h.logger.Info("open-event set rebuilt",
			zap.Int("open", len(h.open)),
			zap.Int("pending", len(pending)),
		)
	}
	return nil
}

func (h *Hub) Run(ctx context.Context) error {
	if h == nil {
		return nil
	}

	go h.runPersister(ctx)

	for _, c := range h.collectors {
		c := c
		h.upsertSourceHealth(ctx, c)
		go func() {
			if err := c.Start(ctx, h.ingest); err != nil && h.logger != nil {
				h.logger.Warn("collector stopped", zap.String("collector", c.Name()), zap.Error(err))
			}
		}()
	}

	healthTicker := time.NewTicker(30 * time.Second)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.collectors {
				_ = c.Stop()
			}
			return ctx.Err()
		case <-healthTicker.C:
			for _, c := range h.collectors {
				h.upsertSourceHealth(ctx, c)
			}
		case rep := <-h.ingest:
			h.handleReport(ctx, rep)
		}
	}
}

func dedupKey(rep models.Report) string {
	if rep.SourceEventID == nil || *rep.SourceEventID == "" {
		return ""
	}
	return rep.Source + "|" + *rep.SourceEventID
}

// handleReport is the single serialization point: dedup, match, merge,
// then hand committed state to persistence and export. It performs no
// blocking I/O while holding the open-set lock.
func (h *Hub) handleReport(ctx context.Context, rep models.Report) {
	key := dedupKey(rep)
	if key != "" {
		if h.isDuplicate(ctx, key, rep) {
			metrics.ReportsDropped.WithLabelValues(rep.Source, "duplicate").Inc()
			return
		}
	}

	h.mu.Lock()
	result, err := FindMatch(rep, h.openEventList(), h.cfg.Match)
	if err != nil {
		h.mu.Unlock()
		metrics.ReportsDropped.WithLabelValues(rep.Source, "no_coordinates").Inc()
		if h.logger != nil {
			h.logger.Warn("report rejected",
				zap.String("source", rep.Source),
				zap.Float64("magnitude", rep.Magnitude),
				zap.Error(err),
			)
		}
		return
	}

	var (
		job       persistJob
		confirmed bool
		pending   bool
	)
	if result.Event != nil {
		oe := h.findOpen(result.Event.ID)
		rep.EventID = oe.ev.ID
		oe.reports = append(oe.reports, rep)
		confirmed = h.agg.Apply(oe.ev, rep, oe.reports)
		pending = oe.ev.Pending()
		job = persistJob{report: &rep, event: *oe.ev}
	} else {
		ev := h.agg.NewEvent(rep)
		rep.EventID = ev.ID
		h.open = append(h.open, &openEvent{ev: ev, reports: []models.Report{rep}})
		pending = ev.Pending()
		job = persistJob{report: &rep, event: *ev, created: true}
	}
	if key != "" {
		h.seen[key] = rep.EventID
	}
	h.mu.Unlock()

	switch {
	case job.created:
		metrics.EventsCreated.Inc()
		// An event seeded by the reference source is confirmed from
		// birth and never joins the pending set.
		if pending {
			metrics.PendingEvents.Inc()
		} else {
			metrics.EventsConfirmed.Inc()
		}
		if h.logger != nil {
			h.logger.Info("new event",
				zap.String("event_id", job.event.ID),
				zap.String("source", rep.Source),
				zap.Float64("magnitude", job.event.BestMagnitude),
				zap.Bool("significant", job.event.IsSignificant),
				zap.Bool("pending", pending),
			)
		}
	case confirmed:
		metrics.EventsConfirmed.Inc()
		metrics.PendingEvents.Dec()
		if h.logger != nil {
			h.logger.Info("event confirmed",
				zap.String("event_id", job.event.ID),
				zap.Float64("magnitude", job.event.BestMagnitude),
				zap.Float64p("advantage_minutes", job.event.AdvantageMinutes),
			)
		}
	default:
		if h.logger != nil {
			h.logger.Info("report matched",
				zap.String("event_id", job.event.ID),
				zap.String("source", rep.Source),
				zap.Int("sources", job.event.SourceCount),
				zap.Int("candidates", result.Candidates),
			)
		}
	}
	if result.Candidates > 1 && h.logger != nil {
		h.logger.Warn("ambiguous match resolved by distance",
			zap.String("event_id", job.event.ID),
			zap.String("source", rep.Source),
			zap.Int("candidates", result.Candidates),
			zap.Float64("distance_km", result.DistanceKm),
		)
	}

	h.enqueuePersist(job)

	// Confirmation removes the event from the pending set; any pending
	// mutation changes its exported fields. Both re-arm the publisher.
	if h.export != nil && (pending || confirmed) {
		h.export.Notify()
	}
}

// isDuplicate consults the in-memory index first and falls back to the
// durable store, which covers reports persisted before the last restart.
func (h *Hub) isDuplicate(ctx context.Context, key string, rep models.Report) bool {
	h.mu.Lock()
	_, ok := h.seen[key]
	h.mu.Unlock()
	if ok {
		return true
	}
	if h.repo == nil || rep.SourceEventID == nil {
		return false
	}
	exists, err := h.repo.HasSourceReport(ctx, rep.Source, *rep.SourceEventID)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("duplicate check failed", zap.Error(err))
		}
		return false
	}
	return exists
}

func (h *Hub) openEventList() []*models.Event {
	events := make([]*models.Event, len(h.open))
	for i, oe := range h.open {
		events[i] = oe.ev
	}
	return events
}

func (h *Hub) findOpen(id string) *openEvent {
	for _, oe := range h.open {
		if oe.ev.ID == id {
			return oe
		}
	}
	return nil
}

// TrimOpenSet drops events older than the open window from the matching
// candidate set. The durable record keeps them forever.
func (h *Hub) TrimOpenSet(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := now.Add(-h.cfg.OpenWindow)
	kept := h.open[:0]
	trimmed := 0
	for _, oe := range h.open {
		if oe.ev.EventTime.After(cutoff) {
			kept = append(kept, oe)
			continue
		}
		for _, rep := range oe.reports {
			if key := dedupKey(rep); key != "" {
				delete(h.seen, key)
			}
		}
		trimmed++
	}
	h.open = kept
	return trimmed
}

// enqueuePersist appends to the unbounded write queue and wakes the
// persister. Ingestion never blocks on the store and never sheds jobs.
func (h *Hub) enqueuePersist(job persistJob) {
	h.persistMu.Lock()
	h.persistQ = append(h.persistQ, job)
	h.persistMu.Unlock()
	select {
	case h.persistWake <- struct{}{}:
	default:
	}
}

func (h *Hub) runPersister(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.persistWake:
		}
		for {
			h.persistMu.Lock()
			if len(h.persistQ) == 0 {
				h.persistMu.Unlock()
				break
			}
			job := h.persistQ[0]
			h.persistQ = h.persistQ[1:]
			h.persistMu.Unlock()
			h.persistOne(ctx, job)
		}
	}
}

// persistOne retries the write until it lands or the hub shuts down.
// Later jobs for the same event carry newer snapshots, so queue order
// must be preserved and no job may be skipped.
func (h *Hub) persistOne(ctx context.Context, job persistJob) {
	backoff := h.retryBase
	for attempt := 1; ; attempt++ {
		err := h.writeJob(ctx, job)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if h.logger != nil {
			h.logger.Warn("persist failed",
				zap.String("event_id", job.event.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = nextPersistBackoff(backoff)
	}
}

func (h *Hub) writeJob(ctx context.Context, job persistJob) error {
	if h.repo == nil {
		return nil
	}
	if job.report != nil {
		if err := h.repo.InsertReport(ctx, job.report); err != nil {
			return err
		}
	}
	ev := job.event
	if job.created {
		if err := h.repo.CreateEvent(ctx, &ev); err != nil {
			return err
		}
	} else {
		if err := h.repo.UpdateEvent(ctx, &ev); err != nil {
			return err
		}
	}
	snapshot, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	trigger := ""
	if job.report != nil {
		trigger = job.report.Source
	}
	return h.repo.AppendRevision(ctx, &models.EventRevision{
		EventID:       ev.ID,
		TriggerSource: trigger,
		Snapshot:      snapshot,
	})
}

func nextPersistBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > 30*time.Second {
		return 30 * time.Second
	}
	return next
}

func (h *Hub) upsertSourceHealth(ctx context.Context, c collector.Collector) {
	if h == nil || h.repo == nil || c == nil {
		return
	}
	info := collector.SourceInfo{SourceType: "internal"}
	if p, ok := c.(collector.CollectorSourceInfo); ok {
		info = p.SourceInfo()
	}
	health := c.Health()
	status := health.Status
	if status == "" {
		status = "unknown"
	}
	now := time.Now().UTC()
	lastPoll := health.LastPollAt
	if lastPoll == nil {
		lastPoll = &now
	}
	item := &models.SourceHealth{
		Name:         c.Name(),
		SourceType:   info.SourceType,
		Endpoint:     info.Endpoint,
		PollInterval: durationString(info.PollInterval),
		Enabled:      true,
		LastPollAt:   lastPoll,
		LastError:    health.LastError,
		HealthStatus: status,
		Delivered:    health.Delivered,
	}
	if err := h.repo.UpsertSourceHealth(ctx, item); err != nil && h.logger != nil {
		h.logger.Warn("source health upsert failed", zap.String("collector", c.Name()), zap.Error(err))
	}
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
