package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quakewatch/internal/metrics"
	"quakewatch/internal/models"
)

// FetchFunc pulls the feed once and returns every report currently visible
// in it, parsed but unfiltered. Feeds republish a rolling window, so the
// poller dedups against already-seen native IDs before emitting.
type FetchFunc func(ctx context.Context) ([]models.Report, error)

// Poller drives a pull-based feed: immediate first poll, then a fixed
// interval, stretched by bounded exponential backoff while the feed is
// failing.
type Poller struct {
	SourceName   string
	Endpoint     string
	Interval     time.Duration
	MinMagnitude float64
	Fetch        FetchFunc
	Logger       *zap.Logger

	health healthState

	seenMu sync.Mutex
	seen   map[string]struct{}
}

func (p *Poller) Name() string { return p.SourceName }

func (p *Poller) SourceInfo() SourceInfo {
	return SourceInfo{
		SourceType:   "rest_poll",
		Endpoint:     p.Endpoint,
		PollInterval: p.interval(),
	}
}

func (p *Poller) Health() HealthStatus {
	if p == nil {
		return HealthStatus{Status: "unknown"}
	}
	return p.health.snapshot()
}

func (p *Poller) Stop() error { return nil }

func (p *Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return 60 * time.Second
	}
	return p.Interval
}

func (p *Poller) Start(ctx context.Context, out chan<- models.Report) error {
	if p == nil || p.Fetch == nil {
		return nil
	}
	if p.seen == nil {
		p.seen = map[string]struct{}{}
	}

	interval := p.interval()
	maxDelay := 8 * interval

	delay := time.Duration(0) // first poll runs immediately
	for {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := p.pollOnce(ctx, out)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			delay = nextBackoff(maxDuration(delay, interval), maxDelay)
			if p.Logger != nil {
				p.Logger.Warn("poll failed",
					zap.String("source", p.SourceName),
					zap.Duration("retry_in", delay),
					zap.Error(err),
				)
			}
		default:
			delay = interval
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, out chan<- models.Report) error {
	now := time.Now().UTC()
	reports, err := p.Fetch(ctx)
	if err != nil {
		p.health.set(now, "down", strPtr(err.Error()))
		return err
	}
	p.health.set(now, "healthy", nil)

	for _, rep := range reports {
		if rep.Magnitude < p.MinMagnitude {
			continue
		}
		if p.alreadySeen(rep.SourceEventID) {
			continue
		}
		if rep.ReceivedAt.IsZero() {
			rep.ReceivedAt = time.Now().UTC()
		}
		select {
		case out <- rep:
			p.health.delivered.Add(1)
			metrics.ReportsDelivered.WithLabelValues(p.SourceName).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Poller) alreadySeen(id *string) bool {
	if id == nil || *id == "" {
		return false
	}
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	if _, ok := p.seen[*id]; ok {
		return true
	}
	p.seen[*id] = struct{}{}
	return false
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
