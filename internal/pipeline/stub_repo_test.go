package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"quakewatch/internal/models"
	"quakewatch/internal/repository"
)

// stubRepo is an in-memory Repository for hub tests. failInserts makes
// the next n InsertReport calls fail, to exercise write retries.
type stubRepo struct {
	mu          sync.Mutex
	reports     []models.Report
	events      map[string]models.Event
	revisions   []models.EventRevision
	health      map[string]models.SourceHealth
	failInserts int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		events: map[string]models.Event{},
		health: map[string]models.SourceHealth{},
	}
}

func (s *stubRepo) InsertReport(ctx context.Context, item *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInserts > 0 {
		s.failInserts--
		return errors.New("store unavailable")
	}
	s.reports = append(s.reports, *item)
	return nil
}

func (s *stubRepo) HasSourceReport(ctx context.Context, source, sourceEventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rep := range s.reports {
		if rep.Source == source && rep.SourceEventID != nil && *rep.SourceEventID == sourceEventID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRepo) ListReportsByEvent(ctx context.Context, eventID string) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Report
	for _, rep := range s.reports {
		if rep.EventID == eventID {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (s *stubRepo) CreateEvent(ctx context.Context, item *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[item.ID] = *item
	return nil
}

func (s *stubRepo) UpdateEvent(ctx context.Context, item *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[item.ID] = *item
	return nil
}

func (s *stubRepo) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[id]; ok {
		return &ev, nil
	}
	return nil, nil
}

func (s *stubRepo) ListOpenEvents(ctx context.Context, since time.Time, minMagnitude float64) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, ev := range s.events {
		if ev.EventTime.After(since) && ev.BestMagnitude >= minMagnitude {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubRepo) ListPendingEvents(ctx context.Context) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, ev := range s.events {
		if ev.ConfirmedAt == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubRepo) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, ev := range s.events {
		out = append(out, ev)
	}
	return out, nil
}

func (s *stubRepo) CountEvents(ctx context.Context, params repository.ListEventsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func (s *stubRepo) AppendRevision(ctx context.Context, item *models.EventRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Revision = len(s.revisions) + 1
	s.revisions = append(s.revisions, *item)
	return nil
}

func (s *stubRepo) ListRevisionsByEvent(ctx context.Context, eventID string) ([]models.EventRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EventRevision
	for _, rev := range s.revisions {
		if rev.EventID == eventID {
			out = append(out, rev)
		}
	}
	return out, nil
}

func (s *stubRepo) AdvantageStats(ctx context.Context, minMagnitude float64) (*repository.AdvantageStats, error) {
	return &repository.AdvantageStats{MinMag: minMagnitude}, nil
}

func (s *stubRepo) UpsertSourceHealth(ctx context.Context, item *models.SourceHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[item.Name] = *item
	return nil
}

func (s *stubRepo) ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SourceHealth
	for _, item := range s.health {
		out = append(out, item)
	}
	return out, nil
}

// notifyCounter records export notifications.
type notifyCounter struct {
	mu sync.Mutex
	n  int
}

func (c *notifyCounter) Notify() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *notifyCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
