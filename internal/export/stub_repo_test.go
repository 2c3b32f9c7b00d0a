package export

import (
	"context"
	"sync/atomic"
	"time"

	"quakewatch/internal/models"
	"quakewatch/internal/repository"
)

// stubRepo backs publisher tests. The publisher only ever queries the
// pending set; queries counts those calls, one per snapshot write.
type stubRepo struct {
	events  []models.Event
	queries atomic.Int64
}

func (s *stubRepo) ListPendingEvents(ctx context.Context) ([]models.Event, error) {
	s.queries.Add(1)
	return s.events, nil
}

func (s *stubRepo) InsertReport(ctx context.Context, item *models.Report) error { return nil }
func (s *stubRepo) HasSourceReport(ctx context.Context, source, sourceEventID string) (bool, error) {
	return false, nil
}
func (s *stubRepo) ListReportsByEvent(ctx context.Context, eventID string) ([]models.Report, error) {
	return nil, nil
}
func (s *stubRepo) CreateEvent(ctx context.Context, item *models.Event) error { return nil }
func (s *stubRepo) UpdateEvent(ctx context.Context, item *models.Event) error { return nil }
func (s *stubRepo) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	return nil, nil
}
func (s *stubRepo) ListOpenEvents(ctx context.Context, since time.Time, minMagnitude float64) ([]models.Event, error) {
	return nil, nil
}
func (s *stubRepo) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.Event, error) {
	return nil, nil
}
func (s *stubRepo) CountEvents(ctx context.Context, params repository.ListEventsParams) (int64, error) {
	return 0, nil
}
func (s *stubRepo) AppendRevision(ctx context.Context, item *models.EventRevision) error { return nil }
func (s *stubRepo) ListRevisionsByEvent(ctx context.Context, eventID string) ([]models.EventRevision, error) {
	return nil, nil
}
func (s *stubRepo) AdvantageStats(ctx context.Context, minMagnitude float64) (*repository.AdvantageStats, error) {
	return &repository.AdvantageStats{MinMag: minMagnitude}, nil
}
func (s *stubRepo) UpsertSourceHealth(ctx context.Context, item *models.SourceHealth) error {
	return nil
}
func (s *stubRepo) ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error) {
	return nil, nil
}
