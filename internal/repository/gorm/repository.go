package gormrepository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quakewatch/internal/models"
	"quakewatch/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Reports ----------------------------------------------------------------

func (s *Store) InsertReport(ctx context.Context, item *models.Report) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) HasSourceReport(ctx context.Context, source, sourceEventID string) (bool, error) {
	if s == nil || s.db == nil || sourceEventID == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Report{}).
		Where("source = ? AND source_event_id = ?", source, sourceEventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) ListReportsByEvent(ctx context.Context, eventID string) ([]models.Report, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Report
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("received_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Events -----------------------------------------------------------------

func (s *Store) CreateEvent(ctx context.Context, item *models.Event) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateEvent(ctx context.Context, item *models.Event) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Event
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOpenEvents(ctx context.Context, since time.Time, minMagnitude float64) ([]models.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Event
	err := s.db.WithContext(ctx).
		Where("event_time > ? AND best_magnitude >= ?", since, minMagnitude).
		Order("event_time DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPendingEvents(ctx context.Context) ([]models.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Event
	err := s.db.WithContext(ctx).
		Where("confirmed_at IS NULL").
		Order("event_time DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func applyEventFilters(query *gorm.DB, params repository.ListEventsParams) *gorm.DB {
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("event_time >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("event_time < ?", *params.Until)
	}
	if params.MinMagnitude != nil {
		query = query.Where("best_magnitude >= ?", *params.MinMagnitude)
	}
	if params.Confirmed != nil {
		if *params.Confirmed {
			query = query.Where("confirmed_at IS NOT NULL")
		} else {
			query = query.Where("confirmed_at IS NULL")
		}
	}
	if params.Significant != nil {
		query = query.Where("is_significant = ?", *params.Significant)
	}
	return query
}

func (s *Store) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyEventFilters(s.db.WithContext(ctx).Model(&models.Event{}), params)
	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	var items []models.Event
	err := query.Order("event_time DESC").Limit(limit).Offset(offset).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountEvents(ctx context.Context, params repository.ListEventsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyEventFilters(s.db.WithContext(ctx).Model(&models.Event{}), params)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// --- Audit trail ------------------------------------------------------------

// AppendRevision assigns the next per-event revision number inside a
// transaction so the sequence stays dense under concurrent persistence
// retries.
func (s *Store) AppendRevision(ctx context.Context, item *models.EventRevision) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if item.Revision <= 0 {
			var last int64
			err := tx.Model(&models.EventRevision{}).
				Where("event_id = ?", item.EventID).
				Select("COALESCE(MAX(revision), 0)").
				Scan(&last).Error
			if err != nil {
				return err
			}
			item.Revision = int(last) + 1
		}
		return tx.Create(item).Error
	})
}

func (s *Store) ListRevisionsByEvent(ctx context.Context, eventID string) ([]models.EventRevision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.EventRevision
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("revision ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Offline analysis -------------------------------------------------------

func (s *Store) AdvantageStats(ctx context.Context, minMagnitude float64) (*repository.AdvantageStats, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	stats := &repository.AdvantageStats{
		MinMag:      minMagnitude,
		GeneratedAt: time.Now().UTC(),
	}
	base := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("confirmed_at IS NOT NULL AND best_magnitude >= ?", minMagnitude).
		Session(&gorm.Session{})

	if err := base.Count(&stats.Confirmed).Error; err != nil {
		return nil, err
	}
	if err := base.Where("advantage_minutes > 0").Count(&stats.WithEdge).Error; err != nil {
		return nil, err
	}

	var row struct {
		AvgMinutes *float64
		MinMinutes *float64
		MaxMinutes *float64
		AvgSources *float64
	}
	err := base.
		Select("AVG(advantage_minutes) AS avg_minutes, MIN(advantage_minutes) AS min_minutes, MAX(advantage_minutes) AS max_minutes, AVG(source_count) AS avg_sources").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	stats.AvgMinutes = row.AvgMinutes
	stats.MinMinutes = row.MinMinutes
	stats.MaxMinutes = row.MaxMinutes
	stats.AvgSources = row.AvgSources
	return stats, nil
}

// --- Collector health -------------------------------------------------------

func (s *Store) UpsertSourceHealth(ctx context.Context, item *models.SourceHealth) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_type", "endpoint", "poll_interval", "enabled",
			"last_poll_at", "last_error", "health_status", "delivered", "updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SourceHealth
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
