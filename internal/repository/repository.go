package repository

import (
	"context"
	"time"

	"quakewatch/internal/models"
)

type ListEventsParams struct {
	Limit        int
	Offset       int
	Since        *time.Time
	Until        *time.Time
	MinMagnitude *float64
	Confirmed    *bool
	Significant  *bool
}

// AdvantageStats summarizes frozen detection advantage over confirmed events.
type AdvantageStats struct {
	Confirmed   int64     `json:"confirmed"`
	WithEdge    int64     `json:"with_edge"`
	AvgMinutes  *float64  `json:"avg_minutes"`
	MinMinutes  *float64  `json:"min_minutes"`
	MaxMinutes  *float64  `json:"max_minutes"`
	AvgSources  *float64  `json:"avg_sources"`
	MinMag      float64   `json:"min_magnitude"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Repository is the durable store behind the correlation pipeline. Reports
// and revisions are append-only; events are mutated only by the single
// writer in the ingest hub.
type Repository interface {
	// Reports.
	InsertReport(ctx context.Context, item *models.Report) error
	HasSourceReport(ctx context.Context, source, sourceEventID string) (bool, error)
	ListReportsByEvent(ctx context.Context, eventID string) ([]models.Report, error)

	// Events.
	CreateEvent(ctx context.Context, item *models.Event) error
	UpdateEvent(ctx context.Context, item *models.Event) error
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	ListOpenEvents(ctx context.Context, since time.Time, minMagnitude float64) ([]models.Event, error)
	ListPendingEvents(ctx context.Context) ([]models.Event, error)
	ListEvents(ctx context.Context, params ListEventsParams) ([]models.Event, error)
	CountEvents(ctx context.Context, params ListEventsParams) (int64, error)

	// Audit trail.
	AppendRevision(ctx context.Context, item *models.EventRevision) error
	ListRevisionsByEvent(ctx context.Context, eventID string) ([]models.EventRevision, error)

	// Offline analysis.
	AdvantageStats(ctx context.Context, minMagnitude float64) (*AdvantageStats, error)

	// Collector health.
	UpsertSourceHealth(ctx context.Context, item *models.SourceHealth) error
	ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error)
}
