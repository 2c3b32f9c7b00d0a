package collector

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"quakewatch/internal/models"
)

// Source names as they appear in reports, config, and persisted rows.
const (
	SourceUSGS   = "usgs"
	SourceEMSC   = "emsc"
	SourceJMA    = "jma"
	SourceGeoNet = "geonet"
	SourceGFZ    = "gfz"
)

type HealthStatus struct {
	Status     string
	LastPollAt *time.Time
	LastError  *string
	Delivered  uint64
}

type SourceInfo struct {
	SourceType   string
	Endpoint     string
	PollInterval time.Duration
}

// Collector produces normalized reports for one external feed. A collector
// owns its transport lifecycle; a failing collector never takes down the
// pipeline or its peers.
type Collector interface {
	Name() string
	Start(ctx context.Context, out chan<- models.Report) error
	Stop() error
	Health() HealthStatus
}

// CollectorSourceInfo is implemented by collectors that can describe their
// transport for health reporting.
type CollectorSourceInfo interface {
	SourceInfo() SourceInfo
}

type healthState struct {
	mu        sync.Mutex
	status    string
	lastPoll  *time.Time
	lastError *string
	delivered atomic.Uint64
}

func (h *healthState) set(ts time.Time, status string, errStr *string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPoll = &ts
	h.status = status
	h.lastError = errStr
}

func (h *healthState) snapshot() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := h.status
	if strings.TrimSpace(status) == "" {
		status = "unknown"
	}
	return HealthStatus{
		Status:     status,
		LastPollAt: h.lastPoll,
		LastError:  h.lastError,
		Delivered:  h.delivered.Load(),
	}
}

func strPtr(s string) *string {
	return &s
}
