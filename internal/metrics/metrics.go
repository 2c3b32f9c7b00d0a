package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReportsDelivered counts reports each collector handed to the pipeline.
	// This is the per-source liveness counter.
	ReportsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quakewatch_reports_delivered_total",
		Help: "Reports delivered to the ingest queue, by source.",
	}, []string{"source"})

	ReportsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quakewatch_reports_dropped_total",
		Help: "Reports dropped before matching, by source and reason.",
	}, []string{"source", "reason"})

	EventsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quakewatch_events_created_total",
		Help: "Canonical events created by the matcher.",
	})

	EventsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quakewatch_events_confirmed_total",
		Help: "Events confirmed by the reference source.",
	})

	PendingEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quakewatch_pending_events",
		Help: "Events awaiting reference-source confirmation.",
	})

	ExportWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quakewatch_export_writes_total",
		Help: "Pending-snapshot publish attempts, by result.",
	}, []string{"result"})
)

func Register() {
	prometheus.MustRegister(
		ReportsDelivered,
		ReportsDropped,
		EventsCreated,
		EventsConfirmed,
		PendingEvents,
		ExportWrites,
	)
}

func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
