package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"quakewatch/internal/config"
	"quakewatch/internal/metrics"
	"quakewatch/internal/models"
)

// EMSC pushes earthquake notices over the SeismicPortal standing-order
// websocket. The collector reconnects forever with bounded exponential
// backoff; the process lifetime is the only cancellation.
type EMSC struct {
	URL          string
	MinMagnitude float64
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	Logger       *zap.Logger

	health healthState

	seenMu sync.Mutex
	seen   map[string]struct{}
}

func NewEMSC(cfg config.PushSourceConfig, minMagnitude float64, logger *zap.Logger) *EMSC {
	backoffMin := cfg.BackoffMin
	if backoffMin <= 0 {
		backoffMin = time.Second
	}
	backoffMax := cfg.BackoffMax
	if backoffMax <= 0 {
		backoffMax = 60 * time.Second
	}
	return &EMSC{
		URL:          cfg.URL,
		MinMagnitude: minMagnitude,
		BackoffMin:   backoffMin,
		BackoffMax:   backoffMax,
		Logger:       logger,
		seen:         map[string]struct{}{},
	}
}

func (c *EMSC) Name() string { return SourceEMSC }

func (c *EMSC) SourceInfo() SourceInfo {
	return SourceInfo{
		SourceType: "ws_push",
		Endpoint:   c.URL,
	}
}

func (c *EMSC) Stop() error { return nil }

func (c *EMSC) Health() HealthStatus {
	if c == nil {
		return HealthStatus{Status: "unknown"}
	}
	return c.health.snapshot()
}

func (c *EMSC) Start(ctx context.Context, out chan<- models.Report) error {
	if c == nil {
		return nil
	}
	backoff := c.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, c.URL, nil)
		if err != nil {
			c.health.set(time.Now().UTC(), "down", strPtr(err.Error()))
			if c.Logger != nil {
				c.Logger.Warn("emsc ws connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, c.BackoffMax)
			continue
		}
		conn.SetReadLimit(1 << 20)
		c.health.set(time.Now().UTC(), "healthy", nil)
		if c.Logger != nil {
			c.Logger.Info("emsc ws connected")
		}
		backoff = c.BackoffMin

		err = c.consume(ctx, conn, out)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.health.set(time.Now().UTC(), "down", strPtr(fmt.Sprint(err)))
		if c.Logger != nil {
			c.Logger.Warn("emsc ws dropped", zap.Error(err))
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, c.BackoffMax)
	}
}

func (c *EMSC) consume(ctx context.Context, conn *websocket.Conn, out chan<- models.Report) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.health.set(time.Now().UTC(), "healthy", nil)

		rep, err := parseEMSCMessage(data)
		if err != nil {
			if c.Logger != nil {
				c.Logger.Warn("emsc message dropped", zap.Error(err))
			}
			continue
		}
		if rep == nil || rep.Magnitude < c.MinMagnitude {
			continue
		}
		if c.alreadySeen(rep.SourceEventID) {
			continue
		}
		rep.ReceivedAt = time.Now().UTC()

		select {
		case out <- *rep:
			c.health.delivered.Add(1)
			metrics.ReportsDelivered.WithLabelValues(SourceEMSC).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *EMSC) alreadySeen(id *string) bool {
	if id == nil || *id == "" {
		return false
	}
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[*id]; ok {
		return true
	}
	c.seen[*id] = struct{}{}
	return false
}

// parseEMSCMessage decodes one standing-order message. Only "create" and
// "update" actions carry reports; anything else returns (nil, nil).
func parseEMSCMessage(data []byte) (*models.Report, error) {
	var msg struct {
		Action string `json:"action"`
		Data   struct {
			ID         string `json:"id"`
			Properties struct {
				UnID        string   `json:"unid"`
				Mag         *float64 `json:"mag"`
				MagType     *string  `json:"magtype"`
				Time        string   `json:"time"`
				FlynnRegion *string  `json:"flynn_region"`
				Depth       *float64 `json:"depth"`
			} `json:"properties"`
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Action != "create" && msg.Action != "update" {
		return nil, nil
	}

	id := msg.Data.ID
	if id == "" {
		id = msg.Data.Properties.UnID
	}
	if id == "" {
		return nil, fmt.Errorf("message has no event id")
	}
	if msg.Data.Properties.Mag == nil {
		return nil, fmt.Errorf("event %s has no magnitude", id)
	}
	coords := msg.Data.Geometry.Coordinates
	if len(coords) < 2 {
		return nil, fmt.Errorf("event %s has no coordinates", id)
	}
	eventTime, err := parseISOTime(msg.Data.Properties.Time)
	if err != nil {
		return nil, fmt.Errorf("event %s has bad time: %w", id, err)
	}

	depth := msg.Data.Properties.Depth
	if depth == nil && len(coords) > 2 {
		d := math.Abs(coords[2])
		depth = &d
	}
	return &models.Report{
		Source:        SourceEMSC,
		SourceEventID: &id,
		Magnitude:     *msg.Data.Properties.Mag,
		MagnitudeType: msg.Data.Properties.MagType,
		Latitude:      coords[1],
		Longitude:     coords[0],
		DepthKm:       depth,
		LocationName:  msg.Data.Properties.FlynnRegion,
		EventTime:     eventTime,
		RawPayload:    data,
	}, nil
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
