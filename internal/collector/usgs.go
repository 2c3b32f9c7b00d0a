package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quakewatch/internal/config"
	"quakewatch/internal/models"
)

// NewUSGS builds the poller for the USGS GeoJSON summary feed. USGS is the
// slow authoritative source: its reports confirm events and end their
// pending status.
func NewUSGS(cfg config.PollSourceConfig, minMagnitude float64, client *http.Client, logger *zap.Logger) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	p := &Poller{
		SourceName:   SourceUSGS,
		Endpoint:     cfg.Endpoint,
		Interval:     cfg.PollInterval,
		MinMagnitude: minMagnitude,
		Logger:       logger,
	}
	p.Fetch = func(ctx context.Context) ([]models.Report, error) {
		return fetchUSGS(ctx, client, cfg.Endpoint, logger)
	}
	return p
}

func fetchUSGS(ctx context.Context, client *http.Client, endpoint string, logger *zap.Logger) ([]models.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	var feed struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, err
	}

	reports := make([]models.Report, 0, len(feed.Features))
	for _, raw := range feed.Features {
		rep, err := parseUSGSFeature(raw)
		if err != nil {
			if logger != nil {
				logger.Warn("usgs feature dropped", zap.Error(err))
			}
			continue
		}
		reports = append(reports, *rep)
	}
	return reports, nil
}

func parseUSGSFeature(raw json.RawMessage) (*models.Report, error) {
	var feature struct {
		ID         string `json:"id"`
		Properties struct {
			Mag     *float64 `json:"mag"`
			MagType *string  `json:"magType"`
			Place   *string  `json:"place"`
			Time    *int64   `json:"time"`
			Updated *int64   `json:"updated"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(raw, &feature); err != nil {
		return nil, err
	}
	if feature.ID == "" {
		return nil, fmt.Errorf("feature has no id")
	}
	if feature.Properties.Mag == nil {
		return nil, fmt.Errorf("feature %s has no magnitude", feature.ID)
	}
	if feature.Properties.Time == nil {
		return nil, fmt.Errorf("feature %s has no time", feature.ID)
	}
	coords := feature.Geometry.Coordinates
	if len(coords) < 2 {
		return nil, fmt.Errorf("feature %s has no coordinates", feature.ID)
	}

	// USGS timestamps are milliseconds since epoch.
	eventTime := time.UnixMilli(*feature.Properties.Time).UTC()
	var publishedAt *time.Time
	if feature.Properties.Updated != nil {
		t := time.UnixMilli(*feature.Properties.Updated).UTC()
		publishedAt = &t
	}
	var depth *float64
	if len(coords) > 2 {
		depth = &coords[2]
	}

	id := feature.ID
	return &models.Report{
		Source:        SourceUSGS,
		SourceEventID: &id,
		Magnitude:     *feature.Properties.Mag,
		MagnitudeType: feature.Properties.MagType,
		Latitude:      coords[1],
		Longitude:     coords[0],
		DepthKm:       depth,
		LocationName:  feature.Properties.Place,
		EventTime:     eventTime,
		PublishedAt:   publishedAt,
		RawPayload:    []byte(raw),
	}, nil
}
