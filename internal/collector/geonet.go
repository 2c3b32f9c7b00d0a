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

// NewGeoNet builds the poller for the GeoNet (New Zealand) quake feed.
func NewGeoNet(cfg config.PollSourceConfig, minMagnitude float64, client *http.Client, logger *zap.Logger) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	p := &Poller{
		SourceName:   SourceGeoNet,
		Endpoint:     cfg.Endpoint,
		Interval:     cfg.PollInterval,
		MinMagnitude: minMagnitude,
		Logger:       logger,
	}
	p.Fetch = func(ctx context.Context) ([]models.Report, error) {
		return fetchGeoNet(ctx, client, cfg.Endpoint, logger)
	}
	return p
}

func fetchGeoNet(ctx context.Context, client *http.Client, endpoint string, logger *zap.Logger) ([]models.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
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
		rep, err := parseGeoNetFeature(raw)
		if err != nil {
			if logger != nil {
				logger.Warn("geonet feature dropped", zap.Error(err))
			}
			continue
		}
		reports = append(reports, *rep)
	}
	return reports, nil
}

func parseGeoNetFeature(raw json.RawMessage) (*models.Report, error) {
	var feature struct {
		Properties struct {
			PublicID  string   `json:"publicID"`
			Time      string   `json:"time"`
			Magnitude *float64 `json:"magnitude"`
			Depth     *float64 `json:"depth"`
			Locality  *string  `json:"locality"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(raw, &feature); err != nil {
		return nil, err
	}
	if feature.Properties.PublicID == "" {
		return nil, fmt.Errorf("quake has no publicID")
	}
	if feature.Properties.Magnitude == nil {
		return nil, fmt.Errorf("quake %s has no magnitude", feature.Properties.PublicID)
	}
	coords := feature.Geometry.Coordinates
	if len(coords) < 2 {
		return nil, fmt.Errorf("quake %s has no coordinates", feature.Properties.PublicID)
	}
	eventTime, err := time.Parse(time.RFC3339, feature.Properties.Time)
	if err != nil {
		return nil, fmt.Errorf("quake %s has bad time: %w", feature.Properties.PublicID, err)
	}

	id := feature.Properties.PublicID
	magType := "M"
	return &models.Report{
		Source:        SourceGeoNet,
		SourceEventID: &id,
		Magnitude:     *feature.Properties.Magnitude,
		MagnitudeType: &magType,
		Latitude:      coords[1],
		Longitude:     coords[0],
		DepthKm:       feature.Properties.Depth,
		LocationName:  feature.Properties.Locality,
		EventTime:     eventTime.UTC(),
		RawPayload:    []byte(raw),
	}, nil
}
