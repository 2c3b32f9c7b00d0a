package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"quakewatch/internal/config"
	"quakewatch/internal/models"
)

// NewGFZ builds the poller for the GFZ GEOFON FDSN event service. The query
// window is rebuilt per poll: last 24 hours, above the tracking threshold.
func NewGFZ(cfg config.PollSourceConfig, minMagnitude float64, client *http.Client, logger *zap.Logger) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	p := &Poller{
		SourceName:   SourceGFZ,
		Endpoint:     cfg.Endpoint,
		Interval:     cfg.PollInterval,
		MinMagnitude: minMagnitude,
		Logger:       logger,
	}
	p.Fetch = func(ctx context.Context) ([]models.Report, error) {
		return fetchGFZ(ctx, client, cfg.Endpoint, minMagnitude, logger)
	}
	return p
}

func fetchGFZ(ctx context.Context, client *http.Client, endpoint string, minMagnitude float64, logger *zap.Logger) ([]models.Report, error) {
	now := time.Now().UTC()
	params := url.Values{}
	params.Set("format", "json")
	params.Set("minmagnitude", strconv.FormatFloat(minMagnitude, 'f', 1, 64))
	params.Set("starttime", now.Add(-24*time.Hour).Format("2006-01-02T15:04:05"))
	params.Set("endtime", now.Format("2006-01-02T15:04:05"))
	params.Set("orderby", "time")
	params.Set("limit", "100")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	// FDSN services answer 204 when the window has no events.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
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
		rep, err := parseGFZFeature(raw)
		if err != nil {
			if logger != nil {
				logger.Warn("gfz feature dropped", zap.Error(err))
			}
			continue
		}
		reports = append(reports, *rep)
	}
	return reports, nil
}

func parseGFZFeature(raw json.RawMessage) (*models.Report, error) {
	var feature struct {
		ID         string `json:"id"`
		Properties struct {
			PublicID string   `json:"publicID"`
			Mag      *float64 `json:"mag"`
			MagType  *string  `json:"magType"`
			Place    *string  `json:"place"`
			Region   *string  `json:"region"`
			Time     string   `json:"time"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(raw, &feature); err != nil {
		return nil, err
	}
	id := feature.ID
	if id == "" {
		id = feature.Properties.PublicID
	}
	if id == "" {
		return nil, fmt.Errorf("event has no id")
	}
	if feature.Properties.Mag == nil {
		return nil, fmt.Errorf("event %s has no magnitude", id)
	}
	coords := feature.Geometry.Coordinates
	if len(coords) < 2 {
		return nil, fmt.Errorf("event %s has no coordinates", id)
	}
	eventTime, err := parseISOTime(feature.Properties.Time)
	if err != nil {
		return nil, fmt.Errorf("event %s has bad time: %w", id, err)
	}

	location := feature.Properties.Place
	if location == nil {
		location = feature.Properties.Region
	}
	var depth *float64
	if len(coords) > 2 {
		depth = &coords[2]
	}
	return &models.Report{
		Source:        SourceGFZ,
		SourceEventID: &id,
		Magnitude:     *feature.Properties.Mag,
		MagnitudeType: feature.Properties.MagType,
		Latitude:      coords[1],
		Longitude:     coords[0],
		DepthKm:       depth,
		LocationName:  location,
		EventTime:     eventTime,
		RawPayload:    []byte(raw),
	}, nil
}

// parseISOTime accepts the timestamp variants seen across FDSN-style feeds:
// RFC3339 with or without zone, with or without fractional seconds.
func parseISOTime(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
