package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"quakewatch/internal/config"
	"quakewatch/internal/geo"
	"quakewatch/internal/models"
)

const jmaMagnitudeType = "MJMA"

// JMA republishes the same earthquake several times as its magnitude
// estimate is refined. Revisions within this window are collapsed to the
// latest published one before emission.
const (
	jmaRevisionWindow = 2 * time.Minute
	jmaRevisionRadius = 50.0 // km
)

// NewJMA builds the poller for the JMA bosai quake list.
func NewJMA(cfg config.PollSourceConfig, minMagnitude float64, client *http.Client, logger *zap.Logger) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	p := &Poller{
		SourceName:   SourceJMA,
		Endpoint:     cfg.Endpoint,
		Interval:     cfg.PollInterval,
		MinMagnitude: minMagnitude,
		Logger:       logger,
	}
	p.Fetch = func(ctx context.Context) ([]models.Report, error) {
		return fetchJMA(ctx, client, cfg.Endpoint, logger)
	}
	return p
}

func fetchJMA(ctx context.Context, client *http.Client, endpoint string, logger *zap.Logger) ([]models.Report, error) {
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

	var entries []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}

	reports := make([]models.Report, 0, len(entries))
	for _, raw := range entries {
		rep, err := parseJMAQuake(raw)
		if err != nil {
			if logger != nil {
				logger.Warn("jma entry dropped", zap.Error(err))
			}
			continue
		}
		if rep == nil {
			// Intensity-only entry, not an earthquake report.
			continue
		}
		reports = append(reports, *rep)
	}
	return collapseJMARevisions(reports, logger), nil
}

func parseJMAQuake(raw json.RawMessage) (*models.Report, error) {
	var quake struct {
		EID   string `json:"eid"`
		At    string `json:"at"`
		Ot    string `json:"ot"`
		Rdt   string `json:"rdt"`
		Mag   string `json:"mag"`
		Cod   string `json:"cod"`
		Anm   string `json:"anm"`
		EnAnm string `json:"en_anm"`
	}
	if err := json.Unmarshal(raw, &quake); err != nil {
		return nil, err
	}

	// Entries without a magnitude are intensity notices; skip silently.
	if quake.Mag == "" || quake.Mag == "-" {
		return nil, nil
	}
	magnitude, err := strconv.ParseFloat(quake.Mag, 64)
	if err != nil {
		return nil, fmt.Errorf("bad magnitude %q", quake.Mag)
	}

	timeStr := quake.At
	if timeStr == "" {
		timeStr = quake.Ot
	}
	if timeStr == "" {
		return nil, fmt.Errorf("entry %s has no time", quake.EID)
	}
	eventTime, err := parseISOTime(timeStr)
	if err != nil {
		return nil, fmt.Errorf("entry %s has bad time: %w", quake.EID, err)
	}

	lat, lon, depth, ok := parseJMACod(quake.Cod)
	if !ok {
		return nil, fmt.Errorf("entry %s has no coordinates", quake.EID)
	}

	id := quake.EID
	if id == "" {
		id = fmt.Sprintf("jma_%d_%.2f_%.2f", eventTime.Unix(), lat, lon)
	}

	location := quake.EnAnm
	if location == "" {
		location = quake.Anm
	}
	if location == "" {
		location = "Japan region"
	}

	var publishedAt *time.Time
	if quake.Rdt != "" {
		if t, err := parseISOTime(quake.Rdt); err == nil {
			publishedAt = &t
		}
	}

	magType := jmaMagnitudeType
	return &models.Report{
		Source:        SourceJMA,
		SourceEventID: &id,
		Magnitude:     magnitude,
		MagnitudeType: &magType,
		Latitude:      lat,
		Longitude:     lon,
		DepthKm:       depth,
		LocationName:  &location,
		EventTime:     eventTime,
		PublishedAt:   publishedAt,
		RawPayload:    []byte(raw),
	}, nil
}

// parseJMACod decodes the JMA "cod" coordinate string, e.g.
// "+34.5+135.2-10/" -> lat 34.5, lon 135.2, depth 10 km.
func parseJMACod(cod string) (lat, lon float64, depth *float64, ok bool) {
	cod = strings.TrimSpace(cod)
	cod = strings.TrimSuffix(cod, "/")
	if fields := strings.Fields(cod); len(fields) > 0 {
		cod = fields[0]
	}
	if len(cod) < 2 || (cod[0] != '+' && cod[0] != '-') {
		return 0, 0, nil, false
	}

	parts := splitSigned(cod)
	if len(parts) < 2 {
		return 0, 0, nil, false
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, nil, false
	}
	lon, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, nil, false
	}
	if len(parts) > 2 {
		if d, err := strconv.ParseFloat(parts[2], 64); err == nil {
			// The third component is negative below sea level; store depth
			// as a positive km value.
			d = math.Abs(d)
			depth = &d
		}
	}
	return lat, lon, depth, true
}

// splitSigned splits "+34.5+135.2-10" into ["+34.5", "+135.2", "-10"].
func splitSigned(s string) []string {
	var parts []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] == '+' || s[i] == '-' {
			parts = append(parts, s[start:i])
			start = i
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// collapseJMARevisions groups reports that describe the same quake
// (within jmaRevisionWindow and jmaRevisionRadius) and keeps only the
// latest published revision of each group.
func collapseJMARevisions(reports []models.Report, logger *zap.Logger) []models.Report {
	if len(reports) <= 1 {
		return reports
	}

	var groups [][]models.Report
	for _, rep := range reports {
		placed := false
		for gi := range groups {
			ref := groups[gi][0]
			timeDiff := rep.EventTime.Sub(ref.EventTime)
			if timeDiff < 0 {
				timeDiff = -timeDiff
			}
			dist := geo.HaversineKm(rep.Latitude, rep.Longitude, ref.Latitude, ref.Longitude)
			if timeDiff < jmaRevisionWindow && dist < jmaRevisionRadius {
				groups[gi] = append(groups[gi], rep)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []models.Report{rep})
		}
	}

	result := make([]models.Report, 0, len(groups))
	for _, group := range groups {
		latest := group[0]
		for _, rep := range group[1:] {
			if reportPublishTime(rep).After(reportPublishTime(latest)) {
				latest = rep
			}
		}
		if len(group) > 1 && logger != nil {
			logger.Info("jma revisions collapsed",
				zap.Int("revisions", len(group)),
				zap.Float64("magnitude", latest.Magnitude),
			)
		}
		result = append(result, latest)
	}
	return result
}

func reportPublishTime(rep models.Report) time.Time {
	if rep.PublishedAt != nil {
		return *rep.PublishedAt
	}
	return rep.ReceivedAt
}
