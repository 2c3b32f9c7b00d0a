package pipeline

import (
	"errors"
	"math"
	"time"

	"quakewatch/internal/geo"
	"quakewatch/internal/models"
)

// ErrNoCoordinates rejects a report whose position cannot anchor a match.
var ErrNoCoordinates = errors.New("report has no usable coordinates")

type MatchParams struct {
	TimeWindow         time.Duration
	DistanceKm         float64
	MagnitudeTolerance float64
}

// MatchResult names the chosen event and how many open events were
// plausible. Candidates > 1 is worth an audit log line upstream.
type MatchResult struct {
	Event      *models.Event
	DistanceKm float64
	Candidates int
}

// FindMatch decides which open event the report belongs to. A report
// matches an event when the occurrence times are within the window, the
// epicenters are within the radius, and the magnitudes are within the
// sanity bound. Among several plausible events the closest one wins.
func FindMatch(rep models.Report, open []*models.Event, params MatchParams) (MatchResult, error) {
	if !usableCoordinates(rep.Latitude, rep.Longitude) {
		return MatchResult{}, ErrNoCoordinates
	}

	best := MatchResult{DistanceKm: math.MaxFloat64}
	for _, ev := range open {
		timeDiff := rep.EventTime.Sub(ev.EventTime)
		if timeDiff < 0 {
			timeDiff = -timeDiff
		}
		if timeDiff > params.TimeWindow {
			continue
		}
		dist := geo.HaversineKm(rep.Latitude, rep.Longitude, ev.Latitude, ev.Longitude)
		if dist > params.DistanceKm {
			continue
		}
		if math.Abs(rep.Magnitude-ev.BestMagnitude) > params.MagnitudeTolerance {
			continue
		}
		best.Candidates++
		if dist < best.DistanceKm {
			best.Event = ev
			best.DistanceKm = dist
		}
	}
	if best.Event == nil {
		return MatchResult{}, nil
	}
	return best, nil
}

func usableCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	// Exactly (0, 0) is the null island sentinel some feeds emit for
	// unlocated events.
	if lat == 0 && lon == 0 {
		return false
	}
	return true
}
