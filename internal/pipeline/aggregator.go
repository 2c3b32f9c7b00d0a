package pipeline

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"quakewatch/internal/models"
)

// momentTypes are the magnitude scales treated as "moment" magnitude for
// the selection policy. Comparison is case-insensitive.
var momentTypes = map[string]struct{}{
	"mw":  {},
	"mww": {},
	"mwb": {},
	"mwc": {},
	"mwr": {},
}

func isMomentType(magType *string) bool {
	if magType == nil {
		return false
	}
	_, ok := momentTypes[strings.ToLower(strings.TrimSpace(*magType))]
	return ok
}

// Aggregator owns the canonical merge policy for events.
type Aggregator struct {
	ReferenceSource      string
	SignificantMagnitude float64
}

// NewEvent seeds a canonical event from its first report. FirstDetectedAt
// is the report's local receipt time and never changes afterwards. An event
// seeded by the reference source itself is born confirmed: there was never
// an edge, and it must not enter the pending export set.
func (a *Aggregator) NewEvent(rep models.Report) *models.Event {
	ev := &models.Event{
		ID:                  uuid.NewString(),
		BestMagnitude:       rep.Magnitude,
		BestMagnitudeType:   rep.MagnitudeType,
		MagnitudeProvenance: rep.Source,
		Latitude:            rep.Latitude,
		Longitude:           rep.Longitude,
		DepthKm:             rep.DepthKm,
		LocationName:        rep.LocationName,
		EventTime:           rep.EventTime,
		FirstDetectedAt:     rep.ReceivedAt,
		SourceIDs:           datatypes.JSONMap{},
		SourceCount:         1,
		IsSignificant:       rep.Magnitude >= a.SignificantMagnitude,
	}
	a.attachSourceID(ev, rep)
	if rep.Source == a.ReferenceSource {
		confirmedAt := rep.ReceivedAt
		ev.ConfirmedAt = &confirmedAt
		advantage := AdvantageMinutes(confirmedAt, ev.FirstDetectedAt)
		ev.AdvantageMinutes = &advantage
	}
	return ev
}

// Apply merges a newly matched report into the event. attached must hold
// every report already owned by the event, including rep itself. The
// returned flag reports whether this report confirmed the event.
func (a *Aggregator) Apply(ev *models.Event, rep models.Report, attached []models.Report) bool {
	a.attachSourceID(ev, rep)
	ev.SourceCount = distinctSources(attached)

	value, magType, provenance := BestMagnitude(attached, a.ReferenceSource)
	ev.BestMagnitude = value
	ev.BestMagnitudeType = magType
	ev.MagnitudeProvenance = provenance
	ev.IsSignificant = ev.BestMagnitude >= a.SignificantMagnitude

	if rep.LocationName != nil && ev.LocationName == nil {
		ev.LocationName = rep.LocationName
	}
	if rep.DepthKm != nil && ev.DepthKm == nil {
		ev.DepthKm = rep.DepthKm
	}

	if rep.Source == a.ReferenceSource && ev.ConfirmedAt == nil {
		confirmedAt := rep.ReceivedAt
		ev.ConfirmedAt = &confirmedAt
		advantage := AdvantageMinutes(confirmedAt, ev.FirstDetectedAt)
		ev.AdvantageMinutes = &advantage
		return true
	}
	return false
}

func (a *Aggregator) attachSourceID(ev *models.Event, rep models.Report) {
	if rep.SourceEventID == nil || *rep.SourceEventID == "" {
		return
	}
	if ev.SourceIDs == nil {
		ev.SourceIDs = datatypes.JSONMap{}
	}
	// First native identifier per source wins.
	if _, ok := ev.SourceIDs[rep.Source]; !ok {
		ev.SourceIDs[rep.Source] = *rep.SourceEventID
	}
	if rep.Source == a.ReferenceSource && ev.ReferenceEventID == nil {
		id := *rep.SourceEventID
		ev.ReferenceEventID = &id
	}
}

func distinctSources(reports []models.Report) int {
	sources := map[string]struct{}{}
	for _, rep := range reports {
		sources[rep.Source] = struct{}{}
	}
	return len(sources)
}

// BestMagnitude selects the canonical magnitude from the full attached set.
// Priority: the reference source's moment magnitude; else the mean of all
// moment-type estimates from non-reference sources, rounded to one decimal;
// else the single highest magnitude (conservative for downstream risk).
// The result is identical for any ordering of the input set.
func BestMagnitude(reports []models.Report, referenceSource string) (float64, *string, string) {
	if len(reports) == 0 {
		return 0, nil, ""
	}

	// Work on a sorted copy so every tie-break is order-independent.
	sorted := make([]models.Report, len(reports))
	copy(sorted, reports)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Source != sorted[j].Source {
			return sorted[i].Source < sorted[j].Source
		}
		if !sorted[i].EventTime.Equal(sorted[j].EventTime) {
			return sorted[i].EventTime.Before(sorted[j].EventTime)
		}
		return sorted[i].Magnitude < sorted[j].Magnitude
	})

	// Tier 1: reference moment magnitude, latest published revision.
	var reference *models.Report
	for i := range sorted {
		rep := &sorted[i]
		if rep.Source != referenceSource || !isMomentType(rep.MagnitudeType) {
			continue
		}
		if reference == nil || publishTime(*rep).After(publishTime(*reference)) {
			reference = rep
		}
	}
	if reference != nil {
		return reference.Magnitude, reference.MagnitudeType, reference.Source
	}

	// Tier 2: mean of non-reference moment estimates.
	var sum float64
	var count int
	sources := make([]string, 0, 4)
	for _, rep := range sorted {
		if rep.Source == referenceSource || !isMomentType(rep.MagnitudeType) {
			continue
		}
		sum += rep.Magnitude
		count++
		sources = append(sources, rep.Source)
	}
	if count > 0 {
		mean := math.Round(sum/float64(count)*10) / 10
		magType := "Mw"
		return mean, &magType, "mean(" + strings.Join(sources, ",") + ")"
	}

	// Tier 3: single highest magnitude.
	best := sorted[0]
	for _, rep := range sorted[1:] {
		if rep.Magnitude > best.Magnitude {
			best = rep
		}
	}
	return best.Magnitude, best.MagnitudeType, best.Source
}

func publishTime(rep models.Report) time.Time {
	if rep.PublishedAt != nil {
		return *rep.PublishedAt
	}
	return rep.ReceivedAt
}
