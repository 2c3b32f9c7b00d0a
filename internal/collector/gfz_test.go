package collector

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseGFZFeature(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "gfz2026abcd",
		"properties": {
			"mag": 6.8,
			"magType": "Mw",
			"region": "Kuril Islands",
			"time": "2026-03-11T05:46:24.12Z"
		},
		"geometry": {"coordinates": [153.2, 46.5, 60.0]}
	}`)

	rep, err := parseGFZFeature(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rep.Source != SourceGFZ || *rep.SourceEventID != "gfz2026abcd" {
		t.Fatalf("unexpected identity: %s %v", rep.Source, rep.SourceEventID)
	}
	if *rep.MagnitudeType != "Mw" || rep.Magnitude != 6.8 {
		t.Fatalf("magnitude %v %v", rep.Magnitude, rep.MagnitudeType)
	}
	if rep.LocationName == nil || *rep.LocationName != "Kuril Islands" {
		t.Fatalf("region must back-fill the location: %v", rep.LocationName)
	}
}

func TestParseISOTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-11T05:46:24Z", time.Date(2026, 3, 11, 5, 46, 24, 0, time.UTC)},
		{"2026-03-11T05:46:24.5Z", time.Date(2026, 3, 11, 5, 46, 24, 500000000, time.UTC)},
		{"2026-03-11T05:46:24", time.Date(2026, 3, 11, 5, 46, 24, 0, time.UTC)},
		{"2026-03-11T14:46:24+09:00", time.Date(2026, 3, 11, 5, 46, 24, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseISOTime(tt.in)
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%q: got %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseISOTime("yesterday"); err == nil {
		t.Fatalf("expected error for junk input")
	}
}

func TestNextBackoff(t *testing.T) {
	max := 8 * time.Minute
	if got := nextBackoff(time.Minute, max); got != 2*time.Minute {
		t.Fatalf("backoff = %v", got)
	}
	if got := nextBackoff(6*time.Minute, max); got != max {
		t.Fatalf("backoff must cap at %v, got %v", max, got)
	}
}
