package pipeline

import "time"

// AdvantageMinutes is the frozen detection advantage: how many fractional
// minutes the pipeline led the reference source's confirmation. Zero or
// negative values are stored as-is; they mean the reference source was
// first and there was no edge.
func AdvantageMinutes(confirmedAt, firstDetectedAt time.Time) float64 {
	return confirmedAt.Sub(firstDetectedAt).Minutes()
}
