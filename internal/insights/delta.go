package insights

// Delta holds the comparison of new measurements against the previously
// stored values for the same day bucket.
type Delta struct {
	Previous map[string]float64
	Changes  map[string]float64
}

// ComputeDelta captures the prior in-place values and the change per field.
// Absent previous fields default to 0, so a first-ever snapshot yields
// changes equal to the measurements themselves.
func ComputeDelta(previous, measurements map[string]float64) Delta {
	prev := make(map[string]float64, len(previous))
	for k, v := range previous {
		prev[k] = v
	}
	changes := make(map[string]float64, len(measurements))
	for k, v := range measurements {
		changes[k] = v - prev[k]
	}
	return Delta{Previous: prev, Changes: changes}
}

// WithDerived adds computed fields to the measurements. Ratios with a zero or
// absent denominator are skipped rather than recorded as zero.
func WithDerived(measurements map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(measurements)+2)
	for k, v := range measurements {
		out[k] = v
	}
	if mediaCount := out["mediaCount"]; mediaCount > 0 {
		out["averageLikesPerPost"] = out["likes"] / mediaCount
	}
	if followers := out["followers"]; followers > 0 {
		out["reachRate"] = out["reach"] / followers * 100
	}
	return out
}
