package estimator

import "math"

// SoilAverage returns the mean moisture of the probes that reported.
func SoilAverage(probes []ProbeState) (float64, bool) {
	sum, count := 0.0, 0
	for _, probe := range probes {
		if probe.MoisturePct == nil {
			continue
		}
		sum += *probe.MoisturePct
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// SoilDifferential returns the relative spread (max-min)/max across reporting
// probes, as a percentage. It needs at least two readings.
func SoilDifferential(probes []ProbeState) (float64, bool) {
	lo, hi, count := math.Inf(1), math.Inf(-1), 0
	for _, probe := range probes {
		if probe.MoisturePct == nil {
			continue
		}
		lo = math.Min(lo, *probe.MoisturePct)
		hi = math.Max(hi, *probe.MoisturePct)
		count++
	}
	if count < 2 {
		return 0, false
	}
	if hi <= 0 {
		return 0, true
	}
	return (hi - lo) / hi * 100, true
}

// ZonePattern labels the moisture distribution. Probes whose relative spread
// exceeds uniformSpreadPct are treated as separate zones.
func ZonePattern(probes []ProbeState, uniformSpreadPct float64) string {
	count := 0
	for _, probe := range probes {
		if probe.MoisturePct != nil {
			count++
		}
	}
	switch count {
	case 0:
		return ZoneUnknown
	case 1:
		return ZoneSingleProbe
	}
	spread, _ := SoilDifferential(probes)
	if spread <= uniformSpreadPct {
		return ZoneUniform
	}
	if count == 2 {
		return ZoneTwoZone
	}
	return ZoneMultiZone
}
