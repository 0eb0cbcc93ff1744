package analytics

import "math"

// BounceRate is the share of sessions that were not engaged, clamped to [0, 1].
// It replaces the source's per-row bounce rate, which is a ratio and cannot be
// summed across rows.
func BounceRate(sessions, engagedSessions int64) float64 {
	if sessions <= 0 {
		return 0
	}
	return clampUnit(float64(sessions-engagedSessions) / float64(sessions))
}

// MeanDuration is the unweighted arithmetic mean of per-row average session
// durations. Rows with many sessions count the same as rows with one.
func MeanDuration(averages []float64) float64 {
	if len(averages) == 0 {
		return 0
	}
	var sum float64
	for _, v := range averages {
		sum += v
	}
	return sum / float64(len(averages))
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func count(v float64) int64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return int64(math.Round(v))
}

func perView(total float64, views int64) float64 {
	if views <= 0 {
		return 0
	}
	return total / float64(views)
}
