package telemetry

import "math"

// Trend classifications for a point's recent movement.
const (
	TrendRising       = "rising"
	TrendFalling      = "falling"
	TrendSteady       = "steady"
	TrendInsufficient = "insufficient_data"
)

// trendWindow is how many recent values are compared against the preceding
// window to classify the trend.
const trendWindow = 5

// trendThreshold is the relative change below which the trend reads steady.
const trendThreshold = 0.05

// PointStats summarizes one point's values over a slice of samples.
type PointStats struct {
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
	Trend   string  `json:"trend"`
}

// ComputeStats derives summary statistics for pointID across samples, which
// must be ordered oldest first. Samples where the point is missing are
// skipped. A point with no values yields Count 0 and an insufficient trend.
func ComputeStats(samples []Sample, pointID string) PointStats {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if v, ok := s.Values[pointID]; ok {
			values = append(values, v)
		}
	}

	stats := PointStats{Count: len(values), Trend: TrendInsufficient}
	if len(values) == 0 {
		return stats
	}

	stats.Min = values[0]
	stats.Max = values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(values))
	stats.Current = values[len(values)-1]

	var sq float64
	for _, v := range values {
		d := v - stats.Mean
		sq += d * d
	}
	stats.StdDev = math.Sqrt(sq / float64(len(values)))

	stats.Trend = classifyTrend(values)
	return stats
}

// classifyTrend compares the mean of the most recent window against the
// window before it. Needs at least two full windows of data.
func classifyTrend(values []float64) string {
	if len(values) < 2*trendWindow {
		return TrendInsufficient
	}
	recent := mean(values[len(values)-trendWindow:])
	prior := mean(values[len(values)-2*trendWindow : len(values)-trendWindow])

	if prior == 0 {
		switch {
		case recent > 0:
			return TrendRising
		case recent < 0:
			return TrendFalling
		default:
			return TrendSteady
		}
	}

	change := (recent - prior) / math.Abs(prior)
	switch {
	case change > trendThreshold:
		return TrendRising
	case change < -trendThreshold:
		return TrendFalling
	default:
		return TrendSteady
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
