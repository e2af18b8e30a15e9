package capture

import "time"

// Quality is the coarse connection estimate derived from the negotiated
// capture width.
type Quality struct {
	Name string
	// percent applied to the base interval
	factorPct int
	// JPEG quality for auto captures
	JPEG int
}

var (
	QualityExcellent = Quality{Name: "excellent", factorPct: 100, JPEG: 80}
	QualityGood      = Quality{Name: "good", factorPct: 120, JPEG: 70}
	QualityPoor      = Quality{Name: "poor", factorPct: 150, JPEG: 60}
)

// EstimateQuality maps a capture width to a Quality.
func EstimateQuality(width int) Quality {
	switch {
	case width >= 1920:
		return QualityExcellent
	case width >= 1280:
		return QualityGood
	default:
		return QualityPoor
	}
}

// Factor is the interval multiplier.
func (q Quality) Factor() float64 {
	return float64(q.factorPct) / 100
}

// Interval scales base by the quality factor.
func (q Quality) Interval(base time.Duration) time.Duration {
	return base * time.Duration(q.factorPct) / 100
}
