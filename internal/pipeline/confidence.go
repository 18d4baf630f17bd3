package pipeline

import "math"

// ConfidenceScore maps the mean retrieval relevance of an answer's sources
// to a user-facing confidence value. The mapping is piecewise-linear and
// deliberately conservative: raw similarity is compressed into [0.40, 0.95]
// so weak retrieval never produces an overconfident answer.
//
//	avg >= 0.8        -> 0.85 - 0.90
//	0.6 <= avg < 0.8  -> 0.70 - 0.85
//	0.4 <= avg < 0.6  -> 0.55 - 0.70
//	avg < 0.4         -> 0.40 - 0.55
//
// The result is rounded half-up to two decimal places.
func ConfidenceScore(avgRelevance float64) float64 {
	var confidence float64
	switch {
	case avgRelevance >= 0.8:
		confidence = 0.85 + (avgRelevance-0.8)*0.5
	case avgRelevance >= 0.6:
		confidence = 0.70 + (avgRelevance-0.6)*0.75
	case avgRelevance >= 0.4:
		confidence = 0.55 + (avgRelevance-0.4)*0.75
	default:
		confidence = 0.40 + avgRelevance*0.375
	}

	confidence = math.Max(0.40, math.Min(0.95, confidence))

	// math.Round is half away from zero, i.e. half-up for positive input:
	// 0.625 rounds to 0.63.
	return math.Round(confidence*100) / 100
}
