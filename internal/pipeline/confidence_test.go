package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceScore_HighRelevance(t *testing.T) {
	// 0.9 -> 0.85 + 0.1*0.5 = 0.90
	assert.Equal(t, 0.90, ConfidenceScore(0.9))
}

func TestConfidenceScore_MediumRelevance(t *testing.T) {
	// 0.75 -> 0.70 + 0.15*0.75 = 0.8125 -> rounds to 0.81
	assert.Equal(t, 0.81, ConfidenceScore(0.75))
}

func TestConfidenceScore_LowRelevance(t *testing.T) {
	// 0.5 -> 0.55 + 0.1*0.75 = 0.625 -> rounds half up to 0.63
	assert.Equal(t, 0.63, ConfidenceScore(0.5))
}

func TestConfidenceScore_VeryLowRelevance(t *testing.T) {
	// 0.2 -> 0.40 + 0.2*0.375 = 0.475 -> 0.48
	assert.Equal(t, 0.48, ConfidenceScore(0.2))
}

func TestConfidenceScore_Floor(t *testing.T) {
	assert.Equal(t, 0.40, ConfidenceScore(0.0))
	assert.Equal(t, 0.40, ConfidenceScore(-1.0))
}

func TestConfidenceScore_Ceiling(t *testing.T) {
	assert.Equal(t, 0.95, ConfidenceScore(1.0))
	assert.Equal(t, 0.95, ConfidenceScore(5.0))
}

func TestConfidenceScore_BracketBoundaries(t *testing.T) {
	// Boundary values fall into the higher bracket.
	assert.Equal(t, 0.85, ConfidenceScore(0.8))
	assert.Equal(t, 0.70, ConfidenceScore(0.6))
	assert.Equal(t, 0.55, ConfidenceScore(0.4))
}

func TestConfidenceScore_Monotonic(t *testing.T) {
	prev := 0.0
	for i := 0; i <= 100; i++ {
		score := ConfidenceScore(float64(i) / 100.0)
		assert.GreaterOrEqual(t, score, prev, "score regressed at relevance %d/100", i)
		prev = score
	}
}
