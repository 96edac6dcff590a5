package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func distance(v float64) *float64 {
	return &v
}

func TestLocationPointsGraduation(t *testing.T) {
	cases := []struct {
		name     string
		distance *float64
		radius   float64
		want     float64
	}{
		{"center", distance(0), 50, 25},
		{"half radius", distance(25), 50, 25},
		{"just past half", distance(25.01), 50, 18.75},
		{"three quarters", distance(37.5), 50, 18.75},
		{"past three quarters", distance(40), 50, 12.5},
		{"edge", distance(50), 50, 12.5},
		{"outside", distance(50.01), 50, 0},
		{"unknown distance", nil, 50, 0},
		{"no radius", distance(1), 0, 0},
		{"negative distance", distance(-1), 50, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LocationPoints(tc.distance, tc.radius))
		})
	}
}

func TestScoringEngineScenarios(t *testing.T) {
	engine := NewScoringEngine()

	score := engine.Score(ScoreInputs{TokenValid: true, Distance: distance(20), RadiusMeters: 50, NetworkValid: true})
	assert.Equal(t, 85.0, score.Total)
	assert.Equal(t, 40.0, score.Breakdown.Token)
	assert.Equal(t, 25.0, score.Breakdown.Location)
	assert.Equal(t, 20.0, score.Breakdown.Network)
	assert.Equal(t, 0.0, score.Breakdown.Radio)

	score = engine.Score(ScoreInputs{TokenValid: true, Distance: distance(40), RadiusMeters: 50, RadioValid: true})
	assert.Equal(t, 67.5, score.Total)
	assert.Equal(t, 12.5, score.Breakdown.Location)
	assert.Equal(t, 15.0, score.Breakdown.Radio)

	full := engine.Score(ScoreInputs{TokenValid: true, Distance: distance(1), RadiusMeters: 50, NetworkValid: true, RadioValid: true})
	assert.Equal(t, 100.0, full.Total)

	assert.Equal(t, 0.0, engine.Score(ScoreInputs{}).Total)
}

func TestWeightsSumToHundred(t *testing.T) {
	assert.Equal(t, 100.0, WeightToken+WeightLocation+WeightNetwork+WeightRadio)
}
