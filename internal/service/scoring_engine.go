package service

import "github.com/noah-isme/sma-presence-api/internal/models"

// Factor weights. They sum to 100.
const (
	WeightToken    = 40.0
	WeightLocation = 25.0
	WeightNetwork  = 20.0
	WeightRadio    = 15.0
)

// ScoreInputs are the validator outcomes fed to the scoring engine.
type ScoreInputs struct {
	TokenValid   bool
	Distance     *float64
	RadiusMeters float64
	NetworkValid bool
	RadioValid   bool
}

// Score is the composed trust score.
type Score struct {
	Total     float64
	Breakdown models.ScoreBreakdown
}

// ScoringEngine combines validator outcomes into a 0-100 trust score. It makes no
// pass/fail decision; acceptance thresholds belong to the caller.
type ScoringEngine struct{}

// NewScoringEngine constructs the scoring engine.
func NewScoringEngine() *ScoringEngine {
	return &ScoringEngine{}
}

// Score computes the total and per-factor breakdown.
func (e *ScoringEngine) Score(in ScoreInputs) Score {
	breakdown := models.ScoreBreakdown{
		Location: LocationPoints(in.Distance, in.RadiusMeters),
	}
	if in.TokenValid {
		breakdown.Token = WeightToken
	}
	if in.NetworkValid {
		breakdown.Network = WeightNetwork
	}
	if in.RadioValid {
		breakdown.Radio = WeightRadio
	}
	return Score{Total: breakdown.Total(), Breakdown: breakdown}
}

// LocationPoints grades the location weight by how deep inside the radius the distance falls:
// full weight up to half the radius, 75% up to three quarters, 50% up to the edge, nothing beyond.
func LocationPoints(distance *float64, radius float64) float64 {
	if distance == nil || radius <= 0 || *distance < 0 {
		return 0
	}
	d := *distance
	switch {
	case d <= 0.5*radius:
		return WeightLocation
	case d <= 0.75*radius:
		return WeightLocation * 0.75
	case d <= radius:
		return WeightLocation * 0.5
	default:
		return 0
	}
}
