package dto

import "github.com/noah-isme/sma-presence-api/internal/models"

// NetworkObservation is the local network the device is associated with.
type NetworkObservation struct {
	Name      string `json:"name"`
	HWAddress string `json:"hw_address"`
}

// VerificationRequest is a presence submission.
type VerificationRequest struct {
	Token      string              `json:"token" validate:"required"`
	SubjectID  string              `json:"subject_id" validate:"required"`
	Coordinate *models.Coordinate  `json:"coordinate"`
	Network    *NetworkObservation `json:"network"`
	Radios     []string            `json:"radios"`
}

// VerificationBreakdown mirrors the per-factor score contributions.
type VerificationBreakdown struct {
	Token    float64 `json:"token"`
	Location float64 `json:"location"`
	Network  float64 `json:"network"`
	Radio    float64 `json:"radio"`
}

// VerificationResponse is returned for every verification attempt, accepted or not.
type VerificationResponse struct {
	SessionID    string                `json:"session_id,omitempty"`
	Score        float64               `json:"score"`
	Breakdown    VerificationBreakdown `json:"breakdown"`
	Disposition  string                `json:"disposition"`
	Distance     *float64              `json:"distance"`
	RadioMatches []string              `json:"radio_matches"`
}

// NewVerificationResponse projects a submission result onto the response contract.
func NewVerificationResponse(result models.SubmissionResult) VerificationResponse {
	matches := result.RadioMatches
	if matches == nil {
		matches = []string{}
	}
	return VerificationResponse{
		SessionID: result.SessionID,
		Score:     result.Score,
		Breakdown: VerificationBreakdown{
			Token:    result.Breakdown.Token,
			Location: result.Breakdown.Location,
			Network:  result.Breakdown.Network,
			Radio:    result.Breakdown.Radio,
		},
		Disposition:  result.DispositionLabel(),
		Distance:     result.Distance,
		RadioMatches: matches,
	}
}
