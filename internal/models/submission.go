package models

import (
	"fmt"
	"time"
)

// Disposition is the final outcome of a verification attempt.
type Disposition string

const (
	DispositionAccepted  Disposition = "accepted"
	DispositionDuplicate Disposition = "duplicate"
	DispositionRejected  Disposition = "rejected"
)

// RejectReason explains a rejected disposition.
type RejectReason string

const (
	ReasonInvalidToken      RejectReason = "invalid_token"
	ReasonExpiredToken      RejectReason = "expired_token"
	ReasonSessionNotActive  RejectReason = "session_not_active"
	ReasonWindowNotOpen     RejectReason = "window_not_open"
	ReasonWindowClosed      RejectReason = "window_closed"
	ReasonInsufficientScore RejectReason = "insufficient_score"
)

// ScoreBreakdown is the per-factor contribution to a trust score.
type ScoreBreakdown struct {
	Token    float64 `json:"token" db:"token_points"`
	Location float64 `json:"location" db:"location_points"`
	Network  float64 `json:"network" db:"network_points"`
	Radio    float64 `json:"radio" db:"radio_points"`
}

// Total sums the factor contributions.
func (b ScoreBreakdown) Total() float64 {
	return b.Token + b.Location + b.Network + b.Radio
}

// FactorResults captures the validator outcome of each signal.
type FactorResults struct {
	Token    bool `json:"token" db:"token_valid"`
	Location bool `json:"location" db:"location_valid"`
	Network  bool `json:"network" db:"network_valid"`
	Radio    bool `json:"radio" db:"radio_valid"`
}

// SubmissionResult is the immutable outcome of one verification attempt.
type SubmissionResult struct {
	ID             string         `json:"id,omitempty"`
	SubjectID      string         `json:"subject_id"`
	SessionID      string         `json:"session_id"`
	Factors        FactorResults  `json:"factors"`
	RadioMatches   []string       `json:"radio_matches"`
	Distance       *float64       `json:"distance"`
	Score          float64        `json:"score"`
	Breakdown      ScoreBreakdown `json:"breakdown"`
	Disposition    Disposition    `json:"-"`
	Reason         RejectReason   `json:"-"`
	GeofenceInside *bool          `json:"geofence_inside,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// DispositionLabel renders the disposition, including the reason for rejections.
func (r SubmissionResult) DispositionLabel() string {
	if r.Disposition == DispositionRejected && r.Reason != "" {
		return fmt.Sprintf("%s:%s", r.Disposition, r.Reason)
	}
	return string(r.Disposition)
}

// WithDisposition returns a copy of r carrying a different disposition.
func (r SubmissionResult) WithDisposition(d Disposition) SubmissionResult {
	r.Disposition = d
	if d != DispositionRejected {
		r.Reason = ""
	}
	if r.RadioMatches != nil {
		matches := make([]string, len(r.RadioMatches))
		copy(matches, r.RadioMatches)
		r.RadioMatches = matches
	}
	return r
}

// Rejected builds a rejection result that terminated before scoring.
func Rejected(subjectID, sessionID string, reason RejectReason, at time.Time) SubmissionResult {
	return SubmissionResult{
		SubjectID:    subjectID,
		SessionID:    sessionID,
		RadioMatches: []string{},
		Disposition:  DispositionRejected,
		Reason:       reason,
		SubmittedAt:  at,
	}
}
