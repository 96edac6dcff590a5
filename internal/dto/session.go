package dto

import "time"

// OpenSessionRequest opens an attendance session for a scheduled event.
type OpenSessionRequest struct {
	ScheduleID     string    `json:"schedule_id" validate:"required"`
	LocationID     string    `json:"location_id" validate:"required"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required,gtefield=ScheduledStart"`
}

// SessionTokenResponse exposes the current rotation value of a session.
type SessionTokenResponse struct {
	SessionID   string    `json:"session_id"`
	Sequence    uint64    `json:"sequence"`
	Payload     string    `json:"payload"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	ArtifactURL string    `json:"artifact_url,omitempty"`
}

// AttendanceRow is one accepted submission in a session report.
type AttendanceRow struct {
	SubjectID   string    `json:"subject_id"`
	Score       float64   `json:"score"`
	Token       float64   `json:"token"`
	Location    float64   `json:"location"`
	Network     float64   `json:"network"`
	Radio       float64   `json:"radio"`
	Distance    *float64  `json:"distance,omitempty"`
	Beacons     int       `json:"beacons"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AttendanceReport lists accepted submissions for a session.
type AttendanceReport struct {
	SessionID string          `json:"session_id"`
	Status    string          `json:"status"`
	Total     int             `json:"total"`
	Average   float64         `json:"average_score"`
	Rows      []AttendanceRow `json:"rows"`
}
