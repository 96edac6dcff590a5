package models

import "time"

// SessionStatus is the lifecycle state of an attendance session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

// CanTransition reports whether moving from s to next is allowed.
// Only active sessions move, and only into a terminal state.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	return s == SessionStatusActive && next.Terminal()
}

// Session is a scheduled attendance occurrence with a rotating token and acceptance window.
type Session struct {
	ID               string        `db:"id" json:"id"`
	ScheduleID       string        `db:"schedule_id" json:"schedule_id"`
	LocationID       string        `db:"location_id" json:"location_id"`
	QRToken          *string       `db:"qr_token" json:"-"`
	QRTokenExpiresAt *time.Time    `db:"qr_token_expires_at" json:"qr_token_expires_at,omitempty"`
	Status           SessionStatus `db:"status" json:"status"`
	WindowStart      time.Time     `db:"window_start" json:"window_start"`
	WindowEnd        time.Time     `db:"window_end" json:"window_end"`
	CreatedBy        string        `db:"created_by" json:"created_by"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Active reports whether the session still accepts submissions by status.
func (s *Session) Active() bool {
	return s != nil && s.Status == SessionStatusActive
}

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`
}

// NetworkIdentity is a registered local network (name + hardware address pair).
type NetworkIdentity struct {
	Name      string `db:"name" json:"name"`
	HWAddress string `db:"hw_address" json:"hw_address"`
	Active    bool   `db:"active" json:"active"`
}

// Beacon is a registered short-range radio transmitter.
type Beacon struct {
	HWAddress string `db:"hw_address" json:"hw_address"`
	Label     string `db:"label" json:"label"`
	Active    bool   `db:"active" json:"active"`
}

// LocationProfile describes a physical space: its geofence and the radio identities found there.
type LocationProfile struct {
	ID           string            `db:"id" json:"id"`
	Name         string            `db:"name" json:"name"`
	Center       Coordinate        `json:"center"`
	RadiusMeters float64           `db:"radius_meters" json:"radius_meters"`
	Networks     []NetworkIdentity `json:"networks"`
	Beacons      []Beacon          `json:"beacons"`
}
