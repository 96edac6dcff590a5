package service

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/noah-isme/sma-presence-api/internal/dto"
	"github.com/noah-isme/sma-presence-api/internal/models"
)

// earthRadiusMeters is the IUGG mean earth radius.
const earthRadiusMeters = 6371008.8

var (
	errMissingCoordinate   = errors.New("coordinate missing")
	errInvalidCoordinate   = errors.New("coordinate out of range")
	errInvalidRadius       = errors.New("location radius must be positive")
	errMissingNetwork      = errors.New("network observation missing")
	errInvalidHWAddress    = errors.New("invalid hardware address")
	errEmptyRadioList      = errors.New("no radio observations submitted")
	errNoRegisteredBeacons = errors.New("location has no registered beacons")
)

// TokenCheck is the outcome of token validation.
type TokenCheck struct {
	Valid  bool
	Reason models.RejectReason
}

// LocationCheck is the outcome of location validation. Distance is nil when the
// coordinate could not be evaluated.
type LocationCheck struct {
	Valid    bool
	Distance *float64
	Err      error
}

// NetworkCheck is the outcome of local-network validation.
type NetworkCheck struct {
	Valid bool
	Err   error
}

// RadioCheck is the outcome of short-range radio validation.
type RadioCheck struct {
	Valid   bool
	Matches []string
	Err     error
}

// ValidateToken checks a resolved token against its session. token or session is nil
// when the presented value matched nothing.
func ValidateToken(now time.Time, token *models.RotatedToken, session *models.Session) TokenCheck {
	if token == nil || session == nil || token.SessionID != session.ID {
		return TokenCheck{Reason: models.ReasonInvalidToken}
	}
	if token.Expired(now) {
		return TokenCheck{Reason: models.ReasonExpiredToken}
	}
	if !session.Active() {
		return TokenCheck{Reason: models.ReasonSessionNotActive}
	}
	return TokenCheck{Valid: true}
}

// ValidateLocation measures the great-circle distance from the profile center.
func ValidateLocation(submitted *models.Coordinate, profile *models.LocationProfile) LocationCheck {
	if submitted == nil {
		return LocationCheck{Err: errMissingCoordinate}
	}
	if !validCoordinate(*submitted) || profile == nil || !validCoordinate(profile.Center) {
		return LocationCheck{Err: errInvalidCoordinate}
	}
	distance := Haversine(*submitted, profile.Center)
	if profile.RadiusMeters <= 0 || math.IsNaN(profile.RadiusMeters) {
		return LocationCheck{Distance: &distance, Err: errInvalidRadius}
	}
	return LocationCheck{Valid: distance <= profile.RadiusMeters, Distance: &distance}
}

// ValidateNetwork requires both the name and the hardware address to match one active
// registered network. A name match with a different hardware address is rejected.
func ValidateNetwork(submitted *dto.NetworkObservation, profile *models.LocationProfile) NetworkCheck {
	if submitted == nil || strings.TrimSpace(submitted.Name) == "" || strings.TrimSpace(submitted.HWAddress) == "" {
		return NetworkCheck{Err: errMissingNetwork}
	}
	hw, err := canonicalHWAddress(submitted.HWAddress)
	if err != nil {
		return NetworkCheck{Err: err}
	}
	if profile == nil {
		return NetworkCheck{}
	}
	for _, network := range profile.Networks {
		if !network.Active || network.Name != submitted.Name {
			continue
		}
		registered, err := canonicalHWAddress(network.HWAddress)
		if err != nil {
			continue
		}
		if registered == hw {
			return NetworkCheck{Valid: true}
		}
	}
	return NetworkCheck{}
}

// ValidateRadios returns every active registered beacon seen in the submission.
func ValidateRadios(submitted []string, profile *models.LocationProfile) RadioCheck {
	if len(submitted) == 0 {
		return RadioCheck{Matches: []string{}, Err: errEmptyRadioList}
	}
	registered := make(map[string]struct{})
	if profile != nil {
		for _, beacon := range profile.Beacons {
			if !beacon.Active {
				continue
			}
			if hw, err := canonicalHWAddress(beacon.HWAddress); err == nil {
				registered[hw] = struct{}{}
			}
		}
	}
	if len(registered) == 0 {
		return RadioCheck{Matches: []string{}, Err: errNoRegisteredBeacons}
	}

	matches := make([]string, 0)
	seen := make(map[string]struct{}, len(submitted))
	var malformed int
	for _, raw := range submitted {
		hw, err := canonicalHWAddress(raw)
		if err != nil {
			malformed++
			continue
		}
		if _, dup := seen[hw]; dup {
			continue
		}
		seen[hw] = struct{}{}
		if _, ok := registered[hw]; ok {
			matches = append(matches, hw)
		}
	}
	check := RadioCheck{Valid: len(matches) > 0, Matches: matches}
	if malformed == len(submitted) {
		check.Err = fmt.Errorf("%w: all %d radio addresses malformed", errInvalidHWAddress, malformed)
	}
	return check
}

// Haversine returns the great-circle distance in meters between a and b.
func Haversine(a, b models.Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func validCoordinate(c models.Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func canonicalHWAddress(raw string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", errInvalidHWAddress, raw)
	}
	return hw.String(), nil
}
