package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-presence-api/internal/models"
)

type locationProfileRow struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	CenterLat    float64 `db:"center_lat"`
	CenterLng    float64 `db:"center_lng"`
	RadiusMeters float64 `db:"radius_meters"`
}

// LocationProfileRepository reads location profiles with their registered radio identities.
type LocationProfileRepository struct {
	db *sqlx.DB
}

// NewLocationProfileRepository constructs the repository.
func NewLocationProfileRepository(db *sqlx.DB) *LocationProfileRepository {
	return &LocationProfileRepository{db: db}
}

// FindByID loads a profile with its networks and beacons. It returns sql.ErrNoRows when missing.
func (r *LocationProfileRepository) FindByID(ctx context.Context, id string) (*models.LocationProfile, error) {
	var row locationProfileRow
	if err := r.db.GetContext(ctx, &row, `SELECT id, name, center_lat, center_lng, radius_meters FROM location_profiles WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get location profile: %w", err)
	}

	networks := make([]models.NetworkIdentity, 0)
	if err := r.db.SelectContext(ctx, &networks, `SELECT name, hw_address, active FROM location_networks WHERE location_id = $1 ORDER BY name, hw_address`, id); err != nil {
		return nil, fmt.Errorf("list location networks: %w", err)
	}
	beacons := make([]models.Beacon, 0)
	if err := r.db.SelectContext(ctx, &beacons, `SELECT hw_address, label, active FROM location_beacons WHERE location_id = $1 ORDER BY hw_address`, id); err != nil {
		return nil, fmt.Errorf("list location beacons: %w", err)
	}

	return &models.LocationProfile{
		ID:           row.ID,
		Name:         row.Name,
		Center:       models.Coordinate{Lat: row.CenterLat, Lng: row.CenterLng},
		RadiusMeters: row.RadiusMeters,
		Networks:     networks,
		Beacons:      beacons,
	}, nil
}
