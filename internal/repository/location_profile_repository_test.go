package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationProfileRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLocationProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, center_lat, center_lng, radius_meters FROM location_profiles WHERE id = $1`)).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "center_lat", "center_lng", "radius_meters"}).
			AddRow("room-1", "Lab Fisika", -6.2, 106.8, 50.0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, hw_address, active FROM location_networks WHERE location_id = $1`)).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "hw_address", "active"}).
			AddRow("LAB-WIFI", "aa:bb:cc:dd:ee:ff", true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT hw_address, label, active FROM location_beacons WHERE location_id = $1`)).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"hw_address", "label", "active"}).
			AddRow("11:22:33:44:55:66", "front", true).
			AddRow("11:22:33:44:55:77", "back", false))

	profile, err := repo.FindByID(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, profile.RadiusMeters)
	assert.Equal(t, -6.2, profile.Center.Lat)
	require.Len(t, profile.Networks, 1)
	assert.Equal(t, "LAB-WIFI", profile.Networks[0].Name)
	require.Len(t, profile.Beacons, 2)
	assert.False(t, profile.Beacons[1].Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationProfileRepositoryFindByIDMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLocationProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM location_profiles WHERE id = $1`)).
		WithArgs("nowhere").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "nowhere")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
