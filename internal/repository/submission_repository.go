package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-presence-api/internal/models"
)

const submissionColumns = `id, subject_id, session_id, token_valid, location_valid, network_valid, radio_valid, radio_matches,
	distance_meters, token_points, location_points, network_points, radio_points, score, geofence_inside, submitted_at`

type submissionRow struct {
	ID             string          `db:"id"`
	SubjectID      string          `db:"subject_id"`
	SessionID      string          `db:"session_id"`
	TokenValid     bool            `db:"token_valid"`
	LocationValid  bool            `db:"location_valid"`
	NetworkValid   bool            `db:"network_valid"`
	RadioValid     bool            `db:"radio_valid"`
	RadioMatches   pq.StringArray  `db:"radio_matches"`
	Distance       sql.NullFloat64 `db:"distance_meters"`
	TokenPoints    float64         `db:"token_points"`
	LocationPoints float64         `db:"location_points"`
	NetworkPoints  float64         `db:"network_points"`
	RadioPoints    float64         `db:"radio_points"`
	Score          float64         `db:"score"`
	GeofenceInside sql.NullBool    `db:"geofence_inside"`
	SubmittedAt    time.Time       `db:"submitted_at"`
}

func (row submissionRow) toModel() models.SubmissionResult {
	result := models.SubmissionResult{
		ID:        row.ID,
		SubjectID: row.SubjectID,
		SessionID: row.SessionID,
		Factors: models.FactorResults{
			Token:    row.TokenValid,
			Location: row.LocationValid,
			Network:  row.NetworkValid,
			Radio:    row.RadioValid,
		},
		RadioMatches: []string(row.RadioMatches),
		Score:        row.Score,
		Breakdown: models.ScoreBreakdown{
			Token:    row.TokenPoints,
			Location: row.LocationPoints,
			Network:  row.NetworkPoints,
			Radio:    row.RadioPoints,
		},
		Disposition: models.DispositionAccepted,
		SubmittedAt: row.SubmittedAt,
	}
	if result.RadioMatches == nil {
		result.RadioMatches = []string{}
	}
	if row.Distance.Valid {
		d := row.Distance.Float64
		result.Distance = &d
	}
	if row.GeofenceInside.Valid {
		inside := row.GeofenceInside.Bool
		result.GeofenceInside = &inside
	}
	return result
}

// SubmissionRepository stores accepted verification results.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// InsertIfAbsent inserts result unless (subject_id, session_id) already exists. The
// uniqueness constraint makes the check and the insert one atomic statement; on conflict
// the stored row is read back and returned with wasDuplicate=true.
func (r *SubmissionRepository) InsertIfAbsent(ctx context.Context, result models.SubmissionResult) (models.SubmissionResult, bool, error) {
	const insert = `
INSERT INTO attendance_submissions (id, subject_id, session_id, token_valid, location_valid, network_valid, radio_valid, radio_matches,
	distance_meters, token_points, location_points, network_points, radio_points, score, geofence_inside, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (subject_id, session_id) DO NOTHING
RETURNING id`

	matches := result.RadioMatches
	if matches == nil {
		matches = []string{}
	}
	var id string
	err := r.db.QueryRowxContext(ctx, insert,
		result.ID, result.SubjectID, result.SessionID,
		result.Factors.Token, result.Factors.Location, result.Factors.Network, result.Factors.Radio,
		pq.Array(matches), nullableFloat(result.Distance),
		result.Breakdown.Token, result.Breakdown.Location, result.Breakdown.Network, result.Breakdown.Radio,
		result.Score, nullableBool(result.GeofenceInside), result.SubmittedAt,
	).Scan(&id)
	switch {
	case err == nil:
		result.ID = id
		return result, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return models.SubmissionResult{}, false, fmt.Errorf("insert submission: %w", err)
	}

	stored, err := r.find(ctx, result.SubjectID, result.SessionID)
	if err != nil {
		return models.SubmissionResult{}, false, err
	}
	return stored, true, nil
}

// ListBySession returns the stored submissions of a session.
func (r *SubmissionRepository) ListBySession(ctx context.Context, sessionID string) ([]models.SubmissionResult, error) {
	query := `SELECT ` + submissionColumns + ` FROM attendance_submissions WHERE session_id = $1 ORDER BY submitted_at`
	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	results := make([]models.SubmissionResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toModel())
	}
	return results, nil
}

// Find returns the stored submission of a subject in a session, nil when there is none.
func (r *SubmissionRepository) Find(ctx context.Context, subjectID, sessionID string) (*models.SubmissionResult, error) {
	stored, err := r.find(ctx, subjectID, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &stored, nil
}

func (r *SubmissionRepository) find(ctx context.Context, subjectID, sessionID string) (models.SubmissionResult, error) {
	query := `SELECT ` + submissionColumns + ` FROM attendance_submissions WHERE subject_id = $1 AND session_id = $2`
	var row submissionRow
	if err := r.db.GetContext(ctx, &row, query, subjectID, sessionID); err != nil {
		return models.SubmissionResult{}, fmt.Errorf("get stored submission: %w", err)
	}
	return row.toModel(), nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullableBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
