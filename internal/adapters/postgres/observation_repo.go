package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// ObservationRepo implements ports.ObservationRepository with pgx and PostGIS.
type ObservationRepo struct {
	db *DB
}

// NewObservationRepo creates a new ObservationRepo.
func NewObservationRepo(db *DB) *ObservationRepo {
	return &ObservationRepo{db: db}
}

const insertObservation = `
	INSERT INTO observations (id, location, risk_score, population_at_risk, confidence, observed_at, source)
	VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4, $5, $6, $7, NULLIF($8, ''))
	ON CONFLICT (id) DO NOTHING
`

const selectObservation = `
	SELECT id,
	       ST_Y(location::geometry) AS lat,
	       ST_X(location::geometry) AS lon,
	       risk_score, population_at_risk, confidence, observed_at,
	       COALESCE(source, '')
	FROM observations
`

// Insert stores a single observation. Re-inserting an existing ID is a no-op.
func (r *ObservationRepo) Insert(ctx context.Context, o *domain.Observation) error {
	_, err := r.db.Pool.Exec(ctx, insertObservation,
		o.ID, o.Location.Lon, o.Location.Lat,
		o.RiskScore, o.PopulationAtRisk, o.Confidence, o.Timestamp, o.Source)
	return err
}

// InsertBatch inserts many observations in one transaction using pgx.Batch.
func (r *ObservationRepo) InsertBatch(ctx context.Context, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(insertObservation,
			o.ID, o.Location.Lon, o.Location.Lat,
			o.RiskScore, o.PopulationAtRisk, o.Confidence, o.Timestamp, o.Source)
	}
	br := tx.SendBatch(ctx, batch)
	for range obs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("batch close: %w", err)
	}
	return tx.Commit(ctx)
}

// List returns every observation whose timestamp falls in the range,
// oldest first.
func (r *ObservationRepo) List(ctx context.Context, dr domain.DateRange) ([]domain.Observation, error) {
	rows, err := r.db.Pool.Query(ctx, selectObservation+`
		WHERE ($1::timestamptz IS NULL OR observed_at >= $1)
		  AND ($2::timestamptz IS NULL OR observed_at <= $2)
		ORDER BY observed_at, id
	`, bound(dr.From), bound(dr.To))
	if err != nil {
		return nil, err
	}
	return scanObservations(rows)
}

// ListPage returns one page of the range, newest first, and the total count.
func (r *ObservationRepo) ListPage(ctx context.Context, dr domain.DateRange, offset, limit int) ([]domain.Observation, int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM observations
		WHERE ($1::timestamptz IS NULL OR observed_at >= $1)
		  AND ($2::timestamptz IS NULL OR observed_at <= $2)
	`, bound(dr.From), bound(dr.To)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Pool.Query(ctx, selectObservation+`
		WHERE ($1::timestamptz IS NULL OR observed_at >= $1)
		  AND ($2::timestamptz IS NULL OR observed_at <= $2)
		ORDER BY observed_at DESC, id
		OFFSET $3 LIMIT $4
	`, bound(dr.From), bound(dr.To), offset, limit)
	if err != nil {
		return nil, 0, err
	}
	obs, err := scanObservations(rows)
	return obs, total, err
}

// InBox returns observations inside the box using the GiST index. A zero
// limit returns all of them.
func (r *ObservationRepo) InBox(ctx context.Context, box domain.Bounds, limit int) ([]domain.Observation, error) {
	rows, err := r.db.Pool.Query(ctx, selectObservation+`
		WHERE location::geometry && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		ORDER BY observed_at DESC
		LIMIT NULLIF($5::int, 0)
	`, box.MinLon, box.MinLat, box.MaxLon, box.MaxLat, limit)
	if err != nil {
		return nil, err
	}
	return scanObservations(rows)
}

// Version fingerprints the table contents. It changes whenever rows are
// added or removed.
func (r *ObservationRepo) Version(ctx context.Context) (string, error) {
	var (
		count int64
		last  *time.Time
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT count(*), max(ingested_at) FROM observations
	`).Scan(&count, &last)
	if err != nil {
		return "", err
	}
	if last == nil {
		return "empty", nil
	}
	return fmt.Sprintf("%d.%d", count, last.UnixMicro()), nil
}

func scanObservations(rows pgx.Rows) ([]domain.Observation, error) {
	defer rows.Close()

	var obs []domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(
			&o.ID, &o.Location.Lat, &o.Location.Lon,
			&o.RiskScore, &o.PopulationAtRisk, &o.Confidence, &o.Timestamp,
			&o.Source,
		); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// bound maps an open end of a date range to SQL NULL.
func bound(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
