package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	baseline "heatfleet-cloud/internal/baseline/domain"
)

const defaultBaselineTable = "baselines_hourly"

// Repository is a Postgres repository for hour-of-week baselines.
type Repository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	repo := &Repository{db: db, table: defaultBaselineTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Upsert replaces baseline rows by primary key (device_id, bucket).
func (r *Repository) Upsert(ctx context.Context, baselines []baseline.Baseline) error {
	if r == nil || r.db == nil {
		return errors.New("baseline repo: nil db")
	}
	if len(baselines) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id, bucket,
	delta_t_mean, delta_t_std, delta_t_count,
	cop_mean, cop_std, cop_count,
	computed_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (device_id, bucket)
DO UPDATE SET
	delta_t_mean = EXCLUDED.delta_t_mean,
	delta_t_std = EXCLUDED.delta_t_std,
	delta_t_count = EXCLUDED.delta_t_count,
	cop_mean = EXCLUDED.cop_mean,
	cop_std = EXCLUDED.cop_std,
	cop_count = EXCLUDED.cop_count,
	computed_at = EXCLUDED.computed_at`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, row := range baselines {
		if row.DeviceID == "" || row.Bucket < 0 || row.Bucket >= baseline.BucketCount {
			_ = tx.Rollback()
			return errors.New("baseline repo: invalid baseline row")
		}
		if _, err := stmt.ExecContext(ctx,
			row.DeviceID,
			row.Bucket,
			nullableFloat(row.DeltaTMean),
			nullableFloat(row.DeltaTStd),
			row.DeltaTCount,
			nullableFloat(row.COPMean),
			nullableFloat(row.COPStd),
			row.COPCount,
			row.ComputedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Find fetches the baseline for a device and hour-of-week bucket, or nil
// when no baseline exists.
func (r *Repository) Find(ctx context.Context, deviceID string, bucket int) (*baseline.Baseline, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("baseline repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("baseline repo: device id required")
	}

	query := fmt.Sprintf(`
SELECT device_id, bucket,
	delta_t_mean, delta_t_std, delta_t_count,
	cop_mean, cop_std, cop_count,
	computed_at
FROM %s
WHERE device_id = $1 AND bucket = $2`, r.table)

	row := r.db.QueryRowContext(ctx, query, deviceID, bucket)

	var result baseline.Baseline
	var deltaTMean, deltaTStd, copMean, copStd sql.NullFloat64
	if err := row.Scan(
		&result.DeviceID,
		&result.Bucket,
		&deltaTMean,
		&deltaTStd,
		&result.DeltaTCount,
		&copMean,
		&copStd,
		&result.COPCount,
		&result.ComputedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	result.DeltaTMean = floatPtr(deltaTMean)
	result.DeltaTStd = floatPtr(deltaTStd)
	result.COPMean = floatPtr(copMean)
	result.COPStd = floatPtr(copStd)
	result.ComputedAt = result.ComputedAt.UTC()
	return &result, nil
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	result := value.Float64
	return &result
}
