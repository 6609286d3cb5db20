package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "heatfleet-cloud/internal/telemetry/domain"
)

const (
	defaultTelemetryTable   = "telemetry"
	defaultLatestStateTable = "latest_state"

	// Baseline recompute scans are bounded; one sample a minute per
	// device over a 7-day window for a mid-size fleet stays under this.
	historyScanLimit = 500000
)

// Repository is the Postgres store for telemetry history and the
// per-device latest derived state.
type Repository struct {
	db          *sql.DB
	table       string
	latestTable string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the telemetry table name.
func WithTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithLatestStateTable overrides the latest-state table name.
func WithLatestStateTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.latestTable = table
		}
	}
}

// NewRepository constructs a repository with default table names.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	repo := &Repository{db: db, table: defaultTelemetryTable, latestTable: defaultLatestStateTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertSample appends one sample with its derived values to history.
func (r *Repository) InsertSample(ctx context.Context, sample telemetry.Sample, derived telemetry.Derived) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if sample.DeviceID == "" || sample.TS.IsZero() {
		return errors.New("telemetry repo: invalid sample")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id, ts,
	tank_temp_c, supply_temp_c, return_temp_c, ambient_temp_c,
	flow_lps, compressor_current_a, eev_position_pct, power_kw,
	mode, defrost, online,
	delta_t_c, thermal_kw, cop, quality
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
)`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		sample.DeviceID,
		sample.TS.UTC(),
		nullableFloat(sample.Metrics.TankTempC),
		nullableFloat(sample.Metrics.SupplyTempC),
		nullableFloat(sample.Metrics.ReturnTempC),
		nullableFloat(sample.Metrics.AmbientTempC),
		nullableFloat(sample.Metrics.FlowLPS),
		nullableFloat(sample.Metrics.CompressorCurrentA),
		nullableFloat(sample.Metrics.EEVPositionPct),
		nullableFloat(sample.Metrics.PowerKW),
		sample.Status.Mode,
		sample.Status.Defrost,
		sample.Status.Online,
		nullableFloat(derived.DeltaTC),
		nullableFloat(derived.ThermalKW),
		nullableFloat(derived.COP),
		nullableString(derived.Quality),
	)
	return err
}

// UpsertLatestState replaces the current derived state for a device.
// Concurrent ingests for one device are last-write-wins by arrival
// order, not by sample timestamp.
func (r *Repository) UpsertLatestState(ctx context.Context, sample telemetry.Sample, derived telemetry.Derived) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if sample.DeviceID == "" || sample.TS.IsZero() {
		return errors.New("telemetry repo: invalid sample")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id, ts, delta_t_c, thermal_kw, cop, quality, mode, defrost, online, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, NOW()
)
ON CONFLICT (device_id)
DO UPDATE SET
	ts = EXCLUDED.ts,
	delta_t_c = EXCLUDED.delta_t_c,
	thermal_kw = EXCLUDED.thermal_kw,
	cop = EXCLUDED.cop,
	quality = EXCLUDED.quality,
	mode = EXCLUDED.mode,
	defrost = EXCLUDED.defrost,
	online = EXCLUDED.online,
	updated_at = NOW()`, r.latestTable)

	_, err := r.db.ExecContext(ctx, query,
		sample.DeviceID,
		sample.TS.UTC(),
		nullableFloat(derived.DeltaTC),
		nullableFloat(derived.ThermalKW),
		nullableFloat(derived.COP),
		nullableString(derived.Quality),
		sample.Status.Mode,
		sample.Status.Defrost,
		sample.Status.Online,
	)
	return err
}

// ListDerivedSince returns derived history points at or after since,
// ordered by device and time. The scan is LIMIT-bounded.
func (r *Repository) ListDerivedSince(ctx context.Context, since time.Time) ([]telemetry.DerivedPoint, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT device_id, ts, delta_t_c, cop
FROM %s
WHERE ts >= $1
ORDER BY device_id, ts
LIMIT %d`, r.table, historyScanLimit)

	rows, err := r.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []telemetry.DerivedPoint
	for rows.Next() {
		var point telemetry.DerivedPoint
		var deltaT, cop sql.NullFloat64
		if err := rows.Scan(&point.DeviceID, &point.TS, &deltaT, &cop); err != nil {
			return nil, err
		}
		point.TS = point.TS.UTC()
		if deltaT.Valid {
			value := deltaT.Float64
			point.DeltaTC = &value
		}
		if cop.Valid {
			value := cop.Float64
			point.COP = &value
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// ListCompressorCurrent returns the compressor current series for a
// device at or after since, ordered by time. Rows without a current
// reading are skipped.
func (r *Repository) ListCompressorCurrent(ctx context.Context, deviceID string, since time.Time) ([]float64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("telemetry repo: device id required")
	}

	query := fmt.Sprintf(`
SELECT compressor_current_a
FROM %s
WHERE device_id = $1 AND ts >= $2 AND compressor_current_a IS NOT NULL
ORDER BY ts
LIMIT 10000`, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		series = append(series, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return series, nil
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
