package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	alerting "heatfleet-cloud/internal/alerting/domain"
)

// AlertRepository is a Postgres repository for alert lifecycle rows.
//
// The alerts table carries a partial unique index over active rows:
//
//	CREATE UNIQUE INDEX uq_alerts_active ON alerts (device_id, type)
//	WHERE status IN ('open', 'ack');
//
// Create relies on it to turn concurrent duplicate opens into no-ops.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert. Returns false when an active alert for the
// same (device, type) already holds the unique index slot.
func (r *AlertRepository) Create(ctx context.Context, alert *alerting.Alert) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	if alert == nil {
		return false, errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.Type == "" || alert.Severity == "" || alert.OpenedAt.IsZero() {
		return false, errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}

	metadata, err := marshalMetadata(alert.Metadata)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, device_id, site_id, type, severity, status,
	opened_at, acked_by, acked_at, closed_at, metadata, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12, $13
)
ON CONFLICT DO NOTHING`,
		alert.ID,
		alert.DeviceID,
		alert.SiteID,
		alert.Type,
		alert.Severity,
		alert.Status,
		alert.OpenedAt.UTC(),
		alert.AckedBy,
		nullableTime(alert.AckedAt),
		nullableTime(alert.ClosedAt),
		metadata,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerting.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, device_id, site_id, type, severity, status,
	opened_at, acked_by, acked_at, closed_at, metadata, created_at, updated_at
FROM alerts
WHERE id = $1`, id)
	return scanAlert(row)
}

// FindActive returns the open or acknowledged alert for a (device, type)
// pair, or nil. Use an empty device id for fleet-wide alerts.
func (r *AlertRepository) FindActive(ctx context.Context, deviceID, alertType string) (*alerting.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if alertType == "" {
		return nil, errors.New("alert repo: alert type required")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, device_id, site_id, type, severity, status,
	opened_at, acked_by, acked_at, closed_at, metadata, created_at, updated_at
FROM alerts
WHERE device_id = $1 AND type = $2 AND status IN ('open', 'ack')
ORDER BY created_at DESC
LIMIT 1`, deviceID, alertType)
	return scanAlert(row)
}

// MarkAcknowledged marks an alert as acknowledged by an actor.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id, actor string, ackedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, acked_by = $2, acked_at = $3, updated_at = $4
WHERE id = $5`, alerting.StatusAck, actor, ackedAt, ackedAt, id)
	return err
}

// MarkClosed closes an alert.
func (r *AlertRepository) MarkClosed(ctx context.Context, id string, closedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, closed_at = $2, updated_at = $3
WHERE id = $4`, alerting.StatusClosed, closedAt, closedAt, id)
	return err
}

// ListBySite lists alerts for a site within a time window, optionally
// filtered by status.
func (r *AlertRepository) ListBySite(ctx context.Context, siteID, status string, from, to time.Time) ([]alerting.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("alert repo: site id required")
	}
	query := `
SELECT id, device_id, site_id, type, severity, status,
	opened_at, acked_by, acked_at, closed_at, metadata, created_at, updated_at
FROM alerts
WHERE site_id = $1 AND opened_at >= $2 AND opened_at < $3`
	args := []any{siteID, from.UTC(), to.UTC()}
	if status != "" {
		query += " AND status = $4"
		args = append(args, status)
	}
	query += " ORDER BY opened_at DESC"
	return r.list(ctx, query, args...)
}

// ListOpenedBetween lists all alerts opened in [from, to), ordered by
// open time with id as tie-breaker for deterministic clustering.
func (r *AlertRepository) ListOpenedBetween(ctx context.Context, from, to time.Time) ([]alerting.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	return r.list(ctx, `
SELECT id, device_id, site_id, type, severity, status,
	opened_at, acked_by, acked_at, closed_at, metadata, created_at, updated_at
FROM alerts
WHERE opened_at >= $1 AND opened_at < $2
ORDER BY opened_at, id`, from.UTC(), to.UTC())
}

func (r *AlertRepository) list(ctx context.Context, query string, args ...any) ([]alerting.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerting.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerting.Alert, error) {
	var alert alerting.Alert
	var ackedBy sql.NullString
	var ackedAt, closedAt sql.NullTime
	var metadata []byte
	if err := row.Scan(
		&alert.ID,
		&alert.DeviceID,
		&alert.SiteID,
		&alert.Type,
		&alert.Severity,
		&alert.Status,
		&alert.OpenedAt,
		&ackedBy,
		&ackedAt,
		&closedAt,
		&metadata,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.OpenedAt = alert.OpenedAt.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if ackedBy.Valid {
		alert.AckedBy = ackedBy.String
	}
	if ackedAt.Valid {
		alert.AckedAt = ackedAt.Time.UTC()
	}
	if closedAt.Valid {
		alert.ClosedAt = closedAt.Time.UTC()
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &alert.Metadata); err != nil {
			return nil, err
		}
	}
	return &alert, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
