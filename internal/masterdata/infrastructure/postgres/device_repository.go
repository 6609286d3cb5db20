package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	masterdata "heatfleet-cloud/internal/masterdata/domain"
)

// DeviceRepository is a Postgres repository for the device registry.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Get fetches a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: device id required")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, site_id, name, last_seen_at, created_at, updated_at
FROM devices
WHERE id = $1`, id)
	return scanDevice(row)
}

// List returns all registered devices.
func (r *DeviceRepository) List(ctx context.Context) ([]masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, site_id, name, last_seen_at, created_at, updated_at
FROM devices
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []masterdata.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

// TouchLastSeen records the device as seen. Unknown devices are
// registered on first contact so the heartbeat sweep covers them.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if id == "" {
		return errors.New("device repo: device id required")
	}
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (id, site_id, name, last_seen_at, created_at, updated_at)
VALUES ($1, '', $1, $2, NOW(), NOW())
ON CONFLICT (id)
DO UPDATE SET last_seen_at = GREATEST(devices.last_seen_at, EXCLUDED.last_seen_at), updated_at = NOW()`,
		id, seenAt.UTC())
	return err
}

type deviceScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row deviceScanner) (*masterdata.Device, error) {
	var device masterdata.Device
	var lastSeen sql.NullTime
	if err := row.Scan(
		&device.ID,
		&device.SiteID,
		&device.Name,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastSeen.Valid {
		device.LastSeenAt = lastSeen.Time.UTC()
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
