package masterdata

import (
	"context"
	"time"
)

// Device is a commissioned fleet device.
type Device struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	Name       string    `json:"name"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DeviceRepository provides device registry access.
type DeviceRepository interface {
	Get(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error
}
