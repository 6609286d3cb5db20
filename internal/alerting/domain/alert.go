package alerting

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// Lifecycle states. An alert is active while open or acknowledged.
const (
	StatusOpen   = "open"
	StatusAck    = "ack"
	StatusClosed = "closed"
)

// Severities.
const (
	SeverityMinor    = "minor"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// Alert types.
const (
	TypeOverheat          = "overheat"
	TypeLowFlowUnderLoad  = "low_flow_under_load"
	TypeLowCOP            = "low_cop"
	TypeShortCycling      = "short_cycling"
	TypeHeartbeatWarn     = "heartbeat_warn"
	TypeHeartbeatCritical = "heartbeat_critical"
	TypeIngestDegradation = "ingest_degradation"
)

// Alert is one anomaly record. DeviceID is empty for fleet-wide alerts
// (ingest degradation). At most one active alert may exist per
// (device, type) pair; the store enforces this with a partial unique
// index over active rows.
type Alert struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id,omitempty"`
	SiteID    string         `json:"site_id,omitempty"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Status    string         `json:"status"`
	OpenedAt  time.Time      `json:"opened_at"`
	AckedBy   string         `json:"acked_by,omitempty"`
	AckedAt   time.Time      `json:"acked_at,omitempty"`
	ClosedAt  time.Time      `json:"closed_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Active reports whether the alert still demands attention.
func (a Alert) Active() bool {
	return a.Status == StatusOpen || a.Status == StatusAck
}

// SeverityRank orders severities for aggregation; unknown ranks lowest.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// BuildAlertID derives a deterministic alert id from the opening facts.
func BuildAlertID(deviceID, alertType string, openedAt time.Time) string {
	sum := sha1.Sum([]byte(deviceID + "|" + alertType + "|" + openedAt.UTC().Format(time.RFC3339Nano)))
	return "alert-" + hex.EncodeToString(sum[:8])
}
