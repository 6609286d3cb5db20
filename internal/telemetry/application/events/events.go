package events

import (
	telemetry "heatfleet-cloud/internal/telemetry/domain"
)

// TelemetryReceived is published after a sample has been persisted. The
// alert engine consumes it; failures downstream never affect ingestion.
type TelemetryReceived struct {
	Sample  telemetry.Sample
	Derived telemetry.Derived
}
