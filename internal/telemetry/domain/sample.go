package telemetry

import "time"

// Sample is one ingested telemetry event for a device. Samples are
// append-only; a sample is never mutated after ingest.
type Sample struct {
	DeviceID string    `json:"device_id"`
	TS       time.Time `json:"ts"`
	Metrics  Metrics   `json:"metrics"`
	Status   Status    `json:"status"`
}

// Metrics holds the optional raw sensor readings of a sample. Nil means
// the sensor did not report.
type Metrics struct {
	TankTempC          *float64 `json:"tank_temp_c,omitempty"`
	SupplyTempC        *float64 `json:"supply_temp_c,omitempty"`
	ReturnTempC        *float64 `json:"return_temp_c,omitempty"`
	AmbientTempC       *float64 `json:"ambient_temp_c,omitempty"`
	FlowLPS            *float64 `json:"flow_lps,omitempty"`
	CompressorCurrentA *float64 `json:"compressor_current_a,omitempty"`
	EEVPositionPct     *float64 `json:"eev_position_pct,omitempty"`
	PowerKW            *float64 `json:"power_kw,omitempty"`
}

// Status is the device-reported operating status block.
type Status struct {
	Mode    string `json:"mode,omitempty"`
	Defrost bool   `json:"defrost"`
	Online  bool   `json:"online"`
}

// DerivedPoint is the slice of a historical sample the baseline recompute
// needs: derived values keyed by device and time.
type DerivedPoint struct {
	DeviceID string
	TS       time.Time
	DeltaTC  *float64
	COP      *float64
}
