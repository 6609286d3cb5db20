package telemetry

import "math"

// Water properties used for thermal power derivation.
const (
	waterDensityKgPerL  = 0.997
	waterSpecificHeatKJ = 4.186
)

// Minimum electrical power for a COP reading to count as measured. Below
// this the electrical meter noise dominates the ratio.
const minPowerForCOPKW = 0.05

// Quality tags for derived metrics. Quality is empty when neither COP
// case applies; it serializes and persists as absent, not as a tag.
const (
	QualityMeasured  = "measured"
	QualityEstimated = "estimated"
)

// Derived holds physical quantities computed from one sample's metrics.
// Nil means the inputs required for that quantity were missing.
type Derived struct {
	DeltaTC   *float64 `json:"delta_t_c,omitempty"`
	ThermalKW *float64 `json:"thermal_kw,omitempty"`
	COP       *float64 `json:"cop,omitempty"`
	Quality   string   `json:"quality,omitempty"`
}

// Derive computes ΔT, thermal power and COP from raw metrics. Pure and
// deterministic: identical inputs yield identical rounded outputs.
func Derive(m Metrics) Derived {
	var derived Derived

	if m.SupplyTempC == nil || m.ReturnTempC == nil {
		return derived
	}
	deltaT := round1(*m.SupplyTempC - *m.ReturnTempC)
	derived.DeltaTC = &deltaT

	if m.FlowLPS == nil {
		return derived
	}
	thermal := round2(waterDensityKgPerL * waterSpecificHeatKJ * *m.FlowLPS * deltaT / 1000)
	derived.ThermalKW = &thermal

	if m.PowerKW != nil && *m.PowerKW > minPowerForCOPKW {
		cop := round2(thermal / *m.PowerKW)
		derived.COP = &cop
		derived.Quality = QualityMeasured
		return derived
	}

	derived.Quality = QualityEstimated
	return derived
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
