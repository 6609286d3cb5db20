package application

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds bundles the tunable limits of the rule set.
type Thresholds struct {
	// Baseline-deviation rules.
	OverheatZ          float64 `yaml:"overheat_z"`
	LowCOPZ            float64 `yaml:"low_cop_z"`
	MinBaselineSamples int     `yaml:"min_baseline_samples"`

	// Low flow under load.
	MinFlowLPS   float64 `yaml:"min_flow_lps"`
	LoadCurrentA float64 `yaml:"load_current_a"`

	// Short cycling.
	CompressorOnA          float64 `yaml:"compressor_on_a"`
	ShortCycleStarts       int     `yaml:"short_cycle_starts"`
	ShortCycleWindowMinute int     `yaml:"short_cycle_window_minutes"`
}

// DefaultThresholds returns the shipped rule limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OverheatZ:              3.0,
		LowCOPZ:                2.0,
		MinBaselineSamples:     12,
		MinFlowLPS:             0.10,
		LoadCurrentA:           4.0,
		CompressorOnA:          1.0,
		ShortCycleStarts:       6,
		ShortCycleWindowMinute: 30,
	}
}

// LoadThresholds loads rule limits from the yaml file named by
// ALERTING_CONFIG, falling back to defaults for unset fields.
func LoadThresholds() (Thresholds, error) {
	thresholds := DefaultThresholds()
	path := os.Getenv("ALERTING_CONFIG")
	if path == "" {
		return thresholds, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return thresholds, err
	}
	if err := yaml.Unmarshal(data, &thresholds); err != nil {
		return thresholds, err
	}
	return thresholds.normalized(), nil
}

func (t Thresholds) normalized() Thresholds {
	defaults := DefaultThresholds()
	if t.OverheatZ <= 0 {
		t.OverheatZ = defaults.OverheatZ
	}
	if t.LowCOPZ <= 0 {
		t.LowCOPZ = defaults.LowCOPZ
	}
	if t.MinBaselineSamples <= 0 {
		t.MinBaselineSamples = defaults.MinBaselineSamples
	}
	if t.MinFlowLPS <= 0 {
		t.MinFlowLPS = defaults.MinFlowLPS
	}
	if t.LoadCurrentA <= 0 {
		t.LoadCurrentA = defaults.LoadCurrentA
	}
	if t.CompressorOnA <= 0 {
		t.CompressorOnA = defaults.CompressorOnA
	}
	if t.ShortCycleStarts <= 0 {
		t.ShortCycleStarts = defaults.ShortCycleStarts
	}
	if t.ShortCycleWindowMinute <= 0 {
		t.ShortCycleWindowMinute = defaults.ShortCycleWindowMinute
	}
	return t
}

// ShortCycleWindow returns the trailing window for start counting.
func (t Thresholds) ShortCycleWindow() time.Duration {
	return time.Duration(t.ShortCycleWindowMinute) * time.Minute
}
