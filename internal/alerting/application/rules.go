package application

import (
	"context"

	alerting "heatfleet-cloud/internal/alerting/domain"
	baseline "heatfleet-cloud/internal/baseline/domain"
	telemetry "heatfleet-cloud/internal/telemetry/domain"
)

// RuleInput is everything a rule condition may inspect for one sample.
// Baseline is nil when no baseline exists for the device's current
// hour-of-week bucket; deviation rules must then report not-fired.
type RuleInput struct {
	Sample     telemetry.Sample
	Derived    telemetry.Derived
	Baseline   *baseline.Baseline
	Thresholds Thresholds

	// CompressorStarts counts compressor starts in the trailing
	// short-cycle window. Evaluated lazily; only the short-cycling
	// rule pays for the history query.
	CompressorStarts func(ctx context.Context) (int, error)
}

// Rule is one declarative alert rule. Condition reports whether the rule
// fires for the input and, when it does, the metadata to persist with an
// opened alert.
type Rule struct {
	Type      string
	Severity  string
	Condition func(ctx context.Context, in RuleInput) (bool, map[string]any, error)
}

// deviceRules is the fixed rule set evaluated on every ingested sample.
func deviceRules() []Rule {
	return []Rule{
		{
			Type:      alerting.TypeOverheat,
			Severity:  alerting.SeverityMajor,
			Condition: overheatCondition,
		},
		{
			Type:      alerting.TypeLowCOP,
			Severity:  alerting.SeverityMinor,
			Condition: lowCOPCondition,
		},
		{
			Type:      alerting.TypeLowFlowUnderLoad,
			Severity:  alerting.SeverityMajor,
			Condition: lowFlowUnderLoadCondition,
		},
		{
			Type:      alerting.TypeShortCycling,
			Severity:  alerting.SeverityMinor,
			Condition: shortCyclingCondition,
		},
	}
}

// overheatCondition fires when ΔT deviates above the hour-of-week
// baseline by more than the configured z-score. Without a usable
// baseline the rule is skipped to avoid cold-start false positives.
func overheatCondition(_ context.Context, in RuleInput) (bool, map[string]any, error) {
	if in.Derived.DeltaTC == nil {
		return false, nil, nil
	}
	z, ok := zScore(*in.Derived.DeltaTC, in.Baseline, baselineDeltaT, in.Thresholds.MinBaselineSamples)
	if !ok {
		return false, nil, nil
	}
	if z <= in.Thresholds.OverheatZ {
		return false, nil, nil
	}
	return true, map[string]any{
		"delta_t_c": *in.Derived.DeltaTC,
		"mean":      *in.Baseline.DeltaTMean,
		"std":       *in.Baseline.DeltaTStd,
		"z":         z,
	}, nil
}

// lowCOPCondition fires when COP deviates below the baseline by more
// than the configured z-score.
func lowCOPCondition(_ context.Context, in RuleInput) (bool, map[string]any, error) {
	if in.Derived.COP == nil {
		return false, nil, nil
	}
	z, ok := zScore(*in.Derived.COP, in.Baseline, baselineCOP, in.Thresholds.MinBaselineSamples)
	if !ok {
		return false, nil, nil
	}
	if z >= -in.Thresholds.LowCOPZ {
		return false, nil, nil
	}
	return true, map[string]any{
		"cop":  *in.Derived.COP,
		"mean": *in.Baseline.COPMean,
		"std":  *in.Baseline.COPStd,
		"z":    z,
	}, nil
}

// lowFlowUnderLoadCondition fires when the circulation flow collapses
// while the compressor draws load current.
func lowFlowUnderLoadCondition(_ context.Context, in RuleInput) (bool, map[string]any, error) {
	flow := in.Sample.Metrics.FlowLPS
	current := in.Sample.Metrics.CompressorCurrentA
	if flow == nil || current == nil {
		return false, nil, nil
	}
	if *flow >= in.Thresholds.MinFlowLPS || *current <= in.Thresholds.LoadCurrentA {
		return false, nil, nil
	}
	return true, map[string]any{
		"flow_lps":             *flow,
		"compressor_current_a": *current,
	}, nil
}

// shortCyclingCondition fires when the compressor started too many
// times within the trailing window.
func shortCyclingCondition(ctx context.Context, in RuleInput) (bool, map[string]any, error) {
	if in.CompressorStarts == nil {
		return false, nil, nil
	}
	starts, err := in.CompressorStarts(ctx)
	if err != nil {
		return false, nil, err
	}
	if starts < in.Thresholds.ShortCycleStarts {
		return false, nil, nil
	}
	return true, map[string]any{
		"starts":         starts,
		"window_minutes": in.Thresholds.ShortCycleWindowMinute,
	}, nil
}

type baselineMetric int

const (
	baselineDeltaT baselineMetric = iota
	baselineCOP
)

// zScore computes (value-mean)/std against the baseline. Reports false
// when the baseline is missing, too thin, or has no spread.
func zScore(value float64, b *baseline.Baseline, metric baselineMetric, minSamples int) (float64, bool) {
	if b == nil {
		return 0, false
	}
	var mean, std *float64
	var count int
	switch metric {
	case baselineDeltaT:
		mean, std, count = b.DeltaTMean, b.DeltaTStd, b.DeltaTCount
	case baselineCOP:
		mean, std, count = b.COPMean, b.COPStd, b.COPCount
	}
	if mean == nil || std == nil || *std <= 0 || count < minSamples {
		return 0, false
	}
	return (value - *mean) / *std, true
}

// CountStarts counts rising edges of a compressor current series through
// the on-threshold. The series must be time ordered.
func CountStarts(series []float64, onThreshold float64) int {
	starts := 0
	running := false
	for _, value := range series {
		on := value >= onThreshold
		if on && !running {
			starts++
		}
		running = on
	}
	return starts
}
