package application

import (
	"context"
	"errors"
	"testing"

	baseline "heatfleet-cloud/internal/baseline/domain"
	telemetry "heatfleet-cloud/internal/telemetry/domain"
)

func f64(v float64) *float64 { return &v }

func testBaseline(deltaMean, deltaStd float64, deltaCount int, copMean, copStd float64, copCount int) *baseline.Baseline {
	return &baseline.Baseline{
		DeviceID:    "hp-001",
		DeltaTMean:  f64(deltaMean),
		DeltaTStd:   f64(deltaStd),
		DeltaTCount: deltaCount,
		COPMean:     f64(copMean),
		COPStd:      f64(copStd),
		COPCount:    copCount,
	}
}

func TestOverheatCondition(t *testing.T) {
	thresholds := DefaultThresholds()
	b := testBaseline(5.0, 1.0, 24, 3.0, 0.5, 24)

	cases := []struct {
		name     string
		deltaT   *float64
		baseline *baseline.Baseline
		want     bool
	}{
		{"above threshold", f64(8.5), b, true},
		{"below threshold", f64(7.9), b, false},
		{"exactly threshold", f64(8.0), b, false},
		{"no baseline", f64(20.0), nil, false},
		{"thin baseline", f64(20.0), testBaseline(5.0, 1.0, 3, 3.0, 0.5, 3), false},
		{"zero spread", f64(20.0), testBaseline(5.0, 0.0, 24, 3.0, 0.5, 24), false},
		{"missing delta t", nil, b, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fired, metadata, err := overheatCondition(context.Background(), RuleInput{
				Derived:    telemetry.Derived{DeltaTC: tc.deltaT},
				Baseline:   tc.baseline,
				Thresholds: thresholds,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if fired != tc.want {
				t.Fatalf("fired = %v, want %v", fired, tc.want)
			}
			if fired && metadata["z"] == nil {
				t.Fatal("expected z in metadata")
			}
		})
	}
}

func TestLowCOPCondition(t *testing.T) {
	thresholds := DefaultThresholds()
	b := testBaseline(5.0, 1.0, 24, 3.0, 0.5, 24)

	cases := []struct {
		name string
		cop  *float64
		want bool
	}{
		{"far below baseline", f64(1.9), true},
		{"slightly below baseline", f64(2.1), false},
		{"at baseline", f64(3.0), false},
		{"missing cop", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fired, _, err := lowCOPCondition(context.Background(), RuleInput{
				Derived:    telemetry.Derived{COP: tc.cop},
				Baseline:   b,
				Thresholds: thresholds,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if fired != tc.want {
				t.Fatalf("fired = %v, want %v", fired, tc.want)
			}
		})
	}
}

func TestLowFlowUnderLoadCondition(t *testing.T) {
	thresholds := DefaultThresholds()

	cases := []struct {
		name    string
		flow    *float64
		current *float64
		want    bool
	}{
		{"low flow high current", f64(0.05), f64(5.0), true},
		{"low flow low current", f64(0.05), f64(3.0), false},
		{"healthy flow high current", f64(0.50), f64(5.0), false},
		{"flow at threshold", f64(0.10), f64(5.0), false},
		{"current at threshold", f64(0.05), f64(4.0), false},
		{"missing flow", nil, f64(5.0), false},
		{"missing current", f64(0.05), nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fired, _, err := lowFlowUnderLoadCondition(context.Background(), RuleInput{
				Sample: telemetry.Sample{
					Metrics: telemetry.Metrics{FlowLPS: tc.flow, CompressorCurrentA: tc.current},
				},
				Thresholds: thresholds,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if fired != tc.want {
				t.Fatalf("fired = %v, want %v", fired, tc.want)
			}
		})
	}
}

func TestShortCyclingCondition(t *testing.T) {
	thresholds := DefaultThresholds()

	run := func(starts int, err error) (bool, error) {
		fired, _, condErr := shortCyclingCondition(context.Background(), RuleInput{
			Thresholds: thresholds,
			CompressorStarts: func(context.Context) (int, error) {
				return starts, err
			},
		})
		return fired, condErr
	}

	if fired, err := run(6, nil); err != nil || !fired {
		t.Fatalf("6 starts: fired=%v err=%v, want fired", fired, err)
	}
	if fired, err := run(5, nil); err != nil || fired {
		t.Fatalf("5 starts: fired=%v err=%v, want quiet", fired, err)
	}
	wantErr := errors.New("history down")
	if _, err := run(0, wantErr); !errors.Is(err, wantErr) {
		t.Fatalf("expected history error, got %v", err)
	}

	fired, _, err := shortCyclingCondition(context.Background(), RuleInput{Thresholds: thresholds})
	if err != nil || fired {
		t.Fatalf("no starts fn: fired=%v err=%v, want quiet", fired, err)
	}
}

func TestCountStarts(t *testing.T) {
	cases := []struct {
		name   string
		series []float64
		want   int
	}{
		{"empty", nil, 0},
		{"single run", []float64{0.2, 1.5, 1.8, 1.2}, 1},
		{"three starts", []float64{0.5, 1.2, 0.8, 1.5, 1.5, 0.2, 1.1}, 3},
		{"starts on", []float64{1.4, 1.2, 0.3, 1.1}, 2},
		{"never on", []float64{0.1, 0.5, 0.9}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CountStarts(tc.series, 1.0); got != tc.want {
				t.Fatalf("CountStarts = %d, want %d", got, tc.want)
			}
		})
	}
}
