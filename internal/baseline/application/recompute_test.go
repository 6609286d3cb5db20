package application

import (
	"context"
	"io"
	"log"
	"math"
	"reflect"
	"testing"
	"time"

	baseline "heatfleet-cloud/internal/baseline/domain"
	telemetry "heatfleet-cloud/internal/telemetry/domain"
)

type stubHistory struct {
	points []telemetry.DerivedPoint
	since  time.Time
}

func (s *stubHistory) ListDerivedSince(_ context.Context, since time.Time) ([]telemetry.DerivedPoint, error) {
	s.since = since
	return s.points, nil
}

type captureRepo struct {
	written [][]baseline.Baseline
}

func (r *captureRepo) Upsert(_ context.Context, baselines []baseline.Baseline) error {
	copied := append([]baseline.Baseline(nil), baselines...)
	r.written = append(r.written, copied)
	return nil
}

func ptr(value float64) *float64 { return &value }

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRecomputeGroupsByDeviceAndBucket(t *testing.T) {
	monday := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC) // bucket 9
	history := &stubHistory{points: []telemetry.DerivedPoint{
		{DeviceID: "hp-1", TS: monday, DeltaTC: ptr(6.0), COP: ptr(3.0)},
		{DeviceID: "hp-1", TS: monday.Add(10 * time.Minute), DeltaTC: ptr(8.0), COP: ptr(3.4)},
		{DeviceID: "hp-1", TS: monday.Add(2 * time.Hour), DeltaTC: ptr(5.0)},
		{DeviceID: "hp-2", TS: monday, DeltaTC: ptr(4.0)},
	}}
	repo := &captureRepo{}
	service, err := NewRecomputeService(history, repo, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	now := monday.Add(24 * time.Hour)
	count, err := service.Recompute(context.Background(), now)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if got, want := history.since, now.Add(-7*24*time.Hour); !got.Equal(want) {
		t.Fatalf("scan since = %s, want %s", got, want)
	}

	rows := repo.written[0]
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	// Sorted by device then bucket.
	first := rows[0]
	if first.DeviceID != "hp-1" || first.Bucket != 9 {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if first.DeltaTCount != 2 || *first.DeltaTMean != 7.0 {
		t.Fatalf("delta t stats = count %d mean %v", first.DeltaTCount, first.DeltaTMean)
	}
	if first.DeltaTStd == nil || math.Abs(*first.DeltaTStd-1.0) > 1e-12 {
		t.Fatalf("delta t std = %v, want 1.0", first.DeltaTStd)
	}
	if first.COPCount != 2 || math.Abs(*first.COPMean-3.2) > 1e-12 {
		t.Fatalf("cop stats = count %d mean %v", first.COPCount, first.COPMean)
	}

	// Single-sample groups carry no std.
	second := rows[1]
	if second.Bucket != 11 || second.DeltaTStd != nil {
		t.Fatalf("unexpected second row: %+v", second)
	}
	third := rows[2]
	if third.DeviceID != "hp-2" || third.COPCount != 0 || third.COPMean != nil {
		t.Fatalf("unexpected third row: %+v", third)
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	base := time.Date(2026, 2, 3, 14, 0, 0, 0, time.UTC)
	history := &stubHistory{points: []telemetry.DerivedPoint{
		{DeviceID: "hp-1", TS: base, DeltaTC: ptr(6.2), COP: ptr(3.1)},
		{DeviceID: "hp-1", TS: base.Add(time.Minute), DeltaTC: ptr(6.4), COP: ptr(3.3)},
		{DeviceID: "hp-3", TS: base.Add(time.Hour), DeltaTC: ptr(7.7)},
	}}
	repo := &captureRepo{}
	service, err := NewRecomputeService(history, repo, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	now := base.Add(6 * time.Hour)
	if _, err := service.Recompute(context.Background(), now); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	if _, err := service.Recompute(context.Background(), now); err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if len(repo.written) != 2 {
		t.Fatalf("writes = %d, want 2", len(repo.written))
	}
	if !reflect.DeepEqual(repo.written[0], repo.written[1]) {
		t.Fatalf("recompute not idempotent:\nfirst  %+v\nsecond %+v", repo.written[0], repo.written[1])
	}
}

func TestRecomputeEmptyHistoryWritesNothing(t *testing.T) {
	repo := &captureRepo{}
	service, err := NewRecomputeService(&stubHistory{}, repo, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	count, err := service.Recompute(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if count != 0 || len(repo.written) != 0 {
		t.Fatalf("expected no writes, got count=%d writes=%d", count, len(repo.written))
	}
}
