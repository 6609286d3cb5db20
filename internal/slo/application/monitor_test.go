package application

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	alerting "heatfleet-cloud/internal/alerting/domain"
)

type stubRequests struct {
	total, ok int
}

func (s stubRequests) CountSince(context.Context, time.Time) (int, int, error) {
	return s.total, s.ok, nil
}

type sloStore struct {
	active  *alerting.Alert
	created []alerting.Alert
	closed  []string
}

func (s *sloStore) FindActive(_ context.Context, deviceID, alertType string) (*alerting.Alert, error) {
	if s.active != nil && s.active.DeviceID == deviceID && s.active.Type == alertType && s.active.Active() {
		copied := *s.active
		return &copied, nil
	}
	return nil, nil
}

func (s *sloStore) Create(_ context.Context, alert *alerting.Alert) (bool, error) {
	copied := *alert
	s.active = &copied
	s.created = append(s.created, copied)
	return true, nil
}

func (s *sloStore) MarkClosed(_ context.Context, id string, closedAt time.Time) error {
	if s.active != nil && s.active.ID == id {
		s.active.Status = alerting.StatusClosed
		s.active.ClosedAt = closedAt
	}
	s.closed = append(s.closed, id)
	return nil
}

func (s *sloStore) MarkAcknowledged(context.Context, string, string, time.Time) error {
	return nil
}

func (s *sloStore) GetByID(context.Context, string) (*alerting.Alert, error) {
	return nil, nil
}

func (s *sloStore) ListBySite(context.Context, string, string, time.Time, time.Time) ([]alerting.Alert, error) {
	return nil, nil
}

var checkNow = time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)

func newMonitor(t *testing.T, requests stubRequests, store *sloStore) *Monitor {
	t.Helper()
	monitor, err := NewMonitor(requests, store, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return monitor
}

func TestCheckOpensOnHighBurn(t *testing.T) {
	store := &sloStore{}
	monitor := newMonitor(t, stubRequests{total: 250, ok: 200}, store)

	snapshot, err := monitor.Check(context.Background(), checkNow)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if math.Abs(snapshot.ErrRate-0.2) > 1e-9 {
		t.Fatalf("err rate = %v, want 0.2", snapshot.ErrRate)
	}
	if math.Abs(snapshot.Burn-200.0) > 1e-6 {
		t.Fatalf("burn = %v, want 200", snapshot.Burn)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d alerts, want 1", len(store.created))
	}
	alert := store.created[0]
	if alert.Type != alerting.TypeIngestDegradation || alert.Severity != alerting.SeverityCritical {
		t.Fatalf("unexpected alert %s/%s", alert.Type, alert.Severity)
	}
	if alert.DeviceID != "" {
		t.Fatalf("device = %q, want fleet-wide empty device", alert.DeviceID)
	}
	if alert.Metadata["burn"] == nil {
		t.Fatal("expected burn metadata")
	}
}

func TestCheckIdempotentWhileActive(t *testing.T) {
	store := &sloStore{}
	monitor := newMonitor(t, stubRequests{total: 250, ok: 200}, store)

	for i := 0; i < 3; i++ {
		if _, err := monitor.Check(context.Background(), checkNow); err != nil {
			t.Fatalf("Check #%d: %v", i, err)
		}
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d alerts, want 1", len(store.created))
	}
}

func TestCheckClosesOnRecovery(t *testing.T) {
	store := &sloStore{}
	monitor := newMonitor(t, stubRequests{total: 250, ok: 200}, store)
	if _, err := monitor.Check(context.Background(), checkNow); err != nil {
		t.Fatalf("open check: %v", err)
	}

	monitor = newMonitor(t, stubRequests{total: 1000, ok: 999}, store)
	snapshot, err := monitor.Check(context.Background(), checkNow.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("recovery check: %v", err)
	}
	if math.Abs(snapshot.Burn-1.0) > 1e-6 {
		t.Fatalf("burn = %v, want 1.0", snapshot.Burn)
	}
	if len(store.closed) != 1 {
		t.Fatalf("closed %d alerts, want 1", len(store.closed))
	}
}

func TestCheckBurnAtOneDoesNotOpen(t *testing.T) {
	store := &sloStore{}
	monitor := newMonitor(t, stubRequests{total: 1000, ok: 999}, store)
	if _, err := monitor.Check(context.Background(), checkNow); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("created %d alerts at burn 1.0, want 0", len(store.created))
	}
}

func TestCheckBelowFloorNoAction(t *testing.T) {
	store := &sloStore{}
	monitor := newMonitor(t, stubRequests{total: 100, ok: 10}, store)

	snapshot, err := monitor.Check(context.Background(), checkNow)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if snapshot.Burn <= openBurn {
		t.Fatalf("burn = %v, expected a high burn sample", snapshot.Burn)
	}
	if len(store.created) != 0 {
		t.Fatalf("created %d alerts below floor, want 0", len(store.created))
	}

	// An active alert also stays open below the floor.
	store.active = &alerting.Alert{
		ID:     "alert-deadbeef",
		Type:   alerting.TypeIngestDegradation,
		Status: alerting.StatusOpen,
	}
	monitor = newMonitor(t, stubRequests{total: 50, ok: 50}, store)
	if _, err := monitor.Check(context.Background(), checkNow); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(store.closed) != 0 {
		t.Fatalf("closed %d alerts below floor, want 0", len(store.closed))
	}
}

type stubPruner struct {
	cutoffs []time.Time
	err     error
}

func (s *stubPruner) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return 0, s.err
}

func TestCheckPrunesRequestLog(t *testing.T) {
	store := &sloStore{}
	pruner := &stubPruner{}
	monitor, err := NewMonitor(stubRequests{total: 1000, ok: 1000}, store, log.New(io.Discard, "", 0),
		WithPruner(pruner))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	if _, err := monitor.Check(context.Background(), checkNow); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(pruner.cutoffs) != 1 {
		t.Fatalf("pruned %d times, want 1", len(pruner.cutoffs))
	}
	want := checkNow.Add(-24 * time.Hour)
	if !pruner.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", pruner.cutoffs[0], want)
	}
}

func TestCheckPruneFailureDoesNotBlock(t *testing.T) {
	store := &sloStore{}
	pruner := &stubPruner{err: errors.New("db down")}
	monitor, err := NewMonitor(stubRequests{total: 250, ok: 200}, store, log.New(io.Discard, "", 0),
		WithPruner(pruner), WithRetention(time.Hour))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	if _, err := monitor.Check(context.Background(), checkNow); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d alerts despite prune failure, want 1", len(store.created))
	}
	want := checkNow.Add(-time.Hour)
	if !pruner.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", pruner.cutoffs[0], want)
	}
}

func TestCheckEmptyWindow(t *testing.T) {
	store := &sloStore{}
	monitor := newMonitor(t, stubRequests{}, store)
	snapshot, err := monitor.Check(context.Background(), checkNow)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if snapshot.ErrRate != 0 || snapshot.Burn != 0 {
		t.Fatalf("expected zero rates on empty window, got %+v", snapshot)
	}
}
