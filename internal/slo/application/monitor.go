package application

import (
	"context"
	"errors"
	"log"
	"time"

	alertapp "heatfleet-cloud/internal/alerting/application"
	alerting "heatfleet-cloud/internal/alerting/domain"
	"heatfleet-cloud/internal/observability/metrics"
)

const (
	defaultWindow      = 10 * time.Minute
	defaultTarget      = 0.999
	defaultSampleFloor = 200
	defaultRetention   = 24 * time.Hour

	openBurn  = 2.0
	closeBurn = 1.0
)

// RequestLogReader counts ingest requests over a trailing window.
type RequestLogReader interface {
	CountSince(ctx context.Context, since time.Time) (total, ok int, err error)
}

// RequestLogPruner drops request log rows older than a cutoff.
type RequestLogPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Snapshot is one burn-rate observation.
type Snapshot struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Total       int       `json:"total"`
	OK          int       `json:"ok"`
	ErrRate     float64   `json:"err_rate"`
	Burn        float64   `json:"burn"`
	Target      float64   `json:"target"`
}

// Monitor watches the ingest error budget and drives the fleet-wide
// degradation alert.
type Monitor struct {
	requests  RequestLogReader
	pruner    RequestLogPruner
	store     alertapp.AlertStore
	notifier  alertapp.AlertNotifier
	logger    *log.Logger
	window    time.Duration
	target    float64
	floor     int
	retention time.Duration
}

// Option configures the monitor.
type Option func(*Monitor)

// WithWindow overrides the trailing window.
func WithWindow(window time.Duration) Option {
	return func(m *Monitor) {
		if window > 0 {
			m.window = window
		}
	}
}

// WithTarget overrides the availability target.
func WithTarget(target float64) Option {
	return func(m *Monitor) {
		if target > 0 && target < 1 {
			m.target = target
		}
	}
}

// WithSampleFloor overrides the minimum request count for a decision.
func WithSampleFloor(floor int) Option {
	return func(m *Monitor) {
		if floor > 0 {
			m.floor = floor
		}
	}
}

// WithNotifier assigns a notifier for degradation lifecycle events.
func WithNotifier(notifier alertapp.AlertNotifier) Option {
	return func(m *Monitor) {
		m.notifier = notifier
	}
}

// WithPruner enables request log retention housekeeping on each check.
func WithPruner(pruner RequestLogPruner) Option {
	return func(m *Monitor) {
		m.pruner = pruner
	}
}

// WithRetention overrides how long request log rows are kept.
func WithRetention(retention time.Duration) Option {
	return func(m *Monitor) {
		if retention > 0 {
			m.retention = retention
		}
	}
}

// NewMonitor constructs a burn-rate monitor.
func NewMonitor(requests RequestLogReader, store alertapp.AlertStore, logger *log.Logger, opts ...Option) (*Monitor, error) {
	if requests == nil {
		return nil, errors.New("slo: nil request log reader")
	}
	if store == nil {
		return nil, errors.New("slo: nil alert store")
	}
	if logger == nil {
		logger = log.Default()
	}
	monitor := &Monitor{
		requests:  requests,
		store:     store,
		logger:    logger,
		window:    defaultWindow,
		target:    defaultTarget,
		floor:     defaultSampleFloor,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(monitor)
	}
	return monitor, nil
}

// Check computes the burn rate over the trailing window and opens or
// closes the fleet-wide degradation alert. Below the sample floor the
// alert state is left untouched.
func (m *Monitor) Check(ctx context.Context, now time.Time) (Snapshot, error) {
	if m == nil {
		return Snapshot{}, errors.New("slo: nil monitor")
	}
	now = now.UTC()
	since := now.Add(-m.window)

	m.pruneRequestLog(ctx, now)

	total, ok, err := m.requests.CountSince(ctx, since)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		WindowStart: since,
		WindowEnd:   now,
		Total:       total,
		OK:          ok,
		Target:      m.target,
	}
	if total > 0 {
		snapshot.ErrRate = 1 - float64(ok)/float64(total)
		snapshot.Burn = snapshot.ErrRate / (1 - m.target)
	}
	metrics.SetIngestBurnRate(snapshot.Burn)

	if total < m.floor {
		return snapshot, nil
	}

	active, err := m.store.FindActive(ctx, "", alerting.TypeIngestDegradation)
	if err != nil {
		return snapshot, err
	}

	switch {
	case snapshot.Burn > openBurn && active == nil:
		return snapshot, m.open(ctx, snapshot, now)
	case snapshot.Burn <= closeBurn && active != nil:
		return snapshot, m.close(ctx, *active, now)
	}
	return snapshot, nil
}

func (m *Monitor) open(ctx context.Context, snapshot Snapshot, now time.Time) error {
	alert := &alerting.Alert{
		ID:       alerting.BuildAlertID("", alerting.TypeIngestDegradation, now),
		Type:     alerting.TypeIngestDegradation,
		Severity: alerting.SeverityCritical,
		Status:   alerting.StatusOpen,
		OpenedAt: now,
		Metadata: map[string]any{
			"total":    snapshot.Total,
			"ok":       snapshot.OK,
			"err_rate": snapshot.ErrRate,
			"burn":     snapshot.Burn,
			"target":   snapshot.Target,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := m.store.Create(ctx, alert)
	if err != nil {
		return err
	}
	if !inserted {
		m.logger.Printf("slo: duplicate degradation open suppressed")
		return nil
	}
	m.logger.Printf("slo: ingest degradation opened: burn=%.2f total=%d ok=%d", snapshot.Burn, snapshot.Total, snapshot.OK)
	m.notify(ctx, "open", *alert)
	return nil
}

func (m *Monitor) close(ctx context.Context, alert alerting.Alert, now time.Time) error {
	if err := m.store.MarkClosed(ctx, alert.ID, now); err != nil {
		return err
	}
	alert.Status = alerting.StatusClosed
	alert.ClosedAt = now
	m.logger.Printf("slo: ingest degradation closed")
	m.notify(ctx, "closed", alert)
	return nil
}

// pruneRequestLog enforces retention on the request log. Best effort; a
// prune failure never blocks the burn check.
func (m *Monitor) pruneRequestLog(ctx context.Context, now time.Time) {
	if m.pruner == nil {
		return
	}
	if _, err := m.pruner.PruneBefore(ctx, now.Add(-m.retention)); err != nil {
		m.logger.Printf("slo: request log prune failed: %v", err)
	}
}

func (m *Monitor) notify(ctx context.Context, eventType string, alert alerting.Alert) {
	metrics.IncAlertEvent(eventType)
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, alertapp.AlertEvent{Type: eventType, Alert: alert})
}
