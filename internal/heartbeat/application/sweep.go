package application

import (
	"context"
	"errors"
	"log"
	"time"

	alertapp "heatfleet-cloud/internal/alerting/application"
	alerting "heatfleet-cloud/internal/alerting/domain"
	masterdata "heatfleet-cloud/internal/masterdata/domain"
	"heatfleet-cloud/internal/observability/metrics"
)

const (
	defaultWarnAfter     = 10 * time.Minute
	defaultCriticalAfter = 30 * time.Minute
)

// DeviceLister enumerates registered devices.
type DeviceLister interface {
	List(ctx context.Context) ([]masterdata.Device, error)
}

// Service opens and closes heartbeat staleness alerts. A device sits in
// exactly one band per sweep: critical, warn, or fresh. Moving between
// bands closes the alert of the band being left before opening the new
// one.
type Service struct {
	devices       DeviceLister
	store         alertapp.AlertStore
	notifier      alertapp.AlertNotifier
	logger        *log.Logger
	warnAfter     time.Duration
	criticalAfter time.Duration
}

// Option configures the service.
type Option func(*Service)

// WithWarnAfter overrides the warn threshold.
func WithWarnAfter(after time.Duration) Option {
	return func(s *Service) {
		if after > 0 {
			s.warnAfter = after
		}
	}
}

// WithCriticalAfter overrides the critical threshold.
func WithCriticalAfter(after time.Duration) Option {
	return func(s *Service) {
		if after > 0 {
			s.criticalAfter = after
		}
	}
}

// WithNotifier assigns a notifier for heartbeat lifecycle events.
func WithNotifier(notifier alertapp.AlertNotifier) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// NewService constructs a heartbeat service.
func NewService(devices DeviceLister, store alertapp.AlertStore, logger *log.Logger, opts ...Option) (*Service, error) {
	if devices == nil {
		return nil, errors.New("heartbeat: nil device lister")
	}
	if store == nil {
		return nil, errors.New("heartbeat: nil alert store")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &Service{
		devices:       devices,
		store:         store,
		logger:        logger,
		warnAfter:     defaultWarnAfter,
		criticalAfter: defaultCriticalAfter,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.criticalAfter <= service.warnAfter {
		return nil, errors.New("heartbeat: critical threshold must exceed warn threshold")
	}
	return service, nil
}

// Sweep evaluates every registered device against now. Per-device errors
// are logged and do not stop the sweep.
func (s *Service) Sweep(ctx context.Context, now time.Time) error {
	if s == nil {
		return errors.New("heartbeat: nil service")
	}
	now = now.UTC()

	devices, err := s.devices.List(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, device := range devices {
		if err := s.evaluateDevice(ctx, device, now); err != nil {
			s.logger.Printf("heartbeat: device %s sweep failed: %v", device.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) evaluateDevice(ctx context.Context, device masterdata.Device, now time.Time) error {
	// Never-seen devices have no heartbeat to be stale against.
	if device.LastSeenAt.IsZero() {
		return nil
	}
	elapsed := now.Sub(device.LastSeenAt.UTC())

	switch {
	case elapsed >= s.criticalAfter:
		if err := s.closeActive(ctx, device.ID, alerting.TypeHeartbeatWarn, now); err != nil {
			return err
		}
		return s.openIfAbsent(ctx, device, alerting.TypeHeartbeatCritical, alerting.SeverityCritical, now, elapsed)
	case elapsed >= s.warnAfter:
		if err := s.closeActive(ctx, device.ID, alerting.TypeHeartbeatCritical, now); err != nil {
			return err
		}
		return s.openIfAbsent(ctx, device, alerting.TypeHeartbeatWarn, alerting.SeverityMinor, now, elapsed)
	default:
		if err := s.closeActive(ctx, device.ID, alerting.TypeHeartbeatWarn, now); err != nil {
			return err
		}
		return s.closeActive(ctx, device.ID, alerting.TypeHeartbeatCritical, now)
	}
}

func (s *Service) openIfAbsent(ctx context.Context, device masterdata.Device, alertType, severity string, now time.Time, elapsed time.Duration) error {
	active, err := s.store.FindActive(ctx, device.ID, alertType)
	if err != nil {
		return err
	}
	if active != nil {
		return nil
	}
	alert := &alerting.Alert{
		ID:       alerting.BuildAlertID(device.ID, alertType, now),
		DeviceID: device.ID,
		SiteID:   device.SiteID,
		Type:     alertType,
		Severity: severity,
		Status:   alerting.StatusOpen,
		OpenedAt: now,
		Metadata: map[string]any{
			"last_seen_at":  device.LastSeenAt.UTC().Format(time.RFC3339),
			"stale_minutes": int(elapsed.Minutes()),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := s.store.Create(ctx, alert)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	s.notify(ctx, "open", *alert)
	return nil
}

func (s *Service) closeActive(ctx context.Context, deviceID, alertType string, now time.Time) error {
	active, err := s.store.FindActive(ctx, deviceID, alertType)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}
	if err := s.store.MarkClosed(ctx, active.ID, now); err != nil {
		return err
	}
	closed := *active
	closed.Status = alerting.StatusClosed
	closed.ClosedAt = now
	s.notify(ctx, "closed", closed)
	return nil
}

func (s *Service) notify(ctx context.Context, eventType string, alert alerting.Alert) {
	metrics.IncAlertEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, alertapp.AlertEvent{Type: eventType, Alert: alert})
}
