package application

import (
	"context"
	"errors"
	"log"
	"time"

	alerting "heatfleet-cloud/internal/alerting/domain"
	"heatfleet-cloud/internal/auth"
	baseline "heatfleet-cloud/internal/baseline/domain"
	masterdata "heatfleet-cloud/internal/masterdata/domain"
	"heatfleet-cloud/internal/observability/metrics"
	telemetry "heatfleet-cloud/internal/telemetry/domain"
)

// AlertStore is the alert persistence surface the engine drives.
type AlertStore interface {
	FindActive(ctx context.Context, deviceID, alertType string) (*alerting.Alert, error)
	Create(ctx context.Context, alert *alerting.Alert) (bool, error)
	MarkClosed(ctx context.Context, id string, closedAt time.Time) error
	MarkAcknowledged(ctx context.Context, id, actor string, ackedAt time.Time) error
	GetByID(ctx context.Context, id string) (*alerting.Alert, error)
	ListBySite(ctx context.Context, siteID, status string, from, to time.Time) ([]alerting.Alert, error)
}

// BaselineFinder resolves the baseline for a device and hour bucket.
type BaselineFinder interface {
	Find(ctx context.Context, deviceID string, bucket int) (*baseline.Baseline, error)
}

// CycleHistory supplies the compressor current series for short-cycle
// detection.
type CycleHistory interface {
	ListCompressorCurrent(ctx context.Context, deviceID string, since time.Time) ([]float64, error)
}

// DeviceResolver resolves device registry entries for site attribution.
type DeviceResolver interface {
	Get(ctx context.Context, id string) (*masterdata.Device, error)
}

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string         `json:"type"`
	Alert alerting.Alert `json:"alert"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service evaluates telemetry against the rule table and owns alert
// lifecycle transitions.
type Service struct {
	store      AlertStore
	baselines  BaselineFinder
	history    CycleHistory
	devices    DeviceResolver
	notifier   AlertNotifier
	clock      Clock
	logger     *log.Logger
	thresholds Thresholds
	rules      []Rule
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithRules overrides the rule table (tests).
func WithRules(rules []Rule) ServiceOption {
	return func(s *Service) {
		s.rules = rules
	}
}

// NewService constructs the rule engine service.
func NewService(store AlertStore, baselines BaselineFinder, history CycleHistory, devices DeviceResolver, thresholds Thresholds, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("alerting: nil alert store")
	}
	if baselines == nil {
		return nil, errors.New("alerting: nil baseline finder")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &Service{
		store:      store,
		baselines:  baselines,
		history:    history,
		devices:    devices,
		clock:      systemClock{},
		logger:     logger,
		thresholds: thresholds.normalized(),
		rules:      deviceRules(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Evaluate runs the rule table for one ingested sample. Errors from a
// single rule are logged and do not block the remaining rules; the
// caller treats any returned error as non-fatal to ingestion.
func (s *Service) Evaluate(ctx context.Context, sample telemetry.Sample, derived telemetry.Derived) error {
	if s == nil {
		return errors.New("alerting: nil service")
	}
	if sample.DeviceID == "" || sample.TS.IsZero() {
		return errors.New("alerting: sample missing device or timestamp")
	}

	input := RuleInput{
		Sample:     sample,
		Derived:    derived,
		Thresholds: s.thresholds,
	}

	bucket := baseline.BucketFor(sample.TS)
	b, err := s.baselines.Find(ctx, sample.DeviceID, bucket)
	if err != nil {
		// Deviation rules degrade to skipped; threshold rules still run.
		s.logger.Printf("alerting: baseline lookup failed: device=%s bucket=%d err=%v", sample.DeviceID, bucket, err)
	} else {
		input.Baseline = b
	}

	if s.history != nil {
		deviceID := sample.DeviceID
		since := sample.TS.Add(-s.thresholds.ShortCycleWindow())
		input.CompressorStarts = func(ctx context.Context) (int, error) {
			series, err := s.history.ListCompressorCurrent(ctx, deviceID, since)
			if err != nil {
				return 0, err
			}
			return CountStarts(series, s.thresholds.CompressorOnA), nil
		}
	}

	var firstErr error
	for _, rule := range s.rules {
		if err := s.evaluateRule(ctx, rule, input); err != nil {
			s.logger.Printf("alerting: rule %s failed: device=%s err=%v", rule.Type, sample.DeviceID, err)
			metrics.IncRuleError(rule.Type)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) evaluateRule(ctx context.Context, rule Rule, input RuleInput) error {
	fired, metadata, err := rule.Condition(ctx, input)
	if err != nil {
		return err
	}

	active, err := s.store.FindActive(ctx, input.Sample.DeviceID, rule.Type)
	if err != nil {
		return err
	}

	switch {
	case fired && active == nil:
		return s.open(ctx, rule, input.Sample, metadata)
	case !fired && active != nil:
		return s.close(ctx, *active, input.Sample.TS)
	default:
		// Fired with an active alert, or quiet with none: no write.
		return nil
	}
}

func (s *Service) open(ctx context.Context, rule Rule, sample telemetry.Sample, metadata map[string]any) error {
	openedAt := sample.TS.UTC()
	alert := &alerting.Alert{
		ID:        alerting.BuildAlertID(sample.DeviceID, rule.Type, openedAt),
		DeviceID:  sample.DeviceID,
		SiteID:    s.resolveSite(ctx, sample.DeviceID),
		Type:      rule.Type,
		Severity:  rule.Severity,
		Status:    alerting.StatusOpen,
		OpenedAt:  openedAt,
		Metadata:  metadata,
		CreatedAt: s.clock.Now().UTC(),
		UpdatedAt: s.clock.Now().UTC(),
	}
	inserted, err := s.store.Create(ctx, alert)
	if err != nil {
		return err
	}
	if !inserted {
		// A concurrent evaluation won the active slot; benign race.
		s.logger.Printf("alerting: duplicate open suppressed: device=%s type=%s", sample.DeviceID, rule.Type)
		return nil
	}
	s.notify(ctx, "open", *alert)
	return nil
}

func (s *Service) close(ctx context.Context, alert alerting.Alert, at time.Time) error {
	closedAt := at.UTC()
	if closedAt.IsZero() {
		closedAt = s.clock.Now().UTC()
	}
	if err := s.store.MarkClosed(ctx, alert.ID, closedAt); err != nil {
		return err
	}
	alert.Status = alerting.StatusClosed
	alert.ClosedAt = closedAt
	alert.UpdatedAt = closedAt
	s.notify(ctx, "closed", alert)
	return nil
}

// Ack acknowledges an alert on behalf of the calling operator.
func (s *Service) Ack(ctx context.Context, id string) (*alerting.Alert, error) {
	if s == nil {
		return nil, errors.New("alerting: nil service")
	}
	if id == "" {
		return nil, errors.New("alerting: alert id required")
	}
	alert, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerting.ErrNotFound
	}
	if alert.Status == alerting.StatusClosed {
		return alert, nil
	}
	if alert.Status != alerting.StatusAck {
		actor := auth.SubjectFromContext(ctx)
		ackedAt := s.clock.Now().UTC()
		if err := s.store.MarkAcknowledged(ctx, alert.ID, actor, ackedAt); err != nil {
			return nil, err
		}
		alert.Status = alerting.StatusAck
		alert.AckedBy = actor
		alert.AckedAt = ackedAt
		alert.UpdatedAt = ackedAt
		s.notify(ctx, "ack", *alert)
	}
	return alert, nil
}

// Close closes an alert manually.
func (s *Service) Close(ctx context.Context, id string) (*alerting.Alert, error) {
	if s == nil {
		return nil, errors.New("alerting: nil service")
	}
	if id == "" {
		return nil, errors.New("alerting: alert id required")
	}
	alert, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerting.ErrNotFound
	}
	if alert.Status == alerting.StatusClosed {
		return alert, nil
	}
	if err := s.close(ctx, *alert, s.clock.Now().UTC()); err != nil {
		return nil, err
	}
	closed, err := s.store.GetByID(ctx, id)
	if err != nil || closed == nil {
		alert.Status = alerting.StatusClosed
		return alert, nil
	}
	return closed, nil
}

// List returns alerts for a site within a time window.
func (s *Service) List(ctx context.Context, siteID, status string, from, to time.Time) ([]alerting.Alert, error) {
	if s == nil {
		return nil, errors.New("alerting: nil service")
	}
	if siteID == "" {
		return nil, errors.New("alerting: site id required")
	}
	return s.store.ListBySite(ctx, siteID, status, from.UTC(), to.UTC())
}

func (s *Service) resolveSite(ctx context.Context, deviceID string) string {
	if s.devices == nil || deviceID == "" {
		return ""
	}
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil || device == nil {
		return ""
	}
	return device.SiteID
}

func (s *Service) notify(ctx context.Context, eventType string, alert alerting.Alert) {
	if s == nil {
		return
	}
	metrics.IncAlertEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
