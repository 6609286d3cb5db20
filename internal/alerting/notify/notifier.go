package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	alertapp "heatfleet-cloud/internal/alerting/application"
	alerting "heatfleet-cloud/internal/alerting/domain"
	masterdata "heatfleet-cloud/internal/masterdata/domain"
)

// AlertReader loads alert records.
type AlertReader interface {
	GetByID(ctx context.Context, id string) (*alerting.Alert, error)
}

// DeviceReader loads device metadata.
type DeviceReader interface {
	Get(ctx context.Context, id string) (*masterdata.Device, error)
}

// Clock provides time for dedupe bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert lifecycle events and delivers them through a
// channel. It suppresses repeats within a cooldown, drops identical
// content inside the dedupe window and escalates major alerts that stay
// unattended.
type Notifier struct {
	alerts         AlertReader
	devices        DeviceReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the
// same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(alerts AlertReader, devices DeviceReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if alerts == nil {
		return nil, errors.New("alert notifier: nil alert reader")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		alerts:         alerts,
		devices:        devices,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements the engine's AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, event alertapp.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	device := n.lookupDevice(ctx, event.Alert.DeviceID)
	n.dispatch(ctx, event.Type, event.Alert, device)

	switch event.Type {
	case "open":
		n.scheduleEscalation(event.Alert)
	case "ack", "closed":
		n.cancelEscalation(event.Alert.ID)
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) lookupDevice(ctx context.Context, deviceID string) *masterdata.Device {
	if n.devices == nil || deviceID == "" {
		return nil
	}
	device, err := n.devices.Get(ctx, deviceID)
	if err != nil {
		return nil
	}
	return device
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alert alerting.Alert, device *masterdata.Device) {
	data := buildTemplateData(eventType, alert, device)
	content, err := n.template.Render(data)
	if err != nil {
		return
	}
	if !n.shouldSend(alert.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return
	}
	n.markSent(alert.ID, eventType, content)
}

func (n *Notifier) scheduleEscalation(alert alerting.Alert) {
	if n == nil || n.escalation <= 0 || alert.ID == "" {
		return
	}
	if alerting.SeverityRank(alert.Severity) < alerting.SeverityRank(alerting.SeverityMajor) {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alert.ID]; ok && existing != nil {
		existing.Stop()
	}
	timer := time.AfterFunc(n.escalation, func() {
		n.runEscalation(alert.ID)
	})
	n.timers[alert.ID] = timer
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(alertID string) {
	if n == nil || alertID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alertID]
	delete(n.timers, alertID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(alertID string) {
	if n == nil || alertID == "" {
		return
	}
	n.mu.Lock()
	delete(n.timers, alertID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	alert, err := n.alerts.GetByID(ctx, alertID)
	if err != nil || alert == nil {
		return
	}
	// Only still-open alerts escalate; ack means a human responded.
	if alert.Status != alerting.StatusOpen {
		return
	}
	device := n.lookupDevice(ctx, alert.DeviceID)
	n.dispatch(ctx, "escalated", *alert, device)
}

func buildTemplateData(eventType string, alert alerting.Alert, device *masterdata.Device) TemplateData {
	deviceName := alert.DeviceID
	site := alert.SiteID
	if device != nil {
		if device.Name != "" {
			deviceName = device.Name
		}
		if site == "" {
			site = device.SiteID
		}
	}
	if deviceName == "" {
		deviceName = "fleet"
	}
	details := ""
	if len(alert.Metadata) > 0 {
		if raw, err := json.Marshal(alert.Metadata); err == nil {
			details = string(raw)
		}
	}
	return TemplateData{
		Device:     deviceName,
		DeviceID:   alert.DeviceID,
		Site:       site,
		Type:       alert.Type,
		Severity:   alert.Severity,
		Status:     alert.Status,
		OpenedAt:   alert.OpenedAt.UTC().Format(time.RFC3339),
		Suggestion: suggestionFor(alert),
		Details:    details,
		Event:      eventType,
		EventLabel: eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case "open":
		return "Opened"
	case "ack":
		return "Acknowledged"
	case "closed":
		return "Closed"
	case "escalated":
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(alert alerting.Alert) string {
	switch alert.Type {
	case alerting.TypeLowFlowUnderLoad:
		return "Check the circulation pump and strainer before the compressor trips."
	case alerting.TypeShortCycling:
		return "Inspect thermostat placement and tank sizing."
	case alerting.TypeHeartbeatCritical, alerting.TypeIngestDegradation:
		return "Investigate connectivity immediately."
	}
	switch alert.Severity {
	case alerting.SeverityCritical, alerting.SeverityMajor:
		return "Investigate immediately and mitigate risk."
	case alerting.SeverityMinor:
		return "Verify the condition and take action if needed."
	default:
		return "Monitor the alert condition."
	}
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alertID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
