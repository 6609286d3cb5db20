package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alertapp "heatfleet-cloud/internal/alerting/application"
	alerting "heatfleet-cloud/internal/alerting/domain"
	masterdata "heatfleet-cloud/internal/masterdata/domain"
)

type stubAlertRepo struct {
	alert *alerting.Alert
}

func (s stubAlertRepo) GetByID(_ context.Context, _ string) (*alerting.Alert, error) {
	return s.alert, nil
}

type stubDeviceRepo struct {
	device *masterdata.Device
}

func (s stubDeviceRepo) Get(_ context.Context, _ string) (*masterdata.Device, error) {
	return s.device, nil
}

func testAlert() *alerting.Alert {
	return &alerting.Alert{
		ID:       "alert-1a2b3c4d",
		DeviceID: "hp-001",
		SiteID:   "site-7",
		Type:     alerting.TypeLowFlowUnderLoad,
		Severity: alerting.SeverityMajor,
		Status:   alerting.StatusOpen,
		OpenedAt: time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC),
		Metadata: map[string]any{"flow_lps": 0.05},
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}

	alert := testAlert()
	device := &masterdata.Device{ID: "hp-001", SiteID: "site-7", Name: "Basement Unit"}
	notifier, err := NewNotifier(
		stubAlertRepo{alert: alert},
		stubDeviceRepo{device: device},
		channel,
		tpl,
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		content := payload.Text.Content
		checks := []string{
			"[Alert Opened]",
			"Device: Basement Unit",
			"Site: site-7",
			"Type: low_flow_under_load",
			"Severity: major",
			"Opened: 2026-01-26T08:00:00Z",
			"Current Status: open",
			"Suggestion:",
			"flow_lps",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alert := testAlert()

	notifier, err := NewNotifier(
		stubAlertRepo{alert: alert},
		stubDeviceRepo{},
		channel,
		nil,
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", got)
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alert := testAlert()

	notifier, err := NewNotifier(
		stubAlertRepo{alert: alert},
		stubDeviceRepo{},
		channel,
		nil,
		WithClock(clock),
		WithDedupeWindow(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	alert.Metadata = map[string]any{"flow_lps": 0.02}
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
}

func TestNotifierEscalation(t *testing.T) {
	channel := &recordingChannel{}
	alert := testAlert()

	notifier, err := NewNotifier(
		stubAlertRepo{alert: alert},
		stubDeviceRepo{},
		channel,
		nil,
		WithEscalation(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})

	deadline := time.After(300 * time.Millisecond)
	for {
		if channel.Count() >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected escalation notification, got %d", channel.Count())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	if !strings.Contains(channel.Latest(), "Escalated") {
		t.Fatalf("expected escalated notification content, got %s", channel.Latest())
	}
}

func TestNotifierAckCancelsEscalation(t *testing.T) {
	channel := &recordingChannel{}
	alert := testAlert()

	notifier, err := NewNotifier(
		stubAlertRepo{alert: alert},
		stubDeviceRepo{},
		channel,
		nil,
		WithEscalation(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "open", Alert: *alert})
	acked := *alert
	acked.Status = alerting.StatusAck
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "ack", Alert: acked})

	time.Sleep(120 * time.Millisecond)
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected open+ack only, got %d notifications", got)
	}
}
