package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"heatfleet-cloud/internal/eventing"
	"heatfleet-cloud/internal/observability/metrics"
	"heatfleet-cloud/internal/telemetry/application/events"
	telemetry "heatfleet-cloud/internal/telemetry/domain"
)

// SampleStore persists ingested samples and the per-device latest state.
type SampleStore interface {
	InsertSample(ctx context.Context, sample telemetry.Sample, derived telemetry.Derived) error
	UpsertLatestState(ctx context.Context, sample telemetry.Sample, derived telemetry.Derived) error
}

// DeviceToucher records device liveness on ingest.
type DeviceToucher interface {
	TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error
}

// RequestLogger appends request outcomes for the burn-rate monitor.
type RequestLogger interface {
	Record(ctx context.Context, endpoint string, ok bool, ts time.Time) error
}

// IngestHandler accepts gateway telemetry posts, derives physical
// metrics, persists both history and latest state, and publishes the
// sample for alert evaluation. Alerting and event-bus failures are
// logged but never fail the ingest response.
type IngestHandler struct {
	store      SampleStore
	devices    DeviceToucher
	bus        eventing.EventBus
	requestLog RequestLogger
	logger     *log.Logger
}

// IngestOption configures the handler.
type IngestOption func(*IngestHandler)

// WithBus publishes accepted samples on the event bus.
func WithBus(bus eventing.EventBus) IngestOption {
	return func(h *IngestHandler) {
		h.bus = bus
	}
}

// WithRequestLog records request outcomes for reliability monitoring.
func WithRequestLog(requestLog RequestLogger) IngestOption {
	return func(h *IngestHandler) {
		h.requestLog = requestLog
	}
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(store SampleStore, devices DeviceToucher, logger *log.Logger, opts ...IngestOption) (*IngestHandler, error) {
	if store == nil {
		return nil, errors.New("ingest handler: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	handler := &IngestHandler{store: store, devices: devices, logger: logger}
	for _, opt := range opts {
		opt(handler)
	}
	return handler, nil
}

type ingestRequest struct {
	DeviceID string            `json:"device_id"`
	TS       string            `json:"ts"`
	Metrics  telemetry.Metrics `json:"metrics"`
	Status   telemetry.Status  `json:"status"`
}

type ingestResponse struct {
	Inserted int    `json:"inserted"`
	Quality  string `json:"quality,omitempty"`
}

// ServeHTTP handles POST /api/v1/ingest/telemetry.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	ok := false
	defer func() {
		result := metrics.ResultError
		if ok {
			result = metrics.ResultSuccess
		}
		metrics.ObserveIngest(result, time.Since(start))
		h.recordOutcome(r, ok)
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body: %v", err)
		metrics.IncIngestError("read_body")
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("telemetry ingest: bad payload: %v", err)
		metrics.IncIngestError("bad_payload")
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	sample, err := toSample(req)
	if err != nil {
		h.logger.Printf("telemetry ingest: %v", err)
		metrics.IncIngestError("validation")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	derived := telemetry.Derive(sample.Metrics)

	if err := h.store.InsertSample(r.Context(), sample, derived); err != nil {
		h.logger.Printf("telemetry ingest: insert sample: %v", err)
		metrics.IncIngestError("insert")
		http.Error(w, "failed to store sample", http.StatusInternalServerError)
		return
	}
	if err := h.store.UpsertLatestState(r.Context(), sample, derived); err != nil {
		h.logger.Printf("telemetry ingest: upsert latest state: %v", err)
		metrics.IncIngestError("latest_state")
	}
	if h.devices != nil {
		if err := h.devices.TouchLastSeen(r.Context(), sample.DeviceID, sample.TS); err != nil {
			h.logger.Printf("telemetry ingest: touch last seen: %v", err)
		}
	}

	if h.bus != nil {
		event := events.TelemetryReceived{Sample: sample, Derived: derived}
		if err := h.bus.Publish(r.Context(), event); err != nil {
			h.logger.Printf("telemetry ingest: alert evaluation: %v", err)
		}
	}

	ok = true
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ingestResponse{Inserted: 1, Quality: derived.Quality})
}

func (h *IngestHandler) recordOutcome(r *http.Request, ok bool) {
	if h.requestLog == nil {
		return
	}
	if err := h.requestLog.Record(r.Context(), "ingest", ok, time.Now().UTC()); err != nil {
		h.logger.Printf("telemetry ingest: record outcome: %v", err)
	}
}

func toSample(req ingestRequest) (telemetry.Sample, error) {
	if req.DeviceID == "" {
		return telemetry.Sample{}, errors.New("missing device_id")
	}
	ts, err := parseTimestamp(req.TS)
	if err != nil {
		return telemetry.Sample{}, err
	}
	return telemetry.Sample{
		DeviceID: req.DeviceID,
		TS:       ts,
		Metrics:  req.Metrics,
		Status:   req.Status,
	}, nil
}

// parseTimestamp accepts RFC3339 or unix epoch milliseconds, matching
// the two formats fleet gateways send.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("missing ts")
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	if millis, err := strconv.ParseInt(value, 10, 64); err == nil && millis > 0 {
		return time.UnixMilli(millis).UTC(), nil
	}
	return time.Time{}, errors.New("ts must be RFC3339 or epoch milliseconds")
}
