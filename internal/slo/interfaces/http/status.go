package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	sloapp "heatfleet-cloud/internal/slo/application"
)

// StatusHandler triggers an on-demand burn-rate check and returns the
// snapshot.
type StatusHandler struct {
	monitor *sloapp.Monitor
}

// NewStatusHandler constructs a handler.
func NewStatusHandler(monitor *sloapp.Monitor) (*StatusHandler, error) {
	if monitor == nil {
		return nil, errors.New("slo handler: nil monitor")
	}
	return &StatusHandler{monitor: monitor}, nil
}

// ServeHTTP handles GET /api/v1/slo/ingest.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot, err := h.monitor.Check(r.Context(), time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}
