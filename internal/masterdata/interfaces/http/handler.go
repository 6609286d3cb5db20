package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	masterdata "heatfleet-cloud/internal/masterdata/domain"
)

// DeviceLister enumerates the device registry.
type DeviceLister interface {
	List(ctx context.Context) ([]masterdata.Device, error)
}

// DevicesHandler serves the fleet device registry.
type DevicesHandler struct {
	devices DeviceLister
}

// NewDevicesHandler constructs a devices handler.
func NewDevicesHandler(devices DeviceLister) (*DevicesHandler, error) {
	if devices == nil {
		return nil, errors.New("devices handler: nil device lister")
	}
	return &DevicesHandler{devices: devices}, nil
}

// ServeHTTP handles GET /api/v1/devices.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	devices, err := h.devices.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []masterdata.Device{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(devices)
}
