package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	incidents "heatfleet-cloud/internal/incidents/domain"
)

// IncidentLister reads materialized incidents.
type IncidentLister interface {
	List(ctx context.Context, siteID string, limit int) ([]incidents.Incident, error)
}

// Handler serves the incident read API.
type Handler struct {
	repo IncidentLister
}

// NewHandler constructs a handler.
func NewHandler(repo IncidentLister) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("incidents handler: nil repository")
	}
	return &Handler{repo: repo}, nil
}

// ServeHTTP handles GET /api/v1/incidents.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	list, err := h.repo.List(r.Context(), r.URL.Query().Get("site_id"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []incidents.Incident{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}
