package application

import (
	"context"
	"errors"
	"log"
	"time"

	alerting "heatfleet-cloud/internal/alerting/domain"
	incidents "heatfleet-cloud/internal/incidents/domain"
)

const defaultWindow = 24 * time.Hour

// AlertReader loads the alerts to cluster.
type AlertReader interface {
	ListOpenedBetween(ctx context.Context, from, to time.Time) ([]alerting.Alert, error)
}

// Repository persists materialized incidents.
type Repository interface {
	ReplaceWindow(ctx context.Context, from, to time.Time, list []incidents.Incident) error
}

// Service re-materializes incidents from the alert log on a schedule.
type Service struct {
	alerts AlertReader
	repo   Repository
	logger *log.Logger
	window time.Duration
	gap    time.Duration
}

// Option configures the service.
type Option func(*Service)

// WithWindow overrides the clustering lookback window.
func WithWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithGap overrides the cluster gap.
func WithGap(gap time.Duration) Option {
	return func(s *Service) {
		if gap > 0 {
			s.gap = gap
		}
	}
}

// NewService constructs an incident aggregation service.
func NewService(alerts AlertReader, repo Repository, logger *log.Logger, opts ...Option) (*Service, error) {
	if alerts == nil {
		return nil, errors.New("incidents: nil alert reader")
	}
	if repo == nil {
		return nil, errors.New("incidents: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &Service{
		alerts: alerts,
		repo:   repo,
		logger: logger,
		window: defaultWindow,
		gap:    incidents.DefaultGap,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Sweep rebuilds the incident set for the trailing window and reports
// how many incidents were materialized. Re-running over unchanged alerts
// produces identical rows.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s == nil {
		return 0, errors.New("incidents: nil service")
	}
	now = now.UTC()
	from := now.Add(-s.window)

	alerts, err := s.alerts.ListOpenedBetween(ctx, from, now)
	if err != nil {
		return 0, err
	}
	list := incidents.Cluster(alerts, s.gap)
	if err := s.repo.ReplaceWindow(ctx, from, now, list); err != nil {
		return 0, err
	}
	return len(list), nil
}
