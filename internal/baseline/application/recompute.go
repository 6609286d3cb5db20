package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	baseline "heatfleet-cloud/internal/baseline/domain"
	telemetry "heatfleet-cloud/internal/telemetry/domain"
)

const defaultWindow = 7 * 24 * time.Hour

// HistoryReader supplies derived telemetry history.
type HistoryReader interface {
	ListDerivedSince(ctx context.Context, since time.Time) ([]telemetry.DerivedPoint, error)
}

// Repository stores computed baselines.
type Repository interface {
	Upsert(ctx context.Context, baselines []baseline.Baseline) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// RecomputeService rebuilds per-device hour-of-week baselines from the
// trailing telemetry window.
type RecomputeService struct {
	history HistoryReader
	repo    Repository
	clock   Clock
	logger  *log.Logger
	window  time.Duration
}

// RecomputeOption customizes the service.
type RecomputeOption func(*RecomputeService)

// WithWindow overrides the trailing scan window.
func WithWindow(window time.Duration) RecomputeOption {
	return func(s *RecomputeService) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) RecomputeOption {
	return func(s *RecomputeService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewRecomputeService constructs a recompute service.
func NewRecomputeService(history HistoryReader, repo Repository, logger *log.Logger, opts ...RecomputeOption) (*RecomputeService, error) {
	if history == nil {
		return nil, errors.New("baseline: nil history reader")
	}
	if repo == nil {
		return nil, errors.New("baseline: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &RecomputeService{
		history: history,
		repo:    repo,
		clock:   systemClock{},
		logger:  logger,
		window:  defaultWindow,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Recompute scans the trailing window, groups derived values by
// (device, hour-of-week bucket) and upserts one baseline row per group
// present in the scan. Groups without samples retain no row. Returns the
// number of rows written. Idempotent over identical history.
func (s *RecomputeService) Recompute(ctx context.Context, now time.Time) (int, error) {
	if s == nil {
		return 0, errors.New("baseline: nil service")
	}
	if now.IsZero() {
		now = s.clock.Now()
	}
	now = now.UTC()

	points, err := s.history.ListDerivedSince(ctx, now.Add(-s.window))
	if err != nil {
		return 0, err
	}

	type group struct {
		deltaT baseline.Accumulator
		cop    baseline.Accumulator
	}
	type key struct {
		deviceID string
		bucket   int
	}
	groups := make(map[key]*group)
	for _, point := range points {
		if point.DeviceID == "" || point.TS.IsZero() {
			continue
		}
		if point.DeltaTC == nil && point.COP == nil {
			continue
		}
		k := key{deviceID: point.DeviceID, bucket: baseline.BucketFor(point.TS)}
		g := groups[k]
		if g == nil {
			g = &group{}
			groups[k] = g
		}
		if point.DeltaTC != nil {
			g.deltaT.Add(*point.DeltaTC)
		}
		if point.COP != nil {
			g.cop.Add(*point.COP)
		}
	}
	if len(groups) == 0 {
		return 0, nil
	}

	baselines := make([]baseline.Baseline, 0, len(groups))
	for k, g := range groups {
		baselines = append(baselines, baseline.Baseline{
			DeviceID:    k.deviceID,
			Bucket:      k.bucket,
			DeltaTMean:  g.deltaT.Mean(),
			DeltaTStd:   g.deltaT.Std(),
			DeltaTCount: g.deltaT.Count(),
			COPMean:     g.cop.Mean(),
			COPStd:      g.cop.Std(),
			COPCount:    g.cop.Count(),
			ComputedAt:  now,
		})
	}
	sort.Slice(baselines, func(i, j int) bool {
		if baselines[i].DeviceID != baselines[j].DeviceID {
			return baselines[i].DeviceID < baselines[j].DeviceID
		}
		return baselines[i].Bucket < baselines[j].Bucket
	})

	if err := s.repo.Upsert(ctx, baselines); err != nil {
		return 0, err
	}
	s.logger.Printf("baseline recompute: wrote %d rows from %d points", len(baselines), len(points))
	return len(baselines), nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
