package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"heatfleet-cloud/internal/observability/metrics"
)

// Job is one background sweep.
type Job func(ctx context.Context, now time.Time) error

// Entry binds a job to either a fixed interval or a daily wall-clock
// time (UTC).
type Entry struct {
	Name    string
	Every   time.Duration
	DailyAt string
	Run     Job

	lastRun time.Time
}

// Scheduler drives background sweeps off a minute ticker. One failing
// entry never blocks its siblings.
type Scheduler struct {
	entries []*Entry
	logger  *log.Logger
	tick    time.Duration
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithTick overrides the ticker interval (tests).
func WithTick(tick time.Duration) Option {
	return func(s *Scheduler) {
		if tick > 0 {
			s.tick = tick
		}
	}
}

// New constructs a scheduler.
func New(logger *log.Logger, entries []Entry, opts ...Option) (*Scheduler, error) {
	if len(entries) == 0 {
		return nil, errors.New("scheduler: no entries")
	}
	if logger == nil {
		logger = log.Default()
	}
	scheduler := &Scheduler{logger: logger, tick: time.Minute}
	for i := range entries {
		entry := entries[i]
		if entry.Name == "" || entry.Run == nil {
			return nil, errors.New("scheduler: entry requires name and job")
		}
		if entry.Every <= 0 && entry.DailyAt == "" {
			return nil, errors.New("scheduler: entry " + entry.Name + " requires an interval or daily time")
		}
		if entry.DailyAt != "" {
			if _, _, err := parseDailyAt(entry.DailyAt); err != nil {
				return nil, errors.New("scheduler: entry " + entry.Name + " has invalid daily time")
			}
		}
		scheduler.entries = append(scheduler.entries, &entry)
	}
	for _, opt := range opts {
		opt(scheduler)
	}
	return scheduler, nil
}

// Start blocks running the schedule loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.RunDue(ctx, now.UTC())
		}
	}
}

// RunDue executes every entry due at now.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) {
	for _, entry := range s.entries {
		if !due(entry, now) {
			continue
		}
		entry.lastRun = now
		s.runEntry(ctx, entry, now)
	}
}

func (s *Scheduler) runEntry(ctx context.Context, entry *Entry, now time.Time) {
	started := time.Now()
	if err := entry.Run(ctx, now); err != nil {
		metrics.ObserveSweep(entry.Name, metrics.ResultError, time.Since(started))
		s.logger.Printf("scheduler: %s failed: %v", entry.Name, err)
		return
	}
	metrics.ObserveSweep(entry.Name, metrics.ResultSuccess, time.Since(started))
}

func due(entry *Entry, now time.Time) bool {
	if entry.DailyAt != "" {
		hour, minute, err := parseDailyAt(entry.DailyAt)
		if err != nil {
			return false
		}
		if now.Hour() != hour || now.Minute() != minute {
			return false
		}
		// The minute ticker may fire twice inside one wall-clock minute.
		return entry.lastRun.IsZero() || now.Sub(entry.lastRun) > time.Minute
	}
	return entry.lastRun.IsZero() || now.Sub(entry.lastRun) >= entry.Every
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
