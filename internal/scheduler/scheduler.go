// Package scheduler drives the periodic job pipeline: every job is registered
// by name with its own cadence and runs on its own goroutine until the parent
// context is cancelled.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every job firing with the scheduled time.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune registry-wide behaviour.
type Options struct {
	// StartupDelay postpones the first firing of every interval job.
	StartupDelay time.Duration
}

type job struct {
	name string
	next func(after time.Time) time.Time
	fn   TickFunc
}

// Registry holds named jobs and runs them concurrently.
type Registry struct {
	opts   Options
	jobs   []job
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New constructs an empty job registry.
func New(opts Options, logger zerolog.Logger) *Registry {
	return &Registry{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// AddInterval registers a job firing every `every`, aligned to the interval
// boundary in UTC.
func (r *Registry) AddInterval(name string, every time.Duration, fn TickFunc) {
	if every <= 0 {
		panic("scheduler: interval must be positive")
	}
	r.jobs = append(r.jobs, job{
		name: name,
		next: func(after time.Time) time.Time { return nextInterval(after, every) },
		fn:   fn,
	})
}

// AddDailyAt registers a job firing once per day at the given wall-clock time
// in loc.
func (r *Registry) AddDailyAt(name string, hour, minute int, loc *time.Location, fn TickFunc) {
	r.jobs = append(r.jobs, job{
		name: name,
		next: func(after time.Time) time.Time { return nextDaily(after, hour, minute, loc) },
		fn:   fn,
	})
}

// AddWeeklyAt registers a job firing once per week on the given weekday at the
// given wall-clock time in loc.
func (r *Registry) AddWeeklyAt(name string, day time.Weekday, hour, minute int, loc *time.Location, fn TickFunc) {
	r.jobs = append(r.jobs, job{
		name: name,
		next: func(after time.Time) time.Time { return nextWeekly(after, day, hour, minute, loc) },
		fn:   fn,
	})
}

// Start launches every registered job. It returns immediately; jobs stop when
// ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	for _, j := range r.jobs {
		r.wg.Add(1)
		go func(j job) {
			defer r.wg.Done()
			r.runJob(ctx, j)
		}(j)
	}
	r.logger.Info().Int("jobs", len(r.jobs)).Msg("scheduler started")
}

// Wait blocks until all job goroutines have exited.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) runJob(ctx context.Context, j job) {
	logger := r.logger.With().Str("job", j.name).Logger()

	if r.opts.StartupDelay > 0 {
		timer := time.NewTimer(r.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	next := j.next(time.Now())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = j.next(time.Now())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		logger.Debug().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			timer.Stop()
		}

		if err := j.fn(ctx, next); err != nil {
			logger.Error().Err(err).Time("scheduled_at", next).Msg("job run failed")
		}

		next = j.next(next)
	}
}

func nextInterval(after time.Time, every time.Duration) time.Time {
	bucket := after.UTC().Truncate(every)
	if !bucket.After(after) {
		bucket = bucket.Add(every)
	}
	return bucket
}

func nextDaily(after time.Time, hour, minute int, loc *time.Location) time.Time {
	local := after.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextWeekly(after time.Time, day time.Weekday, hour, minute int, loc *time.Location) time.Time {
	local := after.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for candidate.Weekday() != day || !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
