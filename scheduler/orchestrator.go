package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options wires the long-running components into the `all` mode.
type Options struct {
	// RunListener blocks for the life of the ingestion loop.
	RunListener func(ctx context.Context) error
	// Processor runs one full digest pass.
	Processor func(ctx context.Context) error
	// Status sends one status report. Optional.
	Status func(ctx context.Context) error
	// Cleanup runs one retention pass. Optional.
	Cleanup func(ctx context.Context) error

	ScheduleMinutes int
	Timezone        *time.Location
	StatusInterval  time.Duration
	WeeklyCleanup   bool
}

// RunAll runs the listener alongside the scheduled jobs until the
// context is cancelled or the listener dies. A scheduler exit takes the
// listener down with it and vice versa.
func RunAll(ctx context.Context, opts Options) error {
	var jobs = []Job{{
		Name: "processor",
		Next: DailyAt(opts.ScheduleMinutes, opts.Timezone),
		Run:  opts.Processor,
	}}
	if opts.Status != nil && opts.StatusInterval > 0 {
		jobs = append(jobs, Job{Name: "status", Next: Every(opts.StatusInterval), Run: opts.Status})
	}
	if opts.Cleanup != nil && opts.WeeklyCleanup {
		jobs = append(jobs, Job{Name: "cleanup", Next: Every(7 * 24 * time.Hour), Run: opts.Cleanup})
	}

	var g, groupCtx = errgroup.WithContext(ctx)
	g.Go(func() error { return opts.RunListener(groupCtx) })
	g.Go(func() error { return New(jobs...).Run(groupCtx) })
	return g.Wait()
}
