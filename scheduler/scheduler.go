// Package scheduler runs wall-clock jobs on a dedicated goroutine and
// orchestrates the long-running process modes.
package scheduler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// sleepCap bounds one scheduler sleep so shutdown stays responsive and
// clock jumps are noticed quickly.
const sleepCap = 5 * time.Second

// Job is one scheduled unit of work. Next computes the first run
// strictly after the given instant.
type Job struct {
	Name string
	Next func(after time.Time) time.Time
	Run  func(ctx context.Context) error
}

type scheduledJob struct {
	Job
	due time.Time
}

// Scheduler fires jobs at their wall-clock times. Job errors are
// logged, never fatal: a failed processor run must not kill the
// listener that shares the process.
type Scheduler struct {
	jobs  []*scheduledJob
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func New(jobs ...Job) *Scheduler {
	var s = &Scheduler{now: time.Now, sleep: sleepWithContext}
	for _, j := range jobs {
		s.jobs = append(s.jobs, &scheduledJob{Job: j})
	}
	return s
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	var t = time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Run loops until the context is cancelled. Overdue jobs run
// immediately; otherwise the loop sleeps the time to the nearest job,
// capped for responsiveness.
func (s *Scheduler) Run(ctx context.Context) error {
	var now = s.now()
	for _, j := range s.jobs {
		j.due = j.Next(now)
		log.WithFields(log.Fields{"job": j.Name, "due": j.due.Format(time.RFC3339)}).Info("job scheduled")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now = s.now()

		var idle = s.runDue(ctx, now)
		if idle > sleepCap {
			idle = sleepCap
		}
		s.sleep(ctx, idle)
	}
}

// runDue executes every due job and returns the idle time to the
// nearest pending one.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) time.Duration {
	var idle = sleepCap
	for _, j := range s.jobs {
		if !j.due.After(now) {
			log.WithField("job", j.Name).Info("job starting")
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithFields(log.Fields{"job": j.Name, "error": err}).Error("job failed")
			}
			j.due = j.Next(s.now())
			log.WithFields(log.Fields{"job": j.Name, "due": j.due.Format(time.RFC3339)}).Debug("job rescheduled")
		}
		if wait := j.due.Sub(now); wait < idle {
			idle = wait
		}
	}
	if idle < 0 {
		idle = 0
	}
	return idle
}

// DailyAt schedules a job every day at the given minutes past local
// midnight in tz.
func DailyAt(minutes int, tz *time.Location) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		var local = after.In(tz)
		var due = time.Date(local.Year(), local.Month(), local.Day(), 0, minutes, 0, 0, tz)
		if !due.After(after) {
			due = due.AddDate(0, 0, 1)
		}
		return due
	}
}

// Every schedules a job at a fixed interval.
func Every(d time.Duration) func(time.Time) time.Time {
	return func(after time.Time) time.Time { return after.Add(d) }
}
