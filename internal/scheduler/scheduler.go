// Package scheduler runs jobs at fixed wall-clock times.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Schedule reports the first fire time strictly after the given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Daily fires once a day at Hour:Minute in Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseDaily parses an "HH:MM" time of day.
func ParseDaily(s string, loc *time.Location) (Daily, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Daily{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return Daily{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

func (d Daily) Next(after time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	t := after.In(loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return next
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

// Job is called with the scheduled fire time.
type Job func(ctx context.Context, at time.Time)

// Runner calls a Job on every fire time of its Schedule until stopped.
type Runner struct {
	name     string
	schedule Schedule
	job      Job
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewRunner(name string, schedule Schedule, job Job, logger *zap.Logger) *Runner {
	return &Runner{
		name:     name,
		schedule: schedule,
		job:      job,
		logger:   logger.With(zap.String("job", name)),
		now:      time.Now,
	}
}

// Start launches the runner goroutine. It stops when ctx is done or Stop is
// called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.loop(ctx, r.stopCh)
}

// Stop halts the runner and waits for an in-flight job to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	next := r.schedule.Next(r.now())
	r.logger.Info("Scheduler started", zap.Time("next_run", next))

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			r.run(ctx, next)
			next = r.schedule.Next(maxTime(next, r.now()))
			timer.Reset(time.Until(next))
		case <-stopCh:
			r.logger.Info("Scheduler stopped")
			return
		case <-ctx.Done():
			r.logger.Info("Scheduler stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

func (r *Runner) run(ctx context.Context, at time.Time) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Scheduled job panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	start := r.now()
	r.job(ctx, at)
	r.logger.Debug("Scheduled job finished",
		zap.Time("scheduled_at", at),
		zap.Duration("duration", r.now().Sub(start)))
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
