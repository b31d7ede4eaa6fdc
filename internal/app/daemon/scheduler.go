package daemon

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Scheduler executes a callback repeatedly at a fixed interval.
// Callbacks never overlap.
type Scheduler struct {
	settings SchedulerSettings
	ticker   *time.Ticker
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type SchedulerSettings struct {
	Callback        func(context.Context) // Function to be executed at each interval.
	Interval        time.Duration         // Duration between callback executions.
	LaunchInitially bool                  // Execute the callback immediately upon scheduling.
}

// ScheduleWithCtx launches the Scheduler with the provided settings.
//
// Returns an error only if invalid settings are provided (e.g., interval <= 0 or nil callback).
// The schedule ends when ctx is canceled or Stop is called.
func (s *Scheduler) ScheduleWithCtx(ctx context.Context, settings SchedulerSettings) error {
	if settings.Interval <= 0 {
		return errors.New("interval must be larger than 0")
	}
	if settings.Callback == nil {
		return errors.New("callback is nil")
	}

	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.settings = settings
	go s.runSchedule(ctx)
	return nil
}

func (s *Scheduler) runSchedule(ctx context.Context) {
	defer close(s.done)

	if s.settings.LaunchInitially {
		s.settings.Callback(ctx)
	}

	s.ticker = time.NewTicker(s.settings.Interval)
	defer s.ticker.Stop()

	for {
		select {
		case <-s.ticker.C:
			s.settings.Callback(ctx)
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the Scheduler and waits for a running callback to return.
// It is safe to call Stop more than once.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}

	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}
