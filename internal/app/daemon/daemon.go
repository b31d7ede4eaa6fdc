package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hickar/mailtriage/internal/app/mailstore"
	"github.com/hickar/mailtriage/internal/app/triage"
)

type Daemon struct {
	settings  Settings
	logger    *slog.Logger
	scheduler scheduler
	runner    runner
}

// Settings control how often triage runs and how long a single run may take.
// A zero PollInterval makes the daemon run exactly once.
type Settings struct {
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

type scheduler interface {
	ScheduleWithCtx(context.Context, SchedulerSettings) error
	Stop()
}

type runner interface {
	Run(ctx context.Context) (triage.Stats, error)
}

func NewDaemon(
	settings Settings,
	scheduler scheduler,
	runner runner,
	logger *slog.Logger,
) *Daemon {
	return &Daemon{
		settings:  settings,
		scheduler: scheduler,
		runner:    runner,
		logger:    logger,
	}
}

// RunOnce performs a single triage run bounded by the task timeout.
func (d *Daemon) RunOnce(ctx context.Context) (triage.Stats, error) {
	if d.settings.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.settings.TaskTimeout)
		defer cancel()
	}

	return d.runner.Run(ctx)
}

// Start runs triage periodically until ctx is canceled. Failures of a single
// run are logged and the next tick retries, except for rejected credentials,
// which stop the daemon.
func (d *Daemon) Start(ctx context.Context) error {
	if d.settings.PollInterval <= 0 {
		_, err := d.RunOnce(ctx)
		return err
	}

	errCh := make(chan error, 1)

	err := d.scheduler.ScheduleWithCtx(ctx, SchedulerSettings{
		LaunchInitially: true,
		Interval:        d.settings.PollInterval,
		Callback: func(ctx context.Context) {
			_, err := d.RunOnce(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}

			var authErr *mailstore.AuthError
			if errors.As(err, &authErr) {
				select {
				case errCh <- fmt.Errorf("task execution failed: %w", err):
				default:
				}
				return
			}

			d.logger.WarnContext(ctx, "triage run failed, retrying on next tick",
				slog.Any("error", err),
				slog.Duration("poll_interval", d.settings.PollInterval),
			)
		},
	})
	if err != nil {
		return fmt.Errorf("error occurred while launching the scheduler: %w", err)
	}
	defer d.scheduler.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
