package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerValidation(t *testing.T) {
	var s Scheduler

	err := s.ScheduleWithCtx(context.Background(), SchedulerSettings{Callback: func(context.Context) {}})
	assert.EqualError(t, err, "interval must be larger than 0")

	err = s.ScheduleWithCtx(context.Background(), SchedulerSettings{Interval: time.Second})
	assert.EqualError(t, err, "callback is nil")

	// Stop before a successful schedule is a no-op.
	s.Stop()
}

func TestSchedulerLaunchInitially(t *testing.T) {
	var calls atomic.Int32
	var s Scheduler

	err := s.ScheduleWithCtx(context.Background(), SchedulerSettings{
		Callback:        func(context.Context) { calls.Add(1) },
		Interval:        time.Hour,
		LaunchInitially: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestSchedulerTicks(t *testing.T) {
	var calls atomic.Int32
	var s Scheduler

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := s.ScheduleWithCtx(ctx, SchedulerSettings{
		Callback: func(context.Context) { calls.Add(1) },
		Interval: 2 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	s.Stop()

	stopped := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}
