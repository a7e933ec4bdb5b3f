package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/memerr"

	"github.com/stretchr/testify/require"
)

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	s := New(nil, nil, nil, config.SchedulerIntervals{Forget: time.Hour, Metrics: time.Hour, Cache: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	err := s.Start(ctx)
	var already *memerr.AlreadyRunningError
	require.ErrorAs(t, err, &already)
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(nil, nil, nil, config.SchedulerIntervals{Forget: time.Hour, Metrics: time.Hour, Cache: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	s.Stop()
	require.NotPanics(t, func() { s.Stop() })
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	s := New(nil, nil, nil, config.SchedulerIntervals{})
	require.NotPanics(t, func() { s.Stop() })
}

func TestRunJobSkipsOverlappingTicks(t *testing.T) {
	s := New(nil, nil, nil, config.SchedulerIntervals{})
	var running int32
	var overlapDetected atomic.Bool
	var calls atomic.Int32

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	stopCh := make(chan struct{})
	s.stopCh = stopCh

	fn := func(context.Context) {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			overlapDetected.Store(true)
		}
		calls.Add(1)
		<-release
		atomic.StoreInt32(&running, 0)
	}

	s.wg.Add(1)
	go s.runJob(ctx, "test-job", 5*time.Millisecond, fn)

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load(), "a blocked job must coalesce overlapping ticks rather than queue them")
	close(release)
	cancel()
	s.wg.Wait()

	require.False(t, overlapDetected.Load(), "single-flight guard must prevent overlapping invocations")
}
