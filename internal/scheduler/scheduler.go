// Package scheduler drives the three cooperative background jobs the engine
// needs (spec §4.10): a forget-sweep, metrics collection, and a cache sweep.
// Grounded on the teacher's internal/service.EpisodicTTLService ticker loop,
// generalized from one job to three independently-intervaled ones, each
// single-flight (an overlapping tick is skipped rather than queued) and
// each stoppable without racing a concurrent Start.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/forget"
	"github.com/memento-ai/memento/internal/memerr"
	"github.com/memento-ai/memento/internal/metrics"
	registrycache "github.com/memento-ai/memento/internal/registry/cache"
)

// Scheduler owns the forget-sweep, metrics-collection, and cache-sweep jobs.
type Scheduler struct {
	forget    *forget.Controller
	collector *metrics.Collector
	cache     registrycache.EmbeddingCache
	intervals config.SchedulerIntervals

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler. cache may be nil (cache sweep becomes a no-op job).
func New(fc *forget.Controller, collector *metrics.Collector, cache registrycache.EmbeddingCache, intervals config.SchedulerIntervals) *Scheduler {
	return &Scheduler{
		forget:    fc,
		collector: collector,
		cache:     cache,
		intervals: intervals,
	}
}

// Start launches the three jobs. Returns *memerr.AlreadyRunningError if the
// Scheduler is already started; Start never blocks waiting for jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return &memerr.AlreadyRunningError{Job: "scheduler"}
	}
	s.stopCh = make(chan struct{})
	s.stopOnce = sync.Once{}

	s.wg.Add(3)
	go s.runJob(ctx, "forget-sweep", s.intervals.Forget, s.runForgetSweep)
	go s.runJob(ctx, "metrics", s.intervals.Metrics, s.runMetrics)
	go s.runJob(ctx, "cache-sweep", s.intervals.Cache, s.runCacheSweep)

	return nil
}

// Stop signals all jobs to exit and waits for them. Idempotent: once a Stop
// has returned the Scheduler is no longer marked running, so a second call
// returns immediately.
func (s *Scheduler) Stop() {
	if !s.running.Load() {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.running.Store(false)
}

// runJob ticks at interval, skipping a tick if the previous invocation of
// this same job is still in flight (single-flight coalescing per job).
func (s *Scheduler) runJob(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var inFlight atomic.Bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !inFlight.CompareAndSwap(false, true) {
				log.Debug("scheduler: skipping overlapping tick", "job", name)
				continue
			}
			func() {
				defer inFlight.Store(false)
				fn(ctx)
			}()
		}
	}
}

func (s *Scheduler) runForgetSweep(ctx context.Context) {
	if s.forget == nil {
		return
	}
	result, err := s.forget.Sweep(ctx)
	if err != nil {
		log.Error("scheduler: forget sweep failed", "err", err)
		return
	}
	if result.SoftDeleted+result.HardDeleted+result.Reviewed > 0 {
		log.Info("scheduler: forget sweep", "softDeleted", result.SoftDeleted,
			"hardDeleted", result.HardDeleted, "reviewed", result.Reviewed)
	}
}

func (s *Scheduler) runMetrics(ctx context.Context) {
	if s.collector == nil {
		return
	}
	if err := s.collector.Collect(ctx); err != nil {
		log.Error("scheduler: metrics collection failed", "err", err)
	}
}

func (s *Scheduler) runCacheSweep(ctx context.Context) {
	if s.cache == nil {
		return
	}
	purged, err := s.cache.Sweep(ctx)
	if err != nil {
		log.Error("scheduler: cache sweep failed", "err", err)
		return
	}
	if purged > 0 {
		if metrics.CacheSweptTotal != nil {
			metrics.CacheSweptTotal.Add(float64(purged))
		}
		log.Info("scheduler: cache sweep", "purged", purged)
	}
}
