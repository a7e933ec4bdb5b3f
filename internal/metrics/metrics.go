// Package metrics defines Memento's Prometheus instrumentation and a
// Collector that periodically refreshes store-derived gauges for the
// Scheduler's metrics job. Grounded on the teacher's internal/security
// package: a sync.Once-guarded registration of a fixed metric set, generalized
// from HTTP-request/store-latency metrics to Memento's memory-population and
// pipeline-health metrics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/memento-ai/memento/internal/model"
	registrystore "github.com/memento-ai/memento/internal/registry/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MemoryCountByType reports the current row count per memory type.
	MemoryCountByType *prometheus.GaugeVec

	// MemoryPinnedTotal reports the current pinned-row count.
	MemoryPinnedTotal prometheus.Gauge

	// RetrievalLatency records Hybrid Retrieval query latency.
	RetrievalLatency prometheus.Histogram

	// ForgetSweepLatency records one Forgetting Controller sweep's duration.
	ForgetSweepLatency prometheus.Histogram

	// ForgetActionsTotal counts soft-delete/hard-delete/review actions.
	ForgetActionsTotal *prometheus.CounterVec

	// EmbeddingCacheHitsTotal and EmbeddingCacheMissesTotal track the
	// content-fingerprint embedding cache's effectiveness.
	EmbeddingCacheHitsTotal   prometheus.Counter
	EmbeddingCacheMissesTotal prometheus.Counter

	// CacheSweptTotal counts entries proactively evicted by a cache-sweep job.
	CacheSweptTotal prometheus.Counter
)

var initOnce sync.Once

// Init registers all metrics with the given constant labels. Must be called
// before the Scheduler starts its metrics job. Safe to call multiple times;
// only the first call registers.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		initInner(constLabels)
	})
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	MemoryCountByType = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memento_memory_count",
		Help: "Current number of memory rows by type.",
	}, []string{"type"})

	MemoryPinnedTotal = f.NewGauge(prometheus.GaugeOpts{
		Name: "memento_memory_pinned_total",
		Help: "Current number of pinned memory rows.",
	})

	RetrievalLatency = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "memento_retrieval_latency_seconds",
		Help:    "Hybrid Retrieval query latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	ForgetSweepLatency = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "memento_forget_sweep_latency_seconds",
		Help:    "Forgetting Controller sweep duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	ForgetActionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "memento_forget_actions_total",
		Help: "Forgetting Controller actions taken, by kind.",
	}, []string{"action"})

	EmbeddingCacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memento_embedding_cache_hits_total",
		Help: "Embedding cache hits.",
	})

	EmbeddingCacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memento_embedding_cache_misses_total",
		Help: "Embedding cache misses.",
	})

	CacheSweptTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memento_cache_swept_total",
		Help: "Embedding cache entries proactively evicted by the cache-sweep job.",
	})
}

// Collector refreshes store-derived gauges on demand.
type Collector struct {
	store registrystore.Store
}

// NewCollector creates a Collector over the given Persistence Gateway.
func NewCollector(store registrystore.Store) *Collector {
	return &Collector{store: store}
}

// Collect fetches current store stats and updates the gauges. A nil
// MemoryCountByType means Init was never called; Collect is then a no-op so
// callers that don't care about Prometheus don't pay the query cost.
func (c *Collector) Collect(ctx context.Context) error {
	if MemoryCountByType == nil {
		return nil
	}
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return err
	}
	for _, t := range []model.Type{model.TypeWorking, model.TypeEpisodic, model.TypeSemantic, model.TypeProcedural} {
		MemoryCountByType.WithLabelValues(string(t)).Set(float64(stats.TotalByType[t]))
	}
	MemoryPinnedTotal.Set(float64(stats.Pinned))
	return nil
}

// ObserveRetrieval records one Hybrid Retrieval call's latency.
func ObserveRetrieval(start time.Time) {
	if RetrievalLatency != nil {
		RetrievalLatency.Observe(time.Since(start).Seconds())
	}
}

// ObserveForgetSweep records one Forgetting Controller sweep's latency and
// the counts of each action it took.
func ObserveForgetSweep(start time.Time, softDeleted, hardDeleted, reviewed int) {
	if ForgetSweepLatency == nil {
		return
	}
	ForgetSweepLatency.Observe(time.Since(start).Seconds())
	ForgetActionsTotal.WithLabelValues("soft_delete").Add(float64(softDeleted))
	ForgetActionsTotal.WithLabelValues("hard_delete").Add(float64(hardDeleted))
	ForgetActionsTotal.WithLabelValues("review").Add(float64(reviewed))
}
