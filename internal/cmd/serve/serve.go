// Package serve wires the memory engine together and runs it as a stdio MCP
// server: Persistence Gateway, vector store, embedding cache, embedding
// service, the background indexer, Hybrid Retrieval, the Forgetting
// Controller, the Scheduler, the Context Injector, and the Tool Surface.
// Grounded on the teacher's internal/cmd/serve: a urfave/cli/v3 Command
// building a Config from category-grouped flags, then handing a context
// carrying it to a run function that blocks until shutdown.
package serve

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/embedding"
	"github.com/memento-ai/memento/internal/forget"
	"github.com/memento-ai/memento/internal/inject"
	"github.com/memento-ai/memento/internal/mcpserver"
	"github.com/memento-ai/memento/internal/metrics"
	registrycache "github.com/memento-ai/memento/internal/registry/cache"
	registryembed "github.com/memento-ai/memento/internal/registry/embed"
	registrystore "github.com/memento-ai/memento/internal/registry/store"
	registryvector "github.com/memento-ai/memento/internal/registry/vector"
	"github.com/memento-ai/memento/internal/retrieval"
	"github.com/memento-ai/memento/internal/scheduler"

	"github.com/urfave/cli/v3"

	// Import the plugins this build supports so their init() registers them.
	_ "github.com/memento-ai/memento/internal/plugin/cache/lru"
	_ "github.com/memento-ai/memento/internal/plugin/cache/redis"
	_ "github.com/memento-ai/memento/internal/plugin/embed/hosted"
	_ "github.com/memento-ai/memento/internal/plugin/embed/local"
	_ "github.com/memento-ai/memento/internal/plugin/store/postgres"
	_ "github.com/memento-ai/memento/internal/plugin/vector/embedded"
	_ "github.com/memento-ai/memento/internal/plugin/vector/pgvector"
	_ "github.com/memento-ai/memento/internal/plugin/vector/qdrant"
	_ "github.com/memento-ai/memento/internal/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the memory engine as a stdio MCP server",
		CustomHelpTemplate: cli.CommandHelpTemplate + `NOTES:
   Hosted embedding providers read their API key from environment variables:
   MEMENTO_EMBEDDING_PRIMARY_API_KEY, MEMENTO_EMBEDDING_SECONDARY_API_KEY.
`,
		Flags: flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(config.WithContext(ctx, &cfg), &cfg, parseLabels(cmd.String("metrics-labels")))
		},
	}
}

// parseLabels turns a "k=v,k=v" flag value into constant Prometheus labels,
// the same shape the teacher's MetricsLabels flag produced.
func parseLabels(raw string) map[string]string {
	labels := map[string]string{"service": "memento"}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		labels[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return labels
}

func flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		// ── Store ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "store-backend",
			Category:    "Store:",
			Sources:     cli.EnvVars("MEMENTO_STORE_BACKEND"),
			Destination: &cfg.Store.Backend,
			Value:       cfg.Store.Backend,
			Usage:       "Persistence Gateway backend (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "store-dsn",
			Category:    "Store:",
			Sources:     cli.EnvVars("MEMENTO_STORE_DSN"),
			Destination: &cfg.Store.DSN,
			Value:       cfg.Store.DSN,
			Usage:       "Store data source name (sqlite file path)",
		},
		&cli.IntFlag{
			Name:        "store-max-open-conns",
			Category:    "Store:",
			Sources:     cli.EnvVars("MEMENTO_STORE_MAX_OPEN_CONNS"),
			Destination: &cfg.Store.MaxOpenConns,
			Value:       cfg.Store.MaxOpenConns,
			Usage:       "Maximum number of open store connections",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-backend",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("MEMENTO_STORE_VECTOR_BACKEND"),
			Destination: &cfg.Store.VectorBackend,
			Value:       cfg.Store.VectorBackend,
			Usage:       "Vector search backend (" + strings.Join(registryvector.Names(), "|") + ")",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-backend",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMENTO_CACHE_BACKEND"),
			Destination: &cfg.Cache.Backend,
			Value:       cfg.Cache.Backend,
			Usage:       "Embedding cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "cache-redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMENTO_CACHE_REDIS_URL"),
			Destination: &cfg.Cache.RedisURL,
			Usage:       "Redis connection URL, required when cache-backend is redis",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-provider",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMENTO_EMBEDDING_PROVIDER"),
			Destination: &cfg.Embedding.Provider,
			Value:       cfg.Embedding.Provider,
			Usage:       "Preferred embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-primary-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMENTO_EMBEDDING_PRIMARY_API_KEY"),
			Destination: &cfg.Embedding.Primary.APIKey,
			Usage:       "API key for the primary hosted embedding provider",
		},
		&cli.StringFlag{
			Name:        "embedding-secondary-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMENTO_EMBEDDING_SECONDARY_API_KEY"),
			Destination: &cfg.Embedding.Secondary.APIKey,
			Usage:       "API key for the secondary hosted embedding provider",
		},

		// ── Scheduler ─────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "scheduler-forget-interval",
			Category:    "Scheduler:",
			Sources:     cli.EnvVars("MEMENTO_SCHEDULER_FORGET_INTERVAL"),
			Destination: &cfg.Scheduler.Forget,
			Value:       cfg.Scheduler.Forget,
			Usage:       "How often the Forgetting Controller sweep runs",
		},
		&cli.DurationFlag{
			Name:        "scheduler-metrics-interval",
			Category:    "Scheduler:",
			Sources:     cli.EnvVars("MEMENTO_SCHEDULER_METRICS_INTERVAL"),
			Destination: &cfg.Scheduler.Metrics,
			Value:       cfg.Scheduler.Metrics,
			Usage:       "How often store-derived Prometheus gauges are refreshed",
		},
		&cli.DurationFlag{
			Name:        "scheduler-cache-interval",
			Category:    "Scheduler:",
			Sources:     cli.EnvVars("MEMENTO_SCHEDULER_CACHE_INTERVAL"),
			Destination: &cfg.Scheduler.Cache,
			Value:       cfg.Scheduler.Cache,
			Usage:       "How often the embedding cache sweep runs",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:     "metrics-labels",
			Category: "Monitoring:",
			Sources:  cli.EnvVars("MEMENTO_METRICS_LABELS"),
			Value:    "service=memento",
			Usage:    "Comma-separated key=value pairs added as constant labels to all Prometheus metrics",
		},
	}
}

func run(ctx context.Context, cfg *config.Config, metricsLabels map[string]string) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	vector, err := openVector(ctx, cfg)
	if err != nil {
		return err
	}

	cache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	ctx = registrycache.WithContext(ctx, cache)

	embedSvc, err := embedding.New(ctx, cfg, cache)
	if err != nil {
		return err
	}

	indexer := embedding.NewIndexer(store, embedSvc, vector, 50)
	go indexer.Start(ctx)

	orchestrator := retrieval.New(store, vector, embedSvc, cfg)
	injector := inject.New(orchestrator)
	fc := forget.New(store, cfg, 200)

	metrics.Init(metricsLabels)
	collector := metrics.NewCollector(store)
	sched := scheduler.New(fc, collector, cache, cfg.Scheduler)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	log.Info("serve: memory engine ready",
		"store", store.Name(), "vector", vector.Name(), "cache", cache.Available())

	srv := mcpserver.New(store, orchestrator, injector)
	return srv.Serve()
}

func openStore(ctx context.Context, cfg *config.Config) (registrystore.Store, error) {
	loader, err := registrystore.Select(cfg.Store.Backend)
	if err != nil {
		return nil, err
	}
	return loader(ctx)
}

func openVector(ctx context.Context, cfg *config.Config) (registryvector.VectorStore, error) {
	loader, err := registryvector.Select(cfg.Store.VectorBackend)
	if err != nil {
		return nil, err
	}
	return loader(ctx)
}

func openCache(ctx context.Context, cfg *config.Config) (registrycache.EmbeddingCache, error) {
	loader, err := registrycache.Select(cfg.Cache.Backend)
	if err != nil {
		return nil, err
	}
	return loader(ctx)
}

