package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Davinchi1352/bukoai-sub001/internal/assemble"
	"github.com/Davinchi1352/bukoai-sub001/internal/coherence"
	"github.com/Davinchi1352/bukoai-sub001/internal/config"
	"github.com/Davinchi1352/bukoai-sub001/internal/jobs"
	"github.com/Davinchi1352/bukoai-sub001/internal/outline"
	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
	"github.com/Davinchi1352/bukoai-sub001/internal/resilience"
	"github.com/Davinchi1352/bukoai-sub001/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bukoai server",
	Long: `Start the bukoai HTTP server and its generation workers.

The server provides:
  - POST /v1/books                  - Submit a book generation job
  - GET  /v1/books/{id}             - Job status, usage, and manuscript
  - POST /v1/books/{id}/approve     - Accept a proposed outline
  - POST /v1/books/{id}/regenerate  - Rework the outline from feedback
  - POST /v1/books/{id}/cancel      - Cancel a job
  - GET  /v1/books/{id}/events      - Live progress (server-sent events)
  - GET  /metrics                   - Prometheus metrics
  - GET  /health                    - Health check

Examples:
  bukoai serve                   # Start on default :8080
  bukoai serve --addr :3000      # Start on a custom address`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		mgr.WatchConfig()
		cfg := mgr.Get()

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		client, err := newStreamClient(cfg, logger)
		if err != nil {
			return err
		}

		breakerCfg := cfg.BreakerConfig()
		breakerCfg.Logger = logger
		breaker := resilience.NewBreaker(breakerCfg)
		caller := resilience.NewCaller(client, breaker, cfg.RetryConfig(), logger)

		var (
			store   jobs.Store
			limiter jobs.RateLimiter
		)
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: config.ResolveEnvVars(cfg.Redis.Password),
				DB:       cfg.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
			store = jobs.NewRedisStore(rdb, cfg.Redis.JobTTL)
			limiter = jobs.NewRedisWindowLimiter(rdb, cfg.RateLimits())
			logger.Info("using redis backend", "addr", cfg.Redis.Addr)
		} else {
			store = jobs.NewMemoryStore()
			limiter = jobs.NewWindowLimiter(cfg.RateLimits())
			logger.Info("using in-memory backend, jobs do not survive restarts")
		}

		hub := jobs.NewHub()
		progress := jobs.MultiSink{jobs.LogSink{Logger: logger}, hub}

		pipeline := jobs.NewPipeline(jobs.PipelineConfig{
			Planner: outline.NewPlanner(caller, outline.PlannerConfig{
				Model:  cfg.Provider.Model,
				Logger: logger,
			}),
			Generator: caller,
			Reconciler: coherence.NewReconciler(caller, coherence.ReconcilerConfig{
				Policy:        cfg.PagePolicy(),
				MaxExpansions: cfg.Engine.MaxExpansions,
				LowerBound:    cfg.Engine.ToleranceLower,
				UpperBound:    cfg.Engine.ToleranceUpper,
				Model:         cfg.Provider.Model,
				Logger:        logger,
			}),
			Store:               store,
			Progress:            progress,
			Assembler:           &assemble.MarkdownAssembler{OutputDir: cfg.Output.Dir},
			ChunkLimits:         cfg.ChunkLimits(),
			Pricing:             cfg.JobPricing(),
			Model:               cfg.Provider.Model,
			MaxOutputTokens:     cfg.Provider.MaxOutputTokens,
			ReasoningBudget:     cfg.Provider.ReasoningBudget,
			ArchitectureTimeout: cfg.Engine.ArchitectureTimeout,
			ChunkTimeout:        cfg.Engine.ChunkTimeout,
			Logger:              logger,
		})

		scheduler := jobs.NewScheduler(jobs.SchedulerConfig{
			Workers:    cfg.Engine.Workers,
			Store:      store,
			Queue:      jobs.NewQueue(),
			Limiter:    limiter,
			Pipeline:   pipeline,
			Progress:   progress,
			DeferDelay: cfg.Engine.DeferDelay,
			Logger:     logger,
		})

		srv := server.New(server.Config{
			Addr:      addr,
			Store:     store,
			Scheduler: scheduler,
			Hub:       hub,
			Logger:    logger,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return scheduler.Run(gctx) })
		g.Go(func() error { return srv.Start(gctx) })
		return g.Wait()
	},
}

// newStreamClient builds the provider adapter named in config.
func newStreamClient(cfg *config.Config, logger *slog.Logger) (providers.StreamClient, error) {
	apiKey := cfg.ResolveAPIKey()
	switch cfg.Provider.Type {
	case "", providers.AnthropicName:
		return providers.NewAnthropicClient(providers.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.Provider.BaseURL,
			DefaultModel: cfg.Provider.Model,
			Logger:       logger,
		}), nil
	case providers.OpenAIName:
		return providers.NewOpenAIClient(providers.OpenAIConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.Provider.BaseURL,
			DefaultModel: cfg.Provider.Model,
			Logger:       logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")

	rootCmd.AddCommand(serveCmd)
}
