package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sluiceio/sluice/pkg/admission"
	"github.com/sluiceio/sluice/pkg/breaker"
	"github.com/sluiceio/sluice/pkg/cache"
	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/gateway"
	"github.com/sluiceio/sluice/pkg/health"
	"github.com/sluiceio/sluice/pkg/lifecycle"
	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/pool"
	"github.com/sluiceio/sluice/pkg/provider"
	"github.com/sluiceio/sluice/pkg/queue"
	"github.com/sluiceio/sluice/pkg/ratelimit"
	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/tracker"
	"github.com/sluiceio/sluice/pkg/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a gateway instance",
	Long: `Start one gateway instance: the public SSE listener, the admin
listener, and the configured number of queue failover workers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServe(cmd, configPath)
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config <path>",
	Short: "Validate a configuration file and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(args[0]); err != nil {
			return err
		}
		fmt.Println("configuration ok")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "path to the YAML configuration file")
	serveCmd.Flags().String("listen", "", "public listen address (overrides config)")
	serveCmd.Flags().String("redis-addr", "", "shared store address (overrides config)")
	serveCmd.Flags().String("log-level", "", "log level (overrides config)")
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := cmd.Flags().GetString("redis-addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Str("environment", string(cfg.Environment)).
		Msg("starting sluice")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedis(ctx, store.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("connect shared store: %w", err)
	}
	defer st.Close()

	runtime := config.NewRuntime(cfg)
	trk := tracker.New(runtime.SampleRate, tracker.DefaultRingCapacity)

	breakers := breaker.New(st, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	})
	providers := provider.NewRegistry(breakers, provider.Options{
		ConnectTimeout: cfg.Timeouts.ProviderConnectSec,
		ReadTimeout:    cfg.Timeouts.ProviderReadSec,
	})
	for _, spec := range cfg.Providers {
		factory, err := provider.FactoryFor(spec.Kind)
		if err != nil {
			return fmt.Errorf("provider %s: %w", spec.Name, err)
		}
		if err := providers.Register(spec, factory); err != nil {
			return fmt.Errorf("provider %s: %w", spec.Name, err)
		}
	}

	coord := pool.New(st, pool.Config{
		GlobalMax:  cfg.Pool.GlobalMax,
		PerUserMax: cfg.Pool.PerUserMax,
		DegradedAt: cfg.Pool.DegradedAt,
		CriticalAt: cfg.Pool.CriticalAt,
	})
	twoTier := cache.NewTwoTier(st, cfg.Cache.L1MaxSize, cfg.CacheTTL())
	twoTier.Instrument(trk)
	limiter := ratelimit.New(st, cfg.LimitFor)
	validator := validate.New(cfg.Providers)

	orch := lifecycle.New(validator, twoTier, limiter, providers, trk, runtime, cfg)

	var failover *queue.Failover
	var workers []*queue.Worker
	if cfg.Queue.FailoverEnabled {
		bp := admission.NewBackpressure(st, queue.JobStream,
			cfg.Queue.MaxDepth, cfg.Queue.BackpressureThresholdRatio, cfg.Queue.MaxRetries)
		failover = queue.NewFailover(st, bp,
			time.Duration(cfg.Timeouts.HeartbeatSec)*time.Second,
			time.Duration(cfg.Queue.TimeoutSeconds)*time.Second)

		hostname, _ := os.Hostname()
		for i := 0; i < cfg.Queue.Workers; i++ {
			consumer := fmt.Sprintf("%s-%s-%d", hostname, uuid.NewString()[:8], i)
			w := queue.NewWorker(st, coord, orch, consumer, cfg.Queue.ResultBatchSize, cfg.Queue.MaxRetries)
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("start queue worker: %w", err)
			}
			workers = append(workers, w)
		}
	}

	shedder := admission.NewShedder(cfg.LoadShed.Enabled, cfg.LoadShed.MaxInFlight)

	// Retries stays at 1 so readiness flips on the first failed store
	// probe; retry damping would keep reporting ready after the store
	// is already gone.
	checks := health.NewRegistry(health.Config{Timeout: 5 * time.Second, Retries: 1})
	checks.Register(health.NewStoreChecker(st, 0))
	checks.Register(health.NewProviderChecker(providers))

	collector := metrics.NewCollector(0)
	collector.Register(func(ctx context.Context) {
		if active, err := coord.Active(ctx); err == nil {
			metrics.PoolActive.Set(float64(active))
		}
	})
	collector.Register(func(ctx context.Context) {
		metrics.CacheL1Size.Set(float64(twoTier.L1Stats().Size))
	})
	collector.Register(func(ctx context.Context) {
		if n, err := st.StreamLen(ctx, queue.JobStream); err == nil {
			metrics.QueueDepth.Set(float64(n))
		}
	})
	collector.Start()
	defer collector.Stop()

	srv := gateway.New(cfg, runtime, coord, orch, failover, shedder, trk, checks)
	errs := srv.Start()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errs:
		logger.Error().Err(err).Msg("listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Timeouts.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("listener shutdown incomplete")
	}
	for _, w := range workers {
		w.Stop()
	}
	logger.Info().Msg("sluice stopped")
	return nil
}
