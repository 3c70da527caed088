package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/emgflow/emgflow/internal/cache"
	"github.com/emgflow/emgflow/internal/config"
	httpiface "github.com/emgflow/emgflow/internal/interfaces/http"
	"github.com/emgflow/emgflow/internal/persistence"
	"github.com/emgflow/emgflow/internal/persistence/postgres"
	"github.com/emgflow/emgflow/internal/session"
	"github.com/emgflow/emgflow/internal/storage"
	"github.com/emgflow/emgflow/internal/webhook"
	"github.com/emgflow/emgflow/internal/worker"
)

const (
	appName = "emgflow"
	version = "v2.1.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "EMG rehabilitation session ingestion and analysis service",
		Version: version,
		Long: `emgflow ingests C3D recordings uploaded from rehabilitation game
sessions, runs the EMG analysis pipeline, and persists per-session
analytics and performance scores.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook intake and processing service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger writes human-readable output on a TTY and JSON otherwise.
func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runServe(configPath string) error {
	log := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Info().Str("version", version).Str("processing_version", cfg.Processing.Version).
		Msg("starting emgflow")

	manager, err := postgres.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	defer manager.Close()

	var fast cache.FastLayer
	if cfg.Redis.Addr != "" {
		redisLayer, err := cache.NewRedisLayer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
		fast = redisLayer
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis fast cache layer")
	} else {
		fast = cache.NewMemoryLayer(int(cfg.Cache.MaxEntries))
		log.Info().Msg("using in-memory fast cache layer")
	}

	resultCache := cache.New(fast, manager.Repository().Sessions, cfg.Cache.TTL, log)
	defer resultCache.Close()

	store := storage.NewClient(cfg.Storage, log)
	pool := worker.New(cfg.Processing.Workers, cfg.Processing.QueueDepth, cfg.Processing.TaskTimeout, log)

	metrics := httpiface.NewMetricsRegistry(func() float64 {
		return float64(pool.QueueDepth())
	})
	pool.OnTaskDone(func(name string, err error, elapsed time.Duration) {
		metrics.ProcessingDuration.Observe(elapsed.Seconds())
	})

	processor := session.NewProcessor(cfg, manager.Repository(), resultCache, store, pool, session.Hooks{
		OnOutcome: func(status persistence.SessionStatus) {
			metrics.SessionOutcomes.WithLabelValues(string(status)).Inc()
		},
		OnCache: func(hit bool) {
			if hit {
				metrics.CacheHits.Inc()
			} else {
				metrics.CacheMisses.Inc()
			}
		},
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	pool.Start(ctx)
	defer pool.Stop()

	verifier := webhook.NewVerifier(cfg.Webhook.Secret, log)
	deduper := webhook.NewDeduper(cfg.Webhook.DedupWindow)
	health := httpiface.NewHealthChecker(manager.Health(), resultCache, store.Healthy,
		pool.QueueDepth, pool.QueueCapacity)
	handlers := httpiface.NewHandlers(processor, verifier, deduper,
		cfg.Storage.ExpectedBucket, cfg.Webhook.ResponseBudget, metrics, health, log)
	server := httpiface.NewServer(cfg.Server, handlers, metrics, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("emgflow stopped")
	return nil
}
