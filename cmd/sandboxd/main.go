package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/execlab/sandboxd/internal/api"
	"github.com/execlab/sandboxd/internal/audit"
	"github.com/execlab/sandboxd/internal/cache"
	"github.com/execlab/sandboxd/internal/config"
	"github.com/execlab/sandboxd/internal/httpapi"
	"github.com/execlab/sandboxd/internal/logging"
	"github.com/execlab/sandboxd/internal/queue"
	"github.com/execlab/sandboxd/internal/sandbox"
	"github.com/execlab/sandboxd/internal/scheduler"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "sandboxd",
	Short:   "sandboxd - bounded-concurrency sandboxed code execution service",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sandboxd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("log-file", "", "Rotate logs through this file instead of stdout")

	serveCmd.Flags().Int("workers", 0, "Number of worker goroutines (0 = use SANDBOXD_WORKERS or default)")
	serveCmd.Flags().Int("queue-size", 0, "Intake queue capacity (0 = use SANDBOXD_QUEUE_SIZE or default)")
	serveCmd.Flags().Int("cache-size", 0, "Result cache capacity (0 = use SANDBOXD_CACHE_SIZE or default)")
	serveCmd.Flags().String("listen", "", "HTTP listen address (0.0.0.0:8080 style)")
	serveCmd.Flags().String("redis-url", "", "Optional Redis URL for a multi-process result cache backend")
	serveCmd.Flags().String("mongo-url", "", "Optional MongoDB URL for the best-effort audit sink")

	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logFile, _ := rootCmd.PersistentFlags().GetString("log-file")

	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
		LogFile:    logFile,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sandboxd HTTP service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	applyFlagOverrides(cmd, &cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.WithComponent("main")
	log.Info().
		Int("workers", cfg.Workers).
		Int("queue_size", cfg.QueueSize).
		Int("cache_size", cfg.CacheSize).
		Msg("starting sandboxd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dockerClient, err := sandbox.NewDockerClient(ctx)
	if err != nil {
		return fmt.Errorf("connect to docker daemon: %w", err)
	}
	defer dockerClient.Close()

	q := queue.New(cfg.QueueSize)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build result store: %w", err)
	}

	sink := audit.Connect(ctx, cfg.MongoURL, cfg.MongoDB)
	defer sink.Close(context.Background())

	pool := scheduler.New(cfg.Workers, sessionFactoryPerSubmission(dockerClient, cfg), q, store, sink)
	pool.Start(ctx)
	defer pool.Stop()

	svc := api.New(q, store, pool)
	handler := httpapi.NewRouter(svc)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// sessionFactoryPerSubmission returns a scheduler.SessionFactory that binds
// a fresh sandbox.Session per task, deferring language selection to
// Session.Execute (which looks it up from the submission itself).
func sessionFactoryPerSubmission(client *sandbox.DockerClient, cfg config.Config) scheduler.SessionFactory {
	return func(workerID int, cpusetCPUs string) scheduler.Executor {
		return sandbox.NewSession(client, "", sandbox.Config{
			MemoryBytes:  cfg.MemLimitBytes,
			CpusetCPUs:   cpusetCPUs,
			KeepTemplate: cfg.KeepTemplateImages,
		})
	}
}

func buildStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryStore(cfg.CacheSize), nil
	}
	return cache.NewRedisStoreFromURL(ctx, cfg.RedisURL, cfg.RedisKeyPrefix, cfg.CacheSize)
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Workers = v
	}
	if v, _ := cmd.Flags().GetInt("queue-size"); v > 0 {
		cfg.QueueSize = v
	}
	if v, _ := cmd.Flags().GetInt("cache-size"); v > 0 {
		cfg.CacheSize = v
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("redis-url"); v != "" {
		cfg.RedisURL = v
	}
	if v, _ := cmd.Flags().GetString("mongo-url"); v != "" {
		cfg.MongoURL = v
	}
}
