// Matchd is the candidate-job matching daemon.
//
// This binary starts the matchd HTTP server with full service
// initialization: skill taxonomy, embedding provider, vector index,
// scorer, fairness auditor, audit log, and optionally the Temporal
// corpus refresh worker.
//
// Configuration is loaded from ~/.config/matchd/config.yaml, overridden
// by environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (in-memory index, hash embeddings)
//	matchd
//
//	# Configure via environment
//	SERVER_HTTP_PORT=8700 INDEX_PROVIDER=qdrant matchd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/audit"
	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/embedding"
	"github.com/fyrsmithlabs/matchd/internal/fairness"
	"github.com/fyrsmithlabs/matchd/internal/index"
	"github.com/fyrsmithlabs/matchd/internal/logging"
	"github.com/fyrsmithlabs/matchd/internal/match"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
	"github.com/fyrsmithlabs/matchd/internal/server"
	"github.com/fyrsmithlabs/matchd/internal/telemetry"
	"github.com/fyrsmithlabs/matchd/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/matchd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  matchd           Start the matchd daemon\n")
			fmt.Fprintf(os.Stderr, "  matchd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("matchd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the matchd server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Builds the skill taxonomy (with optional hot reload)
//  4. Creates the embedding engine and vector index
//  5. Initializes scoring, fairness, and the audit log
//  6. Wires the match service and HTTP server
//  7. Starts the corpus refresh worker when Temporal is enabled
//  8. Performs graceful shutdown on context cancellation
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tele, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tele.Shutdown(context.Background()) }()

	logger, err := initLogger(cfg, tele)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Underlying()

	logger.Info(ctx, "Starting matchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("index_provider", cfg.Index.Provider))

	// Skill taxonomy, with optional hot reload of override files.
	overrides, err := normalize.LoadOverrides(cfg.Taxonomy.OverridePaths...)
	if err != nil {
		return fmt.Errorf("loading taxonomy overrides: %w", err)
	}
	normalizer := normalize.New(normalize.NewTaxonomy(overrides))

	if cfg.Taxonomy.Watch && len(cfg.Taxonomy.OverridePaths) > 0 {
		watcher, err := normalize.NewTaxonomyWatcher(normalizer, cfg.Taxonomy.OverridePaths, zl)
		if err != nil {
			return fmt.Errorf("creating taxonomy watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting taxonomy watcher: %w", err)
		}
		defer watcher.Stop()
		logger.Info(ctx, "taxonomy watcher started",
			zap.Strings("paths", cfg.Taxonomy.OverridePaths))
	}

	// Embedding engine over the configured provider.
	provider, err := embedding.NewProvider(cfg.Embedding, zl)
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	engine := embedding.NewEngine(provider, cfg.Embedding, zl)

	// Vector index backend.
	idx, err := index.New(cfg.Index, zl)
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}

	// Append-only audit log, optionally mirrored to NATS.
	auditLog, err := audit.NewLog(cfg.Audit, zl)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	scorer, err := scoring.NewScorer(cfg.Scoring, zl)
	if err != nil {
		return fmt.Errorf("creating scorer: %w", err)
	}

	svc, err := match.NewService(match.Options{
		Repository: match.NewMemoryRepository(),
		Normalizer: normalizer,
		Embedder:   engine,
		Index:      idx,
		Scorer:     scorer,
		Auditor:    fairness.NewAuditor(cfg.Fairness, zl),
		Audit:      auditLog,
		Explain:    cfg.Explain,
		Logger:     zl,
	})
	if err != nil {
		return fmt.Errorf("creating match service: %w", err)
	}
	defer func() { _ = svc.Close() }()

	srv, err := server.NewServer(svc, cfg.Server, zl)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	// Corpus refresh worker, only when Temporal is configured.
	if cfg.Temporal.Enabled {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return fmt.Errorf("connecting to temporal at %s: %w", cfg.Temporal.HostPort, err)
		}
		defer c.Close()

		acts, err := workflows.NewActivities(svc, zl)
		if err != nil {
			return fmt.Errorf("creating refresh activities: %w", err)
		}

		w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
		w.RegisterWorkflow(workflows.CorpusRefreshWorkflow)
		w.RegisterActivity(acts)

		if err := w.Start(); err != nil {
			return fmt.Errorf("starting corpus refresh worker: %w", err)
		}
		defer w.Stop()

		scheduleRefresh(ctx, c, cfg, logger)

		logger.Info(ctx, "corpus refresh worker started",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server (blocks until context cancellation)
	return srv.Start(ctx)
}

// scheduleRefresh starts the periodic corpus refresh for both entity
// kinds on the configured interval. Cron workflows persist server-side,
// so an already-started error on daemon restart is expected and only
// logged.
func scheduleRefresh(ctx context.Context, c client.Client, cfg *config.Config, logger *logging.Logger) {
	for _, kind := range []normalize.EntityKind{normalize.KindCandidate, normalize.KindJob} {
		opts := client.StartWorkflowOptions{
			ID:           fmt.Sprintf("corpus-refresh-%s", kind),
			TaskQueue:    cfg.Temporal.TaskQueue,
			CronSchedule: fmt.Sprintf("@every %s", cfg.Temporal.RefreshInterval.Duration()),
		}
		input := workflows.CorpusRefreshInput{
			Kind:         kind,
			ModelVersion: cfg.Embedding.Model,
		}
		if _, err := c.ExecuteWorkflow(ctx, opts, workflows.CorpusRefreshWorkflow, input); err != nil {
			logger.Warn(ctx, "corpus refresh schedule not started",
				zap.String("kind", string(kind)),
				zap.Error(err))
			continue
		}
		logger.Info(ctx, "corpus refresh scheduled",
			zap.String("kind", string(kind)),
			zap.Duration("interval", cfg.Temporal.RefreshInterval.Duration()))
	}
}

// initTelemetry builds the OTLP telemetry stack from the observability
// section. Disabled telemetry yields a no-op provider.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	teleCfg := telemetry.NewDefaultConfig()
	teleCfg.Enabled = cfg.Observability.EnableTelemetry
	teleCfg.ServiceVersion = version
	if cfg.Observability.ServiceName != "" {
		teleCfg.ServiceName = cfg.Observability.ServiceName
	}
	if cfg.Observability.Endpoint != "" {
		teleCfg.Endpoint = cfg.Observability.Endpoint
	}
	return telemetry.New(ctx, teleCfg)
}

// initLogger builds the structured logger, routing records to the OTLP
// collector as well when telemetry is enabled.
func initLogger(cfg *config.Config, tele *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = level
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}

	if tele.IsEnabled() {
		logCfg.Output.OTEL = true
		return logging.NewLogger(logCfg, tele.LoggerProvider())
	}
	return logging.NewLogger(logCfg, nil)
}
