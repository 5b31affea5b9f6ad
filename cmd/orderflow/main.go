package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderflow/orderflow/config"
	"github.com/orderflow/orderflow/pkg/api"
	"github.com/orderflow/orderflow/pkg/api/handlers"
	"github.com/orderflow/orderflow/pkg/clock"
	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/metrics"
	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/steps"
	"github.com/orderflow/orderflow/pkg/storage/postgres"
	"github.com/orderflow/orderflow/pkg/stream"
	"github.com/orderflow/orderflow/pkg/telemetry/tracing"
	"github.com/orderflow/orderflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	// Print help
	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	// Print version
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	// Build CLI overrides map
	overrides := buildOverrides()

	// Load configuration
	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	// Initialize logger with configuration
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting Orderflow",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	log.Debug("Configuration loaded", "config", cfg.String())

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize tracing
	tracingShutdown, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracing", "error", err)
		}
	}()

	// Initialize the order store
	var gateway saga.Gateway
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Storage.Postgres.DSN,
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			MaxConnLifetime: cfg.Storage.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Storage.Postgres.MaxConnIdleTime,
			ConnectTimeout:  cfg.Storage.Postgres.ConnectTimeout,
		})
		if err != nil {
			log.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("Failed to ensure PostgreSQL schema", "error", err)
			os.Exit(1)
		}
		gateway = pg
		log.Info("Initialized PostgreSQL storage")
	case "memory":
		gateway = saga.NewMemoryGateway()
		log.Info("Initialized memory storage")
	default:
		gateway = saga.NewMemoryGateway()
		log.Warn("Unknown storage type, using memory storage", "type", cfg.Storage.Type)
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			log.Error("Error closing storage", "error", err)
		}
	}()

	// Initialize the status stream bus
	var bus stream.Bus
	switch cfg.Stream.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Stream.Redis.Address,
			Password: cfg.Stream.Redis.Password,
			DB:       cfg.Stream.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Error("Failed to connect to Redis", "error", err, "address", cfg.Stream.Redis.Address)
			os.Exit(1)
		}
		bus = stream.NewRedisBus(client, "orderflow:status", cfg.Stream.BufferSize)
		log.Info("Initialized Redis status stream", "address", cfg.Stream.Redis.Address)
	case "local":
		bus = stream.NewLocalBus(cfg.Stream.BufferSize)
		log.Info("Initialized local status stream")
	default:
		bus = stream.NewLocalBus(cfg.Stream.BufferSize)
		log.Warn("Unknown stream type, using local stream", "type", cfg.Stream.Type)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error("Error closing status stream", "error", err)
		}
	}()

	// Initialize metrics manager
	metricsCfg := metrics.Config{
		Enabled:             cfg.Metrics.Enabled,
		Port:                cfg.Metrics.Port,
		Path:                cfg.Metrics.Path,
		SagaDurationBuckets: metrics.DefaultConfig().SagaDurationBuckets,
		StepDurationBuckets: metrics.DefaultConfig().StepDurationBuckets,
		HTTPDurationBuckets: metrics.DefaultConfig().HTTPDurationBuckets,
	}
	metricsManager := metrics.NewManager(metricsCfg)

	// Start metrics server if enabled
	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Wire the saga step registry over the simulated collaborators.
	ids := clock.UUIDGenerator{}
	registry, err := saga.NewRegistry(
		steps.NewInventoryStep(steps.NewSimInventory(ids), stepTimeout(cfg, "inventory")),
		steps.NewPaymentStep(steps.NewSimPayment(ids), stepTimeout(cfg, "payment")),
		steps.NewShippingStep(steps.NewSimShipping(clock.System{}, ids), stepTimeout(cfg, "shipping")),
	)
	if err != nil {
		log.Error("Failed to build step registry", "error", err)
		os.Exit(1)
	}

	runtime := saga.NewRuntime(cfg.Saga.DefaultStepTimeout, log)

	engine, err := saga.NewEngine(registry, gateway, runtime,
		saga.WithMaxConcurrent(cfg.Saga.MaxConcurrent),
		saga.WithStream(bus),
		saga.WithMetrics(metricsManager),
		saga.WithLogger(log),
	)
	if err != nil {
		log.Error("Failed to create saga engine", "error", err)
		os.Exit(1)
	}

	// Sweep executions interrupted by a previous crash before accepting traffic.
	recovered, err := engine.RecoverInFlight(ctx)
	if err != nil {
		log.Error("Failed to recover in-flight executions", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		log.Info("Recovered in-flight executions", "count", recovered)
	}

	coordinator, err := saga.NewCoordinator(engine, saga.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Cooldown:    cfg.Retry.Cooldown,
	}, saga.WithCoordinatorLogger(log))
	if err != nil {
		log.Error("Failed to create retry coordinator", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP server with handlers
	apiHandlers := &api.Handlers{
		Order:  handlers.NewOrderHandler(engine, coordinator, log),
		Stream: handlers.NewStreamHandler(gateway, bus, log),
		WebSocket: handlers.NewWebSocketHandler(gateway, bus, log, handlers.WebSocketConfig{
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		}),
		Health:         handlers.NewHealthHandler(gateway, bus, version.Version),
		Metrics:        metricsManager,
		MetricsHandler: metricsManager.Handler(),
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	// Reload the logger when the config file changes on disk.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, config.NewLoader())
		if err != nil {
			log.Warn("Config watcher unavailable", "error", err)
		} else {
			watcher.OnChange(func(updated *config.Config) {
				log.Info("Configuration reloaded", "log_level", updated.Log.Level)
				logger.SetGlobal(logger.New(&logger.Config{
					Level:  logger.ParseLevel(updated.Log.Level),
					Format: updated.Log.Format,
					Output: updated.Log.Output,
				}))
			})
			if err := watcher.Watch(ctx); err != nil {
				log.Warn("Config watcher failed to start", "error", err)
			} else {
				defer func() {
					if err := watcher.Stop(); err != nil {
						log.Error("Error stopping config watcher", "error", err)
					}
				}()
			}
		}
	}

	// Start HTTP server in a separate goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("Orderflow is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
		"stream", cfg.Stream.Type,
	)
	log.Info("Press Ctrl+C to stop")

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server first so in-flight requests drain before storage closes.
	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}

	log.Info("Orderflow stopped gracefully")
}

// stepTimeout resolves a per-step timeout override, falling back to the default.
func stepTimeout(cfg *config.Config, step string) time.Duration {
	if d, ok := cfg.Saga.StepTimeouts[step]; ok && d > 0 {
		return d
	}
	return cfg.Saga.DefaultStepTimeout
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Orderflow - Order Processing Saga Orchestrator\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Orderflow - Order processing saga orchestrator with compensation and retry\n\n")
	fmt.Printf("Usage: orderflow [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  orderflow                                 # Run with default config\n")
	fmt.Printf("  orderflow -config config.yaml             # Use specific config file\n")
	fmt.Printf("  orderflow -port 9090 -log-level debug     # Override specific options\n")
	fmt.Printf("  orderflow -version                        # Print version info\n")
}
