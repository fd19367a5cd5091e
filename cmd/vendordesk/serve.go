package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/vendordesk/internal/capability"
	"github.com/pitabwire/vendordesk/internal/command"
	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/internal/definition"
	"github.com/pitabwire/vendordesk/internal/invoker"
	"github.com/pitabwire/vendordesk/internal/metadata"
	"github.com/pitabwire/vendordesk/internal/observability"
	"github.com/pitabwire/vendordesk/internal/openapi"
	"github.com/pitabwire/vendordesk/internal/session"
	"github.com/pitabwire/vendordesk/internal/source"
	"github.com/pitabwire/vendordesk/internal/transport"
)

const sweepInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// Telemetry first so that everything after can log.
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "vendordesk", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	promReg := observability.NewRegistry()
	metrics := observability.InitMetrics(promReg)

	// Definitions, validated against the OpenAPI index.
	defs, oaIndex, err := loadDefinitions(cfg)
	if err != nil {
		metrics.RecordDefinitionReload("failure")
		return err
	}
	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(registry.Lists())))
	for _, svc := range oaIndex.Services() {
		metrics.SetOpenAPIOperationsIndexed(svc, float64(len(oaIndex.OperationIDs(svc))))
	}

	capResolver, err := buildCapabilityResolver(cfg.Capability, metrics)
	if err != nil {
		return err
	}

	// List sources. rest sources need at least one backend service.
	sourceOpts := []source.RegistryOption{source.WithRegistryLogger(logger)}
	if len(cfg.Services) > 0 {
		client := invoker.NewClient(oaIndex, cfg.Services,
			invoker.WithRecorder(metrics),
			invoker.WithLogger(logger),
		)
		sourceOpts = append(sourceOpts, source.WithBackends(client, oaIndex))
	}
	sources := source.NewRegistry(cfg.Sources, sourceOpts...)
	defer sources.Close()

	// Per-user view state.
	stateStore, closeStateStore, err := session.OpenStore(cfg.Sessions, os.Getenv)
	if err != nil {
		return err
	}
	defer closeStateStore()

	views := session.NewManager(stateStore, cfg.Sessions.Driver, cfg.Sessions, sources,
		session.WithRecorder(metrics),
		session.WithLogger(logger),
		session.WithBulkConcurrency(cfg.Bulk.Concurrency),
	)

	execOpts := []command.ExecutorOption{
		command.WithPatchValidation(sources),
		command.WithRecorder(metrics),
		command.WithLogger(logger),
	}
	if cfg.Bulk.Idempotency.Enabled {
		store, closeStore, err := command.OpenIdempotencyStore(cfg.Bulk.Idempotency.Store, os.Getenv)
		if err != nil {
			return err
		}
		defer closeStore()
		execOpts = append(execOpts, command.WithIdempotencyStore(store, cfg.Bulk.Idempotency.Store.DefaultTTL))
	}
	executor := command.NewExecutor(registry, views, execOpts...)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.NewReadiness(0).
		Require("definitions", func() bool { return len(registry.Lists()) > 0 }, "no list definitions loaded").
		Check("session_store", views).
		Check("sources", sources).
		Check("jwks", jwks)
	if len(cfg.Specs.Sources) > 0 {
		readiness.Require("openapi_index", func() bool { return oaIndex.Len() > 0 }, "no OpenAPI specs loaded")
	}

	deps := transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: capResolver,
		Lists:              metadata.NewListProvider(registry, metadata.NewActionProvider()),
		Views:              views,
		Executor:           executor,
		HealthHandler:      observability.HandleHealth(observability.BuildInfo{Version: version, Commit: commit}),
		ReadyHandler:       readiness,
	}
	if cfg.Observability.Metrics.Enabled {
		deps.MetricsHandler = observability.Handler(promReg)
	}
	router := transport.NewRouter(deps)
	traced := observability.TracingMiddlewareSkipping("/ui/health", "/ui/ready", cfg.Observability.Metrics.Path)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      metrics.MetricsMiddleware(traced(router)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Definitions.HotReload {
		r := &reloader{
			cfg:      cfg,
			index:    oaIndex,
			registry: registry,
			sources:  sources,
			policy:   capResolver,
			metrics:  metrics,
			logger:   logger,
		}
		go r.run(bgCtx, cfg.Definitions.ReloadInterval)
	}
	if sweeper, ok := stateStore.(*session.BoltStore); ok {
		go runSweeper(bgCtx, sweeper, logger)
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("lists", len(registry.Lists())),
		zap.String("session_driver", cfg.Sessions.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// buildCapabilityResolver creates the resolver over the static role policy.
func buildCapabilityResolver(cfg config.CapabilityConfig, rec capability.Recorder) (*capability.Resolver, error) {
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("static policy: %w", err)
	}
	return capability.NewResolver(evaluator, cfg.Cache, capability.WithRecorder(rec)), nil
}

// reloader polls the definition directories and swaps in changed
// definitions. Open views pick the new definition up on their next request.
type reloader struct {
	cfg      *config.Config
	index    *openapi.Index
	registry *definition.Registry
	sources  *source.Registry
	policy   interface{ Sync() error }
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func (r *reloader) run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reload()
		}
	}
}

func (r *reloader) reload() {
	defs, err := definition.LoadDirs(r.cfg.Definitions.Directories)
	if err == nil {
		if verrs := definition.NewValidator().Validate(defs, r.index); len(verrs) > 0 {
			err = &validationFailure{errs: verrs}
		}
	}
	if err != nil {
		r.metrics.RecordDefinitionReload("failure")
		r.logger.Error("definition reload failed, keeping current definitions", zap.Error(err))
		return
	}

	if err := r.policy.Sync(); err != nil {
		r.logger.Warn("policy reload failed", zap.Error(err))
	}

	if !r.registry.Replace(defs) {
		return
	}
	r.sources.Reset()
	r.metrics.RecordDefinitionReload("success")
	r.metrics.SetDefinitionsLoaded(float64(len(r.registry.Lists())))
	r.logger.Info("definitions reloaded",
		zap.Int("lists", len(r.registry.Lists())),
		zap.Uint64("generation", r.registry.Generation()),
	)
}

// runSweeper periodically removes expired view state from stores that do
// not expire entries themselves.
func runSweeper(ctx context.Context, store *session.BoltStore, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Sweep(ctx)
			if err != nil {
				logger.Error("view state sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("swept expired view state", zap.Int("removed", n))
			}
		}
	}
}
