package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nagare-ml/nagare/config"
	"github.com/nagare-ml/nagare/internal/adapters/engine"
	"github.com/nagare-ml/nagare/internal/adapters/worker"
	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/data"
	"github.com/nagare-ml/nagare/internal/domain/model"
	"github.com/nagare-ml/nagare/internal/observability/statsd"
	"github.com/nagare-ml/nagare/internal/service"
	"github.com/nagare-ml/nagare/internal/uploads"
)

const shutdownWaitTimeout = 10 * time.Second

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Store     *data.RedisRecordStore
	Lifecycle *service.LifecycleService
	Submit    *service.SubmitService
	Sweeper   *service.SweeperService
	Uploads   *uploads.Store
	Queues    map[model.Domain]core.TaskQueue
	// Archive is nil when the Postgres result archive is disabled.
	Archive core.ResultArchive
	Runners []*worker.Runner
	Metrics statsd.Sink
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices builds the service graph shared by all service modes.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	if deps.RedisClient == nil {
		return ServiceContainer{}, errors.New("redis client is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := buildMetrics(logger, cfg.Observability)
	if err != nil {
		return ServiceContainer{}, err
	}

	store := data.NewRedisRecordStore(deps.RedisClient)

	lifecycle, err := service.NewLifecycleService(service.LifecycleServiceOptions{
		Store: store,
		TTL:   cfg.Retention,
		Log:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build lifecycle service: %w", err)
	}

	uploadStore, err := uploads.NewStore(cfg.Uploads.Root)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("open upload root: %w", err)
	}

	queues := map[model.Domain]core.TaskQueue{
		model.DomainSummarize:     data.NewRedisTaskQueue(deps.RedisClient, model.DomainSummarize),
		model.DomainTranscription: data.NewRedisTaskQueue(deps.RedisClient, model.DomainTranscription),
	}

	submit, err := service.NewSubmitService(service.SubmitServiceOptions{
		Lifecycle:         lifecycle,
		Queues:            queues,
		Artifacts:         uploadStore,
		AllowedExtensions: cfg.Uploads.AllowedExtensions,
		Log:               logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build submit service: %w", err)
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Artifacts: uploadStore,
		Store:     store,
		Config:    cfg.Sweeper,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build sweeper service: %w", err)
	}

	var archive core.ResultArchive
	if deps.DB != nil {
		archive = data.NewArchiveRepo(deps.DB)
	}

	runners, err := buildRunners(runnerDeps{
		cfg:       cfg,
		lifecycle: lifecycle,
		queues:    queues,
		archive:   archive,
		logger:    logger,
		metrics:   metrics,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Store:     store,
		Lifecycle: lifecycle,
		Submit:    submit,
		Sweeper:   sweeper,
		Uploads:   uploadStore,
		Queues:    queues,
		Archive:   archive,
		Runners:   runners,
		Metrics:   metrics,
	}, nil
}

//nolint:ireturn // the sink interface lets disabled metrics stay a no-op.
func buildMetrics(logger *slog.Logger, cfg config.ObservabilityConfig) (statsd.Sink, error) {
	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Metrics.IsEnabled(),
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  "nagare",
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build metrics client: %w", err)
	}
	return client, nil
}

type runnerDeps struct {
	cfg       *config.AppConfig
	lifecycle *service.LifecycleService
	queues    map[model.Domain]core.TaskQueue
	archive   core.ResultArchive
	logger    *slog.Logger
	metrics   statsd.Sink
}

// buildRunners constructs one queue runner per domain, all sharing one
// inference client.
func buildRunners(deps runnerDeps) ([]*worker.Runner, error) {
	engineClient, err := engine.NewClient(engine.Config{
		SummarizeURL:  deps.cfg.Engine.SummarizeURL,
		TranscribeURL: deps.cfg.Engine.TranscribeURL,
		Timeout:       deps.cfg.Engine.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine client: %w", err)
	}

	domains := []model.Domain{model.DomainSummarize, model.DomainTranscription}
	runners := make([]*worker.Runner, 0, len(domains))
	for _, domain := range domains {
		runner, err := worker.NewRunner(worker.RunnerOptions{
			Lifecycle:   deps.lifecycle,
			Queue:       deps.queues[domain],
			Engine:      engineClient,
			Domain:      domain,
			Archive:     deps.archive,
			Concurrency: deps.cfg.Worker.Concurrency,
			Logger:      deps.logger,
			Metrics:     deps.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("build %s runner: %w", domain, err)
		}
		runners = append(runners, runner)
	}
	return runners, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started",
		"service", descriptor.name, "mode", descriptor.mode)

	return done
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	services := make([]backgroundService, 0, len(deps.cfg.Services.Runners)+1)
	for _, runner := range deps.cfg.Services.Runners {
		services = append(services, backgroundService{
			mode:  config.ServiceModeWorker,
			name:  fmt.Sprintf("%s worker", runner.Domain()),
			start: runner.Run,
		})
	}
	services = append(services, backgroundService{
		mode:  config.ServiceModeSweeper,
		name:  "artifact sweeper",
		start: deps.cfg.Services.Sweeper.Run,
	})
	return services
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	handles := make([]backgroundServiceHandle, 0, len(services))
	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{name: svc.name, done: done})
	}
	return handles
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, len(enabledServices)+1)

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}

	httpServer := startHTTPServerIfEnabled(deps)
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  httpServer,
		logger:      logger,
		backgrounds: backgrounds,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		// The service context is already cancelled; the drain deadline
		// needs a fresh parent.
		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: context.Background(),
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
