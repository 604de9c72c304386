package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"itchdl/internal/domain"
	"itchdl/internal/domain/service"
	itchhttp "itchdl/internal/infrastructure/adapters/http"
	"itchdl/internal/usecase"
	"itchdl/shared/config"
	"itchdl/shared/domain/observability"
	"itchdl/shared/domain/retry"
	"itchdl/shared/domain/storage"
	infraobs "itchdl/shared/infrastructure/observability"
	infrastorage "itchdl/shared/infrastructure/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// Dependencies holds all initialized infrastructure components
type Dependencies struct {
	storage storage.ObjectStorage
	client  *itchhttp.Client
	logger  observability.Logger
	metrics observability.Metrics
}

// Application holds the complete application stack
type Application struct {
	pipeline *usecase.Pipeline
	client   *itchhttp.Client
	cfg      *config.Config
	logger   observability.Logger
	metrics  observability.Metrics
}

func run(args []string) int {
	log.SetFlags(0)
	log.SetPrefix("itchdl: ")

	opts, err := parseArgs(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return usecase.ExitOK
	}
	if err != nil {
		log.Print(err)
		return usecase.ExitFatal
	}

	cfg, err := loadConfiguration(opts)
	if err != nil {
		log.Print(err)
		return usecase.ExitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx, cfg)
	if err != nil {
		log.Print(err)
		return usecase.ExitFatal
	}
	defer flushMetrics(deps)

	app, err := buildApplication(cfg, deps)
	if err != nil {
		log.Print(err)
		return usecase.ExitFatal
	}

	return startApplication(ctx, app, opts.input)
}

// loadConfiguration layers config files, environment and flags, then
// validates the result
func loadConfiguration(opts *cliOptions) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigDir: opts.configDir, Profile: opts.profile})
	if err != nil {
		return nil, err
	}

	opts.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Itch.APIKey == "" && !cfg.Download.URLsOnly {
		return nil, fmt.Errorf("an API key is required: pass -api-key or set ITCHDL_API_KEY")
	}

	return cfg, nil
}

// initializeDependencies sets up all infrastructure dependencies
func initializeDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	logger, metrics, err := initializeObservability(cfg)
	if err != nil {
		return nil, err
	}

	logStartup(cfg, logger, metrics)

	deps := &Dependencies{
		client:  createHTTPClient(cfg, logger, metrics),
		logger:  logger,
		metrics: metrics,
	}

	if cfg.Download.URLsOnly {
		return deps, nil
	}

	deps.storage, err = initializeStorage(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	return deps, nil
}

// initializeObservability sets up logging and metrics infrastructure
func initializeObservability(cfg *config.Config) (observability.Logger, observability.Metrics, error) {
	factory := &infraobs.Factory{}

	logger, metrics, err := factory.CreateObservability(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	return logger, metrics, nil
}

func logStartup(cfg *config.Config, logger observability.Logger, metrics observability.Metrics) {
	logger.Debug("Starting application",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
		"profile", cfg.Itch.Profile,
		"storage", cfg.Storage.Provider)

	metrics.IncrementCounter("application.starts", nil)
}

// initializeStorage creates the configured storage adapter
func initializeStorage(ctx context.Context, cfg *config.Config, logger observability.Logger, metrics observability.Metrics) (storage.ObjectStorage, error) {
	logger = logger.WithFields(map[string]interface{}{"component": "storage"})
	factory := infrastorage.NewFactory(ctx, logger, metrics)

	store, err := factory.Create(cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		metrics.IncrementCounter("init.failures", nil)
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return store, nil
}

func createHTTPClient(cfg *config.Config, logger observability.Logger, metrics observability.Metrics) *itchhttp.Client {
	return itchhttp.NewClient(cfg, logger, metrics)
}

// buildApplication assembles the application layers
func buildApplication(cfg *config.Config, deps *Dependencies) (*Application, error) {
	resolver, err := service.NewResolverService(deps.client, cfg.Itch.WebBaseURL, deps.logger, deps.metrics)
	if err != nil {
		return nil, err
	}

	metadataOpts := service.MetadataOptions{
		SavePage:    cfg.Download.SavePage,
		FilterGlob:  cfg.Download.FilterGlob,
		FilterRegex: cfg.Download.FilterRegex,
		Parallel:    cfg.Download.MetadataParallel,
	}

	var keys usecase.KeyLoader
	if cfg.Itch.APIKey != "" {
		downloadKeys := service.NewDownloadKeys(deps.client, deps.logger, deps.metrics)
		metadataOpts.Keys = downloadKeys
		keys = downloadKeys
	}

	fetcher, err := service.NewMetadataService(deps.client, metadataOpts, deps.logger, deps.metrics)
	if err != nil {
		return nil, err
	}

	var scheduler usecase.DownloadScheduler
	if deps.storage != nil {
		scheduler = usecase.NewScheduler(
			deps.client,
			deps.storage,
			service.NewStoragePathService(),
			retry.NewPolicy(cfg.Retry, domain.IsTransient),
			usecase.SchedulerOptions{
				Workers:       cfg.Download.Parallel,
				SavePage:      cfg.Download.SavePage,
				WriteMetadata: cfg.Download.WriteMetadata,
			},
			deps.logger,
			deps.metrics,
		)
	}

	return &Application{
		pipeline: usecase.NewPipeline(resolver, keys, fetcher, scheduler, deps.logger, deps.metrics),
		client:   deps.client,
		cfg:      cfg,
		logger:   deps.logger,
		metrics:  deps.metrics,
	}, nil
}

// startApplication runs the pipeline and prints its outcome to stdout
func startApplication(ctx context.Context, app *Application, input string) int {
	if app.cfg.Download.URLsOnly {
		urls, err := app.pipeline.ListURLs(ctx, input)
		if err != nil {
			app.logger.Error("Failed to resolve input", "error", err)
			return usecase.ExitFatal
		}
		for _, u := range urls {
			fmt.Println(u)
		}
		return usecase.ExitOK
	}

	user, err := app.client.CheckKey(ctx)
	if err != nil {
		app.logger.Error("API key check failed", "error", err)
		app.metrics.IncrementCounter("start.failures", nil)
		log.Printf("API key check failed: %v", err)
		return usecase.ExitFatal
	}
	app.logger.Info("API key accepted", "user", user)

	report, err := app.pipeline.Run(ctx, input)
	if err != nil {
		app.metrics.IncrementCounter("start.failures", nil)
		return usecase.ExitFatal
	}

	if err := report.Render(os.Stdout); err != nil {
		app.logger.Error("Failed to print report", "error", err)
	}
	if ctx.Err() != nil {
		app.logger.Warn("Interrupted, partial results were kept")
	}

	return report.ExitCode()
}

func flushMetrics(deps *Dependencies) {
	flusher, ok := deps.metrics.(observability.Flusher)
	if !ok {
		return
	}
	if err := flusher.Flush(); err != nil {
		deps.logger.Error("Failed to write metrics", "error", err)
	}
}
