package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lmittmann/tint"

	"wa-recall/internal/driver"
	"wa-recall/internal/kernel"
	"wa-recall/internal/settings"
	"wa-recall/modules/antidelete"
	"wa-recall/modules/tmpreclaim"
	"wa-recall/pkg/recall"
)

const sentryFlushTimeout = 2 * time.Second

func run(options cliOptions) error {
	bootstrapLogger := newLogger(slog.LevelInfo, logFormatConsole)
	slog.SetDefault(bootstrapLogger)

	driverRegistry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("build driver registry: %w", err)
	}

	cfg, err := loadConfig(driverRegistry, options)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.logLevel, cfg.logFormat)
	slog.SetDefault(logger)

	reportError, flush, err := initSentry(cfg, logger)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := settings.Open(ctx, settings.OpenOptions{
		DataDir:     cfg.dataDir,
		DatabaseURL: cfg.databaseURL,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("open settings backend: %w", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Error("close settings backend failed", "error", closeErr)
		}
	}()

	kernelRuntime := buildKernelRuntime(cfg, logger, reportError)
	driverRuntimes, sinkDispatcher, err := buildDriverRuntime(ctx, cfg, driverRegistry, logger)
	if err != nil {
		return err
	}

	if err := registerRuntimeServices(kernelRuntime, logger, sinkDispatcher, backend); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, cfg, backend.Kind, logger); err != nil {
		return err
	}
	if err := registerRuntimeDrivers(kernelRuntime, driverRuntimes); err != nil {
		return err
	}

	logger.Info("bot starting",
		"drivers", len(driverRuntimes),
		"settings_backend", backend.Kind,
		"owner_configured", cfg.ownerNumber != "",
	)

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("kernel run: %w", err)
	}

	logger.Info("bot stopped")
	return nil
}

// newLogger returns a colored console handler or a JSON handler.
func newLogger(level slog.Level, format string) *slog.Logger {
	if format == logFormatConsole {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		}))
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// initSentry enables error reporting when a DSN is configured. The returned
// reporter always logs; it also forwards to Sentry when enabled.
func initSentry(
	cfg appConfig,
	logger *slog.Logger,
) (func(context.Context, string, error), func(), error) {
	logOnly := func(ctx context.Context, scope string, err error) {
		logger.ErrorContext(ctx, "async runtime error", "scope", scope, "error", err)
	}
	if cfg.sentryDSN == "" {
		return logOnly, func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.sentryDSN,
		Environment: cfg.sentryEnvironment,
	}); err != nil {
		return nil, nil, fmt.Errorf("init sentry: %w", err)
	}

	report := func(ctx context.Context, scope string, err error) {
		logOnly(ctx, scope, err)
		sentry.WithScope(func(sentryScope *sentry.Scope) {
			sentryScope.SetTag("scope", scope)
			sentry.CaptureException(err)
		})
	}
	flush := func() {
		sentry.Flush(sentryFlushTimeout)
	}

	return report, flush, nil
}

func buildKernelRuntime(
	cfg appConfig,
	logger *slog.Logger,
	reportError func(context.Context, string, error),
) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithAsyncErrorHandler(reportError),
		kernel.WithModuleRouting(cfg.routingDefault, cfg.moduleRoutes),
	)
}

func buildDriverRuntime(
	ctx context.Context,
	cfg appConfig,
	registry *driver.Registry,
	logger *slog.Logger,
) ([]driver.Runtime, *driver.CompositeSinkDispatcher, error) {
	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build drivers: %w", err)
	}
	if len(runtimes) == 0 {
		return nil, nil, fmt.Errorf("build drivers: no enabled drivers")
	}

	dispatcher, err := driver.NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		return nil, nil, fmt.Errorf("build sink dispatcher: %w", err)
	}

	return runtimes, dispatcher, nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	dispatcher *driver.CompositeSinkDispatcher,
	backend *settings.Backend,
) error {
	services := []struct {
		name    string
		service any
	}{
		{name: recall.ServiceLogger, service: logger},
		{name: recall.ServiceSinkDispatcher, service: dispatcher},
		{name: recall.ServiceMediaFetcher, service: dispatcher},
		{name: recall.ServiceConversationDirectory, service: dispatcher},
		{name: recall.ServiceIdentityResolver, service: dispatcher},
		{name: recall.ServiceSettingsStore, service: backend.Store},
		{name: recall.ServiceFeatureToggle, service: backend.Toggle},
	}
	for _, entry := range services {
		if err := kernelRuntime.RegisterService(entry.name, entry.service); err != nil {
			return fmt.Errorf("register %s service: %w", entry.name, err)
		}
	}

	return nil
}

// registerRuntimeModules registers antidelete before tmpreclaim so the media
// references service exists when the governor starts.
func registerRuntimeModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	cfg appConfig,
	storageKind string,
	logger *slog.Logger,
) error {
	tempDir := cfg.antidelete.tempDir
	if !filepath.IsAbs(tempDir) {
		if abs, err := filepath.Abs(tempDir); err == nil {
			tempDir = abs
		}
	}

	modules := []recall.Module{
		antidelete.New(
			antidelete.WithLogger(logger),
			antidelete.WithCapacity(cfg.antidelete.capacity),
			antidelete.WithTempDir(tempDir),
			antidelete.WithOwner(cfg.ownerNumber),
			antidelete.WithStorageKind(storageKind),
			antidelete.WithLocation(cfg.antidelete.location),
			antidelete.WithIOTimeout(cfg.antidelete.ioTimeout),
			antidelete.WithSettingsTTL(cfg.antidelete.settingsTTL),
		),
	}
	if cfg.tmpreclaim.enabled {
		modules = append(modules, tmpreclaim.New(
			tmpreclaim.WithLogger(logger),
			tmpreclaim.WithDir(tempDir),
			tmpreclaim.WithInterval(cfg.tmpreclaim.interval),
			tmpreclaim.WithMaxAge(cfg.tmpreclaim.maxAge),
			tmpreclaim.WithMaxBytes(cfg.tmpreclaim.maxBytes),
			tmpreclaim.WithProtectLiveMedia(cfg.tmpreclaim.protectLiveMedia),
		))
	}

	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, runtimes []driver.Runtime) error {
	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtime.Source.ID, err)
		}
	}

	return nil
}
