package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"wa-recall/internal/driver"
	"wa-recall/internal/kernel"
	"wa-recall/modules/antidelete"
	"wa-recall/modules/tmpreclaim"
	"wa-recall/pkg/recall"
)

const (
	envConfigFile             = "RECALL_CONFIG_FILE"
	envOwnerNumber            = "OWNER_NUMBER"
	envSentryDSN              = "SENTRY_DSN"
	defaultConfigFilePath     = "config/bot.json"
	alternateConfigFilePath   = "bin/config/bot.json"
	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
	defaultDataDir            = "data"
	defaultReportTimezone     = "Asia/Colombo"

	logFormatJSON    = "json"
	logFormatConsole = "console"
)

var runtimeModuleNames = []string{"antidelete", "tmpreclaim"}

type appConfig struct {
	logLevel  slog.Level
	logFormat string

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	drivers        []driver.Definition
	routingDefault *kernel.ModuleRoute
	moduleRoutes   map[string]kernel.ModuleRoute

	sentryDSN         string
	sentryEnvironment string

	dataDir     string
	databaseURL string
	ownerNumber string

	antidelete antideleteConfig
	tmpreclaim tmpreclaimConfig
}

type antideleteConfig struct {
	capacity    int
	tempDir     string
	ioTimeout   time.Duration
	settingsTTL time.Duration
	location    *time.Location
}

type tmpreclaimConfig struct {
	enabled          bool
	interval         time.Duration
	maxAge           time.Duration
	maxBytes         int64
	protectLiveMedia bool
}

type fileConfig struct {
	LogLevel    string               `json:"log_level"`
	LogFormat   string               `json:"log_format"`
	OwnerNumber string               `json:"owner_number"`
	DataDir     string               `json:"data_dir"`
	Database    fileDatabaseConfig   `json:"database"`
	Sentry      fileSentryConfig     `json:"sentry"`
	Kernel      fileKernelConfig     `json:"kernel"`
	Drivers     []fileDriverEntry    `json:"drivers"`
	Routing     fileRoutingConfig    `json:"routing"`
	Antidelete  fileAntideleteConfig `json:"antidelete"`
	Tmpreclaim  fileTmpreclaimConfig `json:"tmpreclaim"`
}

type fileDatabaseConfig struct {
	URL string `json:"url"`
}

type fileSentryConfig struct {
	DSN         string `json:"dsn"`
	Environment string `json:"environment"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileRoutingConfig struct {
	Default *fileModuleRoute           `json:"default"`
	Modules map[string]fileModuleRoute `json:"modules"`
}

type fileModuleRoute struct {
	Sources []fileSourceRef `json:"sources"`
	Sink    *fileSinkRef    `json:"sink"`
}

type fileSourceRef struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

type fileSinkRef struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

type fileAntideleteConfig struct {
	Capacity    *int   `json:"capacity"`
	TempDir     string `json:"temp_dir"`
	IOTimeout   string `json:"io_timeout"`
	SettingsTTL string `json:"settings_ttl"`
	Timezone    string `json:"timezone"`
}

type fileTmpreclaimConfig struct {
	Enabled          *bool  `json:"enabled"`
	Interval         string `json:"interval"`
	MaxAge           string `json:"max_age"`
	MaxSize          string `json:"max_size"`
	ProtectLiveMedia bool   `json:"protect_live_media"`
}

func loadConfig(registry *driver.Registry, options cliOptions) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath(options.ConfigFile)
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := applyOverrides(&cfg, options, os.LookupEnv); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(explicit string) (string, error) {
	if configFile := strings.TrimSpace(explicit); configFile != "" {
		return configFile, nil
	}
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:  slog.LevelInfo,
		logFormat: logFormatJSON,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		drivers:      make([]driver.Definition, 0),
		moduleRoutes: make(map[string]kernel.ModuleRoute),

		dataDir: defaultDataDir,

		antidelete: antideleteConfig{
			capacity:    antidelete.DefaultCaptureCapacity,
			tempDir:     tmpreclaim.DefaultDir,
			ioTimeout:   antidelete.DefaultIOTimeout,
			settingsTTL: antidelete.DefaultSettingsTTL,
			location:    antidelete.DefaultReportLocation,
		},
		tmpreclaim: tmpreclaimConfig{
			enabled:  true,
			interval: tmpreclaim.DefaultInterval,
			maxAge:   tmpreclaim.DefaultMaxAge,
			maxBytes: tmpreclaim.DefaultMaxBytes,
		},
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if rawFormat := strings.TrimSpace(parsed.LogFormat); rawFormat != "" {
		format, err := parseLogFormat(rawFormat)
		if err != nil {
			return fmt.Errorf("parse log_format: %w", err)
		}
		cfg.logFormat = format
	}

	cfg.ownerNumber = strings.TrimSpace(parsed.OwnerNumber)
	if dataDir := strings.TrimSpace(parsed.DataDir); dataDir != "" {
		cfg.dataDir = dataDir
	}
	cfg.databaseURL = strings.TrimSpace(parsed.Database.URL)
	cfg.sentryDSN = strings.TrimSpace(parsed.Sentry.DSN)
	cfg.sentryEnvironment = strings.TrimSpace(parsed.Sentry.Environment)

	if err := parsePositiveDuration(parsed.Kernel.ModuleHookTimeout, "kernel.module_hook_timeout", &cfg.moduleHookTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.Kernel.ShutdownTimeout, "kernel.shutdown_timeout", &cfg.shutdownTimeout); err != nil {
		return err
	}
	if parsed.Kernel.SubscriptionBuffer != nil {
		if *parsed.Kernel.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.Kernel.SubscriptionBuffer
	}
	if parsed.Kernel.SubscriptionWorkers != nil {
		if *parsed.Kernel.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *parsed.Kernel.SubscriptionWorkers
	}

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for _, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	cfg.routingDefault = nil
	if parsed.Routing.Default != nil {
		route, err := parseModuleRoute(*parsed.Routing.Default, "routing.default")
		if err != nil {
			return err
		}
		cfg.routingDefault = &route
	}

	cfg.moduleRoutes = make(map[string]kernel.ModuleRoute, len(parsed.Routing.Modules))
	for moduleName, rawRoute := range parsed.Routing.Modules {
		route, err := parseModuleRoute(rawRoute, fmt.Sprintf("routing.modules.%s", moduleName))
		if err != nil {
			return err
		}
		cfg.moduleRoutes[moduleName] = route
	}

	if err := applyAntideleteConfig(&cfg.antidelete, parsed.Antidelete); err != nil {
		return err
	}

	return applyTmpreclaimConfig(&cfg.tmpreclaim, parsed.Tmpreclaim)
}

func applyAntideleteConfig(cfg *antideleteConfig, parsed fileAntideleteConfig) error {
	if parsed.Capacity != nil {
		if *parsed.Capacity <= 0 {
			return fmt.Errorf("parse antidelete.capacity: must be > 0")
		}
		cfg.capacity = *parsed.Capacity
	}
	if dir := strings.TrimSpace(parsed.TempDir); dir != "" {
		cfg.tempDir = dir
	}
	if err := parsePositiveDuration(parsed.IOTimeout, "antidelete.io_timeout", &cfg.ioTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.SettingsTTL, "antidelete.settings_ttl", &cfg.settingsTTL); err != nil {
		return err
	}
	if timezone := strings.TrimSpace(parsed.Timezone); timezone != "" && timezone != defaultReportTimezone {
		location, err := time.LoadLocation(timezone)
		if err != nil {
			return fmt.Errorf("parse antidelete.timezone: %w", err)
		}
		cfg.location = location
	}

	return nil
}

func applyTmpreclaimConfig(cfg *tmpreclaimConfig, parsed fileTmpreclaimConfig) error {
	if parsed.Enabled != nil {
		cfg.enabled = *parsed.Enabled
	}
	cfg.protectLiveMedia = parsed.ProtectLiveMedia
	if err := parsePositiveDuration(parsed.Interval, "tmpreclaim.interval", &cfg.interval); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.MaxAge, "tmpreclaim.max_age", &cfg.maxAge); err != nil {
		return err
	}
	if rawSize := strings.TrimSpace(parsed.MaxSize); rawSize != "" {
		size, err := humanize.ParseBytes(rawSize)
		if err != nil {
			return fmt.Errorf("parse tmpreclaim.max_size: %w", err)
		}
		if size == 0 {
			return fmt.Errorf("parse tmpreclaim.max_size: must be > 0")
		}
		cfg.maxBytes = int64(size)
	}

	return nil
}

// applyOverrides layers environment variables and flags over the file config.
func applyOverrides(cfg *appConfig, options cliOptions, lookupEnv func(string) (string, bool)) error {
	if owner, ok := lookupEnv(envOwnerNumber); ok && strings.TrimSpace(owner) != "" {
		cfg.ownerNumber = strings.TrimSpace(owner)
	}
	if dsn, ok := lookupEnv(envSentryDSN); ok && strings.TrimSpace(dsn) != "" {
		cfg.sentryDSN = strings.TrimSpace(dsn)
	}
	if rawLevel := strings.TrimSpace(options.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse --log-level: %w", err)
		}
		cfg.logLevel = level
	}
	if rawFormat := strings.TrimSpace(options.LogFormat); rawFormat != "" {
		format, err := parseLogFormat(rawFormat)
		if err != nil {
			return fmt.Errorf("parse --log-format: %w", err)
		}
		cfg.logFormat = format
	}

	return nil
}

func parsePositiveDuration(raw string, field string, target *time.Duration) error {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	if duration <= 0 {
		return fmt.Errorf("parse %s: must be > 0", field)
	}
	*target = duration

	return nil
}

func parseModuleRoute(raw fileModuleRoute, scope string) (kernel.ModuleRoute, error) {
	if len(raw.Sources) == 0 {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sources is required", scope)
	}
	if raw.Sink == nil {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sink is required", scope)
	}

	sources := make([]recall.EventSource, 0, len(raw.Sources))
	for index, sourceRef := range raw.Sources {
		source := recall.EventSource{
			Platform: recall.Platform(strings.TrimSpace(sourceRef.Platform)),
			ID:       strings.TrimSpace(sourceRef.ID),
		}
		if source.Platform == "" && source.ID == "" {
			return kernel.ModuleRoute{}, fmt.Errorf("%s.sources[%d]: empty source reference", scope, index)
		}
		sources = append(sources, source)
	}

	sink := recall.EventSink{
		Platform: recall.Platform(strings.TrimSpace(raw.Sink.Platform)),
		ID:       strings.TrimSpace(raw.Sink.ID),
	}
	if sink.Platform == "" && sink.ID == "" {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sink: empty sink reference", scope)
	}

	return kernel.ModuleRoute{Sources: sources, Sink: &sink}, nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	enabledDrivers := make([]driver.Definition, 0, len(cfg.drivers))
	enabledByName := make(map[string]driver.Definition, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := enabledByName[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabledDrivers = append(enabledDrivers, definition)
		enabledByName[definition.Name] = definition
	}
	if len(enabledDrivers) == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	knownModules := make(map[string]struct{}, len(runtimeModuleNames))
	for _, moduleName := range runtimeModuleNames {
		knownModules[moduleName] = struct{}{}
	}
	for moduleName, route := range cfg.moduleRoutes {
		if _, known := knownModules[moduleName]; !known {
			return fmt.Errorf("routing.modules.%s: unknown module", moduleName)
		}
		if err := validateRouteRefs(route, enabledByName, fmt.Sprintf("routing.modules.%s", moduleName)); err != nil {
			return err
		}
	}
	if cfg.routingDefault != nil {
		if err := validateRouteRefs(*cfg.routingDefault, enabledByName, "routing.default"); err != nil {
			return err
		}
	}

	if len(enabledDrivers) == 1 && cfg.routingDefault == nil {
		sole := enabledDrivers[0]
		platform, err := registry.PlatformForType(sole.Type)
		if err != nil {
			return fmt.Errorf("derive default route from driver %s: %w", sole.Name, err)
		}
		cfg.routingDefault = &kernel.ModuleRoute{
			Sources: []recall.EventSource{{Platform: platform, ID: sole.Name}},
			Sink:    &recall.EventSink{Platform: platform, ID: sole.Name},
		}
	}

	if len(enabledDrivers) >= 2 && cfg.routingDefault == nil {
		for _, moduleName := range runtimeModuleNames {
			if _, exists := cfg.moduleRoutes[moduleName]; !exists {
				return fmt.Errorf("routing.default is required in multi-driver mode unless all modules override")
			}
		}
	}

	return nil
}

func validateRouteRefs(
	route kernel.ModuleRoute,
	enabledByName map[string]driver.Definition,
	scope string,
) error {
	for index, source := range route.Sources {
		if source.ID != "" {
			if _, exists := enabledByName[source.ID]; !exists {
				return fmt.Errorf("%s.sources[%d]: unknown driver id %s", scope, index, source.ID)
			}
		}
	}
	if route.Sink != nil && route.Sink.ID != "" {
		if _, exists := enabledByName[route.Sink.ID]; !exists {
			return fmt.Errorf("%s.sink: unknown driver id %s", scope, route.Sink.ID)
		}
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func parseLogFormat(raw string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(raw)); format {
	case logFormatJSON, logFormatConsole:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported format %q", raw)
	}
}
