package antidelete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"wa-recall/pkg/recall"
)

const (
	// DefaultTempDir holds captured and view-once media files.
	DefaultTempDir = "tmp"
	// DefaultSettingsTTL bounds how long a FeatureConfig snapshot is reused.
	DefaultSettingsTTL = 8 * time.Second

	captureWorkers        = 1
	captureQueueBuffer    = 1024
	revocationQueueBuffer = 256
)

// Module captures messages and reports deletions and view-once media.
type Module struct {
	logger      *slog.Logger
	capacity    int
	tempDir     string
	ownerNumber string
	storageKind string
	location    *time.Location
	ioTimeout   time.Duration
	settingsTTL time.Duration
	now         func() time.Time

	cache      *CaptureCache
	settings   *settingsCache
	media      materializer
	dispatcher recall.SinkDispatcher
	identity   recall.IdentityResolver
	directory  recall.ConversationDirectory

	warnLocks senderLocks
}

// Option mutates module configuration.
type Option func(*Module)

// WithLogger overrides the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithCapacity sets the capture cache size.
func WithCapacity(capacity int) Option {
	return func(module *Module) {
		if capacity > 0 {
			module.capacity = capacity
		}
	}
}

// WithTempDir sets the directory media files are written to.
func WithTempDir(dir string) Option {
	return func(module *Module) {
		if strings.TrimSpace(dir) != "" {
			module.tempDir = dir
		}
	}
}

// WithOwner sets the owner number or JID that receives reports. When unset,
// the logged-in account receives them.
func WithOwner(owner string) Option {
	return func(module *Module) {
		module.ownerNumber = owner
	}
}

// WithStorageKind labels the settings backend in the status reply.
func WithStorageKind(kind string) Option {
	return func(module *Module) {
		module.storageKind = kind
	}
}

// WithLocation sets the time zone used in reports.
func WithLocation(location *time.Location) Option {
	return func(module *Module) {
		if location != nil {
			module.location = location
		}
	}
}

// WithIOTimeout bounds each media download and outbound send.
func WithIOTimeout(timeout time.Duration) Option {
	return func(module *Module) {
		if timeout > 0 {
			module.ioTimeout = timeout
		}
	}
}

// WithSettingsTTL sets how long feature switches are cached.
func WithSettingsTTL(ttl time.Duration) Option {
	return func(module *Module) {
		if ttl > 0 {
			module.settingsTTL = ttl
		}
	}
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(module *Module) {
		if now != nil {
			module.now = now
		}
	}
}

// New creates an antidelete module.
func New(options ...Option) *Module {
	module := &Module{
		logger:      slog.Default(),
		capacity:    DefaultCaptureCapacity,
		tempDir:     DefaultTempDir,
		location:    DefaultReportLocation,
		ioTimeout:   DefaultIOTimeout,
		settingsTTL: DefaultSettingsTTL,
		now:         time.Now,
	}
	for _, option := range options {
		option(module)
	}
	module.cache = NewCaptureCache(module.capacity, module.logger)

	return module
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "antidelete"
}

// Spec declares the capture and revocation handlers.
func (m *Module) Spec() recall.ModuleSpec {
	required := []string{
		recall.ServiceSinkDispatcher,
		recall.ServiceMediaFetcher,
		recall.ServiceSettingsStore,
		recall.ServiceFeatureToggle,
	}

	return recall.ModuleSpec{
		Handlers: []recall.ModuleHandler{
			{
				Capability: recall.Capability{
					Name:        "antidelete-capture",
					Description: "captures inbound messages and intercepts view-once media",
					Interest: recall.InterestSet{
						Kinds: []recall.EventKind{recall.EventKindMessageCreated},
					},
					RequiredServices: required,
				},
				Subscription: recall.SubscriptionSpec{
					Name:         "antidelete-capture",
					Buffer:       captureQueueBuffer,
					Workers:      captureWorkers,
					Backpressure: recall.BackpressureDropNewest,
				},
				Handler: m.handleMessageCreated,
			},
			{
				Capability: recall.Capability{
					Name:        "antidelete-revocation",
					Description: "reports retracted messages held by the capture cache",
					Interest: recall.InterestSet{
						Kinds: []recall.EventKind{recall.EventKindMessageRetracted},
					},
					RequiredServices: required,
				},
				Subscription: recall.SubscriptionSpec{
					Name:         "antidelete-revocation",
					Buffer:       revocationQueueBuffer,
					Workers:      1,
					Backpressure: recall.BackpressureDropNewest,
				},
				Handler: m.handleMessageRetracted,
			},
		},
	}
}

// OnRegister resolves gateway and settings services and publishes the
// capture cache as the live media reference list.
func (m *Module) OnRegister(_ context.Context, runtime recall.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := recall.ResolveAs[*slog.Logger](services, recall.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger.With("module", m.Name())
		m.cache.logger = m.logger
	case errors.Is(err, recall.ErrServiceNotFound):
	default:
		return fmt.Errorf("antidelete resolve logger: %w", err)
	}

	dispatcher, err := recall.ResolveAs[recall.SinkDispatcher](services, recall.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("antidelete resolve sink dispatcher: %w", err)
	}
	fetcher, err := recall.ResolveAs[recall.MediaFetcher](services, recall.ServiceMediaFetcher)
	if err != nil {
		return fmt.Errorf("antidelete resolve media fetcher: %w", err)
	}
	store, err := recall.ResolveAs[recall.SettingsStore](services, recall.ServiceSettingsStore)
	if err != nil {
		return fmt.Errorf("antidelete resolve settings store: %w", err)
	}
	toggle, err := recall.ResolveAs[recall.FeatureToggle](services, recall.ServiceFeatureToggle)
	if err != nil {
		return fmt.Errorf("antidelete resolve feature toggle: %w", err)
	}
	identity, _, err := recall.ResolveOptional[recall.IdentityResolver](services, recall.ServiceIdentityResolver)
	if err != nil {
		return fmt.Errorf("antidelete resolve identity resolver: %w", err)
	}
	directory, _, err := recall.ResolveOptional[recall.ConversationDirectory](services, recall.ServiceConversationDirectory)
	if err != nil {
		return fmt.Errorf("antidelete resolve conversation directory: %w", err)
	}

	m.dispatcher = dispatcher
	m.identity = identity
	m.directory = directory
	m.settings = newSettingsCache(store, toggle, m.settingsTTL, m.logger)
	m.media = materializer{fetcher: fetcher, dir: m.tempDir, timeout: m.ioTimeout}

	if err := services.Register(recall.ServiceMediaReferences, m.cache); err != nil {
		return fmt.Errorf("antidelete register media references: %w", err)
	}

	return nil
}

// OnStart prepares the media directory.
func (m *Module) OnStart(ctx context.Context) error {
	if err := os.MkdirAll(m.tempDir, 0o755); err != nil {
		return fmt.Errorf("antidelete create temp dir %s: %w", m.tempDir, err)
	}
	m.logger.InfoContext(ctx, "antidelete started",
		"capacity", m.capacity,
		"temp_dir", m.tempDir,
		"location", m.location.String(),
	)

	return nil
}

// OnShutdown drops every captured record and its media file.
func (m *Module) OnShutdown(ctx context.Context) error {
	removed := m.cache.Purge()
	if m.settings != nil {
		m.settings.Invalidate()
	}
	m.logger.InfoContext(ctx, "antidelete stopped", "purged_records", removed)

	return nil
}

// Cache exposes the capture cache.
func (m *Module) Cache() *CaptureCache {
	return m.cache
}

// ownerID resolves where owner reports go: the configured owner, else the
// logged-in account of sink.
func (m *Module) ownerID(ctx context.Context, sink *recall.EventSink) string {
	if owner := ownerJIDFromNumber(m.ownerNumber); owner != "" {
		return owner
	}

	self, ok := m.selfIdentity(ctx, sink)
	if !ok || self.User == "" {
		return ""
	}

	return self.User + "@" + userServer
}

func (m *Module) selfIdentity(ctx context.Context, sink *recall.EventSink) (recall.Identity, bool) {
	if m.identity == nil {
		return recall.Identity{}, false
	}
	var ref recall.EventSink
	if sink != nil {
		ref = *sink
	}

	self, ok, err := m.identity.Self(ctx, ref)
	if err != nil {
		m.logger.WarnContext(ctx, "antidelete resolve self identity failed", "error", err)
		return recall.Identity{}, false
	}

	return self, ok
}

var _ recall.Module = (*Module)(nil)
