// Package tmpreclaim bounds the temporary media directory by age and size.
//
// The governor is independent of the capture cache: it removes files older
// than MaxAge, then the oldest remaining files until the directory fits in
// MaxBytes. With live media protection enabled it asks the registered
// MediaReferences service which files are still owned and leaves those alone.
package tmpreclaim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"wa-recall/pkg/recall"
)

const (
	// DefaultDir is the temporary media directory.
	DefaultDir = "tmp"
	// DefaultInterval is the time between sweeps.
	DefaultInterval = time.Minute
	// DefaultMaxAge removes files older than six hours.
	DefaultMaxAge = 6 * time.Hour
	// DefaultMaxBytes is the directory size ceiling (200 MiB).
	DefaultMaxBytes int64 = 200 << 20
)

// Module runs the periodic sweep.
type Module struct {
	logger           *slog.Logger
	dir              string
	interval         time.Duration
	maxAge           time.Duration
	maxBytes         int64
	protectLiveMedia bool
	now              func() time.Time

	services recall.ServiceRegistry

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun Report
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

// WithDir sets the swept directory.
func WithDir(dir string) Option {
	return func(module *Module) {
		if dir != "" {
			module.dir = dir
		}
	}
}

// WithInterval sets the time between sweeps.
func WithInterval(interval time.Duration) Option {
	return func(module *Module) {
		if interval > 0 {
			module.interval = interval
		}
	}
}

// WithMaxAge sets the age ceiling.
func WithMaxAge(maxAge time.Duration) Option {
	return func(module *Module) {
		if maxAge > 0 {
			module.maxAge = maxAge
		}
	}
}

// WithMaxBytes sets the size ceiling.
func WithMaxBytes(maxBytes int64) Option {
	return func(module *Module) {
		if maxBytes > 0 {
			module.maxBytes = maxBytes
		}
	}
}

// WithProtectLiveMedia skips files listed by the MediaReferences service.
func WithProtectLiveMedia(enabled bool) Option {
	return func(module *Module) {
		module.protectLiveMedia = enabled
	}
}

// WithClock overrides the time source used for age checks.
func WithClock(now func() time.Time) Option {
	return func(module *Module) {
		if now != nil {
			module.now = now
		}
	}
}

// New creates a governor module.
func New(options ...Option) *Module {
	module := &Module{
		logger:   slog.Default(),
		dir:      DefaultDir,
		interval: DefaultInterval,
		maxAge:   DefaultMaxAge,
		maxBytes: DefaultMaxBytes,
		now:      time.Now,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "tmpreclaim"
}

// Spec declares no event handlers; the governor is timer driven.
func (m *Module) Spec() recall.ModuleSpec {
	return recall.ModuleSpec{}
}

// OnRegister resolves the logger and keeps the registry for the optional
// live reference lookup at start.
func (m *Module) OnRegister(_ context.Context, runtime recall.ModuleRuntime) error {
	m.services = runtime.Services()

	logger, err := recall.ResolveAs[*slog.Logger](m.services, recall.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger.With("module", m.Name())
	case errors.Is(err, recall.ErrServiceNotFound):
	default:
		return fmt.Errorf("tmpreclaim resolve logger: %w", err)
	}

	return nil
}

// OnStart runs one sweep immediately and then one per interval.
func (m *Module) OnStart(ctx context.Context) error {
	var references recall.MediaReferences
	if m.protectLiveMedia && m.services != nil {
		resolved, found, err := recall.ResolveOptional[recall.MediaReferences](m.services, recall.ServiceMediaReferences)
		if err != nil {
			return fmt.Errorf("tmpreclaim resolve media references: %w", err)
		}
		if !found {
			m.logger.WarnContext(ctx, "live media protection requested but no media references service is registered")
		}
		references = resolved
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("tmpreclaim already started")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx, references, m.done)

	m.logger.InfoContext(ctx, "tmpreclaim started",
		"dir", m.dir,
		"interval", m.interval.String(),
		"max_age", m.maxAge.String(),
		"max_size", humanize.IBytes(uint64(m.maxBytes)),
		"protect_live_media", references != nil,
	)

	return nil
}

// OnShutdown stops the sweep loop and waits for an in-flight sweep.
func (m *Module) OnShutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tmpreclaim shutdown: %w", ctx.Err())
	}
}

// LastReport returns the result of the most recent sweep.
func (m *Module) LastReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastRun
}

func (m *Module) loop(ctx context.Context, references recall.MediaReferences, done chan<- struct{}) {
	defer close(done)

	m.sweepSafely(ctx, references)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepSafely(ctx, references)
		case <-ctx.Done():
			return
		}
	}
}

// sweepSafely keeps a panicking sweep from ending the loop.
func (m *Module) sweepSafely(ctx context.Context, references recall.MediaReferences) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.ErrorContext(ctx, "tmpreclaim sweep panic recovered", "dir", m.dir, "panic", fmt.Sprint(recovered))
		}
	}()

	m.runSweep(ctx, references)
}

func (m *Module) runSweep(ctx context.Context, references recall.MediaReferences) {
	var live []string
	if references != nil {
		live = references.References()
	}

	report, err := Sweep(ctx, SweepOptions{
		Dir:      m.dir,
		MaxAge:   m.maxAge,
		MaxBytes: m.maxBytes,
		Now:      m.now(),
		Live:     live,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "tmpreclaim sweep failed", "dir", m.dir, "error", err)
		return
	}

	m.mu.Lock()
	m.lastRun = report
	m.mu.Unlock()

	if report.Removed() == 0 {
		m.logger.DebugContext(ctx, "tmpreclaim sweep clean",
			"files", report.Scanned,
			"size", humanize.IBytes(uint64(report.RemainingBytes)),
		)
		return
	}
	m.logger.InfoContext(ctx, "tmpreclaim sweep reclaimed space",
		"removed_by_age", report.RemovedByAge,
		"removed_by_size", report.RemovedBySize,
		"reclaimed", humanize.IBytes(uint64(report.ReclaimedBytes)),
		"remaining", humanize.IBytes(uint64(report.RemainingBytes)),
		"skipped", report.Skipped,
	)
}

var _ recall.Module = (*Module)(nil)
