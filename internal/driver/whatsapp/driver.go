package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wa-recall/pkg/recall"
)

const defaultPublishTimeout = 2 * time.Second

// driverConfig contains runtime controls for publish timeout and error reporting.
type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates WhatsApp driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout configures the dispatcher publish timeout per event.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler configures the callback for per-update failures.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver adapts WhatsApp updates into neutral recall events.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	decoder Decoder
}

// NewDriver creates a WhatsApp driver.
func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new whatsapp driver: nil source")
	}
	if decoder == nil {
		return nil, fmt.Errorf("new whatsapp driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:     cfg,
		source:  source,
		decoder: decoder,
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start consumes WhatsApp updates and publishes neutral events.
func (d *Driver) Start(ctx context.Context, dispatcher recall.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start whatsapp driver: nil dispatcher")
	}

	handler := func(handlerCtx context.Context, update Update) error {
		d.handleUpdate(handlerCtx, update, dispatcher)
		return nil
	}

	if err := d.source.Consume(ctx, handler); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		return fmt.Errorf("start whatsapp driver: consume updates: %w", err)
	}

	return nil
}

// handleUpdate decodes one update and publishes it with bounded latency.
// Failures are reported and the stream keeps flowing.
func (d *Driver) handleUpdate(ctx context.Context, update Update, dispatcher recall.EventDispatcher) {
	event, err := d.decodeSafely(ctx, update)
	if err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("handle update %s: %w", update.Type, err))
		return
	}
	if event.Source.Platform == "" {
		event.Source.Platform = DriverPlatform
	}
	if event.Source.ID == "" {
		event.Source.ID = d.cfg.name
	}
	if event.Platform == "" {
		event.Platform = event.Source.Platform
	}

	publishCtx := ctx
	cancel := func() {}
	if d.cfg.publishTimeout > 0 {
		publishCtx, cancel = context.WithTimeout(ctx, d.cfg.publishTimeout)
	}
	defer cancel()

	if err := dispatcher.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("handle update %s publish: %w", update.Type, err))
	}
}

// decodeSafely protects decoder panics at the adapter boundary.
func (d *Driver) decodeSafely(ctx context.Context, update Update) (decoded *recall.Event, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("decode whatsapp update %s panic: %v", update.Type, recovered)
	}()

	decoded, err = d.decoder.Decode(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("decode whatsapp update %s: %w", update.Type, err)
	}
	if decoded == nil {
		return nil, fmt.Errorf("decode whatsapp update %s: nil event", update.Type)
	}

	return decoded, nil
}

// Shutdown releases resources not controlled by Start context.
func (d *Driver) Shutdown(_ context.Context) error {
	return nil
}
