package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

const defaultUpdateBuffer = 256

// UpdateHandler consumes mapped WhatsApp updates.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource streams WhatsApp updates into the adapter.
type UpdateSource interface {
	// Consume runs the update loop until context cancellation or fatal error.
	Consume(ctx context.Context, handler UpdateHandler) error
}

// EventMapper converts raw whatsmeow events into adapter updates.
type EventMapper interface {
	Map(ctx context.Context, raw any) (update Update, ok bool, err error)
}

// NoopSource is a passive source useful for bootstrap wiring tests.
type NoopSource struct{}

// Consume blocks until context cancellation.
func (NoopSource) Consume(ctx context.Context, _ UpdateHandler) error {
	<-ctx.Done()

	return nil
}

// ChannelSource reads updates from a channel.
type ChannelSource struct {
	// Updates is the owned input stream consumed by the source loop.
	Updates <-chan Update
}

// Consume forwards channel updates until closure or cancellation.
func (s ChannelSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("channel source: nil handler")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-s.Updates:
			if !ok {
				return nil
			}
			if err := handler(ctx, update); err != nil {
				return fmt.Errorf("channel source handle update %s: %w", update.Type, err)
			}
		}
	}
}

// sessionClient is the connection surface of the whatsmeow client.
type sessionClient interface {
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	RemoveEventHandler(id uint32) bool
	// Login connects, pairing by QR code first when no session is stored.
	Login(ctx context.Context) error
	Disconnect()
}

// ClientSource streams messages from a live whatsmeow client.
type ClientSource struct {
	client sessionClient
	mapper EventMapper
	logger *slog.Logger
	buffer int
}

// ClientSourceOption mutates ClientSource configuration.
type ClientSourceOption func(*ClientSource)

// WithSourceLogger configures connection-state logging.
func WithSourceLogger(logger *slog.Logger) ClientSourceOption {
	return func(source *ClientSource) {
		if logger != nil {
			source.logger = logger
		}
	}
}

// WithUpdateBuffer configures how many raw events may wait for mapping.
func WithUpdateBuffer(size int) ClientSourceOption {
	return func(source *ClientSource) {
		if size > 0 {
			source.buffer = size
		}
	}
}

func newClientSource(client sessionClient, mapper EventMapper, options ...ClientSourceOption) (*ClientSource, error) {
	if client == nil {
		return nil, fmt.Errorf("new whatsapp client source: nil client")
	}
	if mapper == nil {
		return nil, fmt.Errorf("new whatsapp client source: nil mapper")
	}

	source := &ClientSource{
		client: client,
		mapper: mapper,
		logger: slog.Default(),
		buffer: defaultUpdateBuffer,
	}
	for _, option := range options {
		option(source)
	}

	return source, nil
}

// Consume logs in, forwards mapped messages to handler and disconnects on return.
func (s *ClientSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("whatsapp client source: nil handler")
	}

	raw := make(chan *events.Message, s.buffer)
	handlerID := s.client.AddEventHandler(func(evt any) {
		s.observe(ctx, evt, raw)
	})
	defer s.client.RemoveEventHandler(handlerID)

	if err := s.client.Login(ctx); err != nil {
		return fmt.Errorf("whatsapp client source login: %w", err)
	}
	defer s.client.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-raw:
			update, ok, err := s.mapper.Map(ctx, evt)
			if err != nil {
				s.logger.WarnContext(ctx, "whatsapp event skipped", "error", err)
				continue
			}
			if !ok {
				continue
			}
			if err := handler(ctx, update); err != nil {
				return fmt.Errorf("whatsapp client source handle update %s: %w", update.Type, err)
			}
		}
	}
}

// observe runs on the whatsmeow event goroutine; it queues messages and
// logs connection state.
func (s *ClientSource) observe(ctx context.Context, evt any, raw chan<- *events.Message) {
	switch typed := evt.(type) {
	case *events.Message:
		select {
		case raw <- typed:
		case <-ctx.Done():
		}
	case *events.Connected:
		s.logger.InfoContext(ctx, "whatsapp connected")
	case *events.Disconnected:
		s.logger.WarnContext(ctx, "whatsapp disconnected")
	case *events.LoggedOut:
		s.logger.ErrorContext(ctx, "whatsapp session logged out", "reason", typed.Reason.String())
	case *events.StreamReplaced:
		s.logger.ErrorContext(ctx, "whatsapp stream replaced by another client")
	case *events.PairSuccess:
		s.logger.InfoContext(ctx, "whatsapp paired", "jid", typed.ID.String(), "platform", typed.Platform)
	}
}
