package recall

import (
	"context"
	"fmt"
)

// ServiceSinkDispatcher is the canonical service registry key for outbound messaging.
const ServiceSinkDispatcher = "recall.sink_dispatcher"

// SinkDispatcher sends neutral outbound operations to one sink adapter.
//
// Implementations enforce platform-specific constraints while preserving
// these protocol-level request semantics.
type SinkDispatcher interface {
	// SendMessage publishes a new outbound text message.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// SendMedia uploads a local file and publishes it as a media message.
	SendMedia(ctx context.Context, request SendMediaRequest) (*OutboundMessage, error)
	// BlockActor blocks one account for the logged-in user.
	BlockActor(ctx context.Context, request BlockActorRequest) error
}

// OutboundTarget identifies where an outbound operation should be delivered.
type OutboundTarget struct {
	// Conversation identifies the destination conversation.
	Conversation Conversation
	// Sink optionally pins the operation to one driver instance.
	Sink *EventSink
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil && t.Sink.Platform == "" && t.Sink.ID == "" {
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}

// SinkFromEvent derives the sink that should answer an inbound event.
func SinkFromEvent(event *Event) *EventSink {
	if event == nil {
		return nil
	}
	platform := event.Source.Platform
	if platform == "" {
		platform = event.Platform
	}
	if platform == "" && event.Source.ID == "" {
		return nil
	}

	return &EventSink{Platform: platform, ID: event.Source.ID}
}

// OutboundTargetFromEvent derives a reply target in the event's own conversation.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{
		Conversation: event.Conversation,
		Sink:         SinkFromEvent(event),
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage identifies a message successfully emitted by the dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// Target is the destination where this message was delivered.
	Target OutboundTarget
}

// SendMessageRequest describes a new outbound text message.
type SendMessageRequest struct {
	Target OutboundTarget
	Text   string
	// Mentions lists actor IDs that the platform should render as mentions.
	Mentions []string
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}

// SendMediaRequest describes a media message built from a local file.
type SendMediaRequest struct {
	Target OutboundTarget
	// Type selects how the platform presents the file.
	Type MediaType
	// Path is the local file holding the media bytes.
	Path     string
	MIMEType string
	FileName string
	Caption  string
	Mentions []string
}

// Validate checks the request envelope before dispatch.
func (r SendMediaRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send media target: %w", err)
	}
	if r.Path == "" {
		return fmt.Errorf("%w: missing media path", ErrInvalidOutboundRequest)
	}
	switch r.Type {
	case MediaTypeImage, MediaTypeVideo, MediaTypeSticker, MediaTypeAudio, MediaTypeDocument:
	default:
		return fmt.Errorf("%w: unsupported media type %q", ErrInvalidOutboundRequest, r.Type)
	}

	return nil
}

// BlockActorRequest describes a block-list update.
type BlockActorRequest struct {
	// ActorID identifies the account to block.
	ActorID string
	// Sink optionally pins the operation to one driver instance.
	Sink *EventSink
}

// Validate checks the request envelope before dispatch.
func (r BlockActorRequest) Validate() error {
	if r.ActorID == "" {
		return fmt.Errorf("%w: missing actor id", ErrInvalidOutboundRequest)
	}

	return nil
}
