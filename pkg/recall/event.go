package recall

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral domain event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindMessageRetracted is emitted when a message is deleted for everyone.
	EventKindMessageRetracted EventKind = "message.retracted"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformWhatsApp is WhatsApp multi-device.
	PlatformWhatsApp Platform = "whatsapp"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct/private conversation.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a group conversation.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeBroadcast is a status or broadcast list conversation.
	ConversationTypeBroadcast ConversationType = "broadcast"
)

// EventSource identifies the driver instance that produced an event.
type EventSource struct {
	// Platform is the upstream platform of the producing driver.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// EventSink identifies the driver instance that should receive outbound operations.
type EventSink struct {
	// Platform is the platform of the destination driver.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// Event is the neutral envelope that drivers publish and modules consume.
//
// Message and Mutation are optional payload branches selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the upstream platform that produced the event.
	Platform Platform
	// Source identifies the driver instance that produced the event.
	Source EventSource
	// Conversation identifies where the event happened.
	Conversation Conversation
	// Actor identifies who initiated the event.
	//
	// For retractions this is the account that performed the deletion.
	Actor Actor
	// Message carries message content for message-created events.
	Message *Message
	// Mutation carries the retracted message reference for retraction events.
	Mutation *Mutation
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Conversation identifies the neutral destination where an event occurred.
type Conversation struct {
	// ID is the stable conversation identifier on the source platform.
	ID string
	// Type describes the conversation scope.
	Type ConversationType
	// Title is a best-effort display label for the conversation.
	Title string
}

// IsGroup reports whether the conversation is a group chat.
func (c Conversation) IsGroup() bool {
	return c.Type == ConversationTypeGroup
}

// Actor identifies the user/account that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID string
	// DisplayName is the human-readable actor name when known.
	DisplayName string
	// IsSelf reports whether the actor is the account the driver is logged in as.
	IsSelf bool
}

// Message holds neutral message content including rich media.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// Text is the message body, or the media caption when the body is empty.
	Text string
	// Media contains the attachments carried by the message.
	Media []MediaAttachment
	// ViewOnce reports whether the sender marked the media as view-once.
	ViewOnce bool
}

// MediaType identifies attachment media categories.
type MediaType string

const (
	// MediaTypeImage identifies an image attachment.
	MediaTypeImage MediaType = "image"
	// MediaTypeVideo identifies a video attachment.
	MediaTypeVideo MediaType = "video"
	// MediaTypeSticker identifies a sticker attachment.
	MediaTypeSticker MediaType = "sticker"
	// MediaTypeAudio identifies an audio or voice attachment.
	MediaTypeAudio MediaType = "audio"
	// MediaTypeDocument identifies a generic file attachment.
	MediaTypeDocument MediaType = "document"
)

// MediaAttachment represents rich media payload metadata.
type MediaAttachment struct {
	// Type is the normalized media category.
	Type MediaType
	// MIMEType is the attachment content type when known.
	MIMEType string
	// FileName is the original attachment filename when available.
	FileName string
	// SizeBytes is the attachment size in bytes when available.
	SizeBytes int64
	// Caption is the optional media caption text.
	Caption string
	// Locator is an opaque driver-encoded reference used by the owning
	// driver's MediaFetcher to download the content.
	Locator []byte
}

// MutationType identifies message mutation kind.
type MutationType string

const (
	// MutationTypeRetraction indicates message deletion/retraction.
	MutationTypeRetraction MutationType = "retraction"
)

// Mutation holds the reference to the message affected by a mutation.
type Mutation struct {
	// Type identifies the mutation operation.
	Type MutationType
	// TargetConversationID is the conversation of the affected message.
	//
	// It defaults to the event conversation when the platform omits it.
	TargetConversationID string
	// TargetMessageID identifies the message affected by the mutation.
	TargetMessageID string
	// TargetSenderID is the original author of the affected message when known.
	TargetSenderID string
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
	case EventKindMessageRetracted:
		if e.Mutation == nil {
			return fmt.Errorf("%w: message.retracted requires mutation payload", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// RetractedConversationID returns the conversation holding the retracted message.
func (e *Event) RetractedConversationID() string {
	if e == nil || e.Mutation == nil {
		return ""
	}
	if e.Mutation.TargetConversationID != "" {
		return e.Mutation.TargetConversationID
	}

	return e.Conversation.ID
}

// PrimaryMedia returns the first attachment of a message event.
func (e *Event) PrimaryMedia() (MediaAttachment, bool) {
	if e == nil || e.Message == nil || len(e.Message.Media) == 0 {
		return MediaAttachment{}, false
	}

	return e.Message.Media[0], true
}
