package whatsapp

import (
	"time"

	"wa-recall/pkg/recall"
)

// UpdateType identifies a WhatsApp update category before neutral decoding.
type UpdateType string

const (
	// UpdateTypeMessage represents a newly received message.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeRevoke represents a delete-for-everyone protocol message.
	UpdateTypeRevoke UpdateType = "revoke"
)

// Update is the adapter DTO produced from whatsmeow events.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Revoke     *RevokePayload
	Metadata   map[string]string
}

// ChatRef identifies the chat where an update happened.
type ChatRef struct {
	ID    string
	Type  recall.ConversationType
	Title string
}

// ActorRef identifies the account behind an update.
type ActorRef struct {
	ID       string
	PushName string
	IsSelf   bool
}

// MessagePayload is message content after envelope unwrapping.
type MessagePayload struct {
	ID       string
	Text     string
	ViewOnce bool
	Media    []MediaPayload
}

// MediaPayload describes one downloadable attachment.
type MediaPayload struct {
	Type      recall.MediaType
	MIMEType  string
	FileName  string
	SizeBytes int64
	Caption   string
	// Locator is the serialized downloadable message node.
	Locator []byte
}

// RevokePayload references the message deleted for everyone.
type RevokePayload struct {
	ChatID    string
	MessageID string
	// SenderID is the original author when the protocol key carries it.
	SenderID string
}
