package whatsapp

import (
	"context"
	"fmt"
	"time"

	"wa-recall/pkg/recall"
)

// Decoder converts WhatsApp update DTOs into neutral events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*recall.Event, error)
}

// DefaultDecoder provides default WhatsApp-to-recall mappings.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a WhatsApp update into a neutral event.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*recall.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeMessage:
		event.Kind = recall.EventKindMessageCreated
		message, err := decodeMessage(update.Message)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		event.Message = message
	case UpdateTypeRevoke:
		event.Kind = recall.EventKindMessageRetracted
		mutation, err := decodeRevoke(update.Revoke)
		if err != nil {
			return nil, fmt.Errorf("decode revoke: %w", err)
		}
		event.Mutation = mutation
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

// newBaseEvent builds the shared envelope fields used by all update mappings.
func newBaseEvent(update Update) *recall.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &recall.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		Conversation: recall.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: recall.Actor{
			ID:          update.Actor.ID,
			DisplayName: update.Actor.PushName,
			IsSelf:      update.Actor.IsSelf,
		},
		Metadata: update.Metadata,
	}
}

func decodeMessage(payload *MessagePayload) (*recall.Message, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing message payload")
	}

	text := payload.Text
	if text == "" && len(payload.Media) > 0 {
		text = payload.Media[0].Caption
	}

	return &recall.Message{
		ID:       payload.ID,
		Text:     text,
		Media:    mapMedia(payload.Media),
		ViewOnce: payload.ViewOnce,
	}, nil
}

func decodeRevoke(payload *RevokePayload) (*recall.Mutation, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing revoke payload")
	}
	if payload.MessageID == "" {
		return nil, fmt.Errorf("missing target message id")
	}

	return &recall.Mutation{
		Type:                 recall.MutationTypeRetraction,
		TargetConversationID: payload.ChatID,
		TargetMessageID:      payload.MessageID,
		TargetSenderID:       payload.SenderID,
	}, nil
}

func mapMedia(media []MediaPayload) []recall.MediaAttachment {
	if len(media) == 0 {
		return nil
	}

	mapped := make([]recall.MediaAttachment, 0, len(media))
	for _, item := range media {
		mapped = append(mapped, recall.MediaAttachment{
			Type:      item.Type,
			MIMEType:  item.MIMEType,
			FileName:  item.FileName,
			SizeBytes: item.SizeBytes,
			Caption:   item.Caption,
			Locator:   item.Locator,
		})
	}

	return mapped
}
