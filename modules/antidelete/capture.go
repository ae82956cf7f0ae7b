package antidelete

import (
	"context"

	"wa-recall/pkg/recall"
)

// handleMessageCreated is the capture pipeline. Every failure is logged and
// absorbed so one bad message never disturbs the subscription.
func (m *Module) handleMessageCreated(ctx context.Context, event *recall.Event) error {
	if event == nil || event.Message == nil || event.Message.ID == "" {
		return nil
	}
	if m.handleCommand(ctx, event) {
		return nil
	}

	config := m.settings.Load(ctx)
	if !config.Active() {
		return nil
	}

	if config.AntiviewonceEnabled {
		if attachment, ok := viewOnceMedia(event.Message); ok {
			m.interceptViewOnce(ctx, event, config.AntiviewonceMode, attachment)
			return nil
		}
	}

	if config.AntideleteMode == AntideleteModePrivate && event.Conversation.IsGroup() {
		return nil
	}
	m.capture(ctx, event)

	return nil
}

func (m *Module) capture(ctx context.Context, event *recall.Event) {
	record := CapturedMessage{
		ChatID:    event.Conversation.ID,
		MessageID: event.Message.ID,
		Content:   event.Message.Text,
		SenderID:  senderOf(event),
		IsGroup:   event.Conversation.IsGroup(),
		Timestamp: event.OccurredAt,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = m.now()
	}

	if attachment, ok := capturableMedia(event.Message); ok {
		if record.Content == "" {
			record.Content = attachment.Caption
		}
		path, err := m.media.Materialize(ctx, event.Source, attachment, safeFileKey(record.ChatID, record.MessageID))
		if err != nil {
			m.logger.WarnContext(ctx, "antidelete media capture failed, keeping text only",
				"chat", record.ChatID,
				"message_id", record.MessageID,
				"media_type", attachment.Type,
				"error", err,
			)
		} else {
			record.MediaType = attachment.Type
			record.MediaPath = path
			record.MIMEType = attachment.MIMEType
		}
	}

	if record.Content == "" && record.MediaPath == "" {
		return
	}
	m.cache.Put(record)
	m.logger.DebugContext(ctx, "antidelete captured message",
		"chat", record.ChatID,
		"message_id", record.MessageID,
		"media_type", record.MediaType,
		"cached", m.cache.Len(),
	)
}

// senderOf returns the author of an inbound message, which in private chats
// may only be known as the conversation itself.
func senderOf(event *recall.Event) string {
	if event.Actor.ID != "" {
		return event.Actor.ID
	}

	return event.Conversation.ID
}
