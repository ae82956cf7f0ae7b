package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"wa-recall/pkg/recall"
)

// DefaultEventMapper maps whatsmeow events into adapter DTO updates.
type DefaultEventMapper struct {
	rules []UnwrapRule
}

// EventMapperOption mutates DefaultEventMapper behavior.
type EventMapperOption func(*DefaultEventMapper)

// WithUnwrapRules replaces the envelope unwrap rules.
func WithUnwrapRules(rules []UnwrapRule) EventMapperOption {
	return func(mapper *DefaultEventMapper) {
		if len(rules) > 0 {
			mapper.rules = rules
		}
	}
}

// NewDefaultEventMapper creates the default whatsmeow mapper.
func NewDefaultEventMapper(options ...EventMapperOption) DefaultEventMapper {
	mapper := DefaultEventMapper{rules: DefaultUnwrapRules()}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts one whatsmeow event into an adapter update.
//
// ok is false for events that carry nothing the bot consumes.
func (m DefaultEventMapper) Map(ctx context.Context, raw any) (update Update, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map whatsmeow event context: %w", err)
	}

	evt, isMessage := raw.(*events.Message)
	if !isMessage {
		return Update{}, false, nil
	}
	if evt == nil {
		return Update{}, false, fmt.Errorf("map whatsmeow message: nil event")
	}

	root := evt.RawMessage
	if root == nil {
		root = evt.Message
	}
	if root == nil {
		return Update{}, false, nil
	}
	unwrapped := Unwrap(root, m.rules)
	if unwrapped.Message == nil {
		return Update{}, false, nil
	}

	if protocol := unwrapped.Message.GetProtocolMessage(); protocol != nil {
		return m.mapProtocol(evt, protocol)
	}

	return m.mapMessage(evt, unwrapped)
}

func (m DefaultEventMapper) mapMessage(evt *events.Message, unwrapped UnwrapResult) (Update, bool, error) {
	payload, err := mapMessagePayload(evt.Info.ID, unwrapped)
	if err != nil {
		return Update{}, false, fmt.Errorf("map message %s: %w", evt.Info.ID, err)
	}
	if payload.Text == "" && len(payload.Media) == 0 {
		return Update{}, false, nil
	}

	chat := resolveChat(evt.Info)
	update := Update{
		ID:         composeUpdateID(UpdateTypeMessage, chat.ID, evt.Info.ID),
		Type:       UpdateTypeMessage,
		OccurredAt: evt.Info.Timestamp.UTC(),
		Chat:       chat,
		Actor:      resolveActor(evt.Info),
		Message:    payload,
		Metadata:   newMessageMetadata(unwrapped),
	}

	return update, true, nil
}

func (m DefaultEventMapper) mapProtocol(evt *events.Message, protocol *waE2E.ProtocolMessage) (Update, bool, error) {
	if protocol.GetType() != waE2E.ProtocolMessage_REVOKE {
		return Update{}, false, nil
	}
	key := protocol.GetKey()
	if key.GetID() == "" {
		return Update{}, false, fmt.Errorf("map revoke %s: missing target message id", evt.Info.ID)
	}

	chat := resolveChat(evt.Info)
	actor := resolveActor(evt.Info)

	senderID := normalizeJIDString(key.GetParticipant())
	if senderID == "" {
		switch {
		case key.GetFromMe():
			// The key is written from the revoker's perspective.
			senderID = actor.ID
		case chat.Type == recall.ConversationTypePrivate:
			senderID = chat.ID
		}
	}

	update := Update{
		ID:         composeUpdateID(UpdateTypeRevoke, chat.ID, evt.Info.ID, key.GetID()),
		Type:       UpdateTypeRevoke,
		OccurredAt: evt.Info.Timestamp.UTC(),
		Chat:       chat,
		Actor:      actor,
		Revoke: &RevokePayload{
			ChatID:    chat.ID,
			MessageID: key.GetID(),
			SenderID:  senderID,
		},
	}

	return update, true, nil
}

func mapMessagePayload(messageID string, unwrapped UnwrapResult) (*MessagePayload, error) {
	message := unwrapped.Message
	payload := &MessagePayload{
		ID:       messageID,
		ViewOnce: unwrapped.ViewOnce,
	}

	var err error
	switch {
	case message.GetImageMessage() != nil:
		image := message.GetImageMessage()
		payload.ViewOnce = payload.ViewOnce || image.GetViewOnce()
		err = appendMedia(payload, &waE2E.Message{ImageMessage: image}, MediaPayload{
			Type:      recall.MediaTypeImage,
			MIMEType:  image.GetMimetype(),
			SizeBytes: int64(image.GetFileLength()),
			Caption:   image.GetCaption(),
		})
	case message.GetVideoMessage() != nil:
		video := message.GetVideoMessage()
		payload.ViewOnce = payload.ViewOnce || video.GetViewOnce()
		err = appendMedia(payload, &waE2E.Message{VideoMessage: video}, MediaPayload{
			Type:      recall.MediaTypeVideo,
			MIMEType:  video.GetMimetype(),
			SizeBytes: int64(video.GetFileLength()),
			Caption:   video.GetCaption(),
		})
	case message.GetStickerMessage() != nil:
		sticker := message.GetStickerMessage()
		err = appendMedia(payload, &waE2E.Message{StickerMessage: sticker}, MediaPayload{
			Type:      recall.MediaTypeSticker,
			MIMEType:  sticker.GetMimetype(),
			SizeBytes: int64(sticker.GetFileLength()),
		})
	case message.GetAudioMessage() != nil:
		audio := message.GetAudioMessage()
		payload.ViewOnce = payload.ViewOnce || audio.GetViewOnce()
		err = appendMedia(payload, &waE2E.Message{AudioMessage: audio}, MediaPayload{
			Type:      recall.MediaTypeAudio,
			MIMEType:  audio.GetMimetype(),
			SizeBytes: int64(audio.GetFileLength()),
		})
	case message.GetDocumentMessage() != nil:
		document := message.GetDocumentMessage()
		err = appendMedia(payload, &waE2E.Message{DocumentMessage: document}, MediaPayload{
			Type:      recall.MediaTypeDocument,
			MIMEType:  document.GetMimetype(),
			FileName:  document.GetFileName(),
			SizeBytes: int64(document.GetFileLength()),
			Caption:   document.GetCaption(),
		})
	}
	if err != nil {
		return nil, err
	}

	payload.Text = messageText(message)
	if payload.Text == "" && len(payload.Media) > 0 {
		payload.Text = payload.Media[0].Caption
	}

	return payload, nil
}

// appendMedia serializes the downloadable node as the attachment locator.
func appendMedia(payload *MessagePayload, node *waE2E.Message, media MediaPayload) error {
	locator, err := proto.Marshal(node)
	if err != nil {
		return fmt.Errorf("encode %s locator: %w", media.Type, err)
	}
	media.Locator = locator
	payload.Media = append(payload.Media, media)

	return nil
}

func messageText(message *waE2E.Message) string {
	if text := message.GetConversation(); text != "" {
		return text
	}

	return message.GetExtendedTextMessage().GetText()
}

func resolveChat(info types.MessageInfo) ChatRef {
	chat := ChatRef{
		ID:   info.Chat.ToNonAD().String(),
		Type: recall.ConversationTypePrivate,
	}
	switch {
	case info.IsGroup || info.Chat.Server == types.GroupServer:
		chat.Type = recall.ConversationTypeGroup
	case info.Chat.Server == types.BroadcastServer:
		chat.Type = recall.ConversationTypeBroadcast
	}

	return chat
}

// resolveActor prefers the phone-number identity when the sender is addressed by LID.
func resolveActor(info types.MessageInfo) ActorRef {
	sender := info.Sender
	if sender.Server == types.HiddenUserServer && !info.SenderAlt.IsEmpty() {
		sender = info.SenderAlt
	}

	return ActorRef{
		ID:       sender.ToNonAD().String(),
		PushName: info.PushName,
		IsSelf:   info.IsFromMe,
	}
}

func normalizeJIDString(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return raw
	}

	return jid.ToNonAD().String()
}

func composeUpdateID(updateType UpdateType, chatID string, parts ...string) string {
	values := []string{"wa", string(updateType)}
	if chatID != "" {
		values = append(values, chatID)
	}
	hasID := false
	for _, part := range parts {
		if part != "" {
			values = append(values, part)
			hasID = true
		}
	}
	if !hasID {
		values = append(values, uuid.NewString())
	}

	return strings.Join(values, ":")
}

func newMessageMetadata(unwrapped UnwrapResult) map[string]string {
	if len(unwrapped.Applied) == 0 {
		return nil
	}

	return map[string]string{
		"wa_envelopes": strings.Join(unwrapped.Applied, ","),
	}
}
