package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"wa-recall/pkg/recall"
)

const defaultOutboundTimeout = 45 * time.Second

// gatewayClient is the request surface of the whatsmeow client.
type gatewayClient interface {
	SelfJID() (types.JID, bool)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message) (string, error)
	Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	Download(ctx context.Context, message whatsmeow.DownloadableMessage) ([]byte, error)
	GroupName(ctx context.Context, group types.JID) (string, error)
	Block(ctx context.Context, user types.JID) error
}

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each gateway call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithSinkRef configures the sink identity stamped on outbound errors.
func WithSinkRef(ref recall.EventSink) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.sink = ref
		if cfg.sink.Platform == "" {
			cfg.sink.Platform = DriverPlatform
		}
	}
}

type outboundConfig struct {
	timeout time.Duration
	logger  *slog.Logger
	sink    recall.EventSink
}

// Gateway adapts neutral outbound operations and gateway lookups to whatsmeow.
type Gateway struct {
	cfg    outboundConfig
	client gatewayClient
}

func newGateway(client gatewayClient, options ...OutboundOption) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("new whatsapp gateway: nil client")
	}

	cfg := outboundConfig{
		timeout: defaultOutboundTimeout,
		sink:    recall.EventSink{Platform: DriverPlatform},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Gateway{cfg: cfg, client: client}, nil
}

// SendMessage publishes a text message, rendering Mentions as tags.
func (g *Gateway) SendMessage(
	ctx context.Context,
	request recall.SendMessageRequest,
) (*recall.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}
	to, err := parseTarget(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	message := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(request.Text),
			ContextInfo: mentionContext(request.Mentions),
		},
	}

	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	id, err := g.client.SendMessage(callCtx, to, message)
	if err != nil {
		return nil, mapOutboundError(recall.OutboundOperationSendMessage, g.cfg.sink,
			fmt.Errorf("send message to %s: %w", to, err))
	}

	g.logOutbound(ctx, "send_message", "conversation", to.String(), "message_id", id)

	return &recall.OutboundMessage{ID: id, Target: request.Target}, nil
}

// SendMedia uploads a local file and publishes it as a media message.
func (g *Gateway) SendMedia(
	ctx context.Context,
	request recall.SendMediaRequest,
) (*recall.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send media validate: %w", err)
	}
	to, err := parseTarget(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send media: %w", err)
	}

	data, err := os.ReadFile(request.Path)
	if err != nil {
		return nil, fmt.Errorf("send media read %s: %w", request.Path, err)
	}

	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	uploaded, err := g.client.Upload(callCtx, data, uploadMediaType(request.Type))
	if err != nil {
		return nil, mapOutboundError(recall.OutboundOperationSendMedia, g.cfg.sink,
			fmt.Errorf("upload %s: %w", request.Type, err))
	}

	message := buildMediaMessage(request, uploaded)
	id, err := g.client.SendMessage(callCtx, to, message)
	if err != nil {
		return nil, mapOutboundError(recall.OutboundOperationSendMedia, g.cfg.sink,
			fmt.Errorf("send %s to %s: %w", request.Type, to, err))
	}

	g.logOutbound(ctx, "send_media",
		"conversation", to.String(),
		"media_type", request.Type,
		"bytes", len(data),
		"message_id", id,
	)

	return &recall.OutboundMessage{ID: id, Target: request.Target}, nil
}

// BlockActor adds one account to the blocklist.
func (g *Gateway) BlockActor(ctx context.Context, request recall.BlockActorRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("block actor validate: %w", err)
	}
	user, err := types.ParseJID(request.ActorID)
	if err != nil {
		return fmt.Errorf("%w: block actor parse %s: %w", recall.ErrInvalidOutboundRequest, request.ActorID, err)
	}

	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := g.client.Block(callCtx, user.ToNonAD()); err != nil {
		return mapOutboundError(recall.OutboundOperationBlockActor, g.cfg.sink,
			fmt.Errorf("block %s: %w", user, err))
	}

	g.logOutbound(ctx, "block_actor", "actor", user.ToNonAD().String())

	return nil
}

// FetchMedia downloads and decrypts the attachment encoded in its locator.
func (g *Gateway) FetchMedia(ctx context.Context, request recall.FetchMediaRequest) ([]byte, error) {
	downloadable, err := decodeLocator(request.Attachment.Locator)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch media: %w", recall.ErrInvalidOutboundRequest, err)
	}

	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	data, err := g.client.Download(callCtx, downloadable)
	if err != nil {
		return nil, mapOutboundError(recall.OutboundOperationFetchMedia, g.cfg.sink,
			fmt.Errorf("download %s: %w", request.Attachment.Type, err))
	}

	return data, nil
}

// ConversationTitle returns the subject of a group; other chats have none.
func (g *Gateway) ConversationTitle(ctx context.Context, _ recall.EventSink, conversationID string) (string, error) {
	jid, err := types.ParseJID(conversationID)
	if err != nil {
		return "", fmt.Errorf("conversation title parse %s: %w", conversationID, err)
	}
	if jid.Server != types.GroupServer {
		return "", nil
	}

	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	title, err := g.client.GroupName(callCtx, jid)
	if err != nil {
		return "", fmt.Errorf("conversation title %s: %w", conversationID, err)
	}

	return title, nil
}

// Self returns the logged-in account, or ok=false before pairing.
func (g *Gateway) Self(_ context.Context, _ recall.EventSink) (recall.Identity, bool, error) {
	jid, ok := g.client.SelfJID()
	if !ok {
		return recall.Identity{}, false, nil
	}

	return recall.Identity{
		ActorID: jid.ToNonAD().String(),
		User:    jid.User,
	}, true, nil
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, g.cfg.timeout)
}

func (g *Gateway) logOutbound(ctx context.Context, operation string, attrs ...any) {
	if g.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 2+len(attrs))
	values = append(values, "operation", operation, "sink", g.cfg.sink.ID)
	values = append(values, attrs...)
	g.cfg.logger.DebugContext(ctx, "whatsapp outbound operation", values...)
}

func parseTarget(target recall.OutboundTarget) (types.JID, error) {
	if target.Sink != nil && target.Sink.Platform != "" && target.Sink.Platform != DriverPlatform {
		return types.JID{}, fmt.Errorf("%w: platform %s", recall.ErrOutboundUnsupported, target.Sink.Platform)
	}
	jid, err := types.ParseJID(target.Conversation.ID)
	if err != nil {
		return types.JID{}, fmt.Errorf("%w: parse conversation %s: %w",
			recall.ErrInvalidOutboundRequest, target.Conversation.ID, err)
	}

	return jid.ToNonAD(), nil
}

func mentionContext(mentions []string) *waE2E.ContextInfo {
	if len(mentions) == 0 {
		return nil
	}

	return &waE2E.ContextInfo{MentionedJID: append([]string(nil), mentions...)}
}

func uploadMediaType(mediaType recall.MediaType) whatsmeow.MediaType {
	switch mediaType {
	case recall.MediaTypeImage, recall.MediaTypeSticker:
		return whatsmeow.MediaImage
	case recall.MediaTypeVideo:
		return whatsmeow.MediaVideo
	case recall.MediaTypeAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func defaultMIMEType(mediaType recall.MediaType) string {
	switch mediaType {
	case recall.MediaTypeImage:
		return "image/jpeg"
	case recall.MediaTypeVideo:
		return "video/mp4"
	case recall.MediaTypeSticker:
		return "image/webp"
	case recall.MediaTypeAudio:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

func buildMediaMessage(request recall.SendMediaRequest, uploaded whatsmeow.UploadResponse) *waE2E.Message {
	mimeType := request.MIMEType
	if mimeType == "" {
		mimeType = defaultMIMEType(request.Type)
	}
	contextInfo := mentionContext(request.Mentions)
	var caption *string
	if request.Caption != "" {
		caption = proto.String(request.Caption)
	}

	switch request.Type {
	case recall.MediaTypeImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Mimetype:      proto.String(mimeType),
			Caption:       caption,
			ContextInfo:   contextInfo,
		}}
	case recall.MediaTypeVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Mimetype:      proto.String(mimeType),
			Caption:       caption,
			ContextInfo:   contextInfo,
		}}
	case recall.MediaTypeSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Mimetype:      proto.String(mimeType),
		}}
	case recall.MediaTypeAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Mimetype:      proto.String(mimeType),
			ContextInfo:   contextInfo,
		}}
	default:
		fileName := request.FileName
		if fileName == "" {
			fileName = filepath.Base(request.Path)
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Mimetype:      proto.String(mimeType),
			FileName:      proto.String(fileName),
			Title:         proto.String(strings.TrimSuffix(fileName, filepath.Ext(fileName))),
			Caption:       caption,
			ContextInfo:   contextInfo,
		}}
	}
}

// decodeLocator restores the downloadable node serialized by the mapper.
func decodeLocator(locator []byte) (whatsmeow.DownloadableMessage, error) {
	if len(locator) == 0 {
		return nil, fmt.Errorf("empty locator")
	}

	var node waE2E.Message
	if err := proto.Unmarshal(locator, &node); err != nil {
		return nil, fmt.Errorf("decode locator: %w", err)
	}

	switch {
	case node.GetImageMessage() != nil:
		return node.GetImageMessage(), nil
	case node.GetVideoMessage() != nil:
		return node.GetVideoMessage(), nil
	case node.GetStickerMessage() != nil:
		return node.GetStickerMessage(), nil
	case node.GetAudioMessage() != nil:
		return node.GetAudioMessage(), nil
	case node.GetDocumentMessage() != nil:
		return node.GetDocumentMessage(), nil
	default:
		return nil, fmt.Errorf("locator carries no downloadable media")
	}
}

var (
	_ recall.SinkDispatcher        = (*Gateway)(nil)
	_ recall.MediaFetcher          = (*Gateway)(nil)
	_ recall.ConversationDirectory = (*Gateway)(nil)
	_ recall.IdentityResolver      = (*Gateway)(nil)
)
