package whatsapp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"wa-recall/pkg/recall"
)

type sentMessage struct {
	to      types.JID
	message *waE2E.Message
}

type fakeGatewayClient struct {
	self        *types.JID
	sent        []sentMessage
	uploads     []whatsmeow.MediaType
	uploadBytes [][]byte
	blocked     []types.JID
	downloaded  []whatsmeow.DownloadableMessage
	groupNames  map[string]string
	sendErr     error
	downloadErr error
}

func (c *fakeGatewayClient) SelfJID() (types.JID, bool) {
	if c.self == nil {
		return types.JID{}, false
	}
	return *c.self, true
}

func (c *fakeGatewayClient) SendMessage(_ context.Context, to types.JID, message *waE2E.Message) (string, error) {
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, sentMessage{to: to, message: message})
	return "OUT1", nil
}

func (c *fakeGatewayClient) Upload(
	_ context.Context,
	data []byte,
	mediaType whatsmeow.MediaType,
) (whatsmeow.UploadResponse, error) {
	c.uploads = append(c.uploads, mediaType)
	c.uploadBytes = append(c.uploadBytes, data)
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/x",
		DirectPath: "/v/x",
		MediaKey:   []byte("key"),
		FileLength: uint64(len(data)),
	}, nil
}

func (c *fakeGatewayClient) Download(_ context.Context, message whatsmeow.DownloadableMessage) ([]byte, error) {
	c.downloaded = append(c.downloaded, message)
	if c.downloadErr != nil {
		return nil, c.downloadErr
	}
	return []byte("media"), nil
}

func (c *fakeGatewayClient) GroupName(_ context.Context, group types.JID) (string, error) {
	return c.groupNames[group.String()], nil
}

func (c *fakeGatewayClient) Block(_ context.Context, user types.JID) error {
	c.blocked = append(c.blocked, user)
	return nil
}

func newTestGateway(t *testing.T, client *fakeGatewayClient) *Gateway {
	t.Helper()

	gateway, err := newGateway(client, WithSinkRef(recall.EventSink{ID: "wa-main"}))
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}
	return gateway
}

func groupTarget() recall.OutboundTarget {
	return recall.OutboundTarget{Conversation: recall.Conversation{ID: testGroupJID.String()}}
}

func TestGatewaySendMessageRendersMentions(t *testing.T) {
	t.Parallel()

	client := &fakeGatewayClient{}
	gateway := newTestGateway(t, client)

	sent, err := gateway.SendMessage(context.Background(), recall.SendMessageRequest{
		Target:   groupTarget(),
		Text:     "hi @94771111111",
		Mentions: []string{testSenderJID.String()},
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if sent.ID != "OUT1" {
		t.Fatalf("id = %s, want OUT1", sent.ID)
	}
	if len(client.sent) != 1 || client.sent[0].to != testGroupJID {
		t.Fatalf("sent = %+v", client.sent)
	}
	extended := client.sent[0].message.GetExtendedTextMessage()
	if extended.GetText() != "hi @94771111111" {
		t.Fatalf("text = %q", extended.GetText())
	}
	mentions := extended.GetContextInfo().GetMentionedJID()
	if len(mentions) != 1 || mentions[0] != testSenderJID.String() {
		t.Fatalf("mentions = %v", mentions)
	}
}

func TestGatewaySendMediaBuildsTypedMessages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "capture.bin")
	if err := os.WriteFile(path, []byte("abcdef"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name       string
		mediaType  recall.MediaType
		mimeType   string
		wantUpload whatsmeow.MediaType
		assert     func(t *testing.T, message *waE2E.Message)
	}{
		{
			name:       "image keeps caption",
			mediaType:  recall.MediaTypeImage,
			wantUpload: whatsmeow.MediaImage,
			assert: func(t *testing.T, message *waE2E.Message) {
				t.Helper()
				image := message.GetImageMessage()
				if image.GetCaption() != "caption" || image.GetMimetype() != "image/jpeg" {
					t.Fatalf("image = %+v", image)
				}
				if image.GetFileLength() != 6 || image.GetDirectPath() != "/v/x" {
					t.Fatalf("upload fields not copied: %+v", image)
				}
			},
		},
		{
			name:       "video",
			mediaType:  recall.MediaTypeVideo,
			wantUpload: whatsmeow.MediaVideo,
			assert: func(t *testing.T, message *waE2E.Message) {
				t.Helper()
				if message.GetVideoMessage().GetMimetype() != "video/mp4" {
					t.Fatalf("video = %+v", message.GetVideoMessage())
				}
			},
		},
		{
			name:       "sticker uploads as image",
			mediaType:  recall.MediaTypeSticker,
			wantUpload: whatsmeow.MediaImage,
			assert: func(t *testing.T, message *waE2E.Message) {
				t.Helper()
				if message.GetStickerMessage().GetMimetype() != "image/webp" {
					t.Fatalf("sticker = %+v", message.GetStickerMessage())
				}
			},
		},
		{
			name:       "audio keeps recorded mime type",
			mediaType:  recall.MediaTypeAudio,
			mimeType:   "audio/ogg; codecs=opus",
			wantUpload: whatsmeow.MediaAudio,
			assert: func(t *testing.T, message *waE2E.Message) {
				t.Helper()
				if message.GetAudioMessage().GetMimetype() != "audio/ogg; codecs=opus" {
					t.Fatalf("audio = %+v", message.GetAudioMessage())
				}
			},
		},
		{
			name:       "document names the file",
			mediaType:  recall.MediaTypeDocument,
			wantUpload: whatsmeow.MediaDocument,
			assert: func(t *testing.T, message *waE2E.Message) {
				t.Helper()
				if message.GetDocumentMessage().GetFileName() != "capture.bin" {
					t.Fatalf("document = %+v", message.GetDocumentMessage())
				}
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			client := &fakeGatewayClient{}
			gateway := newTestGateway(t, client)

			_, err := gateway.SendMedia(context.Background(), recall.SendMediaRequest{
				Target:   groupTarget(),
				Type:     testCase.mediaType,
				Path:     path,
				MIMEType: testCase.mimeType,
				Caption:  "caption",
			})
			if err != nil {
				t.Fatalf("SendMedia() error = %v", err)
			}
			if len(client.uploads) != 1 || client.uploads[0] != testCase.wantUpload {
				t.Fatalf("uploads = %v, want [%v]", client.uploads, testCase.wantUpload)
			}
			if string(client.uploadBytes[0]) != "abcdef" {
				t.Fatalf("uploaded bytes = %q", client.uploadBytes[0])
			}
			testCase.assert(t, client.sent[0].message)
		})
	}
}

func TestGatewaySendMediaMissingFile(t *testing.T) {
	t.Parallel()

	client := &fakeGatewayClient{}
	_, err := newTestGateway(t, client).SendMedia(context.Background(), recall.SendMediaRequest{
		Target: groupTarget(),
		Type:   recall.MediaTypeImage,
		Path:   filepath.Join(t.TempDir(), "gone.jpg"),
	})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("SendMedia() error = %v, want not exist", err)
	}
	if len(client.uploads) != 0 {
		t.Fatal("uploaded a missing file")
	}
}

func TestGatewayBlockActorStripsDevice(t *testing.T) {
	t.Parallel()

	client := &fakeGatewayClient{}
	err := newTestGateway(t, client).BlockActor(context.Background(), recall.BlockActorRequest{
		ActorID: "94771111111:5@s.whatsapp.net",
	})
	if err != nil {
		t.Fatalf("BlockActor() error = %v", err)
	}
	if len(client.blocked) != 1 || client.blocked[0] != testSenderJID {
		t.Fatalf("blocked = %v, want [%s]", client.blocked, testSenderJID)
	}
}

func TestGatewayFetchMediaDecodesLocator(t *testing.T) {
	t.Parallel()

	locator, err := proto.Marshal(&waE2E.Message{
		StickerMessage: &waE2E.StickerMessage{DirectPath: proto.String("/v/sticker")},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	client := &fakeGatewayClient{}
	data, err := newTestGateway(t, client).FetchMedia(context.Background(), recall.FetchMediaRequest{
		Attachment: recall.MediaAttachment{Type: recall.MediaTypeSticker, Locator: locator},
	})
	if err != nil {
		t.Fatalf("FetchMedia() error = %v", err)
	}
	if string(data) != "media" {
		t.Fatalf("data = %q", data)
	}
	if client.downloaded[0].GetDirectPath() != "/v/sticker" {
		t.Fatalf("downloaded = %+v", client.downloaded[0])
	}
}

func TestGatewayFetchMediaErrors(t *testing.T) {
	t.Parallel()

	gateway := newTestGateway(t, &fakeGatewayClient{})
	_, err := gateway.FetchMedia(context.Background(), recall.FetchMediaRequest{})
	if !errors.Is(err, recall.ErrInvalidOutboundRequest) {
		t.Fatalf("FetchMedia(empty) error = %v, want invalid request", err)
	}

	locator, _ := proto.Marshal(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{}})
	gateway = newTestGateway(t, &fakeGatewayClient{downloadErr: whatsmeow.ErrMediaDownloadFailedWith410})
	_, err = gateway.FetchMedia(context.Background(), recall.FetchMediaRequest{
		Attachment: recall.MediaAttachment{Type: recall.MediaTypeImage, Locator: locator},
	})
	outboundErr, ok := recall.AsOutboundError(err)
	if !ok {
		t.Fatalf("FetchMedia() error = %v, want OutboundError", err)
	}
	if outboundErr.Kind != recall.OutboundErrorKindPermanent || outboundErr.Code != 410 {
		t.Fatalf("outbound error = %+v, want permanent 410", outboundErr)
	}
	if outboundErr.SinkID != "wa-main" || outboundErr.Operation != recall.OutboundOperationFetchMedia {
		t.Fatalf("outbound error = %+v", outboundErr)
	}
}

func TestGatewaySendErrorsAreClassified(t *testing.T) {
	t.Parallel()

	gateway := newTestGateway(t, &fakeGatewayClient{sendErr: whatsmeow.ErrNotConnected})
	_, err := gateway.SendMessage(context.Background(), recall.SendMessageRequest{Target: groupTarget(), Text: "x"})
	outboundErr, ok := recall.AsOutboundError(err)
	if !ok || outboundErr.Kind != recall.OutboundErrorKindTemporary {
		t.Fatalf("SendMessage() error = %v, want temporary outbound error", err)
	}
	if !errors.Is(err, whatsmeow.ErrNotConnected) {
		t.Fatal("cause not preserved")
	}
}

func TestGatewayConversationTitleAndSelf(t *testing.T) {
	t.Parallel()

	self := types.JID{User: "94770000099", Device: 12, Server: types.DefaultUserServer}
	client := &fakeGatewayClient{
		self:       &self,
		groupNames: map[string]string{testGroupJID.String(): "Family"},
	}
	gateway := newTestGateway(t, client)

	title, err := gateway.ConversationTitle(context.Background(), recall.EventSink{}, testGroupJID.String())
	if err != nil || title != "Family" {
		t.Fatalf("ConversationTitle(group) = %q, %v, want Family", title, err)
	}
	title, err = gateway.ConversationTitle(context.Background(), recall.EventSink{}, testSenderJID.String())
	if err != nil || title != "" {
		t.Fatalf("ConversationTitle(private) = %q, %v, want empty", title, err)
	}

	identity, ok, err := gateway.Self(context.Background(), recall.EventSink{})
	if err != nil || !ok {
		t.Fatalf("Self() ok=%v err=%v", ok, err)
	}
	if identity.ActorID != "94770000099@s.whatsapp.net" || identity.User != "94770000099" {
		t.Fatalf("identity = %+v", identity)
	}

	_, ok, _ = newTestGateway(t, &fakeGatewayClient{}).Self(context.Background(), recall.EventSink{})
	if ok {
		t.Fatal("Self() ok = true before pairing")
	}
}

func TestGatewayRejectsForeignSink(t *testing.T) {
	t.Parallel()

	target := groupTarget()
	target.Sink = &recall.EventSink{Platform: "telegram"}
	_, err := newTestGateway(t, &fakeGatewayClient{}).SendMessage(context.Background(), recall.SendMessageRequest{
		Target: target,
		Text:   "x",
	})
	if !errors.Is(err, recall.ErrOutboundUnsupported) {
		t.Fatalf("SendMessage() error = %v, want unsupported", err)
	}
}
