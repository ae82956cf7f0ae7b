package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// openDevice opens the sqlite session store and returns its first device,
// creating a blank one before the first pairing.
func openDevice(ctx context.Context, path string, logger *slog.Logger) (*store.Device, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newLogAdapter(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", path, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session device: %w", err)
	}

	return device, nil
}

// meowClient adapts *whatsmeow.Client to the session and gateway surfaces.
type meowClient struct {
	client      *whatsmeow.Client
	logger      *slog.Logger
	pairTimeout time.Duration
}

func newMeowClient(device *store.Device, logger *slog.Logger, pairTimeout time.Duration) *meowClient {
	client := whatsmeow.NewClient(device, newLogAdapter(logger, "client"))
	client.EnableAutoReconnect = true

	return &meowClient{
		client:      client,
		logger:      logger,
		pairTimeout: pairTimeout,
	}
}

func (c *meowClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	return c.client.AddEventHandler(handler)
}

func (c *meowClient) RemoveEventHandler(id uint32) bool {
	return c.client.RemoveEventHandler(id)
}

// Login connects with the stored session, or pairs by QR code when the
// store has no identity yet. Each QR code is logged for the operator.
func (c *meowClient) Login(ctx context.Context) error {
	if c.client.Store.ID != nil {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		return nil
	}

	pairCtx, cancel := context.WithTimeout(ctx, c.pairTimeout)
	defer cancel()

	qrItems, err := c.client.GetQRChannel(pairCtx)
	if err != nil {
		return fmt.Errorf("open qr channel: %w", err)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect for pairing: %w", err)
	}

	for item := range qrItems {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.logger.InfoContext(ctx, "scan this QR code with WhatsApp > Linked devices",
				"qr", item.Code,
				"expires_in", item.Timeout.String(),
			)
		case whatsmeow.QRChannelSuccess.Event:
			c.logger.InfoContext(ctx, "whatsapp pairing complete")
			return nil
		case whatsmeow.QRChannelEventError:
			c.client.Disconnect()
			return fmt.Errorf("pairing failed: %w", item.Error)
		default:
			c.client.Disconnect()
			return fmt.Errorf("pairing failed: %s", item.Event)
		}
	}
	c.client.Disconnect()
	if err := pairCtx.Err(); err != nil {
		return fmt.Errorf("pairing: %w", err)
	}

	return fmt.Errorf("pairing: qr channel closed")
}

func (c *meowClient) Disconnect() {
	c.client.Disconnect()
}

func (c *meowClient) SelfJID() (types.JID, bool) {
	if c.client.Store == nil || c.client.Store.ID == nil {
		return types.JID{}, false
	}

	return *c.client.Store.ID, true
}

func (c *meowClient) SendMessage(ctx context.Context, to types.JID, message *waE2E.Message) (string, error) {
	response, err := c.client.SendMessage(ctx, to, message)
	if err != nil {
		return "", err
	}

	return response.ID, nil
}

func (c *meowClient) Upload(
	ctx context.Context,
	data []byte,
	mediaType whatsmeow.MediaType,
) (whatsmeow.UploadResponse, error) {
	return c.client.Upload(ctx, data, mediaType)
}

func (c *meowClient) Download(ctx context.Context, message whatsmeow.DownloadableMessage) ([]byte, error) {
	return c.client.Download(ctx, message)
}

func (c *meowClient) GroupName(ctx context.Context, group types.JID) (string, error) {
	info, err := c.client.GetGroupInfo(ctx, group)
	if err != nil {
		return "", err
	}

	return info.Name, nil
}

func (c *meowClient) Block(ctx context.Context, user types.JID) error {
	_, err := c.client.UpdateBlocklist(ctx, user, events.BlocklistChangeActionBlock)
	return err
}

// setDeviceName sets the name shown in the phone's linked devices list.
func setDeviceName(name string) {
	if name != "" {
		store.DeviceProps.Os = proto.String(name)
	}
}

// logAdapter routes whatsmeow logs onto slog.
type logAdapter struct {
	logger *slog.Logger
}

func newLogAdapter(logger *slog.Logger, module string) waLog.Logger {
	if logger == nil {
		logger = slog.Default()
	}

	return logAdapter{logger: logger.With("whatsmeow", module)}
}

func (l logAdapter) Errorf(msg string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l logAdapter) Warnf(msg string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

func (l logAdapter) Infof(msg string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(msg, args...))
}

func (l logAdapter) Debugf(msg string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l logAdapter) Sub(module string) waLog.Logger {
	return logAdapter{logger: l.logger.With("sub", module)}
}

var (
	_ sessionClient = (*meowClient)(nil)
	_ gatewayClient = (*meowClient)(nil)
)
