package antidelete

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wa-recall/pkg/recall"
)

// DefaultIOTimeout bounds each media download and outbound send.
const DefaultIOTimeout = 45 * time.Second

// materializer downloads attachments into the temporary media directory.
type materializer struct {
	fetcher recall.MediaFetcher
	dir     string
	timeout time.Duration
}

// Materialize downloads attachment and writes it to dir/baseName plus the
// extension implied by its type, returning the written path.
func (m materializer) Materialize(
	ctx context.Context,
	source recall.EventSource,
	attachment recall.MediaAttachment,
	baseName string,
) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	payload, err := m.fetcher.FetchMedia(fetchCtx, recall.FetchMediaRequest{
		Source:     source,
		Attachment: attachment,
	})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", attachment.Type, err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("fetch %s: empty payload", attachment.Type)
	}

	path, err := mediaPath(m.dir, baseName+mediaExtension(attachment.Type, attachment.MIMEType))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir %s: %w", m.dir, err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}

// mediaPath joins name onto dir and rejects names that would leave dir.
func mediaPath(dir string, name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("media file name %q is not a plain file name", name)
	}
	path := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel != name {
		return "", fmt.Errorf("media file name %q escapes %s", name, dir)
	}

	return path, nil
}

// safeFileKey maps a message key to a filesystem-safe base name. Message IDs
// are chosen by the sending client, so both parts are sanitized.
func safeFileKey(chatID string, messageID string) string {
	var builder strings.Builder
	builder.Grow(len(chatID) + len(messageID) + 1)
	writeSafe(&builder, chatID)
	builder.WriteByte('_')
	writeSafe(&builder, messageID)

	return builder.String()
}

func writeSafe(builder *strings.Builder, value string) {
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteByte('_')
	}
}

func mediaExtension(mediaType recall.MediaType, mimeType string) string {
	switch mediaType {
	case recall.MediaTypeImage:
		return ".jpg"
	case recall.MediaTypeVideo:
		return ".mp4"
	case recall.MediaTypeSticker:
		return ".webp"
	case recall.MediaTypeAudio:
		mime := strings.ToLower(mimeType)
		switch {
		case strings.Contains(mime, "ogg"):
			return ".ogg"
		case strings.Contains(mime, "mp4"):
			return ".m4a"
		default:
			return ".mp3"
		}
	default:
		return ".bin"
	}
}

// capturableMedia returns the first attachment the capture pipeline keeps.
func capturableMedia(message *recall.Message) (recall.MediaAttachment, bool) {
	if message == nil {
		return recall.MediaAttachment{}, false
	}
	for _, attachment := range message.Media {
		switch attachment.Type {
		case recall.MediaTypeImage, recall.MediaTypeVideo, recall.MediaTypeSticker, recall.MediaTypeAudio:
			return attachment, true
		}
	}

	return recall.MediaAttachment{}, false
}

// viewOnceMedia returns the image or video carried by a view-once message.
func viewOnceMedia(message *recall.Message) (recall.MediaAttachment, bool) {
	if message == nil || !message.ViewOnce {
		return recall.MediaAttachment{}, false
	}
	for _, attachment := range message.Media {
		switch attachment.Type {
		case recall.MediaTypeImage, recall.MediaTypeVideo:
			return attachment, true
		}
	}

	return recall.MediaAttachment{}, false
}
