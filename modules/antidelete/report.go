package antidelete

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"wa-recall/pkg/recall"
)

const (
	// userServer is the WhatsApp server suffix for personal accounts.
	userServer = "s.whatsapp.net"
	// maxViewOnceWarnings is the violation count that triggers a block.
	maxViewOnceWarnings = 3
	reportTimeLayout    = "01/02/2006, 03:04:05 PM"
)

// DefaultReportLocation is used when Asia/Colombo cannot be loaded.
var DefaultReportLocation = loadReportLocation("Asia/Colombo")

func loadReportLocation(name string) *time.Location {
	location, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}

	return location
}

// jidUser returns the user part of an identity, dropping the server and any
// device suffix ("user:device@server").
func jidUser(id string) string {
	user, _, _ := strings.Cut(id, "@")
	user, _, _ = strings.Cut(user, ":")

	return user
}

// sameUser compares identities by user part.
func sameUser(left string, right string) bool {
	leftUser := jidUser(left)

	return leftUser != "" && leftUser == jidUser(right)
}

// ownerJIDFromNumber turns a configured owner number into a user JID.
func ownerJIDFromNumber(number string) string {
	number = strings.TrimSpace(number)
	if number == "" {
		return ""
	}
	if strings.Contains(number, "@") {
		return number
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, number)
	if digits == "" {
		return ""
	}

	return digits + "@" + userServer
}

func mentionTag(id string) string {
	return "@" + jidUser(id)
}

type deletionReport struct {
	DeletedBy  string
	Sender     string
	At         time.Time
	GroupTitle string
	Content    string
}

func (r deletionReport) Text(location *time.Location) string {
	var builder strings.Builder
	builder.WriteString("🔰 *ANTIDELETE REPORT* 🔰\n\n")
	fmt.Fprintf(&builder, "🗑️ *Deleted By:* %s\n", mentionTag(r.DeletedBy))
	fmt.Fprintf(&builder, "👤 *Sender:* %s\n", mentionTag(r.Sender))
	fmt.Fprintf(&builder, "🕒 *Time:* %s\n", r.At.In(location).Format(reportTimeLayout))
	if r.GroupTitle != "" {
		fmt.Fprintf(&builder, "👥 *Group:* %s\n", r.GroupTitle)
	}
	if r.Content != "" {
		fmt.Fprintf(&builder, "\n💬 *Deleted Message:*\n%s", r.Content)
	}

	return builder.String()
}

func (r deletionReport) Mentions() []string {
	return uniqueMentions(r.DeletedBy, r.Sender)
}

func resendText(sender string, content string) string {
	return fmt.Sprintf("🔰 *ANTIDELETE RESEND* 🔰\n\n👤 *From:* %s\n\n💬 *Message:*\n%s", mentionTag(sender), content)
}

func deletedMediaCaption(mediaType recall.MediaType, sender string) string {
	return fmt.Sprintf("*Deleted %s*\nFrom: %s", titleWord(string(mediaType)), mentionTag(sender))
}

func resendMediaCaption(mediaType recall.MediaType, sender string) string {
	return "🔰 *ANTIDELETE RESEND* 🔰\n\n" + deletedMediaCaption(mediaType, sender)
}

func mediaErrorText(err error) string {
	return fmt.Sprintf("⚠️ Error sending media: %v", err)
}

func viewOnceReportText(sender string, mediaType recall.MediaType, at time.Time, location *time.Location) string {
	return fmt.Sprintf(
		"🔰 *ANTI-VIEWONCE DETECTED* 🔰\n\n👤 *From:* %s\n📁 *Type:* %s\n🕒 *Time:* %s",
		mentionTag(sender),
		strings.ToUpper(string(mediaType)),
		at.In(location).Format(reportTimeLayout),
	)
}

func viewOnceWarnText(sender string, warnings int) string {
	return fmt.Sprintf(
		"⚠️ %s, ViewOnce media is not allowed! Warning *%d/%d*.\n_Media detected and logged._",
		mentionTag(sender),
		warnings,
		maxViewOnceWarnings,
	)
}

func viewOnceBlockText(sender string) string {
	return fmt.Sprintf("❌ %s reached %d warnings and will be blocked.", mentionTag(sender), maxViewOnceWarnings)
}

func titleWord(word string) string {
	if word == "" {
		return word
	}

	return strings.ToUpper(word[:1]) + word[1:]
}

func uniqueMentions(ids ...string) []string {
	mentions := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}
		mentions = append(mentions, id)
	}

	return mentions
}

// sendText delivers one text message under the I/O timeout.
func (m *Module) sendText(
	ctx context.Context,
	sink *recall.EventSink,
	conversationID string,
	text string,
	mentions []string,
) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.ioTimeout)
	defer cancel()

	_, err := m.dispatcher.SendMessage(sendCtx, recall.SendMessageRequest{
		Target:   targetFor(sink, conversationID),
		Text:     text,
		Mentions: mentions,
	})
	if err != nil {
		return fmt.Errorf("send message to %s: %w", conversationID, err)
	}

	return nil
}

// sendMediaFile uploads one local file under the I/O timeout. Stickers and
// audio carry no caption.
func (m *Module) sendMediaFile(
	ctx context.Context,
	sink *recall.EventSink,
	conversationID string,
	mediaType recall.MediaType,
	path string,
	mimeType string,
	caption string,
	mentions []string,
) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.ioTimeout)
	defer cancel()

	request := recall.SendMediaRequest{
		Target:   targetFor(sink, conversationID),
		Type:     mediaType,
		Path:     path,
		MIMEType: mimeType,
	}
	switch mediaType {
	case recall.MediaTypeImage, recall.MediaTypeVideo:
		request.Caption = caption
		request.Mentions = mentions
	case recall.MediaTypeAudio:
		if request.MIMEType == "" {
			request.MIMEType = "audio/mpeg"
		}
	}

	if _, err := m.dispatcher.SendMedia(sendCtx, request); err != nil {
		return fmt.Errorf("send %s to %s: %w", mediaType, conversationID, err)
	}

	return nil
}

func targetFor(sink *recall.EventSink, conversationID string) recall.OutboundTarget {
	conversationType := recall.ConversationTypePrivate
	if strings.HasSuffix(conversationID, "@g.us") {
		conversationType = recall.ConversationTypeGroup
	}

	target := recall.OutboundTarget{
		Conversation: recall.Conversation{ID: conversationID, Type: conversationType},
	}
	if sink != nil {
		sinkCopy := *sink
		target.Sink = &sinkCopy
	}

	return target
}
