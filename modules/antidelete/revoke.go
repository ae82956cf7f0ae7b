package antidelete

import (
	"context"
	"errors"
	"os"

	"wa-recall/pkg/recall"
)

// handleMessageRetracted reports one retracted message held by the capture
// cache. A miss is the normal outcome and produces nothing.
func (m *Module) handleMessageRetracted(ctx context.Context, event *recall.Event) error {
	if event == nil || event.Mutation == nil || event.Mutation.TargetMessageID == "" {
		return nil
	}

	config := m.settings.Load(ctx)
	if !config.AntideleteEnabled {
		return nil
	}
	mode := config.AntideleteMode
	sink := recall.SinkFromEvent(event)

	deleter := deleterOf(event)
	if m.isSelf(ctx, sink, event.Actor, deleter) {
		return nil
	}

	chatID := event.RetractedConversationID()
	record, found := m.cache.Get(chatID, event.Mutation.TargetMessageID)
	if !found {
		return nil
	}
	if mode == AntideleteModePrivate && record.IsGroup {
		return nil
	}
	defer m.cache.Delete(record.ChatID, record.MessageID)

	owner := m.ownerID(ctx, sink)
	resendToChat := mode == AntideleteModeChat && record.IsGroup
	reportTarget := owner
	if resendToChat {
		reportTarget = record.ChatID
	}

	logger := m.logger.With(
		"chat", record.ChatID,
		"message_id", record.MessageID,
		"deleted_by", deleter,
		"mode", mode,
	)

	report := deletionReport{
		DeletedBy: deleter,
		Sender:    record.SenderID,
		At:        m.now(),
		Content:   record.Content,
	}
	if record.IsGroup {
		report.GroupTitle = m.conversationTitle(ctx, sink, record.ChatID)
	}

	if reportTarget == "" {
		logger.WarnContext(ctx, "antidelete owner unknown, report dropped")
	} else if err := m.sendText(ctx, sink, reportTarget, report.Text(m.location), report.Mentions()); err != nil {
		logger.WarnContext(ctx, "antidelete report not delivered", "target", reportTarget, "error", err)
	}

	if resendToChat && record.Content != "" {
		if err := m.sendText(ctx, sink, record.ChatID, resendText(record.SenderID, record.Content), []string{record.SenderID}); err != nil {
			logger.WarnContext(ctx, "antidelete resend not delivered", "error", err)
		}
	}

	if record.hasMedia() && fileExists(record.MediaPath) {
		m.replayMedia(ctx, sink, owner, record, resendToChat)
	}

	logger.InfoContext(ctx, "antidelete reported retraction", "media_type", record.MediaType)

	return nil
}

// replayMedia sends the captured file to the owner and, when requested, back
// into the group. Failures are reported to the owner as text.
func (m *Module) replayMedia(
	ctx context.Context,
	sink *recall.EventSink,
	owner string,
	record CapturedMessage,
	resendToChat bool,
) {
	mentions := []string{record.SenderID}
	var sendErrs []error

	if owner != "" {
		caption := deletedMediaCaption(record.MediaType, record.SenderID)
		if err := m.sendMediaFile(ctx, sink, owner, record.MediaType, record.MediaPath, record.MIMEType, caption, mentions); err != nil {
			sendErrs = append(sendErrs, err)
		}
	}
	if resendToChat {
		caption := resendMediaCaption(record.MediaType, record.SenderID)
		if err := m.sendMediaFile(ctx, sink, record.ChatID, record.MediaType, record.MediaPath, record.MIMEType, caption, mentions); err != nil {
			sendErrs = append(sendErrs, err)
		}
	}

	if len(sendErrs) == 0 {
		return
	}
	err := errors.Join(sendErrs...)
	m.logger.WarnContext(ctx, "antidelete media replay failed",
		"chat", record.ChatID,
		"message_id", record.MessageID,
		"error", err,
	)
	if owner == "" {
		return
	}
	if noticeErr := m.sendText(ctx, sink, owner, mediaErrorText(err), nil); noticeErr != nil {
		m.logger.WarnContext(ctx, "antidelete media failure notice not delivered", "error", noticeErr)
	}
}

// deleterOf returns who performed the retraction, falling back to the
// original author and then to the conversation.
func deleterOf(event *recall.Event) string {
	switch {
	case event.Actor.ID != "":
		return event.Actor.ID
	case event.Mutation.TargetSenderID != "":
		return event.Mutation.TargetSenderID
	default:
		return event.RetractedConversationID()
	}
}

func (m *Module) isSelf(ctx context.Context, sink *recall.EventSink, actor recall.Actor, deleter string) bool {
	if actor.IsSelf {
		return true
	}
	self, ok := m.selfIdentity(ctx, sink)
	if !ok {
		return false
	}
	if self.User != "" && jidUser(deleter) == self.User {
		return true
	}

	return sameUser(deleter, self.ActorID)
}

// conversationTitle looks up a group subject, ignoring failures.
func (m *Module) conversationTitle(ctx context.Context, sink *recall.EventSink, conversationID string) string {
	if m.directory == nil {
		return ""
	}
	var ref recall.EventSink
	if sink != nil {
		ref = *sink
	}

	lookupCtx, cancel := context.WithTimeout(ctx, m.ioTimeout)
	defer cancel()
	title, err := m.directory.ConversationTitle(lookupCtx, ref, conversationID)
	if err != nil {
		m.logger.DebugContext(ctx, "antidelete group title lookup failed", "chat", conversationID, "error", err)
		return ""
	}

	return title
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}
