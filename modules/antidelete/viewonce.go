package antidelete

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"wa-recall/pkg/recall"
)

// interceptViewOnce materializes view-once media, routes it per mode and
// always removes the temporary file afterwards. Nothing is cached.
func (m *Module) interceptViewOnce(
	ctx context.Context,
	event *recall.Event,
	mode ViewOnceMode,
	attachment recall.MediaAttachment,
) {
	sender := senderOf(event)
	sink := recall.SinkFromEvent(event)
	logger := m.logger.With(
		"chat", event.Conversation.ID,
		"message_id", event.Message.ID,
		"sender", sender,
		"mode", mode,
	)

	path, err := m.media.Materialize(ctx, event.Source, attachment, "viewonce_"+uuid.NewString())
	if err != nil {
		logger.WarnContext(ctx, "antiviewonce download failed", "error", err)
		return
	}
	defer removeMediaFile(m.logger, path)

	caption := viewOnceReportText(sender, attachment.Type, m.now(), m.location)
	mentions := []string{sender}

	switch mode {
	case ViewOnceModeChat:
		err = m.sendMediaFile(ctx, sink, event.Conversation.ID, attachment.Type, path, attachment.MIMEType, caption, mentions)
	case ViewOnceModeWarn:
		err = m.warnViewOnce(ctx, sink, event.Conversation.ID, sender)
	default:
		owner := m.ownerID(ctx, sink)
		if owner == "" {
			logger.WarnContext(ctx, "antiviewonce owner unknown, dropping media")
			return
		}
		err = m.sendMediaFile(ctx, sink, owner, attachment.Type, path, attachment.MIMEType, caption, mentions)
	}
	if err != nil {
		logger.WarnContext(ctx, "antiviewonce dispatch failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "antiviewonce media intercepted", "media_type", attachment.Type)
}

// warnViewOnce bumps the sender's counter, warns in the chat and blocks the
// sender once the limit is reached. The counter resets after a block.
// Increment, block and reset run under the sender's lock.
func (m *Module) warnViewOnce(ctx context.Context, sink *recall.EventSink, chatID string, sender string) error {
	unlock := m.warnLocks.Lock(sender)
	defer unlock()

	warnings, err := m.settings.IncrementWarns(ctx, sender)
	if err != nil {
		return err
	}

	if err := m.sendText(ctx, sink, chatID, viewOnceWarnText(sender, warnings), []string{sender}); err != nil {
		m.logger.WarnContext(ctx, "antiviewonce warning not delivered", "sender", sender, "error", err)
	}
	if warnings < maxViewOnceWarnings {
		return nil
	}

	if err := m.sendText(ctx, sink, chatID, viewOnceBlockText(sender), []string{sender}); err != nil {
		m.logger.WarnContext(ctx, "antiviewonce block notice not delivered", "sender", sender, "error", err)
	}

	blockCtx, cancel := context.WithTimeout(ctx, m.ioTimeout)
	defer cancel()
	if err := m.dispatcher.BlockActor(blockCtx, recall.BlockActorRequest{ActorID: sender, Sink: sink}); err != nil {
		return fmt.Errorf("block %s: %w", sender, err)
	}
	m.logger.InfoContext(ctx, "antiviewonce sender blocked", "sender", sender, "warnings", warnings)

	return m.settings.ResetWarns(ctx, sender)
}

// senderLocks hands out one mutex per sender. Entries are dropped once no
// caller holds or waits for them.
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLock
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until the sender's lock is held and returns its release func.
func (l *senderLocks) Lock(sender string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*senderLock)
	}
	entry, ok := l.locks[sender]
	if !ok {
		entry = &senderLock{}
		l.locks[sender] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, sender)
		}
		l.mu.Unlock()
	}
}
