package whatsapp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

type fakeSession struct {
	mu           sync.Mutex
	handler      whatsmeow.EventHandler
	loginErr     error
	emit         []any
	disconnected bool
	removed      bool
}

func (s *fakeSession) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = handler
	return 7
}

func (s *fakeSession) RemoveEventHandler(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removed = id == 7
	return s.removed
}

func (s *fakeSession) Login(context.Context) error {
	if s.loginErr != nil {
		return s.loginErr
	}
	s.mu.Lock()
	handler, emit := s.handler, s.emit
	s.mu.Unlock()
	for _, evt := range emit {
		handler(evt)
	}

	return nil
}

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnected = true
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientSourceForwardsMappedMessages(t *testing.T) {
	t.Parallel()

	session := &fakeSession{emit: []any{
		&events.Connected{},
		groupMessage("M1", &waE2E.Message{Conversation: proto.String("one")}),
		groupMessage("X", &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{}}),
		groupMessage("M2", &waE2E.Message{Conversation: proto.String("two")}),
	}}
	source, err := newClientSource(session, NewDefaultEventMapper(), WithSourceLogger(quietLogger()), WithUpdateBuffer(8))
	if err != nil {
		t.Fatalf("newClientSource() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		ids []string
	)
	done := make(chan error, 1)
	go func() {
		done <- source.Consume(ctx, func(_ context.Context, update Update) error {
			mu.Lock()
			defer mu.Unlock()
			ids = append(ids, update.Message.ID)
			if len(ids) == 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume() did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 2 || ids[0] != "M1" || ids[1] != "M2" {
		t.Fatalf("forwarded = %v, want [M1 M2]", ids)
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.disconnected || !session.removed {
		t.Fatalf("session disconnected=%v removed=%v, want both", session.disconnected, session.removed)
	}
}

func TestClientSourceReturnsLoginError(t *testing.T) {
	t.Parallel()

	loginErr := errors.New("pairing timed out")
	source, err := newClientSource(&fakeSession{loginErr: loginErr}, NewDefaultEventMapper())
	if err != nil {
		t.Fatalf("newClientSource() error = %v", err)
	}

	err = source.Consume(context.Background(), func(context.Context, Update) error { return nil })
	if !errors.Is(err, loginErr) {
		t.Fatalf("Consume() error = %v, want %v", err, loginErr)
	}
}
