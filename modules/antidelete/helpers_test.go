package antidelete

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"wa-recall/pkg/recall"
)

const (
	testOwnerNumber = "94770000001"
	testOwnerJID    = "94770000001@s.whatsapp.net"
	testBotJID      = "94770000099:12@s.whatsapp.net"
	testGroupJID    = "120363000000000001@g.us"
	testSenderJID   = "94771111111@s.whatsapp.net"
)

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type sentMedia struct {
	request       recall.SendMediaRequest
	existedOnSend bool
}

type stubDispatcher struct {
	mu       sync.Mutex
	messages []recall.SendMessageRequest
	media    []sentMedia
	blocks   []recall.BlockActorRequest

	messageErr error
	mediaErr   error
	blockErr   error
}

func (d *stubDispatcher) SendMessage(_ context.Context, request recall.SendMessageRequest) (*recall.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageErr != nil {
		return nil, d.messageErr
	}
	d.messages = append(d.messages, request)

	return &recall.OutboundMessage{ID: fmt.Sprintf("out-%d", len(d.messages)), Target: request.Target}, nil
}

func (d *stubDispatcher) SendMedia(_ context.Context, request recall.SendMediaRequest) (*recall.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mediaErr != nil {
		return nil, d.mediaErr
	}
	_, statErr := os.Stat(request.Path)
	d.media = append(d.media, sentMedia{request: request, existedOnSend: statErr == nil})

	return &recall.OutboundMessage{ID: fmt.Sprintf("media-%d", len(d.media)), Target: request.Target}, nil
}

func (d *stubDispatcher) BlockActor(_ context.Context, request recall.BlockActorRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.blockErr != nil {
		return d.blockErr
	}
	d.blocks = append(d.blocks, request)

	return nil
}

func (d *stubDispatcher) messagesTo(conversationID string) []recall.SendMessageRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched []recall.SendMessageRequest
	for _, message := range d.messages {
		if message.Target.Conversation.ID == conversationID {
			matched = append(matched, message)
		}
	}

	return matched
}

func (d *stubDispatcher) mediaTo(conversationID string) []sentMedia {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched []sentMedia
	for _, media := range d.media {
		if media.request.Target.Conversation.ID == conversationID {
			matched = append(matched, media)
		}
	}

	return matched
}

func (d *stubDispatcher) totalSends() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.messages) + len(d.media) + len(d.blocks)
}

type stubFetcher struct {
	payload []byte
	err     error
}

func (f stubFetcher) FetchMedia(context.Context, recall.FetchMediaRequest) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.payload, nil
}

type memoryStore struct {
	mu       sync.Mutex
	values   map[string]map[string]string
	allCalls int
	allErr   error
	// getDelay widens the gap between a counter read and its write.
	getDelay time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]map[string]string)}
}

func (s *memoryStore) Get(_ context.Context, scope string, key string) (string, error) {
	if s.getDelay > 0 {
		time.Sleep(s.getDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[scope][key]
	if !ok {
		return "", recall.ErrSettingNotFound
	}

	return value, nil
}

func (s *memoryStore) Set(_ context.Context, scope string, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.values[scope] == nil {
		s.values[scope] = make(map[string]string)
	}
	s.values[scope][key] = value

	return nil
}

func (s *memoryStore) All(_ context.Context, scope string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allCalls++
	if s.allErr != nil {
		return nil, s.allErr
	}
	copied := make(map[string]string, len(s.values[scope]))
	for key, value := range s.values[scope] {
		copied[key] = value
	}

	return copied, nil
}

func (s *memoryStore) allCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.allCalls
}

type memoryToggle struct {
	mu      sync.Mutex
	enabled bool
}

func (t *memoryToggle) Enabled(context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.enabled, nil
}

func (t *memoryToggle) SetEnabled(_ context.Context, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled

	return nil
}

type stubIdentity struct {
	self recall.Identity
}

func (i stubIdentity) Self(context.Context, recall.EventSink) (recall.Identity, bool, error) {
	return i.self, i.self.ActorID != "", nil
}

type stubDirectory struct {
	titles map[string]string
}

func (d stubDirectory) ConversationTitle(_ context.Context, _ recall.EventSink, conversationID string) (string, error) {
	title, ok := d.titles[conversationID]
	if !ok {
		return "", errors.New("unknown conversation")
	}

	return title, nil
}

type mapRegistry struct {
	mu       sync.Mutex
	services map[string]any
}

func (r *mapRegistry) Register(name string, service any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return fmt.Errorf("%w: %s", recall.ErrServiceAlreadyRegistered, name)
	}
	r.services[name] = service

	return nil
}

func (r *mapRegistry) Resolve(name string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	service, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", recall.ErrServiceNotFound, name)
	}

	return service, nil
}

type stubRuntime struct {
	registry *mapRegistry
}

func (r stubRuntime) Services() recall.ServiceRegistry {
	return r.registry
}

type harness struct {
	module     *Module
	dispatcher *stubDispatcher
	store      *memoryStore
	toggle     *memoryToggle
	registry   *mapRegistry
	tempDir    string
}

type harnessConfig struct {
	fetcher  stubFetcher
	settings map[string]string
	options  []Option
}

func newHarness(t *testing.T, config harnessConfig) *harness {
	t.Helper()

	tempDir := t.TempDir()
	store := newMemoryStore()
	for key, value := range config.settings {
		_ = store.Set(context.Background(), recall.SettingsScopeGlobal, key, value)
	}
	if config.fetcher.payload == nil && config.fetcher.err == nil {
		config.fetcher.payload = []byte("media-bytes")
	}

	h := &harness{
		dispatcher: &stubDispatcher{},
		store:      store,
		toggle:     &memoryToggle{},
		registry:   &mapRegistry{services: make(map[string]any)},
		tempDir:    tempDir,
	}
	services := map[string]any{
		recall.ServiceLogger:                slog.New(slog.NewTextHandler(io.Discard, nil)),
		recall.ServiceSinkDispatcher:        h.dispatcher,
		recall.ServiceMediaFetcher:          config.fetcher,
		recall.ServiceSettingsStore:         store,
		recall.ServiceFeatureToggle:         h.toggle,
		recall.ServiceIdentityResolver:      stubIdentity{self: recall.Identity{ActorID: testBotJID, User: "94770000099"}},
		recall.ServiceConversationDirectory: stubDirectory{titles: map[string]string{testGroupJID: "Family"}},
	}
	for name, service := range services {
		if err := h.registry.Register(name, service); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	options := append([]Option{
		WithTempDir(tempDir),
		WithOwner(testOwnerNumber),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testNow }),
	}, config.options...)
	h.module = New(options...)
	if err := h.module.OnRegister(context.Background(), stubRuntime{registry: h.registry}); err != nil {
		t.Fatalf("OnRegister() error = %v", err)
	}
	if err := h.module.OnStart(context.Background()); err != nil {
		t.Fatalf("OnStart() error = %v", err)
	}

	return h
}

func (h *harness) deliver(t *testing.T, event *recall.Event) {
	t.Helper()

	var err error
	switch event.Kind {
	case recall.EventKindMessageCreated:
		err = h.module.handleMessageCreated(context.Background(), event)
	case recall.EventKindMessageRetracted:
		err = h.module.handleMessageRetracted(context.Background(), event)
	default:
		t.Fatalf("unexpected event kind %s", event.Kind)
	}
	if err != nil {
		t.Fatalf("handler(%s) error = %v, want nil", event.Kind, err)
	}
}

func (h *harness) tempFiles(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

func conversationFor(chatID string) recall.Conversation {
	if strings.HasSuffix(chatID, "@g.us") {
		return recall.Conversation{ID: chatID, Type: recall.ConversationTypeGroup}
	}

	return recall.Conversation{ID: chatID, Type: recall.ConversationTypePrivate}
}

func messageEvent(chatID string, messageID string, senderID string, text string, media ...recall.MediaAttachment) *recall.Event {
	return &recall.Event{
		ID:           "evt-" + messageID,
		Kind:         recall.EventKindMessageCreated,
		OccurredAt:   testNow,
		Platform:     recall.PlatformWhatsApp,
		Source:       recall.EventSource{Platform: recall.PlatformWhatsApp, ID: "wa-main"},
		Conversation: conversationFor(chatID),
		Actor:        recall.Actor{ID: senderID},
		Message:      &recall.Message{ID: messageID, Text: text, Media: media},
	}
}

func viewOnceEvent(chatID string, messageID string, senderID string) *recall.Event {
	event := messageEvent(chatID, messageID, senderID, "", recall.MediaAttachment{
		Type:     recall.MediaTypeImage,
		MIMEType: "image/jpeg",
	})
	event.Message.ViewOnce = true

	return event
}

func retractEvent(chatID string, messageID string, deleterID string) *recall.Event {
	return &recall.Event{
		ID:           "evt-revoke-" + messageID,
		Kind:         recall.EventKindMessageRetracted,
		OccurredAt:   testNow,
		Platform:     recall.PlatformWhatsApp,
		Source:       recall.EventSource{Platform: recall.PlatformWhatsApp, ID: "wa-main"},
		Conversation: conversationFor(chatID),
		Actor:        recall.Actor{ID: deleterID},
		Mutation: &recall.Mutation{
			Type:                 recall.MutationTypeRetraction,
			TargetConversationID: chatID,
			TargetMessageID:      messageID,
			TargetSenderID:       deleterID,
		},
	}
}

func writeTempFile(t *testing.T, dir string, name string) string {
	t.Helper()

	path := dir + string(os.PathSeparator) + name
	if err := os.WriteFile(path, []byte(name), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	return path
}

func fileMissing(path string) bool {
	_, err := os.Stat(path)

	return errors.Is(err, os.ErrNotExist)
}
