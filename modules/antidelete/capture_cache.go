package antidelete

import (
	"container/list"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"wa-recall/pkg/recall"
)

// DefaultCaptureCapacity bounds the capture cache when no option overrides it.
const DefaultCaptureCapacity = 3000

// CapturedMessage is one recoverable message held by the capture cache.
type CapturedMessage struct {
	ChatID    string
	MessageID string
	// Content is the text or caption, possibly empty when media exists.
	Content string
	// MediaType is empty for text-only records.
	MediaType recall.MediaType
	// MediaPath is owned by the cache: eviction, replacement and deletion remove it.
	MediaPath string
	MIMEType  string
	SenderID  string
	IsGroup   bool
	Timestamp time.Time
}

func (m CapturedMessage) hasMedia() bool {
	return m.MediaType != "" && m.MediaPath != ""
}

type captureKey struct {
	chatID    string
	messageID string
}

// CaptureCache is an insertion-ordered map from (chat, message) to the
// captured record, bounded by capacity.
//
// Re-inserting an existing key replaces the record and refreshes its
// position. Every record leaving the cache has its media file removed.
type CaptureCache struct {
	capacity int
	logger   *slog.Logger

	mu    sync.Mutex
	order *list.List
	index map[captureKey]*list.Element
}

// NewCaptureCache creates a cache bounded by capacity.
func NewCaptureCache(capacity int, logger *slog.Logger) *CaptureCache {
	if capacity <= 0 {
		capacity = DefaultCaptureCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CaptureCache{
		capacity: capacity,
		logger:   logger,
		order:    list.New(),
		index:    make(map[captureKey]*list.Element),
	}
}

// Put inserts or replaces one record, evicting the oldest records beyond
// capacity before returning.
func (c *CaptureCache) Put(record CapturedMessage) {
	key := captureKey{chatID: record.ChatID, messageID: record.MessageID}

	var orphaned []string

	c.mu.Lock()
	if element, exists := c.index[key]; exists {
		previous := element.Value.(CapturedMessage)
		if previous.MediaPath != "" && previous.MediaPath != record.MediaPath {
			orphaned = append(orphaned, previous.MediaPath)
		}
		element.Value = record
		c.order.MoveToBack(element)
	} else {
		c.index[key] = c.order.PushBack(record)
	}
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		evicted := c.order.Remove(oldest).(CapturedMessage)
		delete(c.index, captureKey{chatID: evicted.ChatID, messageID: evicted.MessageID})
		if evicted.MediaPath != "" {
			orphaned = append(orphaned, evicted.MediaPath)
		}
	}
	c.mu.Unlock()

	for _, path := range orphaned {
		removeMediaFile(c.logger, path)
	}
}

// Get returns the record for one key.
func (c *CaptureCache) Get(chatID string, messageID string) (CapturedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[captureKey{chatID: chatID, messageID: messageID}]
	if !exists {
		return CapturedMessage{}, false
	}

	return element.Value.(CapturedMessage), true
}

// Delete removes one record and its media file.
func (c *CaptureCache) Delete(chatID string, messageID string) (CapturedMessage, bool) {
	key := captureKey{chatID: chatID, messageID: messageID}

	c.mu.Lock()
	element, exists := c.index[key]
	if !exists {
		c.mu.Unlock()
		return CapturedMessage{}, false
	}
	record := c.order.Remove(element).(CapturedMessage)
	delete(c.index, key)
	c.mu.Unlock()

	if record.MediaPath != "" {
		removeMediaFile(c.logger, record.MediaPath)
	}

	return record, true
}

// Len returns the number of cached records.
func (c *CaptureCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// Purge drops every record and its media file, returning how many were removed.
func (c *CaptureCache) Purge() int {
	c.mu.Lock()
	paths := make([]string, 0, c.order.Len())
	removed := c.order.Len()
	for element := c.order.Front(); element != nil; element = element.Next() {
		if path := element.Value.(CapturedMessage).MediaPath; path != "" {
			paths = append(paths, path)
		}
	}
	c.order.Init()
	c.index = make(map[captureKey]*list.Element)
	c.mu.Unlock()

	for _, path := range paths {
		removeMediaFile(c.logger, path)
	}

	return removed
}

// References lists media paths currently owned by the cache.
func (c *CaptureCache) References() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := make([]string, 0, c.order.Len())
	for element := c.order.Front(); element != nil; element = element.Next() {
		if path := element.Value.(CapturedMessage).MediaPath; path != "" {
			paths = append(paths, path)
		}
	}

	return paths
}

// removeMediaFile deletes path, treating an already missing file as success.
func removeMediaFile(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("remove captured media failed", "path", path, "error", err)
	}
}

var _ recall.MediaReferences = (*CaptureCache)(nil)
