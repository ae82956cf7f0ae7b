package recall

import "context"

const (
	// ServiceMediaFetcher is the service registry key for media downloads.
	ServiceMediaFetcher = "recall.media_fetcher"
	// ServiceConversationDirectory is the service registry key for conversation lookups.
	ServiceConversationDirectory = "recall.conversation_directory"
	// ServiceIdentityResolver is the service registry key for logged-in identity lookups.
	ServiceIdentityResolver = "recall.identity_resolver"
	// ServiceMediaReferences is the service registry key for live media path listings.
	ServiceMediaReferences = "recall.media_references"
)

// MediaFetcher downloads attachment bytes described by a driver locator.
type MediaFetcher interface {
	// FetchMedia downloads and decrypts one attachment.
	FetchMedia(ctx context.Context, request FetchMediaRequest) ([]byte, error)
}

// FetchMediaRequest identifies one attachment to download.
type FetchMediaRequest struct {
	// Source is the driver instance that produced the attachment.
	Source EventSource
	// Attachment carries the opaque locator produced by that driver.
	Attachment MediaAttachment
}

// ConversationDirectory resolves conversation metadata on demand.
type ConversationDirectory interface {
	// ConversationTitle returns the display title of a conversation.
	ConversationTitle(ctx context.Context, sink EventSink, conversationID string) (string, error)
}

// Identity describes the account a driver is logged in as.
type Identity struct {
	// ActorID is the full identifier of the logged-in account.
	ActorID string
	// User is the bare user part without device or server suffixes.
	User string
}

// IdentityResolver exposes the logged-in account of a sink.
type IdentityResolver interface {
	// Self returns the logged-in identity, or ok=false before pairing completes.
	Self(ctx context.Context, sink EventSink) (identity Identity, ok bool, err error)
}

// MediaReferences lists local media files that are still referenced by live state.
type MediaReferences interface {
	// References returns absolute paths currently owned by live entries.
	References() []string
}
