package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"wa-recall/pkg/recall"
)

// Definition describes one configured driver entry.
type Definition struct {
	// Name is the stable configured driver instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores driver-type-specific JSON payload.
	Config []byte
}

// Runtime contains one fully built driver runtime instance.
type Runtime struct {
	// Source identifies the concrete event source produced by Driver.
	Source recall.EventSource
	// Driver is the inbound runtime implementation registered with kernel.
	Driver recall.Driver
	// SinkDispatcher adapts outbound operations for this runtime when supported.
	SinkDispatcher recall.SinkDispatcher
	// MediaFetcher downloads attachments produced by Driver when supported.
	MediaFetcher recall.MediaFetcher
	// Directory resolves conversation titles for this runtime when supported.
	Directory recall.ConversationDirectory
	// Identity exposes the logged-in account of this runtime when supported.
	Identity recall.IdentityResolver
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one driver type token to platform metadata and a runtime builder.
type Descriptor struct {
	// Type is the driver type token from configuration (for example "whatsapp").
	Type string
	// Platform is the neutral platform for this driver type.
	Platform recall.Platform
	// Builder constructs one runtime instance for this driver type.
	Builder BuilderFunc
}

type registryEntry struct {
	platform recall.Platform
	builder  BuilderFunc
}

// Registry maps driver types to runtime builders and type-level platform metadata.
type Registry struct {
	entries map[string]registryEntry
	types   []string
}

// NewRegistry creates one immutable driver registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	entries := make(map[string]registryEntry, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Platform == "" {
			return nil, fmt.Errorf("new registry type %s: empty platform", descriptor.Type)
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := entries[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		entries[descriptor.Type] = registryEntry{
			platform: descriptor.Platform,
			builder:  descriptor.Builder,
		}
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{
		entries: entries,
		types:   types,
	}, nil
}

// Types returns all registered driver types in deterministic sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.types))
	copy(types, r.types)

	return types
}

// PlatformForType resolves one registered driver type to its neutral platform.
func (r *Registry) PlatformForType(driverType string) (recall.Platform, error) {
	if r == nil {
		return "", fmt.Errorf("resolve platform: nil registry")
	}

	entry, exists := r.entries[driverType]
	if !exists {
		return "", fmt.Errorf("unsupported type %s", driverType)
	}

	return entry.platform, nil
}

// BuildEnabled builds all enabled driver definitions.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return nil, fmt.Errorf("build driver %s: empty type", definition.Name)
		}

		entry, exists := r.entries[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s type %s: unsupported type", definition.Name, definition.Type)
		}

		runtime, err := entry.builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil driver", definition.Name, definition.Type)
		}
		if runtime.Source.Platform == "" {
			return nil, fmt.Errorf("build driver %s type %s: missing source platform", definition.Name, definition.Type)
		}
		if runtime.Source.ID == "" {
			runtime.Source.ID = definition.Name
		}

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

type sinkRoute struct {
	ref        recall.EventSink
	dispatcher recall.SinkDispatcher
	fetcher    recall.MediaFetcher
	directory  recall.ConversationDirectory
	identity   recall.IdentityResolver
}

// CompositeSinkDispatcher routes sink operations and gateway lookups to the
// runtime that owns the sink.
type CompositeSinkDispatcher struct {
	byID         map[string]sinkRoute
	byPlatform   map[recall.Platform][]string
	sortedSinkID []string
}

// NewCompositeSinkDispatcher creates a composite dispatcher from runtime sinks.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	byID := make(map[string]sinkRoute)
	byPlatform := make(map[recall.Platform][]string)
	sortedIDs := make([]string, 0, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil && runtime.MediaFetcher == nil &&
			runtime.Directory == nil && runtime.Identity == nil {
			continue
		}
		if runtime.Source.ID == "" {
			return nil, fmt.Errorf("new composite sink dispatcher: missing sink id")
		}
		if _, exists := byID[runtime.Source.ID]; exists {
			return nil, fmt.Errorf("new composite sink dispatcher: duplicate sink id %s", runtime.Source.ID)
		}

		ref := recall.EventSink{
			Platform: runtime.Source.Platform,
			ID:       runtime.Source.ID,
		}
		byID[ref.ID] = sinkRoute{
			ref:        ref,
			dispatcher: runtime.SinkDispatcher,
			fetcher:    runtime.MediaFetcher,
			directory:  runtime.Directory,
			identity:   runtime.Identity,
		}
		byPlatform[ref.Platform] = append(byPlatform[ref.Platform], ref.ID)
		sortedIDs = append(sortedIDs, ref.ID)
	}
	sort.Strings(sortedIDs)

	return &CompositeSinkDispatcher{
		byID:         byID,
		byPlatform:   byPlatform,
		sortedSinkID: sortedIDs,
	}, nil
}

// SendMessage routes send-message requests to one concrete sink.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request recall.SendMessageRequest,
) (*recall.OutboundMessage, error) {
	route, err := d.resolve(request.Target.Sink)
	if err != nil {
		return nil, fmt.Errorf("resolve sink for send message: %w", err)
	}
	if route.dispatcher == nil {
		return nil, fmt.Errorf("%w: sink %s cannot send", recall.ErrOutboundUnsupported, route.ref.ID)
	}

	response, err := route.dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}

	return response, nil
}

// SendMedia routes send-media requests to one concrete sink.
func (d *CompositeSinkDispatcher) SendMedia(
	ctx context.Context,
	request recall.SendMediaRequest,
) (*recall.OutboundMessage, error) {
	route, err := d.resolve(request.Target.Sink)
	if err != nil {
		return nil, fmt.Errorf("resolve sink for send media: %w", err)
	}
	if route.dispatcher == nil {
		return nil, fmt.Errorf("%w: sink %s cannot send", recall.ErrOutboundUnsupported, route.ref.ID)
	}

	response, err := route.dispatcher.SendMedia(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route send media: %w", err)
	}

	return response, nil
}

// BlockActor routes block requests to one concrete sink.
func (d *CompositeSinkDispatcher) BlockActor(ctx context.Context, request recall.BlockActorRequest) error {
	route, err := d.resolve(request.Sink)
	if err != nil {
		return fmt.Errorf("resolve sink for block actor: %w", err)
	}
	if route.dispatcher == nil {
		return fmt.Errorf("%w: sink %s cannot block", recall.ErrOutboundUnsupported, route.ref.ID)
	}

	if err := route.dispatcher.BlockActor(ctx, request); err != nil {
		return fmt.Errorf("route block actor: %w", err)
	}

	return nil
}

// FetchMedia routes downloads to the runtime that produced the attachment.
func (d *CompositeSinkDispatcher) FetchMedia(ctx context.Context, request recall.FetchMediaRequest) ([]byte, error) {
	var ref *recall.EventSink
	if request.Source.ID != "" || request.Source.Platform != "" {
		ref = &recall.EventSink{Platform: request.Source.Platform, ID: request.Source.ID}
	}
	route, err := d.resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve source for fetch media: %w", err)
	}
	if route.fetcher == nil {
		return nil, fmt.Errorf("%w: source %s cannot fetch media", recall.ErrOutboundUnsupported, route.ref.ID)
	}

	data, err := route.fetcher.FetchMedia(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route fetch media: %w", err)
	}

	return data, nil
}

// ConversationTitle routes title lookups to one concrete sink.
func (d *CompositeSinkDispatcher) ConversationTitle(
	ctx context.Context,
	sink recall.EventSink,
	conversationID string,
) (string, error) {
	route, err := d.resolve(sinkPointer(sink))
	if err != nil {
		return "", fmt.Errorf("resolve sink for conversation title: %w", err)
	}
	if route.directory == nil {
		return "", fmt.Errorf("%w: sink %s has no directory", recall.ErrOutboundUnsupported, route.ref.ID)
	}

	title, err := route.directory.ConversationTitle(ctx, route.ref, conversationID)
	if err != nil {
		return "", fmt.Errorf("route conversation title: %w", err)
	}

	return title, nil
}

// Self routes identity lookups to one concrete sink.
func (d *CompositeSinkDispatcher) Self(ctx context.Context, sink recall.EventSink) (recall.Identity, bool, error) {
	route, err := d.resolve(sinkPointer(sink))
	if err != nil {
		return recall.Identity{}, false, fmt.Errorf("resolve sink for self: %w", err)
	}
	if route.identity == nil {
		return recall.Identity{}, false, nil
	}

	identity, ok, err := route.identity.Self(ctx, route.ref)
	if err != nil {
		return recall.Identity{}, false, fmt.Errorf("route self: %w", err)
	}

	return identity, ok, nil
}

// ListSinks returns all known concrete sinks.
func (d *CompositeSinkDispatcher) ListSinks(ctx context.Context) ([]recall.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	sinks := make([]recall.EventSink, 0, len(d.sortedSinkID))
	for _, id := range d.sortedSinkID {
		route, exists := d.byID[id]
		if !exists {
			continue
		}
		sinks = append(sinks, route.ref)
	}

	return sinks, nil
}

func sinkPointer(sink recall.EventSink) *recall.EventSink {
	if sink.ID == "" && sink.Platform == "" {
		return nil
	}

	return &sink
}

func (d *CompositeSinkDispatcher) resolve(ref *recall.EventSink) (sinkRoute, error) {
	if d == nil {
		return sinkRoute{}, fmt.Errorf("nil dispatcher")
	}
	if len(d.byID) == 0 {
		return sinkRoute{}, fmt.Errorf("%w: no sinks configured", recall.ErrOutboundUnsupported)
	}

	if ref != nil {
		return d.resolveSinkRef(*ref)
	}
	if len(d.byID) == 1 {
		for _, route := range d.byID {
			return route, nil
		}
	}

	return sinkRoute{}, fmt.Errorf("%w: missing target sink", recall.ErrOutboundUnsupported)
}

func (d *CompositeSinkDispatcher) resolveSinkRef(ref recall.EventSink) (sinkRoute, error) {
	if ref.ID != "" {
		route, exists := d.byID[ref.ID]
		if !exists {
			return sinkRoute{}, fmt.Errorf("%w: sink %s not found", recall.ErrOutboundUnsupported, ref.ID)
		}
		if ref.Platform != "" && route.ref.Platform != ref.Platform {
			return sinkRoute{}, fmt.Errorf(
				"%w: sink %s platform mismatch: expected %s got %s",
				recall.ErrOutboundUnsupported,
				ref.ID,
				ref.Platform,
				route.ref.Platform,
			)
		}

		return route, nil
	}
	if ref.Platform != "" {
		ids := d.byPlatform[ref.Platform]
		if len(ids) == 0 {
			return sinkRoute{}, fmt.Errorf("%w: no sink for platform %s", recall.ErrOutboundUnsupported, ref.Platform)
		}
		if len(ids) > 1 {
			return sinkRoute{}, fmt.Errorf("%w: ambiguous sink for platform %s", recall.ErrOutboundUnsupported, ref.Platform)
		}

		return d.byID[ids[0]], nil
	}

	return sinkRoute{}, fmt.Errorf("%w: empty sink reference", recall.ErrOutboundUnsupported)
}

var (
	_ recall.SinkDispatcher        = (*CompositeSinkDispatcher)(nil)
	_ recall.MediaFetcher          = (*CompositeSinkDispatcher)(nil)
	_ recall.ConversationDirectory = (*CompositeSinkDispatcher)(nil)
	_ recall.IdentityResolver      = (*CompositeSinkDispatcher)(nil)
)
