package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wa-recall/pkg/recall"
)

// moduleRecord stores module metadata and subscriptions managed by the kernel.
type moduleRecord struct {
	name          string
	module        recall.Module
	capabilities  []recall.Capability
	subscriptions []recall.Subscription
	subMu         sync.Mutex
}

func (m *moduleRecord) addSubscription(subscription recall.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes all tracked subscriptions and aggregates close errors.
// Repeated calls are no-ops.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the kernel-owned implementation of recall.ModuleRuntime.
type moduleRuntime struct {
	moduleName    string
	serviceLookup recall.ServiceRegistry
	bus           recall.EventBus
	record        *moduleRecord
	defaultSink   *recall.EventSink
}

// Services returns the kernel service registry visible to the module.
func (r *moduleRuntime) Services() recall.ServiceRegistry {
	return moduleServiceRegistry{
		base:        r.serviceLookup,
		defaultSink: cloneSinkRef(r.defaultSink),
	}
}

// subscribe registers a module-owned subscription after capability checks.
func (r *moduleRuntime) subscribe(
	ctx context.Context,
	interest recall.InterestSet,
	spec recall.SubscriptionSpec,
	handler recall.EventHandler,
) (recall.Subscription, error) {
	if err := assertSubscriptionAllowed(r.record.capabilities, spec.Name, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.addSubscription(subscription)

	return subscription, nil
}

// assertSubscriptionAllowed requires the interest to be covered by a declared capability.
func assertSubscriptionAllowed(capabilities []recall.Capability, subscriptionName string, interest recall.InterestSet) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("subscription %s requires at least one declared capability", subscriptionName)
	}
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return nil
		}
	}

	return fmt.Errorf("subscription %s does not match declared module capabilities", subscriptionName)
}

// moduleServiceRegistry injects the module's default sink into resolved dispatchers.
type moduleServiceRegistry struct {
	base        recall.ServiceRegistry
	defaultSink *recall.EventSink
}

func (r moduleServiceRegistry) Register(name string, service any) error {
	if err := r.base.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

func (r moduleServiceRegistry) Resolve(name string) (any, error) {
	service, err := r.base.Resolve(name)
	if err != nil {
		return nil, err
	}
	if name != recall.ServiceSinkDispatcher || r.defaultSink == nil {
		return service, nil
	}
	dispatcher, ok := service.(recall.SinkDispatcher)
	if !ok {
		return nil, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return moduleSinkDispatcher{
		base:        dispatcher,
		defaultSink: cloneSinkRef(r.defaultSink),
	}, nil
}

type moduleSinkDispatcher struct {
	base        recall.SinkDispatcher
	defaultSink *recall.EventSink
}

func (d moduleSinkDispatcher) SendMessage(
	ctx context.Context,
	request recall.SendMessageRequest,
) (*recall.OutboundMessage, error) {
	request.Target = withDefaultSink(request.Target, d.defaultSink)
	message, err := d.base.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("send message with module sink routing: %w", err)
	}

	return message, nil
}

func (d moduleSinkDispatcher) SendMedia(
	ctx context.Context,
	request recall.SendMediaRequest,
) (*recall.OutboundMessage, error) {
	request.Target = withDefaultSink(request.Target, d.defaultSink)
	message, err := d.base.SendMedia(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("send media with module sink routing: %w", err)
	}

	return message, nil
}

func (d moduleSinkDispatcher) BlockActor(ctx context.Context, request recall.BlockActorRequest) error {
	if request.Sink == nil {
		request.Sink = cloneSinkRef(d.defaultSink)
	}
	if err := d.base.BlockActor(ctx, request); err != nil {
		return fmt.Errorf("block actor with module sink routing: %w", err)
	}

	return nil
}

func withDefaultSink(target recall.OutboundTarget, defaultSink *recall.EventSink) recall.OutboundTarget {
	if target.Sink != nil || defaultSink == nil {
		return target
	}
	target.Sink = cloneSinkRef(defaultSink)

	return target
}

func cloneSinkRef(sink *recall.EventSink) *recall.EventSink {
	if sink == nil {
		return nil
	}
	cloned := *sink

	return &cloned
}
