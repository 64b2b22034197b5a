package outbox

import "context"

// Subscriber consumes events of the topics it is registered for. The same
// event may be handed to a subscriber more than once after a partial delivery
// failure; side effects are expected to be idempotent.
type Subscriber interface {
	// ID identifies the subscription in recorded failures.
	ID() string
	// Handle processes one event. The context carries the per-invocation
	// delivery deadline.
	Handle(ctx context.Context, event *Event) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc struct {
	SubscriptionID string
	Fn             func(ctx context.Context, event *Event) error
}

// ID implements Subscriber.
func (s SubscriberFunc) ID() string { return s.SubscriptionID }

// Handle implements Subscriber.
func (s SubscriberFunc) Handle(ctx context.Context, event *Event) error {
	return s.Fn(ctx, event)
}

// Registry maps topics to their subscribers. It is populated once at startup
// and read concurrently by the crawler; registration is not synchronized.
type Registry struct {
	subscribers map[Topic][]Subscriber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[Topic][]Subscriber),
	}
}

// Register adds a subscriber for each of the given topics.
func (r *Registry) Register(subscriber Subscriber, topics ...Topic) {
	for _, topic := range topics {
		r.subscribers[topic] = append(r.subscribers[topic], subscriber)
	}
}

// Subscribers returns the subscribers registered for a topic, in registration
// order.
func (r *Registry) Subscribers(topic Topic) []Subscriber {
	return r.subscribers[topic]
}
