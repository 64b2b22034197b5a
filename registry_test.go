package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	mailer := SubscriberFunc{SubscriptionID: "mailer", Fn: func(ctx context.Context, event *Event) error { return nil }}
	webhook := SubscriberFunc{SubscriptionID: "webhook", Fn: func(ctx context.Context, event *Event) error { return nil }}

	registry.Register(mailer, "ConventionSubmitted", "ConventionRejected")
	registry.Register(webhook, "ConventionSubmitted")

	submitted := registry.Subscribers("ConventionSubmitted")
	assert.Len(t, submitted, 2)
	assert.Equal(t, "mailer", submitted[0].ID())
	assert.Equal(t, "webhook", submitted[1].ID())

	rejected := registry.Subscribers("ConventionRejected")
	assert.Len(t, rejected, 1)
	assert.Equal(t, "mailer", rejected[0].ID())
}

func TestRegistry_Subscribers_UnknownTopic(t *testing.T) {
	registry := NewRegistry()

	assert.Empty(t, registry.Subscribers("ConventionArchived"))
}
