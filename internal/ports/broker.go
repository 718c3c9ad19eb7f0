package ports

import (
	"context"

	"qr-dine/internal/shared/contracts"
)

// Subscriber receives messages for topics it has joined. Deliver must not
// block: a slow session drops messages rather than stalling the fanout.
type Subscriber interface {
	Deliver(msg contracts.BrokerMessage)
}

// Broker is the group-based publish/subscribe capability the fanout core
// builds on. Publish delivers to every subscriber joined at the moment of
// the call; there is no replay. A failure delivering to one subscriber
// must not prevent delivery to others and must not surface to the
// publisher; only total broker unavailability returns an error.
type Broker interface {
	Join(ctx context.Context, topic string, sub Subscriber) error
	Leave(ctx context.Context, topic string, sub Subscriber) error
	Publish(ctx context.Context, topic string, msg contracts.BrokerMessage) error
}
