package core

import "context"

type (
	// PubSub is a topic based message broker.
	// Delivery is best effort: messages published while nobody is subscribed are lost.
	PubSub interface {
		Publish(ctx context.Context, topic string, payload []byte) error
		Subscribe(ctx context.Context, topic string) (Subscription, error)
		Close() error
	}

	// Subscription receives the messages published on one topic until it is closed
	// or the context it was created with is cancelled.
	Subscription interface {
		Messages() <-chan []byte
		Close() error
	}
)
