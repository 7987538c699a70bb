// Package broker wraps the MQTT connection used for device control and
// device events.
package broker

import (
	"context"
)

// Message is one payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscription delivers messages from one subscribe call until the
// connection is lost or Close is called. A lost connection is reported once
// on Err.
type Subscription interface {
	Messages() <-chan Message
	Err() <-chan error
	Close()
}

// Source opens subscriptions.
type Source interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}
