// Package bus defines the shapes the services program against. The kafka
// package provides the production implementation; Memory backs tests.
package bus

import "context"

// Message is one bus message. Key is the partition key (the order id for
// everything in this system); Headers carry message identity.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Handler processes one delivery. A nil return acks the message; an error
// nacks it and the bus redelivers.
type Handler func(ctx context.Context, m Message) error

// Publisher sends messages. Implementations must not report success until
// the bus has accepted the message.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}
