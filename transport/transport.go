package transport

import (
	"context"
)

// Table carries broker-specific arguments for declarations and publishes.
type Table map[string]interface{}

// ExchangeOptions configures an exchange declaration.
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  Table
}

// QueueOptions configures a queue declaration. A queue declared with an empty
// name is named by the broker; the generated name comes back in Queue.Name.
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  Table
}

// Queue describes a declared queue.
type Queue struct {
	Name      string
	Messages  int
	Consumers int
}

// ConsumeOptions configures a consumer registration.
type ConsumeOptions struct {
	ConsumerTag string
	AutoAck     bool
	Exclusive   bool
	Arguments   Table
}

// Publishing is an outbound message. Body is opaque to this library.
type Publishing struct {
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Headers       Table
	Body          []byte
}

// Delivery is an inbound message handed to a consumer.
type Delivery struct {
	ConsumerTag   string
	CorrelationID string
	ReplyTo       string
	Exchange      string
	RoutingKey    string
	Headers       Table
	Body          []byte
}

// Subscription is an active consumer registration on a queue.
//
// Deliveries is closed when the underlying channel dies. Cancels yields the
// consumer tag when the broker revokes the subscription.
type Subscription interface {
	ConsumerTag() string
	Deliveries() <-chan Delivery
	Cancels() <-chan string
}

// Channel is a single broker session. A Channel is exclusively owned by one
// actor instance, is invalidated by the first close notification, and is
// never reused across reconnects.
type Channel interface {
	DeclareExchange(name, kind string, opts ExchangeOptions) error
	DeclareQueue(name string, opts QueueOptions) (Queue, error)
	BindQueue(queue, exchange, routingKey string, args Table) error
	Publish(ctx context.Context, exchange, routingKey string, msg Publishing) error
	Consume(queue string, opts ConsumeOptions) (Subscription, error)

	// NotifyClose registers a liveness monitor. The channel sends exactly one
	// value (possibly nil for a graceful close) and is then closed.
	NotifyClose(receiver chan error) <-chan error

	Close() error
}

// Opener hands out fresh channels. Implemented by Conn for a live AMQP
// connection and by test fakes.
type Opener interface {
	OpenChannel() (Channel, error)
}
